package records

import "fmt"

type ShipmentStatus string

const (
	ShipmentNew                 ShipmentStatus = "New"
	ShipmentReadyForAWB         ShipmentStatus = "Ready for AWB"
	ShipmentAWBGenerated        ShipmentStatus = "AWB Generated"
	ShipmentSentToLogistics     ShipmentStatus = "Sent to Logistics"
	ShipmentInTransit           ShipmentStatus = "In Transit"
	ShipmentDelivered           ShipmentStatus = "Delivered"
	ShipmentCompleted           ShipmentStatus = "Completed"
	ShipmentAWBGenerationFailed ShipmentStatus = "AWB Generation Failed"
)

type AWBStatus string

const (
	AWBNew        AWBStatus = "New"
	AWBQueued     AWBStatus = "Queued"
	AWBGenerating AWBStatus = "Generating"
	AWBCreated    AWBStatus = "AWB_CREATED"
	AWBGenerated  AWBStatus = "Generated"
	AWBFailed     AWBStatus = "Failed"
)

type EmailStatus string

const (
	EmailNone   EmailStatus = ""
	EmailQueued EmailStatus = "Queued"
	EmailSent   EmailStatus = "Sent"
	EmailFailed EmailStatus = "Failed"
)

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "Pending"
	DocumentGenerating DocumentStatus = "Generating"
	DocumentGenerated  DocumentStatus = "Generated"
	DocumentFailed     DocumentStatus = "Failed"
)

var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentNew:                 {ShipmentReadyForAWB, ShipmentAWBGenerated, ShipmentAWBGenerationFailed},
	ShipmentReadyForAWB:         {ShipmentAWBGenerated, ShipmentAWBGenerationFailed},
	ShipmentAWBGenerationFailed: {ShipmentReadyForAWB, ShipmentAWBGenerated},
	ShipmentAWBGenerated:        {ShipmentSentToLogistics, ShipmentInTransit},
	ShipmentSentToLogistics:     {ShipmentSentToLogistics, ShipmentInTransit, ShipmentDelivered},
	ShipmentInTransit:           {ShipmentDelivered},
	ShipmentDelivered:           {ShipmentCompleted},
}

var awbTransitions = map[AWBStatus][]AWBStatus{
	AWBNew:        {AWBQueued},
	AWBFailed:     {AWBQueued},
	AWBQueued:     {AWBQueued, AWBGenerating, AWBFailed},
	AWBGenerating: {AWBCreated, AWBFailed},
	AWBCreated:    {AWBGenerated, AWBQueued},
}

var emailTransitions = map[EmailStatus][]EmailStatus{
	EmailNone:   {EmailQueued},
	EmailSent:   {EmailQueued},
	EmailFailed: {EmailQueued},
	EmailQueued: {EmailQueued, EmailSent, EmailFailed},
}

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	"":                 {DocumentGenerating, DocumentGenerated, DocumentFailed},
	DocumentPending:    {DocumentGenerating, DocumentGenerated, DocumentFailed},
	DocumentFailed:     {DocumentGenerating, DocumentGenerated, DocumentFailed},
	DocumentGenerated:  {DocumentGenerating, DocumentGenerated},
	DocumentGenerating: {DocumentGenerated, DocumentFailed},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s ShipmentStatus) CanTransition(to ShipmentStatus) bool {
	return allowed(shipmentTransitions, s, to)
}

func (s AWBStatus) CanTransition(to AWBStatus) bool { return allowed(awbTransitions, s, to) }

func (s EmailStatus) CanTransition(to EmailStatus) bool { return allowed(emailTransitions, s, to) }

func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	return allowed(documentTransitions, s, to)
}

// Terminal reports whether the carrier has finished with the shipment.
func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentDelivered || s == ShipmentCompleted
}

// TransitionError is returned when a lifecycle change is not in the transition table.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: illegal transition %q -> %q", e.Entity, e.ID, e.From, e.To)
}

// Retryable is false: the stored state has to change before the same call can succeed.
func (e *TransitionError) Retryable() bool { return false }
