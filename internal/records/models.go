// Package records holds the shipment, AWB, recipient and static document entities,
// their lifecycles, and typed access to them on top of the document store.
package records

import "time"

const (
	ShipmentsCollection       = "shipments"
	AWBsCollection            = "awbs"
	RecipientsCollection      = "recipients"
	StaticDocumentsCollection = "static_documents"
	PipelineRunsCollection    = "pipeline_runs"
)

// DocumentType keys the per-recipient documents map.
type DocumentType string

const (
	DocReceipt      DocumentType = "proces verbal de receptie"
	DocInstructions DocumentType = "instructiuni"
	DocInventory    DocumentType = "parcel inventory"
	DocAWBLabel     DocumentType = "awb label"
)

// StaticKind identifies an administrator-uploaded document shared by all recipients.
type StaticKind string

const (
	StaticInventory    StaticKind = "inventory"
	StaticInstructions StaticKind = "instructions"
)

// DocumentType returns the recipient document slot a static kind is stamped into.
func (k StaticKind) DocumentType() DocumentType {
	if k == StaticInventory {
		return DocInventory
	}
	return DocInstructions
}

func (k StaticKind) Valid() bool {
	return k == StaticInventory || k == StaticInstructions
}

type Shipment struct {
	ID             string         `bson:"_id" json:"id"`
	Status         ShipmentStatus `bson:"status" json:"status"`
	RecipientCount int            `bson:"recipientCount" json:"recipientCount"`
	AWBCount       int            `bson:"awbCount" json:"awbCount"`
	CreatedAt      time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// ExpeditionStatus is the delivery state last reported by the carrier.
type ExpeditionStatus struct {
	StatusID  int       `bson:"statusId" json:"statusId"`
	Status    string    `bson:"status" json:"status"`
	Label     string    `bson:"label" json:"label"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

type AWB struct {
	ID               string            `bson:"_id" json:"id"`
	ShipmentID       string            `bson:"shipmentId" json:"shipmentId"`
	Name             string            `bson:"name" json:"name"`
	RecipientName    string            `bson:"recipientName" json:"recipientName"`
	Phone            string            `bson:"phone" json:"phone"`
	Email            string            `bson:"email" json:"email"`
	ParcelCount      int               `bson:"parcelCount" json:"parcelCount"`
	PackageSize      string            `bson:"packageSize" json:"packageSize"`
	Address          string            `bson:"address" json:"address"`
	City             string            `bson:"city" json:"city"`
	County           string            `bson:"county" json:"county"`
	PostalCode       string            `bson:"postalCode" json:"postalCode"`
	Status           AWBStatus         `bson:"status" json:"status"`
	TrackingNumber   string            `bson:"trackingNumber,omitempty" json:"trackingNumber,omitempty"`
	Cost             float64           `bson:"cost,omitempty" json:"cost,omitempty"`
	PDFLink          string            `bson:"pdfLink,omitempty" json:"pdfLink,omitempty"`
	ParcelNumbers    map[string]string `bson:"parcelNumbers,omitempty" json:"parcelNumbers,omitempty"`
	EmailStatus      EmailStatus       `bson:"emailStatus" json:"emailStatus"`
	EmailSentCount   int               `bson:"emailSentCount" json:"emailSentCount"`
	ExpeditionStatus *ExpeditionStatus `bson:"expeditionStatus,omitempty" json:"expeditionStatus,omitempty"`
	LastError        string            `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CreatedAt        time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time         `bson:"updatedAt" json:"updatedAt"`
}

// DocumentState tracks one generated or stamped document of a recipient.
type DocumentState struct {
	Status    DocumentStatus `bson:"status" json:"status"`
	URL       string         `bson:"url,omitempty" json:"url,omitempty"`
	FileID    string         `bson:"fileId,omitempty" json:"fileId,omitempty"`
	Name      string         `bson:"name,omitempty" json:"name,omitempty"`
	Error     string         `bson:"error,omitempty" json:"error,omitempty"`
	UpdatedAt time.Time      `bson:"updatedAt" json:"updatedAt"`
}

type Recipient struct {
	ID         string                         `bson:"_id" json:"id"`
	ShipmentID string                         `bson:"shipmentId" json:"shipmentId"`
	AWBID      string                         `bson:"awbId" json:"awbId"`
	Name       string                         `bson:"name" json:"name"`
	Group      string                         `bson:"group" json:"group"`
	School     string                         `bson:"school" json:"school"`
	Phone      string                         `bson:"phone" json:"phone"`
	Email      string                         `bson:"email" json:"email"`
	Address    string                         `bson:"address" json:"address"`
	Documents  map[DocumentType]DocumentState `bson:"documents" json:"documents"`
	SignedURL  string                         `bson:"signedUrl,omitempty" json:"signedUrl,omitempty"`
	SignedPath string                         `bson:"signedPath,omitempty" json:"signedPath,omitempty"`
	Verified   bool                           `bson:"verified" json:"verified"`
	Audited    bool                           `bson:"audited" json:"audited"`
	HasIssues  bool                           `bson:"hasIssues" json:"hasIssues"`
	CreatedAt  time.Time                      `bson:"createdAt" json:"createdAt"`
}

// Document returns the state stored for t, if any.
func (r *Recipient) Document(t DocumentType) (DocumentState, bool) {
	d, ok := r.Documents[t]
	return d, ok
}

type StaticDocument struct {
	Kind       StaticKind `bson:"_id" json:"kind"`
	Path       string     `bson:"path" json:"path"`
	Name       string     `bson:"name" json:"name"`
	URL        string     `bson:"url" json:"url"`
	UploadedAt time.Time  `bson:"uploadedAt" json:"uploadedAt"`
}

// DocumentField is the dotted store path of a recipient document slot.
func DocumentField(t DocumentType, sub string) string {
	if sub == "" {
		return "documents." + string(t)
	}
	return "documents." + string(t) + "." + sub
}

// LabelRecord is a created carrier label as kept in the pipeline step log.
type LabelRecord struct {
	TrackingNumber string            `bson:"trackingNumber" json:"trackingNumber"`
	Cost           float64           `bson:"cost" json:"cost"`
	PDFLink        string            `bson:"pdfLink" json:"pdfLink"`
	ParcelNumbers  map[string]string `bson:"parcelNumbers,omitempty" json:"parcelNumbers,omitempty"`
	CreatedAt      time.Time         `bson:"createdAt" json:"createdAt"`
}

// PipelineStep is one entry of an AWB's generation log.
type PipelineStep struct {
	Step   string    `bson:"step" json:"step"`
	Run    int       `bson:"run" json:"run"`
	Output string    `bson:"output,omitempty" json:"output,omitempty"`
	Error  string    `bson:"error,omitempty" json:"error,omitempty"`
	At     time.Time `bson:"at" json:"at"`
}

// PipelineRun is the step log of AWB generation, one document per AWB. A recorded
// Label means the carrier already issued the AWB.
type PipelineRun struct {
	AWBID      string         `bson:"_id" json:"awbId"`
	ShipmentID string         `bson:"shipmentId" json:"shipmentId"`
	Runs       int            `bson:"runs" json:"runs"`
	Steps      []PipelineStep `bson:"steps" json:"steps"`
	Label      *LabelRecord   `bson:"label,omitempty" json:"label,omitempty"`
	UpdatedAt  time.Time      `bson:"updatedAt" json:"updatedAt"`
}
