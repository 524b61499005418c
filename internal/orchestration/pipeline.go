package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ExpeditionFlow/internal/carrier"
	"ExpeditionFlow/internal/records"
	"ExpeditionFlow/internal/store"
	"ExpeditionFlow/internal/tasks"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pipeline step names as written to the step log.
const (
	stepFetchData    = "fetch-data"
	stepLookupCounty = "lookup-county"
	stepLookupCity   = "lookup-city"
	stepCreateLabel  = "create-label"
	stepUpdateAWB    = "update-awb"
	stepPublishLabel = "publish-label"
)

// AWB outcomes in a pipeline report.
const (
	ResultGenerated = "generated"
	ResultCreated   = "created"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
)

type PipelinePayload struct {
	ShipmentID string   `json:"shipmentId"`
	AWBIDs     []string `json:"awbIds,omitempty"`
}

type AWBResult struct {
	AWBID          string `json:"awbId"`
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Resumed        bool   `json:"resumed,omitempty"`
	Error          string `json:"error,omitempty"`
}

type PipelineReport struct {
	ShipmentID     string                 `json:"shipmentId"`
	ShipmentStatus records.ShipmentStatus `json:"shipmentStatus"`
	Results        []AWBResult            `json:"results"`
}

type AWBDataPayload struct {
	AWBID string `json:"awbId"`
}

// AWBData is the consolidated addressing data a label is created from.
type AWBData struct {
	RecipientName string  `json:"recipientName"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email"`
	Address       string  `json:"address"`
	City          string  `json:"city"`
	County        string  `json:"county"`
	PostalCode    string  `json:"postalCode"`
	ParcelCount   int     `json:"parcelCount"`
	Weight        float64 `json:"weight,omitempty"`
}

type CountyPayload struct {
	Name string `json:"name"`
}

type CityPayload struct {
	Name     string `json:"name"`
	CountyID int    `json:"countyId"`
}

type LookupResult struct {
	ID int `json:"id"`
}

// LabelUploadPayload is sent to the label webhook once per recipient.
type LabelUploadPayload struct {
	RecipientID    string `json:"recipientId"`
	RecipientName  string `json:"recipientName"`
	ShipmentID     string `json:"shipmentId"`
	AWBID          string `json:"awbId"`
	TrackingNumber string `json:"trackingNumber"`
	ParcelNumber   string `json:"parcelNumber,omitempty"`
	PDFLink        string `json:"pdfLink"`
	FileName       string `json:"fileName"`
}

func (s *Service) runPipeline(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[PipelinePayload](payload)
	if err != nil {
		return nil, err
	}
	if p.ShipmentID == "" {
		return nil, tasks.Permanent(errors.New("shipmentId is required"))
	}
	return s.GenerateShipmentAWBs(ctx, p)
}

// GenerateShipmentAWBs runs the label pipeline for the Queued AWBs of one shipment.
// Concurrent calls for the same shipment and AWB set share one execution.
func (s *Service) GenerateShipmentAWBs(ctx context.Context, p PipelinePayload) (*PipelineReport, error) {
	ids := append([]string(nil), p.AWBIDs...)
	sort.Strings(ids)
	key := p.ShipmentID + "|" + strings.Join(ids, ",")

	v, err, shared := s.pipelines.Do(key, func() (any, error) {
		return s.generate(ctx, p)
	})
	if shared {
		s.log.Info("pipeline trigger collapsed into running execution", zap.String("shipment", p.ShipmentID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*PipelineReport), nil
}

func (s *Service) generate(ctx context.Context, p PipelinePayload) (*PipelineReport, error) {
	if _, err := s.repo.Shipment(ctx, p.ShipmentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, tasks.Permanent(err)
		}
		return nil, err
	}

	targets, report, err := s.selectTargets(ctx, p)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("shipment", p.ShipmentID))
	log.Info("generating AWBs", zap.Int("awbs", len(targets)))

	for _, awb := range targets {
		res := s.generateAWB(ctx, awb)
		if res.Error != "" {
			log.Warn("AWB not completed", zap.String("awb", awb.ID), zap.String("status", res.Status), zap.String("error", res.Error))
		}
		report.Results = append(report.Results, res)
	}

	status, err := s.rollUpShipment(ctx, p.ShipmentID)
	if err != nil {
		return report, err
	}
	report.ShipmentStatus = status
	return report, nil
}

func (s *Service) selectTargets(ctx context.Context, p PipelinePayload) ([]records.AWB, *PipelineReport, error) {
	report := &PipelineReport{ShipmentID: p.ShipmentID}

	var candidates []records.AWB
	var err error
	if len(p.AWBIDs) > 0 {
		candidates, err = s.repo.AWBsByID(ctx, p.AWBIDs)
	} else {
		candidates, err = s.repo.AWBsByShipment(ctx, p.ShipmentID)
	}
	if err != nil {
		return nil, nil, err
	}

	found := map[string]bool{}
	var targets []records.AWB
	for _, a := range candidates {
		found[a.ID] = true
		if err := records.CheckAWBOwnership(&a, p.ShipmentID); err != nil {
			report.Results = append(report.Results, AWBResult{AWBID: a.ID, Status: ResultSkipped, Error: err.Error()})
			continue
		}
		if a.Status != records.AWBQueued {
			if len(p.AWBIDs) > 0 {
				report.Results = append(report.Results, AWBResult{AWBID: a.ID, Status: ResultSkipped, Error: "status is " + string(a.Status)})
			}
			continue
		}
		targets = append(targets, a)
	}
	for _, id := range p.AWBIDs {
		if !found[id] {
			report.Results = append(report.Results, AWBResult{AWBID: id, Status: ResultSkipped, Error: "awb not found"})
		}
	}
	return targets, report, nil
}

func (s *Service) generateAWB(ctx context.Context, awb records.AWB) AWBResult {
	res := AWBResult{AWBID: awb.ID}

	if _, err := s.repo.TransitionAWB(ctx, awb.ID, records.AWBGenerating, map[string]any{"lastError": ""}); err != nil {
		var terr *records.TransitionError
		if errors.Is(err, store.ErrConflict) || errors.As(err, &terr) {
			res.Status = ResultSkipped
			res.Error = "already picked up by another run"
			return res
		}
		res.Status = ResultFailed
		res.Error = err.Error()
		return res
	}

	run, err := s.repo.PipelineRun(ctx, awb.ID)
	if err != nil {
		s.failAWB(ctx, awb.ID, err)
		return AWBResult{AWBID: awb.ID, Status: ResultFailed, Error: err.Error()}
	}
	if run == nil {
		run = &records.PipelineRun{AWBID: awb.ID, ShipmentID: awb.ShipmentID}
	}
	run.Runs++

	label := run.Label
	if label != nil {
		res.Resumed = true
		s.log.Info("reusing recorded label", zap.String("awb", awb.ID), zap.String("tracking", label.TrackingNumber))
	} else {
		label, err = s.issueLabel(ctx, awb, run)
		if err != nil {
			s.failAWB(ctx, awb.ID, err)
			res.Status = ResultFailed
			res.Error = err.Error()
			return res
		}
	}
	res.TrackingNumber = label.TrackingNumber

	_, err = s.repo.TransitionAWB(ctx, awb.ID, records.AWBCreated, map[string]any{
		"trackingNumber": label.TrackingNumber,
		"cost":           label.Cost,
		"pdfLink":        label.PDFLink,
		"parcelNumbers":  label.ParcelNumbers,
	})
	s.record(ctx, run, stepUpdateAWB, nil, err)
	if err != nil {
		s.failAWB(ctx, awb.ID, err)
		res.Status = ResultFailed
		res.Error = err.Error()
		return res
	}

	// A Created AWB keeps its label; queueing it again only republishes.
	err = s.publishLabel(ctx, awb, label)
	s.record(ctx, run, stepPublishLabel, nil, err)
	if err != nil {
		if uerr := s.repo.UpdateAWB(ctx, awb.ID, map[string]any{"lastError": err.Error()}); uerr != nil {
			s.log.Error("could not record label publish error", zap.String("awb", awb.ID), zap.Error(uerr))
		}
		res.Status = ResultCreated
		res.Error = err.Error()
		return res
	}
	if _, err := s.repo.TransitionAWB(ctx, awb.ID, records.AWBGenerated, nil); err != nil {
		res.Status = ResultCreated
		res.Error = err.Error()
		return res
	}
	res.Status = ResultGenerated
	return res
}

// issueLabel runs fetch, county, city and create-label in order, each as its own
// task. The created label is saved to the step log before it is returned.
func (s *Service) issueLabel(ctx context.Context, awb records.AWB, run *records.PipelineRun) (*records.LabelRecord, error) {
	var data AWBData
	err := s.dispatcher.TriggerAndWait(ctx, TaskFetchAWBData, AWBDataPayload{AWBID: awb.ID}, &data)
	s.record(ctx, run, stepFetchData, data, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stepFetchData, err)
	}

	var county LookupResult
	err = s.dispatcher.TriggerAndWait(ctx, TaskLookupCounty, CountyPayload{Name: data.County}, &county)
	s.record(ctx, run, stepLookupCounty, county, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stepLookupCounty, err)
	}

	var city LookupResult
	err = s.dispatcher.TriggerAndWait(ctx, TaskLookupCity, CityPayload{Name: data.City, CountyID: county.ID}, &city)
	s.record(ctx, run, stepLookupCity, city, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stepLookupCity, err)
	}

	req := carrier.LabelRequest{
		Reference:     awb.ID,
		RecipientName: data.RecipientName,
		Phone:         data.Phone,
		Email:         data.Email,
		Address:       data.Address,
		PostalCode:    data.PostalCode,
		CountyID:      county.ID,
		CityID:        city.ID,
		ParcelCount:   data.ParcelCount,
		Weight:        data.Weight,
	}
	var label carrier.Label
	if err := s.dispatcher.TriggerAndWait(ctx, TaskCreateLabel, req, &label); err != nil {
		s.record(ctx, run, stepCreateLabel, nil, err)
		return nil, fmt.Errorf("%s: %w", stepCreateLabel, err)
	}

	run.Label = &records.LabelRecord{
		TrackingNumber: label.TrackingNumber,
		Cost:           label.Cost,
		PDFLink:        label.PDFLink,
		ParcelNumbers:  label.ParcelNumbers,
		CreatedAt:      s.now(),
	}
	if err := s.record(ctx, run, stepCreateLabel, label, nil); err != nil {
		s.log.Error("label created but not recorded",
			zap.String("awb", awb.ID), zap.String("tracking", label.TrackingNumber), zap.Error(err))
		return nil, fmt.Errorf("record label %s: %w", label.TrackingNumber, err)
	}
	return run.Label, nil
}

// publishLabel pushes the label to shared storage for each recipient of the AWB and
// stores the resulting document link on the recipient.
func (s *Service) publishLabel(ctx context.Context, awb records.AWB, label *records.LabelRecord) error {
	recipients, err := s.repo.RecipientsByAWB(ctx, awb.ID)
	if err != nil {
		return err
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID < recipients[j].ID })

	url := s.cfg.Webhooks.LabelURL
	states := make(map[string]records.DocumentState, len(recipients))
	var errs error
	for i, r := range recipients {
		name := fmt.Sprintf("AWB_%s_%s.pdf", label.TrackingNumber, r.ID)
		if url == "" {
			states[r.ID] = records.DocumentState{Status: records.DocumentGenerated, URL: label.PDFLink, Name: name}
			continue
		}
		file, err := s.hooks.GenerateDocument(ctx, "label", url, LabelUploadPayload{
			RecipientID:    r.ID,
			RecipientName:  r.Name,
			ShipmentID:     awb.ShipmentID,
			AWBID:          awb.ID,
			TrackingNumber: label.TrackingNumber,
			ParcelNumber:   label.ParcelNumbers[strconv.Itoa(i+1)],
			PDFLink:        label.PDFLink,
			FileName:       name,
		})
		if err != nil {
			states[r.ID] = records.DocumentState{Status: records.DocumentFailed, Error: err.Error()}
			errs = multierr.Append(errs, fmt.Errorf("recipient %s: %w", r.ID, err))
			continue
		}
		states[r.ID] = records.DocumentState{Status: records.DocumentGenerated, URL: file.WebViewLink, FileID: file.ID, Name: name}
	}

	if err := s.repo.SetDocuments(ctx, records.DocAWBLabel, states); err != nil {
		return multierr.Append(errs, err)
	}
	return errs
}

func (s *Service) failAWB(ctx context.Context, awbID string, cause error) {
	if _, err := s.repo.TransitionAWB(ctx, awbID, records.AWBFailed, map[string]any{"lastError": cause.Error()}); err != nil {
		s.log.Error("could not mark AWB failed", zap.String("awb", awbID), zap.Error(err))
	}
}

// record appends a step to the log and saves it.
func (s *Service) record(ctx context.Context, run *records.PipelineRun, step string, output any, stepErr error) error {
	entry := records.PipelineStep{Step: step, Run: run.Runs, At: s.now()}
	if stepErr != nil {
		entry.Error = stepErr.Error()
	} else if output != nil {
		if raw, err := json.Marshal(output); err == nil {
			entry.Output = string(raw)
		}
	}
	run.Steps = append(run.Steps, entry)
	if err := s.repo.SavePipelineRun(ctx, run); err != nil {
		s.log.Error("step log not saved", zap.String("awb", run.AWBID), zap.String("step", step), zap.Error(err))
		return err
	}
	return nil
}

// rollUpShipment derives the shipment status from its AWBs. An AWB left Created
// has a label whose documents did not all reach the recipients, so it counts as
// failed until a later run publishes them.
func (s *Service) rollUpShipment(ctx context.Context, shipmentID string) (records.ShipmentStatus, error) {
	awbs, err := s.repo.AWBsByShipment(ctx, shipmentID)
	if err != nil {
		return "", err
	}
	allDone, anyFailed := len(awbs) > 0, false
	for _, a := range awbs {
		switch a.Status {
		case records.AWBGenerated:
		case records.AWBFailed, records.AWBCreated:
			anyFailed = true
			allDone = false
		default:
			allDone = false
		}
	}

	var target records.ShipmentStatus
	switch {
	case allDone:
		target = records.ShipmentAWBGenerated
	case anyFailed:
		target = records.ShipmentAWBGenerationFailed
	default:
		sh, err := s.repo.Shipment(ctx, shipmentID)
		if err != nil {
			return "", err
		}
		return sh.Status, nil
	}

	from, err := s.repo.TransitionShipment(ctx, shipmentID, target)
	var terr *records.TransitionError
	if errors.As(err, &terr) {
		s.log.Debug("shipment status kept", zap.String("shipment", shipmentID), zap.String("status", string(from)), zap.String("wanted", string(target)))
		return from, nil
	}
	if err != nil {
		return from, err
	}
	return target, nil
}

func (s *Service) runFetchAWBData(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[AWBDataPayload](payload)
	if err != nil {
		return nil, err
	}
	awb, err := s.repo.AWB(ctx, p.AWBID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, tasks.Permanent(err)
		}
		return nil, err
	}

	data := AWBData{
		RecipientName: awb.RecipientName,
		Phone:         awb.Phone,
		Email:         awb.Email,
		Address:       awb.Address,
		City:          awb.City,
		County:        awb.County,
		PostalCode:    awb.PostalCode,
		ParcelCount:   awb.ParcelCount,
	}

	if url := s.cfg.Webhooks.AWBDataURL; url != "" {
		resp, err := s.hooks.Post(ctx, "awb-data", url, map[string]any{
			"awbId":      awb.ID,
			"shipmentId": awb.ShipmentID,
			"name":       awb.Name,
		})
		if err != nil {
			return nil, err
		}
		var remote AWBData
		if err := resp.Decode(&remote); err != nil {
			return nil, err
		}
		data = mergeAWBData(data, remote)
	}

	if strings.TrimSpace(data.County) == "" || strings.TrimSpace(data.City) == "" {
		return nil, tasks.Permanent(fmt.Errorf("awb %s has no county or city", awb.ID))
	}
	return data, nil
}

// mergeAWBData prefers non-empty remote values.
func mergeAWBData(base, remote AWBData) AWBData {
	pick := func(a, b string) string {
		if strings.TrimSpace(b) != "" {
			return b
		}
		return a
	}
	base.RecipientName = pick(base.RecipientName, remote.RecipientName)
	base.Phone = pick(base.Phone, remote.Phone)
	base.Email = pick(base.Email, remote.Email)
	base.Address = pick(base.Address, remote.Address)
	base.City = pick(base.City, remote.City)
	base.County = pick(base.County, remote.County)
	base.PostalCode = pick(base.PostalCode, remote.PostalCode)
	if remote.ParcelCount > 0 {
		base.ParcelCount = remote.ParcelCount
	}
	if remote.Weight > 0 {
		base.Weight = remote.Weight
	}
	return base
}

func (s *Service) runLookupCounty(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[CountyPayload](payload)
	if err != nil {
		return nil, err
	}
	id, err := s.carrier.LookupCounty(ctx, p.Name)
	if err != nil {
		return nil, err
	}
	return LookupResult{ID: id}, nil
}

func (s *Service) runLookupCity(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := tasks.Decode[CityPayload](payload)
	if err != nil {
		return nil, err
	}
	id, err := s.carrier.LookupCity(ctx, p.Name, p.CountyID)
	if err != nil {
		return nil, err
	}
	return LookupResult{ID: id}, nil
}

func (s *Service) runCreateLabel(ctx context.Context, payload json.RawMessage) (any, error) {
	req, err := tasks.Decode[carrier.LabelRequest](payload)
	if err != nil {
		return nil, err
	}
	if req.CountyID == 0 || req.CityID == 0 {
		return nil, tasks.Permanent(errors.New("label request without resolved county and city"))
	}
	return s.carrier.CreateLabel(ctx, req)
}
