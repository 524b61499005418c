// Package carrier talks to the shipping carrier's label and geolocation API.
package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"ExpeditionFlow/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	countyPath = "/geolocation/county"
	cityPath   = "/geolocation/city"
	labelPath  = "/awb"
)

type Client struct {
	cfg     config.CarrierConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.Carrier.RPS > 0 {
		limit = rate.Limit(cfg.Carrier.RPS)
	}
	return &Client{
		cfg:     cfg.Carrier,
		http:    &http.Client{Timeout: cfg.Carrier.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		log:     log.Named("carrier"),
	}
}

type place struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// LookupCounty resolves a county name to its carrier id.
func (c *Client) LookupCounty(ctx context.Context, name string) (int, error) {
	return c.lookup(ctx, countyPath, "county", name, map[string]any{"name": name})
}

// LookupCity resolves a city name inside a county.
func (c *Client) LookupCity(ctx context.Context, name string, countyID int) (int, error) {
	return c.lookup(ctx, cityPath, "city", name, map[string]any{"name": name, "county": countyID})
}

func (c *Client) lookup(ctx context.Context, path, kind, name string, form map[string]any) (int, error) {
	var resp struct {
		Data []place `json:"data"`
	}
	if err := c.post(ctx, path, form, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, &LookupError{Kind: kind, Name: name}
	}
	for _, p := range resp.Data {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p.ID, nil
		}
	}
	c.log.Debug("no exact match, using first candidate",
		zap.String("kind", kind), zap.String("name", name), zap.String("candidate", resp.Data[0].Name))
	return resp.Data[0].ID, nil
}

// LabelRequest carries everything needed to create one AWB.
type LabelRequest struct {
	Reference     string  `json:"reference"`
	RecipientName string  `json:"recipientName"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email"`
	Address       string  `json:"address"`
	PostalCode    string  `json:"postalCode"`
	CountyID      int     `json:"countyId"`
	CityID        int     `json:"cityId"`
	ParcelCount   int     `json:"parcelCount"`
	Weight        float64 `json:"weight,omitempty"`
}

// Label is the carrier's answer to a create request.
type Label struct {
	TrackingNumber   string            `json:"trackingNumber"`
	Cost             float64           `json:"cost"`
	PDFLink          string            `json:"pdfLink"`
	ParcelNumbers    map[string]string `json:"parcelNumbers"`
	SortingHub       string            `json:"sortingHub,omitempty"`
	SortingHubID     int               `json:"sortingHubId,omitempty"`
	DestinationHub   string            `json:"destinationHub,omitempty"`
	DestinationHubID int               `json:"destinationHubId,omitempty"`
}

type labelResponse struct {
	AWBNumber string  `json:"awbNumber"`
	AWBCost   float64 `json:"awbCost"`
	Parcels   []struct {
		Position  int    `json:"position"`
		AWBNumber string `json:"awbNumber"`
	} `json:"parcels"`
	PDFLink          string `json:"pdfLink"`
	SortingHub       string `json:"sortingHub"`
	SortingHubID     int    `json:"sortingHubId"`
	DestinationHub   string `json:"destinationHub"`
	DestinationHubID int    `json:"destinationHubId"`
}

// CreateLabel creates an AWB for the resolved county and city.
func (c *Client) CreateLabel(ctx context.Context, req LabelRequest) (*Label, error) {
	parcels := req.ParcelCount
	if parcels < 1 {
		parcels = 1
	}
	weight := req.Weight
	if weight <= 0 {
		weight = c.cfg.PackageWeight
	}
	parcelList := make([]map[string]any, parcels)
	for i := range parcelList {
		parcelList[i] = map[string]any{"weight": weight}
	}

	form := map[string]any{
		"pickupPoint":             c.cfg.PickupPointID,
		"service":                 c.cfg.ServiceID,
		"packageType":             c.cfg.PackageType,
		"awbPayment":              c.cfg.PaymentType,
		"packageNumber":           parcels,
		"packageWeight":           weight * float64(parcels),
		"clientInternalReference": req.Reference,
		"awbRecipient": map[string]any{
			"name":        req.RecipientName,
			"phoneNumber": req.Phone,
			"email":       req.Email,
			"county":      req.CountyID,
			"city":        req.CityID,
			"address":     req.Address,
			"postalCode":  req.PostalCode,
		},
		"parcels": parcelList,
	}

	var resp labelResponse
	if err := c.post(ctx, labelPath, form, &resp); err != nil {
		return nil, err
	}
	if resp.AWBNumber == "" {
		return nil, fmt.Errorf("carrier: label response without awbNumber")
	}

	label := &Label{
		TrackingNumber:   resp.AWBNumber,
		Cost:             resp.AWBCost,
		PDFLink:          resp.PDFLink,
		ParcelNumbers:    make(map[string]string, len(resp.Parcels)),
		SortingHub:       resp.SortingHub,
		SortingHubID:     resp.SortingHubID,
		DestinationHub:   resp.DestinationHub,
		DestinationHubID: resp.DestinationHubID,
	}
	for _, p := range resp.Parcels {
		label.ParcelNumbers[strconv.Itoa(p.Position)] = p.AWBNumber
	}
	c.log.Info("label created", zap.String("reference", req.Reference), zap.String("awb", label.TrackingNumber))
	return label, nil
}

func (c *Client) post(ctx context.Context, path string, form map[string]any, out any) error {
	if c.cfg.Token == "" {
		return &ConfigError{Setting: "CARRIER_TOKEN"}
	}
	if c.cfg.BaseURL == "" {
		return &ConfigError{Setting: "CARRIER_BASE_URL"}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(Form(form).Encode()))
	if err != nil {
		return fmt.Errorf("carrier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Auth-Token", c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("carrier: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("carrier: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body), Message: carrierMessage(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("carrier: decode %s response: %w", path, err)
	}
	return nil
}
