package carrier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ExpeditionFlow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Carrier.BaseURL = srv.URL
	cfg.Carrier.Token = "secret"
	cfg.Carrier.PickupPointID = 1
	cfg.Carrier.ServiceID = 7
	cfg.Carrier.PaymentType = 1
	cfg.Carrier.PackageWeight = 1
	return NewClient(cfg, zap.NewNop())
}

func TestFormFlattening(t *testing.T) {
	v := Form(map[string]any{
		"name":  "x",
		"count": 3,
		"awbRecipient": map[string]any{
			"city": 12,
		},
		"parcels": []map[string]any{{"weight": 1.5}, {"weight": 2.0}},
		"tags":    []string{"a", "b"},
		"skip":    nil,
	})

	assert.Equal(t, "x", v.Get("name"))
	assert.Equal(t, "3", v.Get("count"))
	assert.Equal(t, "12", v.Get("awbRecipient[city]"))
	assert.Equal(t, "1.5", v.Get("parcels[0][weight]"))
	assert.Equal(t, "2", v.Get("parcels[1][weight]"))
	assert.Equal(t, "b", v.Get("tags[1]"))
	_, present := v["skip"]
	assert.False(t, present)
}

func TestLookupCountyPrefersExactMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, countyPath, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Cluj", r.PostForm.Get("name"))
		_, _ = w.Write([]byte(`{"data":[{"id":4,"name":"Cluj-Napoca"},{"id":9,"name":"cluj"}]}`))
	})

	id, err := c.LookupCounty(context.Background(), "Cluj")
	require.NoError(t, err)
	assert.Equal(t, 9, id)
}

func TestLookupCityEmptyDataIsPermanentNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "4", r.PostForm.Get("county"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	_, err := c.LookupCity(context.Background(), "Nowhere", 4)
	require.ErrorIs(t, err, ErrNotFound)
	var lerr *LookupError
	require.True(t, errors.As(err, &lerr))
	assert.False(t, lerr.Retryable())
}

func TestMissingTokenIsConfigError(t *testing.T) {
	called := false
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) { called = true })
	c.cfg.Token = ""

	_, err := c.LookupCounty(context.Background(), "Cluj")
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "CARRIER_TOKEN", cerr.Setting)
	assert.False(t, called)
}

func TestAPIErrorCarriesCarrierMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid city"}}`))
	})

	_, err := c.CreateLabel(context.Background(), LabelRequest{Reference: "a1", ParcelCount: 1})
	var aerr *APIError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, http.StatusBadRequest, aerr.StatusCode)
	assert.Equal(t, "invalid city", aerr.Message)
	assert.False(t, aerr.Retryable())

	assert.True(t, (&APIError{StatusCode: 503}).Retryable())
	assert.True(t, (&APIError{StatusCode: 429}).Retryable())
}

func TestCreateLabel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, labelPath, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1", r.PostForm.Get("pickupPoint"))
		assert.Equal(t, "7", r.PostForm.Get("service"))
		assert.Equal(t, "2", r.PostForm.Get("packageNumber"))
		assert.Equal(t, "33", r.PostForm.Get("awbRecipient[city]"))
		assert.Equal(t, "1", r.PostForm.Get("parcels[1][weight]"))
		_, _ = w.Write([]byte(`{
			"awbNumber":"1ONB123","awbCost":17.5,"pdfLink":"https://carrier/pdf/1",
			"parcels":[{"position":1,"awbNumber":"1ONB123001"},{"position":2,"awbNumber":"1ONB123002"}],
			"sortingHub":"CJ","sortingHubId":3
		}`))
	})

	label, err := c.CreateLabel(context.Background(), LabelRequest{
		Reference: "a1", RecipientName: "Ana", CountyID: 9, CityID: 33, ParcelCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "1ONB123", label.TrackingNumber)
	assert.Equal(t, 17.5, label.Cost)
	assert.Equal(t, map[string]string{"1": "1ONB123001", "2": "1ONB123002"}, label.ParcelNumbers)
	assert.Equal(t, 3, label.SortingHubID)
}
