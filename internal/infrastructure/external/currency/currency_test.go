package currency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", time.Second, zap.NewNop())
}

func TestHTTPClient_Convert(t *testing.T) {
	var got map[string]any
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/convert", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"monto_base": 9500, "tipo_cambio": 950, "results": [{"rate_source": "api"}]}`))
	})

	res, err := client.Convert(context.Background(), port.ConversionRequest{
		Amount:       10,
		FromCurrency: "USD",
		ToCurrency:   "CLP",
		Date:         "2025-10-11",
	})
	require.NoError(t, err)

	assert.Equal(t, 9500.0, res.BaseAmount)
	require.NotNil(t, res.Rate)
	assert.Equal(t, 950.0, *res.Rate)
	assert.Equal(t, "api", res.Source)

	assert.Equal(t, 10.0, got["monto_original"])
	assert.Equal(t, "USD", got["moneda_original"])
	assert.Equal(t, "CLP", got["moneda_base"])
	assert.Equal(t, "2025-10-11", got["fecha"])
}

func TestHTTPClient_NullRate(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"monto_base": 12.5, "tipo_cambio": null}`))
	})

	res, err := client.Convert(context.Background(), port.ConversionRequest{Amount: 10, FromCurrency: "EUR", ToCurrency: "USD"})
	require.NoError(t, err)
	assert.Nil(t, res.Rate)
	assert.Empty(t, res.Source)
}

func TestHTTPClient_MissingBaseAmount(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tipo_cambio": 2}`))
	})

	_, err := client.Convert(context.Background(), port.ConversionRequest{Amount: 10, FromCurrency: "EUR", ToCurrency: "USD"})
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrInvalidRatePayload)

	var convErr *entity.ConversionServiceError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, "EUR", convErr.From)
	assert.Equal(t, "USD", convErr.To)
}

func TestHTTPClient_UpstreamError(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.Convert(context.Background(), port.ConversionRequest{Amount: 10, FromCurrency: "EUR", ToCurrency: "USD"})
	var convErr *entity.ConversionServiceError
	require.True(t, errors.As(err, &convErr))
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"monto_base": 1}`))
	}))
	t.Cleanup(srv.Close)
	client := NewHTTPClient(srv.URL, 20*time.Millisecond, zap.NewNop())

	_, err := client.Convert(context.Background(), port.ConversionRequest{Amount: 1, FromCurrency: "EUR", ToCurrency: "USD"})
	var convErr *entity.ConversionServiceError
	assert.True(t, errors.As(err, &convErr))
}

func TestStaticRates(t *testing.T) {
	rates, err := NewStaticRates(map[string]float64{"usd_clp": 950, "EUR_USD": 1.25})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("direct pair", func(t *testing.T) {
		res, err := rates.Convert(ctx, port.ConversionRequest{Amount: 10, FromCurrency: "USD", ToCurrency: "CLP"})
		require.NoError(t, err)
		assert.Equal(t, 9500.0, res.BaseAmount)
		assert.Equal(t, 950.0, *res.Rate)
		assert.Equal(t, SourceStatic, res.Source)
	})

	t.Run("inverse pair", func(t *testing.T) {
		res, err := rates.Convert(ctx, port.ConversionRequest{Amount: 10, FromCurrency: "USD", ToCurrency: "EUR"})
		require.NoError(t, err)
		assert.InDelta(t, 8.0, res.BaseAmount, 1e-9)
	})

	t.Run("unknown pair", func(t *testing.T) {
		_, err := rates.Convert(ctx, port.ConversionRequest{Amount: 10, FromCurrency: "GBP", ToCurrency: "CLP"})
		assert.ErrorIs(t, err, entity.ErrUnknownCurrencyPair)
		var convErr *entity.ConversionServiceError
		assert.True(t, errors.As(err, &convErr))
	})
}

func TestNewStaticRates_Invalid(t *testing.T) {
	_, err := NewStaticRates(map[string]float64{"USDCLP": 950})
	assert.Error(t, err)

	_, err = NewStaticRates(map[string]float64{"USD_CLP": 0})
	assert.Error(t, err)
}
