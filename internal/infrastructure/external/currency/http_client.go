// Package currency holds the conversion service clients used by the normalizer.
package currency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single conversion request
const DefaultTimeout = 10 * time.Second

type convertRequest struct {
	Amount       float64 `json:"monto_original"`
	FromCurrency string  `json:"moneda_original"`
	Date         string  `json:"fecha,omitempty"`
	BaseCurrency string  `json:"moneda_base"`
}

type convertResponse struct {
	BaseAmount *float64 `json:"monto_base"`
	Rate       *float64 `json:"tipo_cambio"`
	Results    []struct {
		RateSource string `json:"rate_source"`
	} `json:"results"`
}

// HTTPClient implements port.CurrencyService against the conversion service
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a client posting to {baseURL}/convert
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Convert implements port.CurrencyService
func (c *HTTPClient) Convert(ctx context.Context, req port.ConversionRequest) (*port.ConversionResult, error) {
	payload, err := json.Marshal(convertRequest{
		Amount:       req.Amount,
		FromCurrency: req.FromCurrency,
		Date:         req.Date,
		BaseCurrency: req.ToCurrency,
	})
	if err != nil {
		return nil, c.fail(req, fmt.Errorf("failed to encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(payload))
	if err != nil {
		return nil, c.fail(req, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Requesting conversion",
		zap.String("from", req.FromCurrency),
		zap.String("to", req.ToCurrency),
		zap.String("date", req.Date))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.fail(req, fmt.Errorf("failed to call conversion service: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, c.fail(req, fmt.Errorf("conversion service error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.fail(req, fmt.Errorf("failed to decode response: %w", err))
	}
	if out.BaseAmount == nil {
		return nil, c.fail(req, entity.ErrInvalidRatePayload)
	}

	result := &port.ConversionResult{
		BaseAmount: *out.BaseAmount,
		Rate:       out.Rate,
	}
	if len(out.Results) > 0 {
		result.Source = out.Results[0].RateSource
	}
	return result, nil
}

func (c *HTTPClient) fail(req port.ConversionRequest, err error) error {
	c.logger.Warn("Conversion request failed",
		zap.String("from", req.FromCurrency),
		zap.String("to", req.ToCurrency),
		zap.Error(err))
	return &entity.ConversionServiceError{From: req.FromCurrency, To: req.ToCurrency, Err: err}
}
