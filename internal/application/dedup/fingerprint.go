// Package dedup detects repeated expense submissions by content.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

// fingerprintFields fixes the serialized field order. encoding/json writes
// struct fields in declaration order and formats floats without locale.
type fingerprintFields struct {
	Date             string  `json:"fecha"`
	OriginalAmount   float64 `json:"monto_original"`
	OriginalCurrency string  `json:"moneda_original"`
}

// Fingerprint returns the lowercase hex SHA-256 of the event's date, amount and currency.
func Fingerprint(evt entity.ExpenseEvent) string {
	payload, err := json.Marshal(fingerprintFields{
		Date:             evt.Date,
		OriginalAmount:   evt.OriginalAmount,
		OriginalCurrency: evt.OriginalCurrency,
	})
	if err != nil {
		// Only NaN or Inf amounts fail to marshal; hash their textual form instead
		payload = []byte(evt.Date + "|" + formatAmount(evt.OriginalAmount) + "|" + evt.OriginalCurrency)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
