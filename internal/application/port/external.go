package port

import (
	"context"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

// ConversionRequest asks for an amount in one currency expressed in another.
// Date is yyyy-mm-dd; empty means the latest rate.
type ConversionRequest struct {
	Amount       float64
	FromCurrency string
	ToCurrency   string
	Date         string
}

// ConversionResult is what the conversion service returns.
// Rate is nil when the service did not report one.
type ConversionResult struct {
	BaseAmount float64
	Rate       *float64
	Source     string
}

// CurrencyService converts amounts. Unknown pairs and upstream failures
// are reported as *entity.ConversionServiceError.
type CurrencyService interface {
	Convert(ctx context.Context, req ConversionRequest) (*ConversionResult, error)
}

// PolicySource resolves the policies currently in force
type PolicySource interface {
	Current(ctx context.Context) (*entity.Policies, error)
}
