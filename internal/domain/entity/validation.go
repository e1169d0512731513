package entity

// ValidationStatus is the outcome of the approval rules
type ValidationStatus string

const (
	ValidationApproved ValidationStatus = "APROBADO"
	ValidationPending  ValidationStatus = "PENDIENTE"
	ValidationRejected ValidationStatus = "RECHAZADO"
)

var validationPriority = map[ValidationStatus]int{
	ValidationApproved: 0,
	ValidationPending:  1,
	ValidationRejected: 2,
}

// Priority orders statuses; unknown statuses rank below APROBADO
func (s ValidationStatus) Priority() int {
	if p, ok := validationPriority[s]; ok {
		return p
	}
	return -1
}

// IsValid reports whether s is a known status
func (s ValidationStatus) IsValid() bool {
	_, ok := validationPriority[s]
	return ok
}

// Alert codes
const (
	AlertCodeAgeLimit       = "LIMITE_ANTIGUEDAD"
	AlertCodeCategoryConfig = "CONFIG_CATEGORIA"
	AlertCodeCategoryLimit  = "LIMITE_CATEGORIA"
	AlertCodeCostCenterRule = "POLITICA_CENTRO_COSTO"
)

// Alert is a human-readable finding raised by a rule
type Alert struct {
	Code    string `json:"codigo"`
	Message string `json:"mensaje"`
}

// Suggestion is one rule's proposed status
type Suggestion struct {
	Rule   string           `json:"regla"`
	Status ValidationStatus `json:"estado"`
}

// ValidationResult is the full evaluation outcome
type ValidationResult struct {
	FinalStatus     ValidationStatus `json:"estadoFinal"`
	Alerts          []Alert          `json:"alertas"`
	Suggestions     []Suggestion     `json:"sugerencias"`
	ConvertedAmount float64          `json:"montoConvertido"`
	BaseCurrency    string           `json:"monedaBase"`
}

// ValidationResponse is the view exposed to external consumers
type ValidationResponse struct {
	ExpenseID string           `json:"gasto_id"`
	Status    ValidationStatus `json:"status"`
	Alerts    []Alert          `json:"alertas"`
}
