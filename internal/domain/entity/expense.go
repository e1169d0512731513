package entity

import "time"

// ExpenseEvent is a single expense record as received on the wire.
// BaseAmount and ExchangeRate are set only when upstream already converted it.
type ExpenseEvent struct {
	ID               string   `json:"id" binding:"required"`
	EmployeeID       string   `json:"empleado_id" binding:"required"`
	Date             string   `json:"fecha" binding:"required"`
	OriginalAmount   float64  `json:"monto_original"`
	OriginalCurrency string   `json:"moneda_original" binding:"required,alpha,len=3"`
	Category         string   `json:"categoria" binding:"required"`
	CostCenter       string   `json:"cost_center" binding:"required"`
	BaseAmount       *float64 `json:"monto_base,omitempty"`
	ExchangeRate     *float64 `json:"tipo_cambio,omitempty"`
}

// Snapshot flattens the event into the map seeded into a run's meta
func (e ExpenseEvent) Snapshot() Meta {
	m := Meta{
		"id":              e.ID,
		"empleado_id":     e.EmployeeID,
		"fecha":           e.Date,
		"monto_original":  e.OriginalAmount,
		"moneda_original": e.OriginalCurrency,
		"categoria":       e.Category,
		"cost_center":     e.CostCenter,
	}
	if e.BaseAmount != nil {
		m["monto_base"] = *e.BaseAmount
	}
	if e.ExchangeRate != nil {
		m["tipo_cambio"] = *e.ExchangeRate
	}
	return m
}

// ExpenseBatch is a group of raw rows coming from a split upload
type ExpenseBatch struct {
	ProcessID  string           `json:"processId" binding:"required"`
	BatchIndex int              `json:"batchIndex"`
	Records    []map[string]any `json:"records"`
}

// PersistedExpense is the durable record written once per accepted event
type PersistedExpense struct {
	ID                     string           `json:"id"`
	JobID                  string           `json:"job_id"`
	EmployeeID             string           `json:"empleado_id"`
	Date                   string           `json:"fecha"`
	OriginalAmount         float64          `json:"monto_original"`
	OriginalCurrency       string           `json:"moneda_original"`
	Category               string           `json:"categoria"`
	CostCenter             string           `json:"cost_center"`
	Fingerprint            string           `json:"fingerprint"`
	NegativeAmountDetected bool             `json:"negative_amount_detected"`
	BaseAmount             *float64         `json:"monto_base,omitempty"`
	ExchangeRate           *float64         `json:"tipo_cambio,omitempty"`
	ValidationStatus       ValidationStatus `json:"validation_status"`
	ValidationAlerts       []Alert          `json:"validation_alerts"`
	CreatedAt              time.Time        `json:"created_at"`
}
