package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Column aliases per event field, matched after trimming and lowercasing
var (
	aliasID             = []string{"id", "expense_id", "gasto_id"}
	aliasEmployeeID     = []string{"empleado_id", "employee_id", "empleado", "employee"}
	aliasDate           = []string{"fecha", "date", "fecha_gasto", "expense_date"}
	aliasCurrency       = []string{"moneda_original", "currency", "moneda", "currency_code"}
	aliasCategory       = []string{"categoria", "category"}
	aliasCostCenter     = []string{"cost_center", "costcenter", "cost_center_id", "centro_costo", "empleado_cost_center"}
	aliasOriginalAmount = []string{"monto_original", "amount", "monto", "importe"}
	aliasBaseAmount     = []string{"monto_base", "base_amount", "monto_clp"}
	aliasExchangeRate   = []string{"tipo_cambio", "exchange_rate", "tasa_cambio"}
)

// BatchOutcome lists the outcome of every processed record, in order
type BatchOutcome struct {
	ProcessID  string     `json:"processId"`
	BatchIndex int        `json:"batchIndex"`
	Outcomes   []*Outcome `json:"outcomes"`
}

// ProcessBatch coerces and processes records one at a time. The first
// error stops the batch; records already processed keep their runs.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batch entity.ExpenseBatch) (*BatchOutcome, error) {
	o.logger.Info("Processing expense batch",
		zap.String("process_id", batch.ProcessID),
		zap.Int("batch_index", batch.BatchIndex),
		zap.Int("size", len(batch.Records)))

	result := &BatchOutcome{
		ProcessID:  batch.ProcessID,
		BatchIndex: batch.BatchIndex,
		Outcomes:   make([]*Outcome, 0, len(batch.Records)),
	}

	for i, raw := range batch.Records {
		recordIndex := i + 1
		batchIndex := batch.BatchIndex

		evt, err := RecordToEvent(raw)
		if err != nil {
			o.logger.Error("Invalid batch record",
				zap.String("process_id", batch.ProcessID),
				zap.Int("record_index", recordIndex),
				zap.Error(err))
			return result, fmt.Errorf("record %d: %w", recordIndex, err)
		}

		out, err := o.Process(ctx, *evt, JobContext{
			JobID:       uuid.NewString(),
			Pattern:     entity.PatternExpenseBatch,
			ProcessID:   batch.ProcessID,
			BatchIndex:  &batchIndex,
			RecordIndex: &recordIndex,
			CSVRow:      raw,
		})
		if err != nil {
			return result, fmt.Errorf("record %d: %w", recordIndex, err)
		}
		result.Outcomes = append(result.Outcomes, out)
	}

	return result, nil
}

// RecordToEvent maps a raw row onto an ExpenseEvent using the column alias table
func RecordToEvent(raw map[string]any) (*entity.ExpenseEvent, error) {
	index := make(map[string]string, len(raw))
	columns := make([]string, 0, len(raw))
	for key := range raw {
		index[strings.ToLower(strings.TrimSpace(key))] = key
		columns = append(columns, key)
	}
	// Map order is random; report columns deterministically
	sort.Strings(columns)

	r := record{raw: raw, index: index}
	evt := &entity.ExpenseEvent{
		ID:               r.text(aliasID),
		EmployeeID:       r.text(aliasEmployeeID),
		Date:             r.text(aliasDate),
		OriginalCurrency: r.text(aliasCurrency),
		Category:         r.text(aliasCategory),
		CostCenter:       r.text(aliasCostCenter),
	}
	amount, hasAmount := r.number(aliasOriginalAmount)

	var missing []string
	if evt.ID == "" {
		missing = append(missing, "id")
	}
	if evt.EmployeeID == "" {
		missing = append(missing, "empleado_id")
	}
	if evt.Date == "" {
		missing = append(missing, "fecha")
	}
	if !hasAmount {
		missing = append(missing, "monto_original")
	}
	if evt.OriginalCurrency == "" {
		missing = append(missing, "moneda_original")
	}
	if evt.Category == "" {
		missing = append(missing, "categoria")
	}
	if evt.CostCenter == "" {
		missing = append(missing, "cost_center")
	}
	if len(missing) > 0 {
		return nil, entity.NewMissingFieldsError(missing, columns)
	}

	evt.OriginalAmount = amount
	if base, ok := r.number(aliasBaseAmount); ok {
		evt.BaseAmount = &base
	}
	if rate, ok := r.number(aliasExchangeRate); ok {
		evt.ExchangeRate = &rate
	}
	return evt, nil
}

type record struct {
	raw   map[string]any
	index map[string]string
}

// value returns the first non-nil value among aliases
func (r record) value(aliases []string) (any, bool) {
	for _, alias := range aliases {
		key, ok := r.index[alias]
		if !ok {
			continue
		}
		if v := r.raw[key]; v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r record) text(aliases []string) string {
	v, ok := r.value(aliases)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func (r record) number(aliases []string) (float64, bool) {
	v, ok := r.value(aliases)
	if !ok {
		return 0, false
	}
	return parseNumber(v)
}

// parseNumber accepts numbers and numeric strings, with ',' as decimal separator
func parseNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
