package entity

// Policies drive the approval rules and name the base currency
type Policies struct {
	BaseCurrency    string                   `json:"moneda_base" validate:"required,alpha,len=3"`
	AgeLimits       AgeLimits                `json:"limite_antiguedad"`
	CategoryLimits  map[string]CategoryLimit `json:"limites_por_categoria" validate:"dive"`
	CostCenterRules []CostCenterRule         `json:"reglas_centro_costo" validate:"dive"`
}

// AgeLimits are day thresholds measured from the expense date
type AgeLimits struct {
	PendingDays  int `json:"pendiente_dias" validate:"gte=0"`
	RejectedDays int `json:"rechazado_dias" validate:"gtefield=PendingDays"`
}

// CategoryLimit bounds the base amount for one category
type CategoryLimit struct {
	ApprovedUpTo float64 `json:"aprobado_hasta" validate:"gte=0"`
	PendingUpTo  float64 `json:"pendiente_hasta" validate:"gtefield=ApprovedUpTo"`
}

// CostCenterRule forbids a category for a cost center
type CostCenterRule struct {
	CostCenter        string `json:"cost_center" validate:"required"`
	ForbiddenCategory string `json:"categoria_prohibida" validate:"required"`
}
