package entity

// Intake patterns recorded on every JobRun
const (
	PatternExpenseCreated = "expense.created"
	PatternExpenseBatch   = "expense.batch"
)

// Stage names in pipeline order
const (
	StageDedup      = "dedup"
	StageNormalize  = "normalize"
	StageCurrency   = "currency"
	StageValidation = "validation"
	StagePersist    = "persist"
)

// Skip reasons
const (
	ReasonDuplicateFingerprint   = "duplicate_fingerprint"
	ReasonDuplicateFingerprintDB = "duplicate_fingerprint_db"
	ReasonNegativeAmount         = "negative_amount"
)

// Rate sources reported by the currency stage
const (
	RateSourceIdentity    = "identity"
	RateSourceCache       = "cache"
	RateSourceAPI         = "api"
	RateSourcePrecomputed = "precomputed"
)

// Meta keys merged into JobRun.Meta
const (
	MetaKeyDedup          = "dedup"
	MetaKeyNegativeAmount = "negative_amount"
	MetaKeyValidation     = "validation"
	MetaKeyProcessID      = "processId"
	MetaKeyBatchIndex     = "batchIndex"
	MetaKeyRecordIndex    = "recordIndex"
	MetaKeyCSVRow         = "csv_row"
)
