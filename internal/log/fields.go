package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldCircleID    = "circle_id"
	FieldMemberID    = "member_id"
	FieldUserID      = "user_id"
	FieldCycleID     = "cycle_id"
	FieldAdvanceID   = "advance_id"
	FieldAmountCents = "amount_cents"
	FieldScore       = "score"
	FieldReason      = "reason"
	FieldSequence    = "sequence"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentHTTP         = "http"
	ComponentStorage      = "storage"
	ComponentEvents       = "events"
	ComponentWorker       = "worker"
	ComponentCircle       = "circle"
	ComponentLedger       = "ledger"
	ComponentTrust        = "trust"
	ComponentAdvance      = "advance"
	ComponentDefaults     = "defaults"
	ComponentDisbursement = "disbursement"
)
