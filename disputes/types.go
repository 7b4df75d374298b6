package disputes

import "fmt"

// DisputeRecord is the gateway's view of a dispute. Amount is in minor
// units (cents). Metadata carries the reconciliation marker written back
// by this service.
type DisputeRecord struct {
	ID       string            `json:"id"`
	Charge   string            `json:"charge"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Reason   string            `json:"reason"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// Metadata keys written back onto the gateway dispute object.
const (
	MetadataKeyReceiptId  = "payment_receipt_id"
	MetadataKeyReceiptRef = "payment_receipt_ref"
	MetadataKeyAccount    = "account"
)

type ErrorKind string

const (
	// ErrorKindGateway: transport/API failure talking to the payment
	// gateway while listing disputes. Nothing was marked; the dispute is
	// picked up again on the next scheduled run.
	ErrorKindGateway ErrorKind = "gateway"
	// ErrorKindEnforcement: a step of the protective action failed
	// (shutdown call, audit write, quarantine update, user notice).
	// Successful steps are not rolled back.
	ErrorKindEnforcement ErrorKind = "enforcement"
	// ErrorKindWriteback: enforcement completed but the reconciliation
	// metadata could not be patched back onto the gateway dispute. The
	// dispute is reprocessed next run; per-server guards keep that safe.
	ErrorKindWriteback ErrorKind = "writeback"
)

// ReconcileError is a per-dispute failure. The batch runner collects these;
// no dispute failure ever aborts the run.
type ReconcileError struct {
	Kind      ErrorKind
	DisputeId string
	Charge    string
	Err       error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("dispute %s (charge %s) %s: %v", e.DisputeId, e.Charge, e.Kind, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }

// ReconcileStats summarizes one run.
type ReconcileStats struct {
	CutoffUnix int64
	Seen       int
	Processed  int
	Skipped    int
}

type SyncPubSubPayload struct {
	RunId uint `json:"run_id"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncRunResponse struct {
	ID                uint    `json:"id"`
	Status            string  `json:"status"`
	TriggeredBy       string  `json:"triggeredBy"`
	CutoffUnix        int64   `json:"cutoffUnix"`
	DisputesSeen      int     `json:"disputesSeen"`
	DisputesProcessed int     `json:"disputesProcessed"`
	DisputesSkipped   int     `json:"disputesSkipped"`
	ErrorCount        int     `json:"errorCount"`
	StartedAt         *string `json:"startedAt"`
	FinishedAt        *string `json:"finishedAt"`
	DurationMs        int64   `json:"durationMs"`
}

type SyncErrorResponse struct {
	ID              uint   `json:"id"`
	DisputeId       string `json:"disputeId"`
	ChargeReference string `json:"chargeReference"`
	ErrorKind       string `json:"errorKind"`
	Message         string `json:"message"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}
