package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity verifies journals and account balance snapshots.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskStockReplayAudit replays the stock ledger against balance snapshots.
	TaskStockReplayAudit = "stock:replay_audit"
)

// Check labels reported to the integrity failure counter.
const (
	CheckJournals     = "journals"
	CheckTrialBalance = "trial_balance"
	CheckStockReplay  = "stock_replay"
)

// LedgerIntegrityPayload carries the trigger source.
type LedgerIntegrityPayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// StockReplayPayload narrows the audit. An empty ItemIDs audits every item
// that has a balance.
type StockReplayPayload struct {
	ItemIDs     []int64 `json:"item_ids,omitempty"`
	RequestedBy string  `json:"requested_by,omitempty"`
}

// NewLedgerIntegrityTask constructs the ledger integrity task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	return newTask(TaskLedgerIntegrity, payload)
}

// NewStockReplayAuditTask constructs the stock replay task.
func NewStockReplayAuditTask(payload StockReplayPayload) (*asynq.Task, error) {
	return newTask(TaskStockReplayAudit, payload)
}

// NewTask builds a task of a known type with an empty payload.
func NewTask(taskType, requestedBy string) (*asynq.Task, error) {
	switch taskType {
	case TaskLedgerIntegrity:
		return NewLedgerIntegrityTask(LedgerIntegrityPayload{RequestedBy: requestedBy})
	case TaskStockReplayAudit:
		return NewStockReplayAuditTask(StockReplayPayload{RequestedBy: requestedBy})
	}
	return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
