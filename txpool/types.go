package txpool

import "time"

// Status is the lifecycle status of a submitted extrinsic.
// Valid values: created, in_progress, completed, failed.
type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task types and queues served by the node processor.
const (
	TypeApplyExtrinsic = "extrinsic:apply"
	TypeAuthorBlock    = "block:author"

	QueueTxPool = "txpool"
	QueueBlocks = "blocks"
)

// Receipt is the persisted record of an extrinsic's trip through the pool.
type Receipt struct {
	ID          string // extrinsic id, also the asynq task id
	Call        string // dispatchable name
	Signer      string
	TaskID      uint32 // task the call targets; 0 for create_task
	PayloadJSON string
	Status      Status
	ErrorMsg    *string // dispatch error, if any
	CreatedAt   time.Time
	EnqueuedAt  time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}
