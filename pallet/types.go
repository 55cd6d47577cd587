package pallet

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TaskID is the sequential identifier of an archiving task.
type TaskID uint32

// AccountID identifies an account: the hex-encoded ed25519 public key of its owner.
type AccountID string

// Balance is a currency amount. Persisted as decimal text so the full uint64 range survives SQL.
type Balance uint64

// CheckedAdd returns a+b, or false when the sum overflows.
func (b Balance) CheckedAdd(o Balance) (Balance, bool) {
	if uint64(b) > math.MaxUint64-uint64(o) {
		return 0, false
	}
	return b + o, true
}

func (b Balance) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(b), 10), nil
}

func (b *Balance) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = 0
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("negative balance %d", v)
		}
		*b = Balance(v)
		return nil
	case string:
		return b.parse(v)
	case []byte:
		return b.parse(string(v))
	default:
		return fmt.Errorf("unsupported balance type %T", src)
	}
}

func (b *Balance) parse(s string) error {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("parse balance %q: %w", s, err)
	}
	*b = Balance(n)
	return nil
}

// TaskState is the stage a task is in.
// Stages advance Sign -> Upload -> Validate -> Clear.
type TaskState uint8

const (
	StateSign TaskState = iota
	StateUpload
	StateValidate
	StateClear
)

var stateNames = [...]string{"sign", "upload", "validate", "clear"}

func (s TaskState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("TaskState(%d)", uint8(s))
}

func (s TaskState) Valid() bool { return s <= StateClear }

// Next returns the following stage. Clear is terminal.
func (s TaskState) Next() TaskState {
	switch s {
	case StateSign:
		return StateUpload
	case StateUpload:
		return StateValidate
	default:
		return StateClear
	}
}

// Prev returns the preceding stage. Sign is the first.
func (s TaskState) Prev() TaskState {
	switch s {
	case StateClear:
		return StateValidate
	case StateValidate:
		return StateUpload
	default:
		return StateSign
	}
}

func (s TaskState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid task state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *TaskState) UnmarshalText(b []byte) error {
	st, err := ParseTaskState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func ParseTaskState(name string) (TaskState, error) {
	for i, n := range stateNames {
		if strings.EqualFold(name, n) {
			return TaskState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task state %q", name)
}

// Task is a unit of data waiting to be archived on Arweave.
type Task struct {
	TaskID        TaskID    `json:"task_id"`
	WorkerAddress AccountID `json:"worker_address"`
	Data          []byte    `json:"data"`
	State         TaskState `json:"state"`
	TxHash        *string   `json:"tx_hash,omitempty"` // arweave tx id, nil while in Sign
	Amount        Balance   `json:"amount"`
	Tips          Balance   `json:"tips"`
}

// TaskResult is the terminal record of a cleared task.
type TaskResult struct {
	TaskID        TaskID    `json:"task_id"`
	WorkerAddress AccountID `json:"worker_address"`
	TxHash        string    `json:"tx_hash"`
}

// Limits bounds the variable-length values kept in chain state.
type Limits struct {
	MaxDataLength       int
	MaxTxHashLength     int
	MaxSignedDataLength int
}

func DefaultLimits() Limits {
	return Limits{
		MaxDataLength:       64 << 10,
		MaxTxHashLength:     64,
		MaxSignedDataLength: 256 << 10,
	}
}

func (l *Limits) applyDefaults() {
	d := DefaultLimits()
	if l.MaxDataLength <= 0 {
		l.MaxDataLength = d.MaxDataLength
	}
	if l.MaxTxHashLength <= 0 {
		l.MaxTxHashLength = d.MaxTxHashLength
	}
	if l.MaxSignedDataLength <= 0 {
		l.MaxSignedDataLength = d.MaxSignedDataLength
	}
}

// EventKind names a state change reported by the call handlers.
type EventKind string

const (
	EventTaskAdded   EventKind = "TaskAdded"
	EventTaskChanged EventKind = "TaskChanged"
	EventTaskCleared EventKind = "TaskCleared"
)

// Event is emitted by a successful dispatch.
type Event struct {
	Block  uint64    `json:"block"`
	Kind   EventKind `json:"kind"`
	TaskID TaskID    `json:"task_id"`
}
