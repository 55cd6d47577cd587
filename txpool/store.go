package txpool

import (
	context "context"
	"database/sql"
	"errors"
	"time"
)

// Store abstracts persistence for extrinsic receipts.
// Implementations must be safe for concurrent use.
type Store interface {
	InsertCreated(ctx context.Context, rec Receipt) error
	MarkEnqueued(ctx context.Context, id string, enqueuedAt time.Time) error
	MarkStarted(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id string, errorMsg string, finishedAt time.Time) error
	GetByID(ctx context.Context, id string) (*Receipt, error)
	ListByTask(ctx context.Context, taskID uint32) ([]Receipt, error)
}

const Schema = `
CREATE TABLE IF NOT EXISTS arb_receipts (
    id           VARCHAR(64)  PRIMARY KEY,
    call         VARCHAR(64)  NOT NULL,
    signer       VARCHAR(128) NOT NULL,
    task_id      INTEGER      NOT NULL,
    payload_json TEXT         NOT NULL,
    status       VARCHAR(32)  NOT NULL,
    error_msg    TEXT         NULL,
    created_at   DATETIME     NOT NULL,
    updated_at   DATETIME     NULL,
    enqueued_at  DATETIME     NULL,
    started_at   DATETIME     NULL,
    finished_at  DATETIME     NULL
)`

// SQLStore keeps receipts next to chain state.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *SQLStore) InsertCreated(ctx context.Context, rec Receipt) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `INSERT INTO arb_receipts (id, call, signer, task_id, payload_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, rec.ID, rec.Call, rec.Signer, rec.TaskID, rec.PayloadJSON, string(StatusCreated), time.Now().UTC())
	return err
}

func (s *SQLStore) MarkEnqueued(ctx context.Context, id string, enqueuedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	// status is left alone: the processor may already have picked the task up
	q := `UPDATE arb_receipts SET enqueued_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, enqueuedAt.UTC(), id)
	return err
}

func (s *SQLStore) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE arb_receipts SET status = ?, started_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusInProgress), startedAt.UTC(), id)
	return err
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id string, finishedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE arb_receipts SET status = ?, error_msg = NULL, finished_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusCompleted), finishedAt.UTC(), id)
	return err
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, errorMsg string, finishedAt time.Time) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	q := `UPDATE arb_receipts SET status = ?, error_msg = ?, finished_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, string(StatusFailed), errorMsg, finishedAt.UTC(), id)
	return err
}

const receiptColumns = `id, call, signer, task_id, payload_json, status, error_msg, created_at, enqueued_at, started_at, finished_at`

func scanReceipt(sc interface{ Scan(...any) error }) (*Receipt, error) {
	rec := Receipt{}
	var status string
	var startedAt, finishedAt, enqueuedAt sql.NullTime
	var errorMsg sql.NullString
	if err := sc.Scan(&rec.ID, &rec.Call, &rec.Signer, &rec.TaskID, &rec.PayloadJSON, &status, &errorMsg, &rec.CreatedAt, &enqueuedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	if errorMsg.Valid {
		v := errorMsg.String
		rec.ErrorMsg = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	if enqueuedAt.Valid {
		rec.EnqueuedAt = enqueuedAt.Time
	}
	return &rec, nil
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*Receipt, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM arb_receipts WHERE id = ?`, id)
	return scanReceipt(row)
}

// ListByTask returns every receipt that targeted taskID, oldest first.
func (s *SQLStore) ListByTask(ctx context.Context, taskID uint32) ([]Receipt, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+receiptColumns+` FROM arb_receipts WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
