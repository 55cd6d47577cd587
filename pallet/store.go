package pallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Schema is the chain state layout. Statements are applied in order by Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS arb_meta (
    key   VARCHAR(64) PRIMARY KEY,
    value TEXT        NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS arb_tasks (
    task_id        INTEGER PRIMARY KEY,
    worker_address VARCHAR(128) NOT NULL,
    data           BLOB         NOT NULL,
    state          INTEGER      NOT NULL,
    tx_hash        TEXT         NULL,
    amount         TEXT         NOT NULL,
    tips           TEXT         NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS arb_tasks_state ON arb_tasks (state, task_id)`,
	`CREATE TABLE IF NOT EXISTS arb_task_results (
    task_id        INTEGER PRIMARY KEY,
    worker_address VARCHAR(128) NOT NULL,
    tx_hash        TEXT         NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS arb_signed_data (
    task_id INTEGER PRIMARY KEY,
    data    BLOB NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS arb_balances (
    account VARCHAR(128) PRIMARY KEY,
    free    TEXT         NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS arb_events (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    block   INTEGER     NOT NULL,
    kind    VARCHAR(32) NOT NULL,
    task_id INTEGER     NOT NULL
)`,
}

const (
	metaNextTaskID  = "next_task_id"
	metaBlockNumber = "block_number"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps chain state in a relational DB (SQLite in practice).
// Writes go through Update so each extrinsic commits atomically.
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
	for _, stmt := range Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Update runs fn inside a single transaction. Any error rolls back every write fn made.
func (s *SQLStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&Tx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// View gives read access outside of a transaction.
func (s *SQLStore) View() *Tx {
	return &Tx{q: s.db}
}

func (s *SQLStore) TasksByState(ctx context.Context, state TaskState) ([]Task, error) {
	return s.View().TasksByState(ctx, state)
}

func (s *SQLStore) SignedData(ctx context.Context, id TaskID) ([]byte, bool, error) {
	return s.View().SignedData(ctx, id)
}

// Tx exposes the typed storage maps over a DB handle or an open transaction.
type Tx struct {
	q querier
}

func (t *Tx) meta(ctx context.Context, key string) (uint64, bool, error) {
	var raw string
	err := t.q.QueryRowContext(ctx, `SELECT value FROM arb_meta WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("meta %s: %w", key, err)
	}
	return v, true, nil
}

func (t *Tx) setMeta(ctx context.Context, key string, v uint64) error {
	_, err := t.q.ExecContext(ctx, `INSERT OR REPLACE INTO arb_meta (key, value) VALUES (?, ?)`,
		key, strconv.FormatUint(v, 10))
	return err
}

// NextTaskID reports the id the next created task receives; false before the first task.
func (t *Tx) NextTaskID(ctx context.Context) (TaskID, bool, error) {
	v, ok, err := t.meta(ctx, metaNextTaskID)
	return TaskID(v), ok, err
}

func (t *Tx) SetNextTaskID(ctx context.Context, id TaskID) error {
	return t.setMeta(ctx, metaNextTaskID, uint64(id))
}

func (t *Tx) BlockNumber(ctx context.Context) (uint64, error) {
	v, _, err := t.meta(ctx, metaBlockNumber)
	return v, err
}

func (t *Tx) SetBlockNumber(ctx context.Context, n uint64) error {
	return t.setMeta(ctx, metaBlockNumber, n)
}

const taskColumns = `task_id, worker_address, data, state, tx_hash, amount, tips`

func scanTask(sc interface{ Scan(...any) error }) (Task, error) {
	var (
		task   Task
		state  uint8
		txHash sql.NullString
	)
	if err := sc.Scan(&task.TaskID, &task.WorkerAddress, &task.Data, &state, &txHash, &task.Amount, &task.Tips); err != nil {
		return Task{}, err
	}
	task.State = TaskState(state)
	if txHash.Valid {
		v := txHash.String
		task.TxHash = &v
	}
	return task, nil
}

func (t *Tx) Task(ctx context.Context, id TaskID) (Task, bool, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM arb_tasks WHERE task_id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

func (t *Tx) PutTask(ctx context.Context, task Task) error {
	var txHash sql.NullString
	if task.TxHash != nil {
		txHash = sql.NullString{String: *task.TxHash, Valid: true}
	}
	_, err := t.q.ExecContext(ctx, `INSERT OR REPLACE INTO arb_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, string(task.WorkerAddress), task.Data, uint8(task.State), txHash, task.Amount, task.Tips)
	return err
}

func (t *Tx) DeleteTask(ctx context.Context, id TaskID) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM arb_tasks WHERE task_id = ?`, id)
	return err
}

func (t *Tx) TasksByState(ctx context.Context, state TaskState) ([]Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+` FROM arb_tasks WHERE state = ? ORDER BY task_id`, uint8(state))
}

func (t *Tx) Tasks(ctx context.Context) ([]Task, error) {
	return t.queryTasks(ctx, `SELECT `+taskColumns+` FROM arb_tasks ORDER BY task_id`)
}

func (t *Tx) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := t.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (t *Tx) PutResult(ctx context.Context, r TaskResult) error {
	_, err := t.q.ExecContext(ctx, `INSERT OR REPLACE INTO arb_task_results (task_id, worker_address, tx_hash) VALUES (?, ?, ?)`,
		r.TaskID, string(r.WorkerAddress), r.TxHash)
	return err
}

func (t *Tx) Result(ctx context.Context, id TaskID) (TaskResult, bool, error) {
	var r TaskResult
	err := t.q.QueryRowContext(ctx, `SELECT task_id, worker_address, tx_hash FROM arb_task_results WHERE task_id = ?`, id).
		Scan(&r.TaskID, &r.WorkerAddress, &r.TxHash)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskResult{}, false, nil
	}
	if err != nil {
		return TaskResult{}, false, err
	}
	return r, true, nil
}

func (t *Tx) PutSignedData(ctx context.Context, id TaskID, data []byte) error {
	_, err := t.q.ExecContext(ctx, `INSERT OR REPLACE INTO arb_signed_data (task_id, data) VALUES (?, ?)`, id, data)
	return err
}

func (t *Tx) SignedData(ctx context.Context, id TaskID) ([]byte, bool, error) {
	var data []byte
	err := t.q.QueryRowContext(ctx, `SELECT data FROM arb_signed_data WHERE task_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t *Tx) DeleteSignedData(ctx context.Context, id TaskID) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM arb_signed_data WHERE task_id = ?`, id)
	return err
}

func (t *Tx) FreeBalance(ctx context.Context, account AccountID) (Balance, error) {
	var b Balance
	err := t.q.QueryRowContext(ctx, `SELECT free FROM arb_balances WHERE account = ?`, string(account)).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return b, err
}

// SetFreeBalance writes the balance; a zero balance reaps the account row.
func (t *Tx) SetFreeBalance(ctx context.Context, account AccountID, b Balance) error {
	if b == 0 {
		_, err := t.q.ExecContext(ctx, `DELETE FROM arb_balances WHERE account = ?`, string(account))
		return err
	}
	_, err := t.q.ExecContext(ctx, `INSERT OR REPLACE INTO arb_balances (account, free) VALUES (?, ?)`, string(account), b)
	return err
}

// HasAccounts reports whether any balance has been written yet.
func (t *Tx) HasAccounts(ctx context.Context) (bool, error) {
	var n int
	if err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM arb_balances`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *Tx) AppendEvent(ctx context.Context, ev Event) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO arb_events (block, kind, task_id) VALUES (?, ?, ?)`,
		ev.Block, string(ev.Kind), ev.TaskID)
	return err
}

func (t *Tx) Events(ctx context.Context) ([]Event, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT block, kind, task_id FROM arb_events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Block, &ev.Kind, &ev.TaskID); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
