package offchain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/mohans/arbridge/internal/logging"
	"github.com/mohans/arbridge/pallet"
)

// TaskReader is the read-only view of chain state the pipeline works from.
type TaskReader interface {
	TasksByState(ctx context.Context, state pallet.TaskState) ([]pallet.Task, error)
	SignedData(ctx context.Context, id pallet.TaskID) ([]byte, bool, error)
}

// Commit is a task mutation computed offchain, to be submitted as an extrinsic.
// Signed is set only by the sign stage.
type Commit struct {
	Task   pallet.Task
	Signed *Transaction
}

var contentTypeTag = Tag{Name: []byte("Content-Type"), Value: []byte("application/json")}

// Pipeline computes the next step for tasks in each stage. It never writes chain state.
//
// Each stage returns the commits gathered so far together with the first error;
// an error stops the scan of that stage for this pass.
type Pipeline struct {
	tasks   TaskReader
	gateway Gateway
	signer  TransactionSigner
	local   LocalStore
	limits  pallet.Limits
	log     logging.Logger
}

type PipelineConfig struct {
	Tasks   TaskReader
	Gateway Gateway
	Signer  TransactionSigner
	Local   LocalStore
	Limits  pallet.Limits
	Log     logging.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		tasks:   cfg.Tasks,
		gateway: cfg.Gateway,
		signer:  cfg.Signer,
		local:   cfg.Local,
		limits:  cfg.Limits,
		log:     logging.Default(cfg.Log, "pallet-arweave"),
	}
}

// SignTasks builds a signed arweave transaction for every task in Sign.
func (p *Pipeline) SignTasks(ctx context.Context) ([]Commit, error) {
	tasks, err := p.tasks.TasksByState(ctx, pallet.StateSign)
	if err != nil {
		return nil, fmt.Errorf("read sign tasks: %w", err)
	}
	var commits []Commit
	for _, task := range tasks {
		p.log.Infof("sign: task_id=%d", task.TaskID)

		fee, err := p.gateway.Price(ctx, len(task.Data))
		if err != nil {
			return commits, err
		}
		anchor, err := p.gateway.TxAnchor(ctx)
		if err != nil {
			return commits, err
		}
		if fee > math.MaxUint64/2 {
			return commits, &SigningError{Err: fmt.Errorf("fee %d overflows reward", fee)}
		}

		tx, err := p.signer.SignTransaction(task.Data, fee*2, anchor, []Tag{contentTypeTag})
		if err != nil {
			var se *SigningError
			if !errors.As(err, &se) {
				err = &SigningError{Err: err}
			}
			return commits, err
		}
		if p.limits.MaxTxHashLength > 0 && len(tx.ID) > p.limits.MaxTxHashLength {
			return commits, &BoundedError{Value: []byte(tx.ID), Limit: p.limits.MaxTxHashLength}
		}

		id := tx.ID
		task.State = task.State.Next()
		task.TxHash = &id
		commits = append(commits, Commit{Task: task, Signed: tx})
	}
	return commits, nil
}

// UploadTasks posts the signed transaction of the first task in Upload.
// At most one upload happens per pass, and at most once per node thanks to the local marker.
func (p *Pipeline) UploadTasks(ctx context.Context) ([]Commit, error) {
	tasks, err := p.tasks.TasksByState(ctx, pallet.StateUpload)
	if err != nil {
		return nil, fmt.Errorf("read upload tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	task := tasks[0]
	p.log.Infof("upload: task_id=%d", task.TaskID)

	data, ok, err := p.tasks.SignedData(ctx, task.TaskID)
	if err != nil {
		return nil, fmt.Errorf("read signed data: %w", err)
	}
	if !ok {
		p.log.Warnf("upload: task_id=%d has no signed data", task.TaskID)
		return nil, nil
	}

	key := TaskLockKey(task.TaskID)
	uploaded, err := p.local.Has(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	// The marker outlives a 404 regression to Sign, so a re-signed tx is
	// never posted by this node and only validates once another node posts it.
	if uploaded {
		task.State = pallet.StateValidate
		return []Commit{{Task: task}}, nil
	}

	// mark first: a crash after the POST must not lead to a second POST
	if err := p.local.Set(ctx, key); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	p.log.Infof("arweave_post_transaction: task_id=%d", task.TaskID)

	if err := p.gateway.PostTransaction(ctx, data); err != nil {
		if cerr := p.local.Clear(ctx, key); cerr != nil {
			p.log.Errorf("clear %s: %v", key, cerr)
		}
		p.log.Errorf("arweave_post_transaction: %v", err)
		// the signed tx may be stale; sign again with a fresh fee and anchor
		task.State = task.State.Prev()
		return []Commit{{Task: task}}, nil
	}
	task.State = task.State.Next()
	return []Commit{{Task: task}}, nil
}

// ValidateTasks polls the gateway for every task in Validate.
func (p *Pipeline) ValidateTasks(ctx context.Context) ([]Commit, error) {
	tasks, err := p.tasks.TasksByState(ctx, pallet.StateValidate)
	if err != nil {
		return nil, fmt.Errorf("read validate tasks: %w", err)
	}
	var commits []Commit
	for _, task := range tasks {
		p.log.Infof("validate: task_id=%d", task.TaskID)
		if task.TxHash == nil {
			continue
		}
		code, err := p.gateway.TransactionStatus(ctx, *task.TxHash)
		if err != nil {
			return commits, err
		}
		switch code {
		case http.StatusOK:
			task.State = task.State.Next()
			commits = append(commits, Commit{Task: task})
		case http.StatusAccepted:
			return commits, ErrTransactionPending
		case http.StatusNotFound:
			p.log.Warnf("received 404 from arweave for task_id=%d, resubmit to sign", task.TaskID)
			task.State = pallet.StateSign
			commits = append(commits, Commit{Task: task})
		default:
			p.log.Warnf("unexpected status code: %d", code)
			return commits, &HTTPRequestError{Kind: Unknown, Status: code}
		}
	}
	return commits, nil
}
