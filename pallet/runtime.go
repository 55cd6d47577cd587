package pallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mohans/arbridge/internal/logging"
)

// Config wires the runtime constants and collaborators.
type Config struct {
	Limits             Limits
	ExistentialDeposit Balance
	Sink               EventSink
	Log                logging.Logger
}

// Runtime applies extrinsics to chain state. Every call runs in one store
// transaction and emits its events only once that transaction commits.
type Runtime struct {
	store    *SQLStore
	currency Currency
	limits   Limits
	sink     EventSink
	log      logging.Logger
}

func NewRuntime(store *SQLStore, cfg Config) *Runtime {
	cfg.Limits.applyDefaults()
	log := logging.Default(cfg.Log, "pallet-arweave")
	sink := cfg.Sink
	if sink == nil {
		sink = LogSink{Log: log}
	}
	return &Runtime{
		store:    store,
		currency: Currency{ExistentialDeposit: cfg.ExistentialDeposit},
		limits:   cfg.Limits,
		sink:     sink,
		log:      log,
	}
}

func (r *Runtime) Store() *SQLStore { return r.store }

func (r *Runtime) Limits() Limits { return r.limits }

type emitFunc func(kind EventKind, id TaskID) error

func (r *Runtime) dispatch(ctx context.Context, fn func(tx *Tx, emit emitFunc) error) error {
	var events []Event
	err := r.store.Update(ctx, func(tx *Tx) error {
		block, err := tx.BlockNumber(ctx)
		if err != nil {
			return err
		}
		emit := func(kind EventKind, id TaskID) error {
			ev := Event{Block: block, Kind: kind, TaskID: id}
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		}
		return fn(tx, emit)
	})
	if err != nil {
		return err
	}
	if err := r.sink.Publish(ctx, events); err != nil {
		r.log.Warnf("publish events: %v", err)
	}
	return nil
}

// ApplyExtrinsic verifies the signature and dispatches the call with the signer as origin.
func (r *Runtime) ApplyExtrinsic(ctx context.Context, xt Extrinsic) error {
	if err := xt.Verify(); err != nil {
		return err
	}
	origin := xt.Signer
	c := xt.Call
	switch c.Name {
	case CallCreateTask:
		_, err := r.CreateTask(ctx, origin, c.WorkerAddress, c.Data, c.Amount, c.Tips)
		return err
	case CallUpdateTask:
		if c.State == nil {
			return ErrInvalidState
		}
		return r.UpdateTask(ctx, origin, c.TaskID, *c.State)
	case CallSignTaskData:
		return r.SignTaskData(ctx, origin, c.TaskID, c.SignedData, c.TxHash)
	case CallClearTask:
		return r.ClearTask(ctx, origin, c.TaskID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCall, c.Name)
	}
}

// CreateTask escrows amount+tips from origin and queues data for archiving.
func (r *Runtime) CreateTask(ctx context.Context, origin, worker AccountID, data []byte, amount, tips Balance) (TaskID, error) {
	if origin == "" {
		return 0, ErrBadOrigin
	}
	if len(data) > r.limits.MaxDataLength {
		return 0, fmt.Errorf("%w: data %d > %d", ErrDataTooLong, len(data), r.limits.MaxDataLength)
	}
	if !json.Valid(data) {
		return 0, ErrTaskDataInvalidJson
	}

	var created TaskID
	err := r.dispatch(ctx, func(tx *Tx, emit emitFunc) error {
		palletFree, err := tx.FreeBalance(ctx, PalletAccount)
		if err != nil {
			return err
		}
		// the first inbound transfer has to create the escrow account
		if palletFree == 0 && amount < r.currency.MinimumBalance() {
			return ErrDepositTooSmallForNewAccount
		}
		deposit, ok := amount.CheckedAdd(tips)
		if !ok {
			return ErrDepositOverflow
		}
		if err := r.currency.Transfer(ctx, tx, origin, PalletAccount, deposit, KeepAlive); err != nil {
			return err
		}

		id, _, err := tx.NextTaskID(ctx)
		if err != nil {
			return err
		}
		if id == math.MaxUint32 {
			return ErrTaskIdIncrementFailed
		}
		if _, exists, err := tx.Task(ctx, id); err != nil {
			return err
		} else if exists {
			return ErrTaskAlreadyExists
		}

		task := Task{
			TaskID:        id,
			WorkerAddress: worker,
			Data:          data,
			State:         StateSign,
			Amount:        amount,
			Tips:          tips,
		}
		if err := tx.PutTask(ctx, task); err != nil {
			return err
		}
		if err := emit(EventTaskAdded, id); err != nil {
			return err
		}
		created = id
		return tx.SetNextTaskID(ctx, id+1)
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// UpdateTask sets the task state. Any state is accepted, including regressions.
func (r *Runtime) UpdateTask(ctx context.Context, origin AccountID, id TaskID, state TaskState) error {
	if origin == "" {
		return ErrBadOrigin
	}
	if !state.Valid() {
		return ErrInvalidState
	}
	return r.dispatch(ctx, func(tx *Tx, emit emitFunc) error {
		task, ok, err := tx.Task(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTaskNotExist
		}
		task.State = state
		if err := tx.PutTask(ctx, task); err != nil {
			return err
		}
		return emit(EventTaskChanged, id)
	})
}

// SignTaskData records a signed arweave transaction for the task and moves it to Upload.
func (r *Runtime) SignTaskData(ctx context.Context, origin AccountID, id TaskID, signedData []byte, txHash *string) error {
	if origin == "" {
		return ErrBadOrigin
	}
	if txHash == nil {
		return ErrTaskHasNoResult
	}
	if len(signedData) > r.limits.MaxSignedDataLength {
		return fmt.Errorf("%w: signed data %d > %d", ErrDataTooLong, len(signedData), r.limits.MaxSignedDataLength)
	}
	if len(*txHash) > r.limits.MaxTxHashLength {
		return fmt.Errorf("%w: tx hash %d > %d", ErrDataTooLong, len(*txHash), r.limits.MaxTxHashLength)
	}
	return r.dispatch(ctx, func(tx *Tx, emit emitFunc) error {
		task, ok, err := tx.Task(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTaskNotExist
		}
		hash := *txHash
		task.State = StateUpload
		task.TxHash = &hash
		if err := tx.PutTask(ctx, task); err != nil {
			return err
		}
		if err := tx.PutSignedData(ctx, id, signedData); err != nil {
			return err
		}
		return emit(EventTaskChanged, id)
	})
}

// ClearTask pays the escrow to the worker and moves the task into the results table.
func (r *Runtime) ClearTask(ctx context.Context, origin AccountID, id TaskID) error {
	if origin == "" {
		return ErrBadOrigin
	}
	return r.dispatch(ctx, func(tx *Tx, emit emitFunc) error {
		task, ok, err := tx.Task(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTaskNotExist
		}
		if task.State != StateClear {
			return ErrTaskMustBeInClearState
		}
		if task.TxHash == nil {
			return ErrTaskHasNoResult
		}
		deposit, ok := task.Amount.CheckedAdd(task.Tips)
		if !ok {
			return ErrDepositOverflow
		}
		if deposit != 0 {
			if err := r.currency.Transfer(ctx, tx, PalletAccount, task.WorkerAddress, deposit, KeepAlive); err != nil {
				return err
			}
		}
		if err := tx.DeleteTask(ctx, id); err != nil {
			return err
		}
		err = tx.PutResult(ctx, TaskResult{
			TaskID:        id,
			WorkerAddress: task.WorkerAddress,
			TxHash:        *task.TxHash,
		})
		if err != nil {
			return err
		}
		if err := tx.DeleteSignedData(ctx, id); err != nil {
			return err
		}
		return emit(EventTaskCleared, id)
	})
}

// ImportBlock advances the chain by one block and returns the new block number.
func (r *Runtime) ImportBlock(ctx context.Context) (uint64, error) {
	var n uint64
	err := r.store.Update(ctx, func(tx *Tx) error {
		cur, err := tx.BlockNumber(ctx)
		if err != nil {
			return err
		}
		n = cur + 1
		return tx.SetBlockNumber(ctx, n)
	})
	return n, err
}

// InitGenesis endows accounts on an empty chain; later calls are no-ops.
// The escrow account is always left holding at least the existential
// deposit so that clear_task can pay out a whole deposit with KeepAlive.
func (r *Runtime) InitGenesis(ctx context.Context, endowments map[AccountID]Balance) error {
	return r.store.Update(ctx, func(tx *Tx) error {
		has, err := tx.HasAccounts(ctx)
		if err != nil || has {
			return err
		}
		for acct, b := range endowments {
			if err := tx.SetFreeBalance(ctx, acct, b); err != nil {
				return err
			}
		}
		escrow, err := tx.FreeBalance(ctx, PalletAccount)
		if err != nil {
			return err
		}
		if ed := r.currency.MinimumBalance(); escrow < ed {
			r.log.Infof("genesis: endowing escrow account %s with %d", PalletAccount, ed)
			return tx.SetFreeBalance(ctx, PalletAccount, ed)
		}
		return nil
	})
}

func (r *Runtime) FreeBalance(ctx context.Context, account AccountID) (Balance, error) {
	return r.store.View().FreeBalance(ctx, account)
}
