package pallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

const testED Balance = 10

var (
	alice  AccountID = "alice"
	worker AccountID = "worker"
)

func openTestStore(t *testing.T, name string) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store := NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func newTestRuntime(t *testing.T, name string, endow map[AccountID]Balance) *Runtime {
	t.Helper()
	rt := NewRuntime(openTestStore(t, name), Config{ExistentialDeposit: testED})
	if err := rt.InitGenesis(context.Background(), endow); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	return rt
}

func balance(t *testing.T, rt *Runtime, acct AccountID) Balance {
	t.Helper()
	b, err := rt.FreeBalance(context.Background(), acct)
	if err != nil {
		t.Fatalf("FreeBalance(%s): %v", acct, err)
	}
	return b
}

func getTask(t *testing.T, rt *Runtime, id TaskID) (Task, bool) {
	t.Helper()
	task, ok, err := rt.Store().View().Task(context.Background(), id)
	if err != nil {
		t.Fatalf("Task(%d): %v", id, err)
	}
	return task, ok
}

func TestCreateTask_EscrowsDeposit(t *testing.T) {
	rt := newTestRuntime(t, "pallet_create", map[AccountID]Balance{alice: 1000})
	ctx := context.Background()

	id, err := rt.CreateTask(ctx, alice, worker, []byte(`{"a":1}`), 20, 5)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id != 0 {
		t.Fatalf("first task id = %d, want 0", id)
	}
	if got := balance(t, rt, alice); got != 975 {
		t.Fatalf("alice = %d, want 975", got)
	}
	if got := balance(t, rt, PalletAccount); got != testED+25 {
		t.Fatalf("pallet = %d, want %d", got, testED+25)
	}
	task, ok := getTask(t, rt, id)
	if !ok {
		t.Fatalf("task %d missing", id)
	}
	if task.State != StateSign || task.TxHash != nil || task.WorkerAddress != worker || task.Amount != 20 || task.Tips != 5 {
		t.Fatalf("unexpected task: %#v", task)
	}

	id2, err := rt.CreateTask(ctx, alice, worker, []byte(`[]`), 10, 0)
	if err != nil {
		t.Fatalf("second CreateTask: %v", err)
	}
	if id2 != 1 {
		t.Fatalf("second task id = %d, want 1", id2)
	}

	events, err := rt.Store().View().Events(ctx)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].Kind != EventTaskAdded || events[1].TaskID != 1 {
		t.Fatalf("unexpected events: %#v", events)
	}
}

func TestCreateTask_RejectsInvalidJSON(t *testing.T) {
	rt := newTestRuntime(t, "pallet_json", map[AccountID]Balance{alice: 1000})
	ctx := context.Background()

	for _, data := range []string{``, `{`, `not json`, `{"a":}`} {
		if _, err := rt.CreateTask(ctx, alice, worker, []byte(data), 20, 0); !errors.Is(err, ErrTaskDataInvalidJson) {
			t.Fatalf("data %q: expected ErrTaskDataInvalidJson, got %v", data, err)
		}
	}
	if next, ok, err := rt.Store().View().NextTaskID(ctx); err != nil || ok || next != 0 {
		t.Fatalf("counter moved: next=%d set=%t err=%v", next, ok, err)
	}
	if got := balance(t, rt, alice); got != 1000 {
		t.Fatalf("alice = %d, want 1000", got)
	}
	if got := balance(t, rt, PalletAccount); got != testED {
		t.Fatalf("pallet = %d, want %d", got, testED)
	}
}

func TestCreateTask_DepositTooSmallForNewAccount(t *testing.T) {
	// a chain state without genesis, so the escrow account does not exist
	store := openTestStore(t, "pallet_small")
	rt := NewRuntime(store, Config{ExistentialDeposit: testED})
	ctx := context.Background()
	if err := store.Update(ctx, func(tx *Tx) error { return tx.SetFreeBalance(ctx, alice, 1000) }); err != nil {
		t.Fatalf("seed alice: %v", err)
	}

	// tips do not count towards creating the escrow account
	if _, err := rt.CreateTask(ctx, alice, worker, []byte(`{}`), testED-1, 100); !errors.Is(err, ErrDepositTooSmallForNewAccount) {
		t.Fatalf("expected ErrDepositTooSmallForNewAccount, got %v", err)
	}
	if got := balance(t, rt, alice); got != 1000 {
		t.Fatalf("alice = %d, want 1000", got)
	}

	if _, err := rt.CreateTask(ctx, alice, worker, []byte(`{}`), testED, 0); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	// the escrow account exists now, small amounts are fine
	if _, err := rt.CreateTask(ctx, alice, worker, []byte(`{}`), 1, 0); err != nil {
		t.Fatalf("CreateTask small: %v", err)
	}
}

func TestCreateTask_DepositOverflow(t *testing.T) {
	rt := newTestRuntime(t, "pallet_overflow", map[AccountID]Balance{alice: 1000})
	_, err := rt.CreateTask(context.Background(), alice, worker, []byte(`{}`), math.MaxUint64, 1)
	if !errors.Is(err, ErrDepositOverflow) {
		t.Fatalf("expected ErrDepositOverflow, got %v", err)
	}
}

func TestCreateTask_Bounds(t *testing.T) {
	store := openTestStore(t, "pallet_bounds")
	rt := NewRuntime(store, Config{ExistentialDeposit: testED, Limits: Limits{MaxDataLength: 8}})
	ctx := context.Background()
	if err := rt.InitGenesis(ctx, map[AccountID]Balance{alice: 1000}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if _, err := rt.CreateTask(ctx, alice, worker, []byte(`{"k":"long"}`), 20, 0); !errors.Is(err, ErrDataTooLong) {
		t.Fatalf("expected ErrDataTooLong, got %v", err)
	}
	if _, err := rt.CreateTask(ctx, "", worker, []byte(`{}`), 20, 0); !errors.Is(err, ErrBadOrigin) {
		t.Fatalf("expected ErrBadOrigin, got %v", err)
	}
	if _, err := rt.CreateTask(ctx, "bob", worker, []byte(`{}`), 20, 0); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// the sender must stay above the existential deposit
	if _, err := rt.CreateTask(ctx, alice, worker, []byte(`{}`), 995, 0); !errors.Is(err, ErrKeepAlive) {
		t.Fatalf("expected ErrKeepAlive, got %v", err)
	}
}

func TestClearTask_Preconditions(t *testing.T) {
	rt := newTestRuntime(t, "pallet_clear_pre", map[AccountID]Balance{alice: 1000})
	ctx := context.Background()

	if err := rt.ClearTask(ctx, alice, 7); !errors.Is(err, ErrTaskNotExist) {
		t.Fatalf("expected ErrTaskNotExist, got %v", err)
	}
	id, err := rt.CreateTask(ctx, alice, worker, []byte(`{}`), 20, 0)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := rt.ClearTask(ctx, alice, id); !errors.Is(err, ErrTaskMustBeInClearState) {
		t.Fatalf("expected ErrTaskMustBeInClearState, got %v", err)
	}
	if err := rt.UpdateTask(ctx, alice, id, StateClear); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if err := rt.ClearTask(ctx, alice, id); !errors.Is(err, ErrTaskHasNoResult) {
		t.Fatalf("expected ErrTaskHasNoResult, got %v", err)
	}
	if _, ok := getTask(t, rt, id); !ok {
		t.Fatalf("task removed by a failed clear")
	}
}

func TestClearTask_PaysWorker(t *testing.T) {
	rt := newTestRuntime(t, "pallet_clear_pay", map[AccountID]Balance{alice: 1000, PalletAccount: testED})
	ctx := context.Background()

	id, err := rt.CreateTask(ctx, alice, worker, []byte(`{"doc":true}`), 20, 5)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	hash := "tx-hash-1"
	if err := rt.SignTaskData(ctx, alice, id, []byte(`{"id":"tx-hash-1"}`), &hash); err != nil {
		t.Fatalf("SignTaskData: %v", err)
	}
	task, _ := getTask(t, rt, id)
	if task.State != StateUpload || task.TxHash == nil || *task.TxHash != hash {
		t.Fatalf("unexpected task after sign: %#v", task)
	}
	if err := rt.UpdateTask(ctx, alice, id, StateClear); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if err := rt.ClearTask(ctx, alice, id); err != nil {
		t.Fatalf("ClearTask: %v", err)
	}

	if got := balance(t, rt, worker); got != 25 {
		t.Fatalf("worker = %d, want 25", got)
	}
	if got := balance(t, rt, PalletAccount); got != testED {
		t.Fatalf("pallet = %d, want %d", got, testED)
	}
	if got := balance(t, rt, alice) + balance(t, rt, worker) + balance(t, rt, PalletAccount); got != 1000+testED {
		t.Fatalf("total issuance changed: %d", got)
	}

	view := rt.Store().View()
	if _, ok := getTask(t, rt, id); ok {
		t.Fatalf("task %d still present", id)
	}
	res, ok, err := view.Result(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Result: ok=%t err=%v", ok, err)
	}
	if res.TxHash != hash || res.WorkerAddress != worker {
		t.Fatalf("unexpected result: %#v", res)
	}
	if _, ok, _ := view.SignedData(ctx, id); ok {
		t.Fatalf("signed data not removed")
	}
	if err := rt.ClearTask(ctx, alice, id); !errors.Is(err, ErrTaskNotExist) {
		t.Fatalf("second clear: expected ErrTaskNotExist, got %v", err)
	}
}

func TestClearTask_DefaultGenesisEscrow(t *testing.T) {
	// genesis names only the task owner
	rt := newTestRuntime(t, "pallet_clear_fresh", map[AccountID]Balance{alice: 1000})
	ctx := context.Background()

	if got := balance(t, rt, PalletAccount); got != testED {
		t.Fatalf("escrow after genesis = %d, want %d", got, testED)
	}
	id, err := rt.CreateTask(ctx, alice, worker, []byte(`{"doc":1}`), 2*testED, testED)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	hash := "tx-hash-fresh"
	if err := rt.SignTaskData(ctx, alice, id, []byte(`{}`), &hash); err != nil {
		t.Fatalf("SignTaskData: %v", err)
	}
	if err := rt.UpdateTask(ctx, alice, id, StateClear); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if err := rt.ClearTask(ctx, alice, id); err != nil {
		t.Fatalf("ClearTask: %v", err)
	}
	if got := balance(t, rt, worker); got != 3*testED {
		t.Fatalf("worker = %d, want %d", got, 3*testED)
	}
	if got := balance(t, rt, PalletAccount); got != testED {
		t.Fatalf("escrow = %d, want %d", got, testED)
	}
	if got := balance(t, rt, alice) + balance(t, rt, worker) + balance(t, rt, PalletAccount); got != 1000+testED {
		t.Fatalf("total issuance changed: %d", got)
	}
}

func TestInitGenesis_KeepsLargerEscrow(t *testing.T) {
	rt := newTestRuntime(t, "pallet_genesis_escrow", map[AccountID]Balance{PalletAccount: 3 * testED})
	if got := balance(t, rt, PalletAccount); got != 3*testED {
		t.Fatalf("escrow = %d, want %d", got, 3*testED)
	}
}

func TestSignTaskData_Checks(t *testing.T) {
	rt := newTestRuntime(t, "pallet_sign", map[AccountID]Balance{alice: 1000})
	ctx := context.Background()

	// a missing hash is reported before the task lookup
	if err := rt.SignTaskData(ctx, alice, 42, []byte(`{}`), nil); !errors.Is(err, ErrTaskHasNoResult) {
		t.Fatalf("expected ErrTaskHasNoResult, got %v", err)
	}
	hash := "h"
	if err := rt.SignTaskData(ctx, alice, 42, []byte(`{}`), &hash); !errors.Is(err, ErrTaskNotExist) {
		t.Fatalf("expected ErrTaskNotExist, got %v", err)
	}
	long := strings.Repeat("x", DefaultLimits().MaxTxHashLength+1)
	if err := rt.SignTaskData(ctx, alice, 42, []byte(`{}`), &long); !errors.Is(err, ErrDataTooLong) {
		t.Fatalf("expected ErrDataTooLong, got %v", err)
	}
}

func TestUpdateTask_AcceptsAnyState(t *testing.T) {
	rt := newTestRuntime(t, "pallet_update", map[AccountID]Balance{alice: 1000})
	ctx := context.Background()

	id, err := rt.CreateTask(ctx, alice, worker, []byte(`{}`), 20, 0)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	for _, st := range []TaskState{StateClear, StateValidate, StateSign, StateUpload} {
		if err := rt.UpdateTask(ctx, alice, id, st); err != nil {
			t.Fatalf("UpdateTask(%s): %v", st, err)
		}
		if task, _ := getTask(t, rt, id); task.State != st {
			t.Fatalf("state = %s, want %s", task.State, st)
		}
	}
	if err := rt.UpdateTask(ctx, alice, id+1, StateClear); !errors.Is(err, ErrTaskNotExist) {
		t.Fatalf("expected ErrTaskNotExist, got %v", err)
	}
	if err := rt.UpdateTask(ctx, alice, id, TaskState(9)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func signed(t *testing.T, priv ed25519.PrivateKey, call Call) Extrinsic {
	t.Helper()
	signer := AccountFromPublicKey(priv.Public().(ed25519.PublicKey))
	msg, err := SigningPayload(signer, call)
	if err != nil {
		t.Fatalf("SigningPayload: %v", err)
	}
	return Extrinsic{ID: "xt", Signer: signer, Call: call, Signature: ed25519.Sign(priv, msg)}
}

func TestApplyExtrinsic(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	who := AccountFromPublicKey(priv.Public().(ed25519.PublicKey))
	rt := newTestRuntime(t, "pallet_apply", map[AccountID]Balance{who: 1000})
	ctx := context.Background()

	xt := signed(t, priv, CreateTaskCall(worker, []byte(`{"x":1}`), 20, 0))
	if err := rt.ApplyExtrinsic(ctx, xt); err != nil {
		t.Fatalf("ApplyExtrinsic: %v", err)
	}
	if _, ok := getTask(t, rt, 0); !ok {
		t.Fatalf("task not created")
	}

	tampered := signed(t, priv, CreateTaskCall(worker, []byte(`{"x":1}`), 20, 0))
	tampered.Call.Amount = 500
	if err := rt.ApplyExtrinsic(ctx, tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}

	unknown := signed(t, priv, Call{Name: "transfer"})
	if err := rt.ApplyExtrinsic(ctx, unknown); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}

	if err := rt.ApplyExtrinsic(ctx, signed(t, priv, UpdateTaskCall(0, StateClear))); err != nil {
		t.Fatalf("update_task: %v", err)
	}
	if task, _ := getTask(t, rt, 0); task.State != StateClear {
		t.Fatalf("state = %s, want clear", task.State)
	}
}

func TestImportBlock_StampsEvents(t *testing.T) {
	rt := newTestRuntime(t, "pallet_blocks", map[AccountID]Balance{alice: 1000})
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		n, err := rt.ImportBlock(ctx)
		if err != nil {
			t.Fatalf("ImportBlock: %v", err)
		}
		if n != want {
			t.Fatalf("block = %d, want %d", n, want)
		}
	}
	if _, err := rt.CreateTask(ctx, alice, worker, []byte(`{}`), 20, 0); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	events, err := rt.Store().View().Events(ctx)
	if err != nil || len(events) != 1 {
		t.Fatalf("Events: %#v err=%v", events, err)
	}
	if events[0].Block != 3 {
		t.Fatalf("event block = %d, want 3", events[0].Block)
	}
}

func TestInitGenesis_OnlyOnce(t *testing.T) {
	rt := newTestRuntime(t, "pallet_genesis", map[AccountID]Balance{alice: 1000})
	if err := rt.InitGenesis(context.Background(), map[AccountID]Balance{alice: 5, "bob": 7}); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	if got := balance(t, rt, alice); got != 1000 {
		t.Fatalf("alice = %d, want 1000", got)
	}
	if got := balance(t, rt, "bob"); got != 0 {
		t.Fatalf("bob = %d, want 0", got)
	}
}

func TestIsDispatchError(t *testing.T) {
	if !IsDispatchError(ErrTaskNotExist) {
		t.Fatalf("ErrTaskNotExist should be a dispatch error")
	}
	if !IsDispatchError(errors.Join(errors.New("ctx"), ErrKeepAlive)) {
		t.Fatalf("wrapped ErrKeepAlive should be a dispatch error")
	}
	if IsDispatchError(errors.New("disk full")) {
		t.Fatalf("storage error should not be a dispatch error")
	}
}
