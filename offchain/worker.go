package offchain

import (
	"context"

	"github.com/mohans/arbridge/internal/logging"
	"github.com/mohans/arbridge/pallet"
)

// Worker is the offchain worker entry point, run once per imported block.
type Worker struct {
	pipeline *Pipeline
	tasks    TaskReader
	bridge   *Bridge
	signer   TransactionSigner
	limits   pallet.Limits
	log      logging.Logger
}

type WorkerConfig struct {
	Pipeline *Pipeline
	Tasks    TaskReader
	Bridge   *Bridge
	Signer   TransactionSigner
	Limits   pallet.Limits
	Log      logging.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	return &Worker{
		pipeline: cfg.Pipeline,
		tasks:    cfg.Tasks,
		bridge:   cfg.Bridge,
		signer:   cfg.Signer,
		limits:   cfg.Limits,
		log:      logging.Default(cfg.Log, "pallet-arweave"),
	}
}

// Report summarizes one pass.
type Report struct {
	Ran       bool
	Commits   int
	Submitted int
	Failed    int
	Errors    map[string]error // per stage
}

type stage struct {
	name string
	run  func(context.Context) ([]Commit, error)
}

// Run drives Sign, Upload and Validate, then submits the resulting commits and
// a clear_task for every task already in Clear. Only even blocks do work.
func (w *Worker) Run(ctx context.Context, block uint64) Report {
	rep := Report{Errors: map[string]error{}}
	if block%2 != 0 {
		return rep
	}
	if !w.signer.Enabled() {
		return rep
	}
	rep.Ran = true
	w.log.Debugf("offchain_worker job at block %d", block)

	var commits []Commit
	for _, s := range []stage{
		{"sign_tasks", w.pipeline.SignTasks},
		{"upload_tasks", w.pipeline.UploadTasks},
		{"validate_tasks", w.pipeline.ValidateTasks},
	} {
		c, err := s.run(ctx)
		commits = append(commits, c...)
		if err != nil {
			rep.Errors[s.name] = err
			w.log.Errorf("%s: %v", s.name, err)
		}
	}
	rep.Commits = len(commits)

	if !w.bridge.CanSign() {
		w.log.Errorf("no local accounts available, add a signer key to the keystore")
		return rep
	}

	for _, c := range commits {
		call, ok := w.commitCall(c)
		if !ok {
			continue
		}
		w.tally(&rep, w.bridge.SendSignedTransaction(ctx, call))
	}

	toClear, err := w.tasks.TasksByState(ctx, pallet.StateClear)
	if err != nil {
		w.log.Errorf("read clear tasks: %v", err)
		return rep
	}
	for _, task := range toClear {
		w.log.Infof("commit task to clear: task_id=%d", task.TaskID)
		w.tally(&rep, w.bridge.SendSignedTransaction(ctx, pallet.ClearTaskCall(task.TaskID)))
	}
	return rep
}

func (w *Worker) commitCall(c Commit) (pallet.Call, bool) {
	if c.Signed == nil {
		w.log.Debugf("commit task without data")
		return pallet.UpdateTaskCall(c.Task.TaskID, c.Task.State), true
	}
	w.log.Debugf("commit task with data")
	body, err := c.Signed.Encode()
	if err != nil {
		w.log.Errorf("encode signed tx for task_id=%d: %v", c.Task.TaskID, err)
		return pallet.Call{}, false
	}
	if len(body) > w.limits.MaxSignedDataLength {
		w.log.Errorf("can not convert data to bounded vector: data len=%d max=%d task_id=%d",
			len(body), w.limits.MaxSignedDataLength, c.Task.TaskID)
		return pallet.Call{}, false
	}
	return pallet.SignTaskDataCall(c.Task.TaskID, body, c.Task.TxHash), true
}

func (w *Worker) tally(rep *Report, results []SubmitResult) {
	for _, r := range results {
		if r.Err != nil {
			rep.Failed++
			w.log.Errorf("[%s] failed to submit transaction: %v", r.Account, r.Err)
			continue
		}
		rep.Submitted++
		w.log.Debugf("[%s] submitted", r.Account)
	}
}
