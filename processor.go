package arbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mohans/arbridge/internal/logging"
	"github.com/mohans/arbridge/offchain"
	"github.com/mohans/arbridge/pallet"
	"github.com/mohans/arbridge/txpool"
)

// Processor applies pooled extrinsics to chain state and authors blocks,
// running the offchain worker after each one. Receipts are updated on
// start/finish of every extrinsic.
type Processor struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	store     txpool.Store
	runtime   *pallet.Runtime
	worker    *offchain.Worker
	blockTime time.Duration
	log       logging.Logger
}

type ProcessorConfig struct {
	Concurrency int
	Queues      map[string]int
	// BlockTime schedules block ticks; zero leaves authoring to explicit AuthorBlock calls.
	BlockTime time.Duration
	Log       logging.Logger
}

func NewProcessor(redisOpt asynq.RedisClientOpt, store txpool.Store, runtime *pallet.Runtime, worker *offchain.Worker, cfg ProcessorConfig) *Processor {
	log := logging.Default(cfg.Log, "node")
	con := cfg.Concurrency
	if con <= 0 {
		// chain state is applied one extrinsic at a time
		con = 1
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{txpool.QueueTxPool: 2, txpool.QueueBlocks: 1}
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      qs,
		Logger:      logging.Asynq{L: log},
	})
	p := &Processor{
		server:    server,
		store:     store,
		runtime:   runtime,
		worker:    worker,
		blockTime: cfg.BlockTime,
		log:       log,
	}
	if cfg.BlockTime > 0 {
		p.scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logging.Asynq{L: log}})
	}
	return p
}

// Middleware to mark started/completed/failed
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		track := p.store != nil && t.Type() == txpool.TypeApplyExtrinsic
		if track {
			if id, ok := asynq.GetTaskID(ctx); ok {
				p.receipt(id, "started", p.store.MarkStarted(ctx, id, time.Now().UTC()))
			}
		}
		err := next.ProcessTask(ctx, t)
		if track {
			if id, ok := asynq.GetTaskID(ctx); ok {
				if err != nil {
					p.receipt(id, "failed", p.store.MarkFailed(ctx, id, err.Error(), time.Now().UTC()))
				} else {
					p.receipt(id, "completed", p.store.MarkCompleted(ctx, id, time.Now().UTC()))
				}
			}
		}
		return err
	})
}

func (p *Processor) receipt(id, status string, err error) {
	if err != nil {
		p.log.Warnf("receipt %s: mark %s: %v", id, status, err)
	}
}

// Handler returns the node's task handler, middleware included.
func (p *Processor) Handler() asynq.Handler {
	mux := asynq.NewServeMux()
	mux.HandleFunc(txpool.TypeApplyExtrinsic, p.handleExtrinsic)
	mux.HandleFunc(txpool.TypeAuthorBlock, p.handleAuthorBlock)
	return p.lifecycleMiddleware(mux)
}

func (p *Processor) handleExtrinsic(ctx context.Context, t *asynq.Task) error {
	xt, err := txpool.ParseExtrinsic(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := p.runtime.ApplyExtrinsic(ctx, xt); err != nil {
		p.log.Warnf("extrinsic %s (%s task_id=%d) from %s: %v", xt.ID, xt.Call.Name, xt.Call.TaskID, xt.Signer, err)
		if pallet.IsDispatchError(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	p.log.Debugf("extrinsic %s (%s task_id=%d) applied", xt.ID, xt.Call.Name, xt.Call.TaskID)
	return nil
}

func (p *Processor) handleAuthorBlock(ctx context.Context, _ *asynq.Task) error {
	n, err := p.runtime.ImportBlock(ctx)
	if err != nil {
		return fmt.Errorf("import block: %w", err)
	}
	if p.worker == nil {
		return nil
	}
	rep := p.worker.Run(ctx, n)
	if rep.Ran {
		p.log.Infof("block %d: offchain worker commits=%d submitted=%d failed=%d", n, rep.Commits, rep.Submitted, rep.Failed)
	}
	return nil
}

// Start runs the block scheduler (if configured) and the server. It blocks until shutdown.
func (p *Processor) Start() error {
	if p.scheduler != nil {
		every := fmt.Sprintf("@every %s", p.blockTime)
		if _, err := p.scheduler.Register(every, asynq.NewTask(txpool.TypeAuthorBlock, nil), asynq.Queue(txpool.QueueBlocks), asynq.MaxRetry(0)); err != nil {
			return fmt.Errorf("register block schedule: %w", err)
		}
		if err := p.scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	return p.server.Run(p.Handler())
}

func (p *Processor) Shutdown() {
	if p.scheduler != nil {
		p.scheduler.Shutdown()
	}
	p.server.Shutdown()
}
