package txpool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mohans/arbridge/internal/logging"
	"github.com/mohans/arbridge/pallet"
)

// Client is the node's transaction pool: it enqueues signed extrinsics for
// the processor and records a receipt for each.
type Client struct {
	client *asynq.Client
	store  Store
	queue  string
	log    logging.Logger
}

type ClientOptions struct {
	Queue string
	Log   logging.Logger
}

func NewClient(redisOpt asynq.RedisClientOpt, store Store, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = QueueTxPool
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		store:  store,
		queue:  q,
		log:    logging.Default(opts.Log, "txpool"),
	}
}

// SubmitExtrinsic enqueues xt. The extrinsic id doubles as the task id, so a
// resubmission of the same extrinsic is rejected by the queue.
func (c *Client) SubmitExtrinsic(ctx context.Context, xt pallet.Extrinsic) error {
	_, err := c.Enqueue(ctx, xt)
	return err
}

// Enqueue is SubmitExtrinsic returning the asynq TaskInfo.
func (c *Client) Enqueue(ctx context.Context, xt pallet.Extrinsic, options ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.client == nil {
		return nil, fmt.Errorf("nil asynq client")
	}
	payload, err := json.Marshal(xt)
	if err != nil {
		return nil, err
	}
	t := asynq.NewTask(TypeApplyExtrinsic, payload)
	opts := append([]asynq.Option{asynq.MaxRetry(3)}, options...)
	opts = append(opts, asynq.Queue(c.queue), asynq.TaskID(xt.ID))

	// the receipt exists before the task can be picked up
	recorded := false
	if c.store != nil {
		rec := Receipt{
			ID:          xt.ID,
			Call:        string(xt.Call.Name),
			Signer:      string(xt.Signer),
			TaskID:      uint32(xt.Call.TaskID),
			PayloadJSON: string(payload),
			Status:      StatusCreated,
			CreatedAt:   time.Now().UTC(),
		}
		if err := c.store.InsertCreated(ctx, rec); err != nil {
			c.log.Warnf("receipt %s: insert: %v", xt.ID, err)
		} else {
			recorded = true
		}
	}
	info, err := c.client.EnqueueContext(ctx, t, opts...)
	if err != nil {
		if recorded {
			if merr := c.store.MarkFailed(ctx, xt.ID, "enqueue: "+err.Error(), time.Now().UTC()); merr != nil {
				c.log.Warnf("receipt %s: mark failed: %v", xt.ID, merr)
			}
		}
		return nil, err
	}
	if recorded {
		if err := c.store.MarkEnqueued(ctx, info.ID, time.Now().UTC()); err != nil {
			c.log.Warnf("receipt %s: mark enqueued: %v", info.ID, err)
		}
	}
	return info, nil
}

// AuthorBlock asks the processor to import the next block and run the offchain worker on it.
func (c *Client) AuthorBlock(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, asynq.NewTask(TypeAuthorBlock, nil), asynq.Queue(QueueBlocks), asynq.MaxRetry(0))
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ParseExtrinsic decodes the payload of an extrinsic:apply task.
func ParseExtrinsic(t *asynq.Task) (pallet.Extrinsic, error) {
	var xt pallet.Extrinsic
	if err := json.Unmarshal(t.Payload(), &xt); err != nil {
		return pallet.Extrinsic{}, fmt.Errorf("decode extrinsic: %w", err)
	}
	return xt, nil
}
