package arbridge

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/mohans/arbridge/internal/logging"
	"github.com/mohans/arbridge/offchain"
	"github.com/mohans/arbridge/pallet"
	"github.com/mohans/arbridge/txpool"
)

// Node is a fully wired chain node.
type Node struct {
	Config    Config
	DB        *sql.DB
	Runtime   *pallet.Runtime
	Receipts  *txpool.SQLStore
	Pool      *txpool.Client
	Signer    *offchain.RSASigner
	Worker    *offchain.Worker
	Processor *Processor

	closers []func() error
}

func (c Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// OpenNode opens storage and builds every component from cfg.
func OpenNode(ctx context.Context, cfg Config, log *logging.Std) (_ *Node, err error) {
	n := &Node{Config: cfg}
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	db, err := sql.Open("sqlite", cfg.ChainDB)
	if err != nil {
		return nil, fmt.Errorf("open chain db: %w", err)
	}
	db.SetMaxOpenConns(1)
	n.DB = db
	n.closers = append(n.closers, db.Close)

	chain := pallet.NewSQLStore(db)
	if err := chain.Migrate(ctx); err != nil {
		return nil, err
	}
	n.Receipts = txpool.NewSQLStore(db)
	if err := n.Receipts.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate receipts: %w", err)
	}

	var sink pallet.EventSink
	if cfg.AMQPURL != "" {
		amqpSink, err := pallet.DialAMQPSink(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, amqpSink.Close)
		sink = amqpSink
	}
	limits := cfg.Limits()
	n.Runtime = pallet.NewRuntime(chain, pallet.Config{
		Limits:             limits,
		ExistentialDeposit: pallet.Balance(cfg.ExistentialDeposit),
		Sink:               sink,
		Log:                log.With("pallet-arweave"),
	})
	if err := n.Runtime.InitGenesis(ctx, cfg.Endowments()); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	local, err := n.openLocalStore(cfg)
	if err != nil {
		return nil, err
	}

	key, err := n.loadWallet(cfg, log)
	if err != nil {
		return nil, err
	}
	n.Signer = offchain.NewRSASigner(key, cfg.SignerEnabled)

	var signers []offchain.Signer
	for i, seed := range cfg.SignerSeeds {
		kp, err := offchain.KeypairFromHex(seed)
		if err != nil {
			return nil, fmt.Errorf("signer seed %d: %w", i, err)
		}
		signers = append(signers, kp)
	}

	n.Pool = txpool.NewClient(cfg.RedisOpt(), n.Receipts, txpool.ClientOptions{})
	n.closers = append(n.closers, n.Pool.Close)

	offchainLog := log.With("offchain")
	pipeline := offchain.NewPipeline(offchain.PipelineConfig{
		Tasks:   chain,
		Gateway: offchain.NewGatewayClient(offchain.GatewayOptions{BaseURL: cfg.GatewayURL, Log: log.With("arweave-gateway")}),
		Signer:  n.Signer,
		Local:   local,
		Limits:  limits,
		Log:     offchainLog,
	})
	n.Worker = offchain.NewWorker(offchain.WorkerConfig{
		Pipeline: pipeline,
		Tasks:    chain,
		Bridge:   offchain.NewBridge(n.Pool, signers...),
		Signer:   n.Signer,
		Limits:   limits,
		Log:      offchainLog,
	})

	blockTime, err := cfg.BlockInterval()
	if err != nil {
		return nil, err
	}
	n.Processor = NewProcessor(cfg.RedisOpt(), n.Receipts, n.Runtime, n.Worker, ProcessorConfig{
		Concurrency: cfg.Concurrency,
		BlockTime:   blockTime,
		Log:         log.With("node"),
	})
	return n, nil
}

func (n *Node) openLocalStore(cfg Config) (offchain.LocalStore, error) {
	switch cfg.LocalStore {
	case LocalStoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		n.closers = append(n.closers, rdb.Close)
		return offchain.NewRedisStore(rdb, "arbridge:local:"), nil
	case LocalStoreMemory:
		return offchain.NewMemoryStore(), nil
	default:
		s, err := offchain.OpenBadgerStore(cfg.LocalStorePath)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, s.Close)
		return s, nil
	}
}

func (n *Node) loadWallet(cfg Config, log logging.Logger) (*rsa.PrivateKey, error) {
	if cfg.WalletPath != "" {
		return offchain.LoadWallet(cfg.WalletPath)
	}
	log.Warnf("no wallet_path configured, signing with an ephemeral arweave key")
	return rsa.GenerateKey(rand.Reader, 2048)
}

// Close releases everything OpenNode opened, last opened first.
func (n *Node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
