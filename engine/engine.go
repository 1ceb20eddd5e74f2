package engine

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/cache"
	"github.com/cmu-db/peloton-sub010/catalog"
	"github.com/cmu-db/peloton-sub010/checkpoint"
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/config"
	"github.com/cmu-db/peloton-sub010/storage"
)

// Engine owns one storage manager and everything layered on it: the
// transaction manager, the catalog, the checkpoint manager and the statement
// caches.
type Engine struct {
	cfg       *config.Config
	params    *config.Params
	st        *storage.Manager
	tm        *concurrency.TransactionManager
	c         *catalog.Catalog
	caches    *cache.Manager
	clock     checkpoint.Clock
	isolation concurrency.IsolationLevel

	mutex   sync.Mutex
	cpm     *checkpoint.Manager
	started bool
}

type Option func(e *Engine)

// WithClock replaces the clock driving periodic checkpoints.
func WithClock(clock checkpoint.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func NewEngine(cfg *config.Config, params *config.Params, opts ...Option) (*Engine, error) {
	err := params.Validate()
	if err != nil {
		return nil, err
	}
	isolation, err := concurrency.ParseIsolationLevel(params.IsolationLevel)
	if err != nil {
		return nil, err
	}
	layout, err := storage.ParseLayoutType(params.DefaultLayout)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		params:    params,
		st:        storage.NewManager(),
		caches:    cache.NewManager(),
		isolation: isolation,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tm = concurrency.NewTransactionManager(e.st, concurrency.NewEpochManager(), isolation)
	e.c = catalog.New(e.st, e.tm, cfg.Settings(), catalog.Options{
		TuplesPerTileGroup: params.TuplesPerTileGroup,
		DefaultLayout:      layout,
		Invalidator:        e.caches,
	})
	e.cpm = checkpoint.NewManager(e.c, e.checkpointConfig())
	return e, nil
}

func (e *Engine) checkpointConfig() checkpoint.Config {
	return checkpoint.Config{
		Dir:      e.params.CheckpointDir,
		Interval: e.params.CheckpointInterval,
		Retain:   e.params.CheckpointRetain,
		Compress: e.params.CheckpointCompress,
		Clock:    e.clock,
	}
}

// Start recovers the latest checkpoint or, if there is none, bootstraps an
// empty catalog. Then it starts checkpointing, if enabled.
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.started {
		return fmt.Errorf("engine: already started")
	}

	recovered, err := e.cpm.DoCheckpointRecovery(ctx)
	if err != nil {
		return err
	}
	if recovered {
		err = e.restoreSettings()
		if err != nil {
			return err
		}
		// Persistent settings may have changed how checkpoints are taken.
		e.cpm = checkpoint.NewManager(e.c, e.checkpointConfig())
	} else {
		err = e.Run(e.c.Bootstrap)
		if err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{
		"recovered":  recovered,
		"checkpoint": e.params.CheckpointDir,
	}).Info("engine: started")

	if e.params.Checkpointing {
		err = e.cpm.StartCheckpointing(ctx)
		if err != nil {
			return err
		}
	}
	e.started = true
	return nil
}

// restoreSettings applies the recovered persistent settings to the params,
// then writes back any params which were set explicitly for this run.
func (e *Engine) restoreSettings() error {
	return e.Run(func(txn *concurrency.TransactionContext) error {
		settings, err := e.c.GetSettings(txn)
		if err != nil {
			return err
		}
		err = e.cfg.Restore(settings)
		if err != nil {
			return err
		}
		for _, se := range settings {
			p, ok := e.cfg.Lookup(se.Name)
			if !ok || !se.IsMutable || p.Value() == se.Value {
				continue
			}
			err = e.c.SetSetting(txn, se.Name, p.Value())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Stop stops checkpointing; it does not take a final checkpoint.
func (e *Engine) Stop() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.cpm.StopCheckpointing()
	e.started = false
	log.Info("engine: stopped")
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.c
}

func (e *Engine) TransactionManager() *concurrency.TransactionManager {
	return e.tm
}

func (e *Engine) Storage() *storage.Manager {
	return e.st
}

func (e *Engine) Params() *config.Params {
	return e.params
}

func (e *Engine) CheckpointManager() *checkpoint.Manager {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.cpm
}

// Checkpoint takes a checkpoint now, whether or not checkpointing is running.
func (e *Engine) Checkpoint(ctx context.Context) (checkpoint.Record, error) {
	return e.CheckpointManager().Checkpoint(ctx)
}

func (e *Engine) History() ([]checkpoint.Record, error) {
	return e.CheckpointManager().History()
}

// NewStatementCache returns a statement cache which is invalidated when a
// table it depends on changes; Release it when done.
func (e *Engine) NewStatementCache() *cache.StatementCache {
	sc := cache.NewStatementCache(e.params.StatementCacheSize)
	e.caches.Register(sc)
	return sc
}

func (e *Engine) ReleaseStatementCache(sc *cache.StatementCache) {
	e.caches.Unregister(sc)
}

func (e *Engine) finish(txn *concurrency.TransactionContext, err error) error {
	if err != nil {
		e.tm.AbortTransaction(txn)
		return err
	}
	ret := e.tm.CommitTransaction(txn)
	if ret != concurrency.ResultSuccess {
		return fmt.Errorf("engine: %s: %s", txn, ret)
	}
	return nil
}

// Run calls fn in a new transaction at the default isolation level and
// commits it if fn succeeds.
func (e *Engine) Run(fn func(txn *concurrency.TransactionContext) error) error {
	txn := e.tm.BeginTransaction(e.isolation)
	return e.finish(txn, fn(txn))
}

// ReadOnly calls fn in a new read only transaction.
func (e *Engine) ReadOnly(fn func(txn *concurrency.TransactionContext) error) error {
	txn := e.tm.BeginReadonlyTransaction()
	return e.finish(txn, fn(txn))
}

// SetParam updates a param and its row in the settings catalog.
func (e *Engine) SetParam(name, val string) error {
	err := e.cfg.Update(name, val)
	if err != nil {
		return err
	}
	p, _ := e.cfg.Lookup(name)
	return e.Run(func(txn *concurrency.TransactionContext) error {
		return e.c.SetSetting(txn, name, p.Value())
	})
}
