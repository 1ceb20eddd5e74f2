package config

import (
	"fmt"
)

// Params are the settings of a peloton instance. Each is also a row of the
// pg_settings catalog.
type Params struct {
	CheckpointDir      string
	CheckpointInterval int
	CheckpointRetain   int
	CheckpointCompress bool
	Checkpointing      bool
	TuplesPerTileGroup int
	DefaultLayout      string
	StatementCacheSize int
	IsolationLevel     string
}

// DefineParams declares the peloton params in c.
func DefineParams(c *Config) *Params {
	var p Params

	c.Var(&p.CheckpointDir, "checkpoint_dir").
		Usage("`directory` holding checkpoints").
		Env("PELOTON_CHECKPOINT_DIR").
		Option(NoUpdate).
		String("checkpoints")
	c.Var(&p.CheckpointInterval, "checkpoint_interval").
		Usage("seconds between checkpoints").
		Option(Persistent).
		Range("1", "86400").
		Int(30)
	c.Var(&p.CheckpointRetain, "checkpoint_retain").
		Usage("number of checkpoints to keep").
		Option(Persistent).
		Range("1", "1000").
		Int(1)
	c.Var(&p.CheckpointCompress, "checkpoint_compress").
		Usage("compress checkpoint files with snappy").
		Option(Persistent).
		Bool(false)
	c.Var(&p.Checkpointing, "checkpointing").
		Usage("take periodic checkpoints").
		Option(NoUpdate).
		Bool(true)
	c.Var(&p.TuplesPerTileGroup, "tuples_per_tilegroup").
		Usage("tuple slots in each tile group").
		Option(NoUpdate).
		Range("1", "1048576").
		Int(1000)
	c.Var(&p.DefaultLayout, "default_layout").
		Usage("layout of new tables: row, column or hybrid").
		Option(NoUpdate).
		String("row")
	c.Var(&p.StatementCacheSize, "statement_cache_size").
		Usage("statements kept in each statement cache").
		Range("1", "1000000").
		Int(1000)
	c.Var(&p.IsolationLevel, "isolation_level").
		Usage("default transaction isolation level").
		Option(NoUpdate).
		String("SERIALIZABLE")

	return &p
}

// Validate checks the params which the typed values can not.
func (p *Params) Validate() error {
	if p.CheckpointInterval <= 0 {
		return fmt.Errorf("config: checkpoint_interval must be positive: %d",
			p.CheckpointInterval)
	}
	if p.CheckpointRetain <= 0 {
		return fmt.Errorf("config: checkpoint_retain must be positive: %d",
			p.CheckpointRetain)
	}
	if p.TuplesPerTileGroup <= 0 {
		return fmt.Errorf("config: tuples_per_tilegroup must be positive: %d",
			p.TuplesPerTileGroup)
	}
	if p.StatementCacheSize <= 0 {
		return fmt.Errorf("config: statement_cache_size must be positive: %d",
			p.StatementCacheSize)
	}
	return nil
}
