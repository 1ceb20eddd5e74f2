package checkpoint_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cmu-db/peloton-sub010/catalog"
	"github.com/cmu-db/peloton-sub010/checkpoint"
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
	"github.com/cmu-db/peloton-sub010/testutil"
)

func init() {
	testutil.SetupLogger("checkpoint_test.log")
}

type fakeTicker struct {
	ch chan time.Time
}

func (ft *fakeTicker) Chan() <-chan time.Time {
	return ft.ch
}

func (ft *fakeTicker) Stop() {}

type fakeClock struct {
	mutex  sync.Mutex
	now    time.Time
	ticker *fakeTicker
	ready  chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		ticker: &fakeTicker{ch: make(chan time.Time)},
		ready:  make(chan struct{}, 1),
	}
}

func (fc *fakeClock) Now() time.Time {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	return fc.now
}

func (fc *fakeClock) NewTicker(d time.Duration) checkpoint.Ticker {
	fc.ready <- struct{}{}
	return fc.ticker
}

// tick advances the clock by a second and blocks until the ticker is read.
func (fc *fakeClock) tick() {
	fc.mutex.Lock()
	fc.now = fc.now.Add(time.Second)
	now := fc.now
	fc.mutex.Unlock()
	fc.ticker.ch <- now
}

type testEnv struct {
	st *storage.Manager
	tm *concurrency.TransactionManager
	c  *catalog.Catalog
	cm *checkpoint.Manager
}

func testSettings() []*catalog.SettingEntry {
	return []*catalog.SettingEntry{
		{
			Name:         "checkpoint_interval",
			Value:        "30",
			ValueType:    "integer",
			DefaultValue: "30",
			IsMutable:    true,
			IsPersistent: true,
		},
		{
			Name:         "statement_cache_size",
			Value:        "100",
			ValueType:    "integer",
			DefaultValue: "100",
			IsMutable:    true,
		},
	}
}

// newEnv builds an engine whose checkpoints are kept in dir. Unless recover is
// set, the catalog is bootstrapped.
func newEnv(t *testing.T, cfg checkpoint.Config, recover bool) testEnv {
	t.Helper()

	st := storage.NewManager()
	tm := concurrency.NewTransactionManager(st, concurrency.NewEpochManager(),
		concurrency.Serializable)
	c := catalog.New(st, tm, testSettings(), catalog.Options{TuplesPerTileGroup: 4})
	env := testEnv{st: st, tm: tm, c: c, cm: checkpoint.NewManager(c, cfg)}
	if !recover {
		env.run(t, "Bootstrap", func(txn *concurrency.TransactionContext) error {
			return c.Bootstrap(txn)
		})
	}
	return env
}

func (env testEnv) run(t *testing.T, what string,
	fn func(txn *concurrency.TransactionContext) error) {

	t.Helper()

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	err := fn(txn)
	if err != nil {
		env.tm.AbortTransaction(txn)
		t.Fatalf("%s failed with %s", what, err)
	}
	if ret := env.tm.CommitTransaction(txn); ret != concurrency.ResultSuccess {
		t.Fatalf("%s: CommitTransaction() got %s", what, ret)
	}
}

func (env testEnv) recover(t *testing.T) {
	t.Helper()

	ok, err := env.cm.DoCheckpointRecovery(context.Background())
	if err != nil {
		t.Fatalf("DoCheckpointRecovery() failed with %s", err)
	}
	if !ok {
		t.Fatal("DoCheckpointRecovery() found no checkpoint")
	}
}

func (env testEnv) checkpoint(t *testing.T) checkpoint.Record {
	t.Helper()

	rec, err := env.cm.Checkpoint(context.Background())
	if err != nil {
		t.Fatalf("Checkpoint() failed with %s", err)
	}
	return rec
}

func (env testEnv) createTable(t *testing.T, dbName, tblName string,
	s *sql.Schema) *catalog.TableEntry {

	t.Helper()

	var te *catalog.TableEntry
	env.run(t, "CreateTable", func(txn *concurrency.TransactionContext) error {
		var err error
		te, err = env.c.CreateTable(txn, dbName, catalog.DefaultSchemaName, tblName, s)
		return err
	})
	return te
}

func (env testEnv) table(t *testing.T, txn *concurrency.TransactionContext, dbName,
	tblName string) *storage.DataTable {

	t.Helper()

	dt, err := env.c.GetTableWithName(txn, dbName, catalog.DefaultSchemaName, tblName)
	if err != nil {
		t.Fatal(err)
	}
	return dt
}

func insertRows(t *testing.T, env testEnv, txn *concurrency.TransactionContext,
	dt *storage.DataTable, rows [][]sql.Value) {

	t.Helper()

	for _, r := range rows {
		tpl, err := sql.MakeTuple(dt.Schema(), r...)
		if err != nil {
			t.Fatal(err)
		}
		_, err = env.tm.InsertTuple(txn, dt, tpl)
		if err != nil {
			t.Fatalf("InsertTuple(%v) failed with %s", r, err)
		}
	}
}

func (env testEnv) insert(t *testing.T, dbName, tblName string, rows [][]sql.Value) {
	t.Helper()

	env.run(t, "InsertTuple", func(txn *concurrency.TransactionContext) error {
		insertRows(t, env, txn, env.table(t, txn, dbName, tblName), rows)
		return nil
	})
}

func (env testEnv) scan(t *testing.T, dbName, tblName string) [][]sql.Value {
	t.Helper()

	var rows [][]sql.Value
	env.run(t, "ScanTable", func(txn *concurrency.TransactionContext) error {
		return env.tm.ScanTable(txn, env.table(t, txn, dbName, tblName),
			func(location storage.ItemPointer, tpl *sql.Tuple) error {
				rows = append(rows, tpl.Values())
				return nil
			})
	})
	testutil.SortValues([]int{0}, rows)
	return rows
}

func accountsSchema() *sql.Schema {
	id := sql.MakeColumn("id", sql.IntegerType, 0)
	id.AddConstraint(sql.MakeConstraint(sql.PrimaryConstraint, ""))
	name := sql.MakeColumn("name", sql.VarcharType, 32)
	name.AddConstraint(sql.MakeConstraint(sql.UniqueConstraint, ""))
	return sql.NewSchema([]sql.Column{
		id,
		name,
		sql.MakeColumn("balance", sql.DecimalType, 0),
	})
}

func ordersSchema() *sql.Schema {
	id := sql.MakeColumn("id", sql.IntegerType, 0)
	id.AddConstraint(sql.MakeConstraint(sql.PrimaryConstraint, ""))
	return sql.NewSchema([]sql.Column{
		id,
		sql.MakeColumn("account", sql.IntegerType, 0),
	})
}

func kvSchema() *sql.Schema {
	id := sql.MakeColumn("id", sql.IntegerType, 0)
	id.AddConstraint(sql.MakeConstraint(sql.PrimaryConstraint, ""))
	return sql.NewSchema([]sql.Column{
		id,
		sql.MakeColumn("v", sql.IntegerType, 0),
	})
}

func row(vals ...sql.Value) []sql.Value {
	return vals
}

func checkRows(t *testing.T, what string, got, want [][]sql.Value) {
	t.Helper()

	if len(got) != len(want) {
		t.Errorf("%s: got %d rows want %d: %v", what, len(got), len(want), got)
		return
	}
	for idx := range got {
		if sql.CompareValues(got[idx], want[idx]) != 0 {
			t.Errorf("%s: row %d got %v want %v", what, idx, got[idx], want[idx])
		}
	}
}

func TestNoCheckpoint(t *testing.T) {
	env := newEnv(t, checkpoint.Config{Dir: t.TempDir()}, true)
	ok, err := env.cm.DoCheckpointRecovery(context.Background())
	if err != nil {
		t.Fatalf("DoCheckpointRecovery() failed with %s", err)
	}
	if ok {
		t.Error("DoCheckpointRecovery() recovered from an empty directory")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		dir := t.TempDir()
		cfg := checkpoint.Config{Dir: dir, Compress: compress}
		env := newEnv(t, cfg, false)

		env.run(t, "CreateDatabase", func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateDatabase(txn, "shop")
			return err
		})
		env.createTable(t, "shop", "accounts", accountsSchema())
		orders := env.createTable(t, "shop", "orders", ordersSchema())
		env.run(t, "DDL", func(txn *concurrency.TransactionContext) error {
			_, err := env.c.AddForeignKey(txn, "shop", catalog.DefaultSchemaName, "orders",
				catalog.ForeignKeyDef{
					SourceColumns: []int{1},
					SinkTable:     "accounts",
					SinkColumns:   []int{0},
				})
			if err != nil {
				return err
			}
			le, err := env.c.CreateLayout(txn, "shop", catalog.DefaultSchemaName, "orders",
				[]storage.TileColumn{{Tile: 0, Offset: 0}, {Tile: 1, Offset: 0}})
			if err != nil {
				return err
			}
			return env.c.SetDefaultLayout(txn, "shop", catalog.DefaultSchemaName, "orders",
				le.Oid)
		})

		var accounts [][]sql.Value
		for i := 1; i <= 10; i++ {
			accounts = append(accounts, row(sql.IntegerValue(i),
				sql.StringValue("account-"+strconv.Itoa(i)), sql.NewDecimalValue(float64(i)*1.5)))
		}
		env.insert(t, "shop", "accounts", accounts)
		env.insert(t, "shop", "orders", [][]sql.Value{
			row(sql.IntegerValue(100), sql.IntegerValue(1)),
			row(sql.IntegerValue(101), sql.IntegerValue(2)),
			row(sql.IntegerValue(102), sql.IntegerValue(2)),
		})

		// Delete account 10 and rename account 3.
		env.run(t, "DML", func(txn *concurrency.TransactionContext) error {
			dt := env.table(t, txn, "shop", "accounts")
			location, _, err := env.tm.LookupTuple(txn, dt, row(sql.IntegerValue(10)))
			if err != nil {
				return err
			}
			err = env.tm.DeleteTuple(txn, dt, location)
			if err != nil {
				return err
			}
			location, tpl, err := env.tm.LookupTuple(txn, dt, row(sql.IntegerValue(3)))
			if err != nil {
				return err
			}
			tpl = tpl.Copy()
			err = tpl.SetValue(1, sql.StringValue("renamed"))
			if err != nil {
				return err
			}
			_, err = env.tm.UpdateTuple(txn, dt, location, tpl)
			return err
		})
		accounts = accounts[:9]
		accounts[2] = row(sql.IntegerValue(3), sql.StringValue("renamed"),
			sql.NewDecimalValue(4.5))

		rec := env.checkpoint(t)
		if rec.Tuples == 0 || rec.Tables == 0 {
			t.Errorf("Checkpoint() got %+v", rec)
		}

		renv := newEnv(t, cfg, true)
		renv.recover(t)

		checkRows(t, "accounts", renv.scan(t, "shop", "accounts"), accounts)
		checkRows(t, "orders", renv.scan(t, "shop", "orders"), [][]sql.Value{
			row(sql.IntegerValue(100), sql.IntegerValue(1)),
			row(sql.IntegerValue(101), sql.IntegerValue(2)),
			row(sql.IntegerValue(102), sql.IntegerValue(2)),
		})

		renv.run(t, "recovered structure", func(txn *concurrency.TransactionContext) error {
			sink := renv.table(t, txn, "shop", "accounts")
			src := renv.table(t, txn, "shop", "orders")
			if len(sink.ForeignKeySources()) != 1 || len(src.ForeignKeys()) != 1 {
				t.Errorf("recovered foreign keys: %d sources, %d keys",
					len(sink.ForeignKeySources()), len(src.ForeignKeys()))
			}
			if src.DefaultLayout().Oid() != storage.FirstHybridLayoutOid {
				t.Errorf("recovered orders: default layout %d", src.DefaultLayout().Oid())
			}
			if src.Oid() != orders.Oid {
				t.Errorf("recovered orders: oid %d want %d", src.Oid(), orders.Oid)
			}
			for _, idx := range sink.Indexes() {
				if idx.Count() != 9 {
					t.Errorf("recovered index %s: %d entries want 9", idx.Name(), idx.Count())
				}
			}
			return nil
		})

		// Indexes and foreign keys work after recovery.
		txn := renv.tm.BeginTransaction(concurrency.Serializable)
		tpl, err := sql.MakeTuple(accountsSchema(), sql.IntegerValue(4), sql.StringValue("dup"),
			sql.NewDecimalValue(0))
		if err != nil {
			t.Fatal(err)
		}
		_, err = renv.tm.InsertTuple(txn, renv.table(t, txn, "shop", "accounts"), tpl)
		if !errors.Is(err, storage.ErrDuplicateKey) {
			t.Errorf("InsertTuple(duplicate) got %v want %s", err, storage.ErrDuplicateKey)
		}
		renv.tm.AbortTransaction(txn)

		txn = renv.tm.BeginTransaction(concurrency.Serializable)
		tpl, err = sql.MakeTuple(ordersSchema(), sql.IntegerValue(103), sql.IntegerValue(10))
		if err != nil {
			t.Fatal(err)
		}
		_, err = renv.tm.InsertTuple(txn, renv.table(t, txn, "shop", "orders"), tpl)
		if !errors.Is(err, storage.ErrForeignKey) {
			t.Errorf("InsertTuple(deleted account) got %v want %s", err, storage.ErrForeignKey)
		}
		renv.tm.AbortTransaction(txn)

		renv.insert(t, "shop", "accounts", [][]sql.Value{
			row(sql.IntegerValue(11), sql.StringValue("account-11"), sql.NewDecimalValue(0)),
		})
		if n := len(renv.scan(t, "shop", "accounts")); n != 10 {
			t.Errorf("after insert: %d accounts want 10", n)
		}
	}
}

func TestCrashRecovery(t *testing.T) {
	cfg := checkpoint.Config{Dir: t.TempDir()}
	env := newEnv(t, cfg, false)
	te := env.createTable(t, catalog.CatalogDatabaseName, "t", kvSchema())
	env.insert(t, catalog.CatalogDatabaseName, "t", [][]sql.Value{
		row(sql.IntegerValue(1), sql.IntegerValue(10)),
		row(sql.IntegerValue(2), sql.IntegerValue(20)),
	})

	// In flight while the checkpoint is taken.
	before := env.tm.BeginTransaction(concurrency.Serializable)
	insertRows(t, env, before, env.table(t, before, catalog.CatalogDatabaseName, "t"),
		[][]sql.Value{row(sql.IntegerValue(5), sql.IntegerValue(50))})

	env.checkpoint(t)

	after := env.tm.BeginTransaction(concurrency.Serializable)
	insertRows(t, env, after, env.table(t, after, catalog.CatalogDatabaseName, "t"),
		[][]sql.Value{row(sql.IntegerValue(3), sql.IntegerValue(30))})

	// The process dies; neither transaction finishes.
	renv := newEnv(t, cfg, true)
	renv.recover(t)

	checkRows(t, "t", renv.scan(t, catalog.CatalogDatabaseName, "t"), [][]sql.Value{
		row(sql.IntegerValue(1), sql.IntegerValue(10)),
		row(sql.IntegerValue(2), sql.IntegerValue(20)),
	})

	renv.insert(t, catalog.CatalogDatabaseName, "t", [][]sql.Value{
		row(sql.IntegerValue(4), sql.IntegerValue(40)),
	})
	checkRows(t, "t", renv.scan(t, catalog.CatalogDatabaseName, "t"), [][]sql.Value{
		row(sql.IntegerValue(1), sql.IntegerValue(10)),
		row(sql.IntegerValue(2), sql.IntegerValue(20)),
		row(sql.IntegerValue(4), sql.IntegerValue(40)),
	})

	te2 := renv.createTable(t, catalog.CatalogDatabaseName, "t2", kvSchema())
	if te2.Oid <= te.Oid {
		t.Errorf("table oid after recovery: %d not greater than %d", te2.Oid, te.Oid)
	}
}

func TestCheckpointSnapshot(t *testing.T) {
	cfg := checkpoint.Config{Dir: t.TempDir()}
	env := newEnv(t, cfg, false)
	env.createTable(t, catalog.CatalogDatabaseName, "t", kvSchema())
	env.insert(t, catalog.CatalogDatabaseName, "t", [][]sql.Value{
		row(sql.IntegerValue(1), sql.IntegerValue(10)),
		row(sql.IntegerValue(2), sql.IntegerValue(20)),
		row(sql.IntegerValue(3), sql.IntegerValue(30)),
	})

	lookup := func(txn *concurrency.TransactionContext, dt *storage.DataTable,
		id int32) storage.ItemPointer {

		location, _, err := env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(id)})
		if err != nil {
			t.Fatalf("LookupTuple(%d) failed with %s", id, err)
		}
		return location
	}

	// Already invisible when the checkpoint starts.
	env.run(t, "DeleteTuple", func(txn *concurrency.TransactionContext) error {
		dt := env.table(t, txn, catalog.CatalogDatabaseName, "t")
		return env.tm.DeleteTuple(txn, dt, lookup(txn, dt, 3))
	})

	// Committed after the snapshot of the checkpoint is taken.
	var changed bool
	checkpoint.SetAfterSnapshot(env.cm, func() {
		changed = true
		env.run(t, "concurrent writer", func(txn *concurrency.TransactionContext) error {
			dt := env.table(t, txn, catalog.CatalogDatabaseName, "t")
			err := env.tm.DeleteTuple(txn, dt, lookup(txn, dt, 1))
			if err != nil {
				return err
			}
			tpl, err := sql.MakeTuple(dt.Schema(), sql.IntegerValue(2), sql.IntegerValue(21))
			if err != nil {
				return err
			}
			_, err = env.tm.UpdateTuple(txn, dt, lookup(txn, dt, 2), tpl)
			if err != nil {
				return err
			}
			insertRows(t, env, txn, dt,
				[][]sql.Value{row(sql.IntegerValue(4), sql.IntegerValue(40))})
			return nil
		})
	})
	env.checkpoint(t)
	if !changed {
		t.Fatal("Checkpoint() did not call the snapshot hook")
	}

	checkRows(t, "live", env.scan(t, catalog.CatalogDatabaseName, "t"), [][]sql.Value{
		row(sql.IntegerValue(2), sql.IntegerValue(21)),
		row(sql.IntegerValue(4), sql.IntegerValue(40)),
	})

	renv := newEnv(t, cfg, true)
	renv.recover(t)
	checkRows(t, "recovered", renv.scan(t, catalog.CatalogDatabaseName, "t"), [][]sql.Value{
		row(sql.IntegerValue(1), sql.IntegerValue(10)),
		row(sql.IntegerValue(2), sql.IntegerValue(20)),
	})
}

func TestOidsAfterRecovery(t *testing.T) {
	cfg := checkpoint.Config{Dir: t.TempDir()}
	env := newEnv(t, cfg, false)

	var dbOid storage.Oid
	env.run(t, "CreateDatabase", func(txn *concurrency.TransactionContext) error {
		de, err := env.c.CreateDatabase(txn, "db1")
		if err != nil {
			return err
		}
		dbOid = de.Oid
		return nil
	})
	var tableOid storage.Oid
	for i := 0; i < 3; i++ {
		te := env.createTable(t, "db1", "t"+strconv.Itoa(i), kvSchema())
		tableOid = te.Oid
	}
	env.checkpoint(t)

	renv := newEnv(t, cfg, true)
	renv.recover(t)

	cases := []struct {
		ct  catalog.CatalogType
		max storage.Oid
	}{
		{ct: catalog.DatabaseCatalogType, max: dbOid},
		{ct: catalog.TableCatalogType, max: tableOid},
	}
	for _, c := range cases {
		oid := renv.c.GetNextOid(c.ct)
		if oid <= c.max {
			t.Errorf("GetNextOid(%s) got %d want more than %d", c.ct, oid, c.max)
		}
		if next := renv.c.GetNextOid(c.ct); next <= oid {
			t.Errorf("GetNextOid(%s) got %d after %d", c.ct, next, oid)
		}
	}
}

func TestSettingsRecovery(t *testing.T) {
	cfg := checkpoint.Config{Dir: t.TempDir()}
	env := newEnv(t, cfg, false)
	env.run(t, "SetSetting", func(txn *concurrency.TransactionContext) error {
		err := env.c.SetSetting(txn, "checkpoint_interval", "60")
		if err != nil {
			return err
		}
		return env.c.SetSetting(txn, "statement_cache_size", "5")
	})
	env.checkpoint(t)

	renv := newEnv(t, cfg, true)
	renv.recover(t)

	cases := []struct {
		name  string
		value string
	}{
		{name: "checkpoint_interval", value: "60"},
		{name: "statement_cache_size", value: "100"},
	}
	renv.run(t, "GetSetting", func(txn *concurrency.TransactionContext) error {
		for _, c := range cases {
			se, err := renv.c.GetSetting(txn, c.name)
			if err != nil {
				return err
			}
			if se.Value != c.value {
				t.Errorf("GetSetting(%s) got %s want %s", c.name, se.Value, c.value)
			}
		}
		settings, err := renv.c.GetSettings(txn)
		if err != nil {
			return err
		}
		if len(settings) != len(testSettings()) {
			t.Errorf("GetSettings() got %d settings want %d", len(settings),
				len(testSettings()))
		}
		return nil
	})
}

func TestCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := checkpoint.Config{Dir: dir}
	env := newEnv(t, cfg, false)
	env.createTable(t, catalog.CatalogDatabaseName, "t", kvSchema())
	env.insert(t, catalog.CatalogDatabaseName, "t", [][]sql.Value{
		row(sql.IntegerValue(1), sql.IntegerValue(10)),
	})
	rec := env.checkpoint(t)

	path := filepath.Join(dir, strconv.FormatUint(uint64(rec.Epoch), 10),
		catalog.CatalogDatabaseName, catalog.DefaultSchemaName, "t")
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	buf[len(buf)-2] ^= 0xFF
	err = os.WriteFile(path, buf, 0644)
	if err != nil {
		t.Fatal(err)
	}

	renv := newEnv(t, cfg, true)
	_, err = renv.cm.DoCheckpointRecovery(context.Background())
	if err == nil {
		t.Error("DoCheckpointRecovery() of a corrupt checkpoint did not fail")
	}
}

func TestRetention(t *testing.T) {
	dir := t.TempDir()
	env := newEnv(t, checkpoint.Config{Dir: dir, Retain: 2}, false)

	// Not a checkpoint; skipped by recovery and retention.
	err := os.Mkdir(filepath.Join(dir, "tmp"), 0755)
	if err != nil {
		t.Fatal(err)
	}

	var recs []checkpoint.Record
	for i := 0; i < 3; i++ {
		recs = append(recs, env.checkpoint(t))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Epoch <= recs[i-1].Epoch || recs[i].BeginCID <= recs[i-1].BeginCID {
			t.Errorf("Checkpoint() got %+v after %+v", recs[i], recs[i-1])
		}
	}

	epochs, err := env.cm.Checkpoints()
	if err != nil {
		t.Fatal(err)
	}
	if !testutil.DeepEqual(epochs, []storage.EpochID{recs[2].Epoch, recs[1].Epoch}) {
		t.Errorf("Checkpoints() got %v", epochs)
	}
	if _, err := os.Stat(filepath.Join(dir, "tmp")); err != nil {
		t.Errorf("retention removed a directory which is not a checkpoint: %s", err)
	}

	hist, err := env.cm.History()
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Epoch != recs[1].Epoch || hist[1].Epoch != recs[2].Epoch {
		t.Errorf("History() got %+v", hist)
	}

	epoch, ok, err := checkpoint.RecoveryEpoch(dir)
	if err != nil || !ok || epoch != recs[2].Epoch {
		t.Errorf("RecoveryEpoch() got %d, %v, %v want %d", epoch, ok, err, recs[2].Epoch)
	}
}

func TestCheckpointLoop(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock()
	env := newEnv(t, checkpoint.Config{Dir: dir, Interval: 2, Retain: 10, Clock: clock},
		false)

	if env.cm.State() != checkpoint.Stopped {
		t.Errorf("State() got %s want %s", env.cm.State(), checkpoint.Stopped)
	}
	err := env.cm.StartCheckpointing(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if env.cm.State() != checkpoint.Running {
		t.Errorf("State() got %s want %s", env.cm.State(), checkpoint.Running)
	}
	if env.cm.StartCheckpointing(context.Background()) == nil {
		t.Error("StartCheckpointing() while running did not fail")
	}

	<-clock.ready
	for i := 0; i < 5; i++ {
		clock.tick()
	}
	env.cm.StopCheckpointing()
	if env.cm.State() != checkpoint.Stopped {
		t.Errorf("State() got %s want %s", env.cm.State(), checkpoint.Stopped)
	}
	env.cm.StopCheckpointing()

	hist, err := env.cm.History()
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("History() got %d checkpoints want 2", len(hist))
	}

	// The loop can be started again.
	err = env.cm.StartCheckpointing(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	<-clock.ready
	clock.tick()
	clock.tick()
	env.cm.StopCheckpointing()

	hist, err = env.cm.History()
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Errorf("History() got %d checkpoints want 3", len(hist))
	}
}

func TestCheckpointLoopCancel(t *testing.T) {
	clock := newFakeClock()
	env := newEnv(t, checkpoint.Config{Dir: t.TempDir(), Interval: 1, Clock: clock}, false)

	ctx, cancel := context.WithCancel(context.Background())
	err := env.cm.StartCheckpointing(ctx)
	if err != nil {
		t.Fatal(err)
	}
	<-clock.ready
	cancel()
	env.cm.StopCheckpointing()

	hist, err := env.cm.History()
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Errorf("History() got %d checkpoints want 0", len(hist))
	}
}
