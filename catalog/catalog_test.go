package catalog_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/cmu-db/peloton-sub010/catalog"
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
	"github.com/cmu-db/peloton-sub010/testutil"
)

func init() {
	testutil.SetupLogger("catalog_test.log")
}

type invalidations struct {
	mutex sync.Mutex
	oids  []storage.Oid
}

func (inv *invalidations) InvalidateTableOid(oid storage.Oid) {
	inv.mutex.Lock()
	inv.oids = append(inv.oids, oid)
	inv.mutex.Unlock()
}

func (inv *invalidations) take() []storage.Oid {
	inv.mutex.Lock()
	defer inv.mutex.Unlock()

	oids := inv.oids
	inv.oids = nil
	return oids
}

type testEnv struct {
	st  *storage.Manager
	tm  *concurrency.TransactionManager
	c   *catalog.Catalog
	inv *invalidations
}

func newEnv(t *testing.T) testEnv {
	t.Helper()

	st := storage.NewManager()
	tm := concurrency.NewTransactionManager(st, concurrency.NewEpochManager(),
		concurrency.Serializable)
	inv := &invalidations{}
	settings := []*catalog.SettingEntry{
		{
			Name:         "port",
			Value:        "15721",
			ValueType:    "integer",
			Description:  "server port",
			DefaultValue: "15721",
			IsPersistent: true,
		},
		{
			Name:         "checkpoint_interval",
			Value:        "30",
			ValueType:    "integer",
			Description:  "seconds between checkpoints",
			DefaultValue: "30",
			IsMutable:    true,
			IsPersistent: true,
		},
	}
	c := catalog.New(st, tm, settings, catalog.Options{
		TuplesPerTileGroup: 4,
		Invalidator:        inv,
	})

	env := testEnv{st: st, tm: tm, c: c, inv: inv}
	env.run(t, "Bootstrap", func(txn *concurrency.TransactionContext) error {
		return c.Bootstrap(txn)
	})
	return env
}

// run calls fn in a new transaction, and commits it if fn succeeds.
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

// fail calls fn in a new transaction, which is aborted, and checks that fn
// fails with an error of the kind of want.
func (env testEnv) fail(t *testing.T, what string, want error,
	fn func(txn *concurrency.TransactionContext) error) {

	t.Helper()

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	err := fn(txn)
	env.tm.AbortTransaction(txn)
	if err == nil {
		t.Errorf("%s did not fail", what)
	} else if !errors.Is(err, want) {
		t.Errorf("%s failed with %s; want %s", what, err, want)
	}
}

func (env testEnv) createDatabase(t *testing.T, name string) *catalog.DatabaseEntry {
	t.Helper()

	var de *catalog.DatabaseEntry
	env.run(t, "CreateDatabase", func(txn *concurrency.TransactionContext) error {
		var err error
		de, err = env.c.CreateDatabase(txn, name)
		return err
	})
	return de
}

func accountsSchema() *sql.Schema {
	id := sql.MakeColumn("id", sql.IntegerType, 0)
	id.AddConstraint(sql.MakeConstraint(sql.PrimaryConstraint, ""))
	name := sql.MakeColumn("name", sql.VarcharType, 32)
	name.AddConstraint(sql.MakeConstraint(sql.UniqueConstraint, ""))
	balance := sql.MakeColumn("balance", sql.BigIntType, 0)
	chk := sql.MakeConstraint(sql.CheckConstraint, "balance_check")
	chk.CheckOp = ">="
	chk.CheckValue = sql.BigIntValue(0)
	balance.AddConstraint(chk)
	def := sql.MakeConstraint(sql.DefaultConstraint, "")
	def.Default = sql.BigIntValue(100)
	balance.AddConstraint(def)
	return sql.NewSchema([]sql.Column{id, name, balance})
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

func (env testEnv) insertRows(t *testing.T, dbName, tblName string, rows ...[]sql.Value) {
	t.Helper()

	env.run(t, "InsertTuple", func(txn *concurrency.TransactionContext) error {
		dt, err := env.c.GetTableWithName(txn, dbName, catalog.DefaultSchemaName, tblName)
		if err != nil {
			return err
		}
		for _, r := range rows {
			tpl, err := sql.MakeTuple(dt.Schema(), r...)
			if err != nil {
				return err
			}
			_, err = env.tm.InsertTuple(txn, dt, tpl)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func TestBootstrap(t *testing.T) {
	env := newEnv(t)

	env.run(t, "lookups", func(txn *concurrency.TransactionContext) error {
		de, err := env.c.GetDatabaseObject(txn, catalog.CatalogDatabaseName)
		if err != nil {
			return err
		}
		if de.Oid != catalog.CatalogDatabaseOid {
			t.Errorf("GetDatabaseObject(%s) got oid %d want %d", catalog.CatalogDatabaseName,
				de.Oid, catalog.CatalogDatabaseOid)
		}

		for _, sn := range []string{catalog.CatalogSchemaName, catalog.DefaultSchemaName} {
			_, err = env.c.GetSchemaObject(txn, de.Oid, sn)
			if err != nil {
				return err
			}
		}

		tables, err := env.c.GetTableObjects(txn, de.Oid)
		if err != nil {
			return err
		}
		want := catalog.CatalogTables(de.Oid)
		if len(tables) != len(want) {
			t.Errorf("GetTableObjects() got %d tables want %d", len(tables), len(want))
		}
		for _, te := range tables {
			if te.SchemaName != catalog.CatalogSchemaName {
				t.Errorf("GetTableObjects(): %s not in schema %s", te, catalog.CatalogSchemaName)
			}
			dt, err := env.st.GetTableWithOid(de.Oid, te.Oid)
			if err != nil {
				t.Errorf("GetTableWithOid(%s) failed with %s", te, err)
				continue
			}
			columns, err := te.Columns()
			if err != nil {
				return err
			}
			if len(columns) != dt.Schema().ColumnCount() {
				t.Errorf("%s: Columns() got %d want %d", te, len(columns),
					dt.Schema().ColumnCount())
			}
			indexes, err := te.Indexes()
			if err != nil {
				return err
			}
			if len(indexes) != dt.IndexCount() {
				t.Errorf("%s: Indexes() got %d want %d", te, len(indexes), dt.IndexCount())
			}
			s, err := te.Schema()
			if err != nil {
				return err
			}
			if !s.Equal(dt.Schema()) {
				t.Errorf("%s: Schema() got %s want %s", te, s, dt.Schema())
			}
		}

		pe, err := env.c.GetProc(txn, "substr",
			[]sql.DataType{sql.VarcharType, sql.IntegerType, sql.IntegerType})
		if err != nil {
			return err
		}
		if pe.ReturnType != sql.VarcharType || pe.LanguageOid != catalog.InternalLanguageOid {
			t.Errorf("GetProc(substr) got %v", pe)
		}
		_, err = env.c.GetProc(txn, "substr", []sql.DataType{sql.VarcharType})
		if !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("GetProc(substr(varchar)) got %v want not found", err)
		}
		_, err = env.c.GetLanguage(txn, "plpgsql")
		if err != nil {
			return err
		}

		se, err := env.c.GetSetting(txn, "port")
		if err != nil {
			return err
		}
		if se.Value != "15721" {
			t.Errorf("GetSetting(port) got %s want 15721", se.Value)
		}
		return nil
	})
}

func TestSettings(t *testing.T) {
	env := newEnv(t)

	env.run(t, "SetSetting", func(txn *concurrency.TransactionContext) error {
		return env.c.SetSetting(txn, "checkpoint_interval", "60")
	})
	env.fail(t, "SetSetting(port)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			return env.c.SetSetting(txn, "port", "5432")
		})
	env.fail(t, "SetSetting(missing)", catalog.ErrNotFound,
		func(txn *concurrency.TransactionContext) error {
			return env.c.SetSetting(txn, "missing", "1")
		})

	env.run(t, "GetSettings", func(txn *concurrency.TransactionContext) error {
		settings, err := env.c.GetSettings(txn)
		if err != nil {
			return err
		}
		if len(settings) != 2 {
			t.Errorf("GetSettings() got %d settings want 2", len(settings))
		}
		se, err := env.c.GetSetting(txn, "checkpoint_interval")
		if err != nil {
			return err
		}
		if se.Value != "60" {
			t.Errorf("GetSetting(checkpoint_interval) got %s want 60", se.Value)
		}
		return nil
	})
}

func TestDatabases(t *testing.T) {
	env := newEnv(t)

	de := env.createDatabase(t, "db1")
	if catalog.OidType(de.Oid) != catalog.DatabaseCatalogType {
		t.Errorf("CreateDatabase(db1): OidType got %s", catalog.OidType(de.Oid))
	}
	if !env.st.HasDatabase(de.Oid) {
		t.Errorf("CreateDatabase(db1): no storage database")
	}
	env.fail(t, "CreateDatabase(db1)", catalog.ErrAlreadyExists,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateDatabase(txn, "db1")
			return err
		})

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	de2, err := env.c.CreateDatabase(txn, "db2")
	if err != nil {
		t.Fatalf("CreateDatabase(db2) failed with %s", err)
	}
	env.tm.AbortTransaction(txn)
	if env.st.HasDatabase(de2.Oid) {
		t.Errorf("CreateDatabase(db2): storage database remains after abort")
	}

	env.createTable(t, "db1", "accounts", accountsSchema())
	env.run(t, "DropDatabase", func(txn *concurrency.TransactionContext) error {
		return env.c.DropDatabase(txn, "db1")
	})
	if env.st.HasDatabase(de.Oid) {
		t.Errorf("DropDatabase(db1): storage database remains")
	}
	if oids := env.inv.take(); len(oids) != 1 {
		t.Errorf("DropDatabase(db1): invalidated %v", oids)
	}

	env.run(t, "GetDatabaseObjects", func(txn *concurrency.TransactionContext) error {
		dbs, err := env.c.GetDatabaseObjects(txn)
		if err != nil {
			return err
		}
		if len(dbs) != 1 || dbs[0].Name != catalog.CatalogDatabaseName {
			t.Errorf("GetDatabaseObjects() got %v", dbs)
		}
		return nil
	})
	env.fail(t, "DropDatabase(peloton)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropDatabase(txn, catalog.CatalogDatabaseName)
		})
}

func TestSchemas(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")

	env.run(t, "CreateSchema", func(txn *concurrency.TransactionContext) error {
		_, err := env.c.CreateSchema(txn, "db1", "app")
		return err
	})
	env.fail(t, "CreateSchema(app)", catalog.ErrAlreadyExists,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateSchema(txn, "db1", "app")
			return err
		})
	env.run(t, "CreateTable(app.t)", func(txn *concurrency.TransactionContext) error {
		_, err := env.c.CreateTable(txn, "db1", "app", "t", accountsSchema())
		return err
	})
	env.fail(t, "DropSchema(app)", catalog.ErrConstraint,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropSchema(txn, "db1", "app")
		})
	env.fail(t, "DropSchema(pg_catalog)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropSchema(txn, "db1", catalog.CatalogSchemaName)
		})
	env.fail(t, "CreateTable(pg_catalog.t)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateTable(txn, "db1", catalog.CatalogSchemaName, "t",
				accountsSchema())
			return err
		})

	env.run(t, "DropSchema", func(txn *concurrency.TransactionContext) error {
		err := env.c.DropTable(txn, "db1", "app", "t")
		if err != nil {
			return err
		}
		return env.c.DropSchema(txn, "db1", "app")
	})
	env.run(t, "GetSchemaObjects", func(txn *concurrency.TransactionContext) error {
		de, err := env.c.GetDatabaseObject(txn, "db1")
		if err != nil {
			return err
		}
		schemas, err := env.c.GetSchemaObjects(txn, de.Oid)
		if err != nil {
			return err
		}
		if len(schemas) != 2 {
			t.Errorf("GetSchemaObjects() got %v", schemas)
		}
		return nil
	})
}

func TestCreateTable(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")
	te := env.createTable(t, "db1", "accounts", accountsSchema())
	if catalog.OidType(te.Oid) != catalog.TableCatalogType {
		t.Errorf("CreateTable(): OidType got %s", catalog.OidType(te.Oid))
	}

	env.fail(t, "CreateTable(accounts)", catalog.ErrAlreadyExists,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateTable(txn, "db1", catalog.DefaultSchemaName, "accounts",
				accountsSchema())
			return err
		})
	env.fail(t, "CreateTable(missing.t)", catalog.ErrNotFound,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateTable(txn, "missing", catalog.DefaultSchemaName, "t",
				accountsSchema())
			return err
		})
	env.fail(t, "CreateTable(dup columns)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateTable(txn, "db1", catalog.DefaultSchemaName, "t",
				sql.NewSchema([]sql.Column{
					sql.MakeColumn("c", sql.IntegerType, 0),
					sql.MakeColumn("C", sql.IntegerType, 0),
				}))
			return err
		})

	env.run(t, "GetTableObject", func(txn *concurrency.TransactionContext) error {
		te, err := env.c.GetTableObject(txn, "db1", catalog.DefaultSchemaName, "accounts")
		if err != nil {
			return err
		}
		te2, err := env.c.GetTableObjectByOid(txn, te.DatabaseOid, te.Oid)
		if err != nil {
			return err
		}
		if te2 != te {
			t.Errorf("GetTableObjectByOid() did not return the cached entry")
		}

		columns, err := te.Columns()
		if err != nil {
			return err
		}
		if len(columns) != 3 || !columns[0].Primary || !columns[1].Unique ||
			columns[2].Default == nil || *columns[2].Default != "100" {

			t.Errorf("Columns() got %v", columns)
		}
		col, err := te.Column("BALANCE")
		if err != nil {
			return err
		}
		if col.Type != sql.BigIntType {
			t.Errorf("Column(balance) got type %s", col.Type)
		}

		indexes, err := te.Indexes()
		if err != nil {
			return err
		}
		if len(indexes) != 2 {
			t.Fatalf("Indexes() got %d indexes want 2", len(indexes))
		}
		if indexes[0].Constraint != storage.PrimaryKeyIndexConstraint ||
			indexes[0].Name != "accounts_pkey" {

			t.Errorf("Indexes()[0] got %v", indexes[0])
		}
		if indexes[1].Constraint != storage.UniqueIndexConstraint || !indexes[1].UniqueKeys {
			t.Errorf("Indexes()[1] got %v", indexes[1])
		}

		constraints, err := te.Constraints()
		if err != nil {
			return err
		}
		types := map[sql.ConstraintType]int{}
		for _, ce := range constraints {
			types[ce.Type] += 1
		}
		if len(constraints) != 3 || types[sql.PrimaryConstraint] != 1 ||
			types[sql.UniqueConstraint] != 1 || types[sql.CheckConstraint] != 1 {

			t.Errorf("Constraints() got %v", constraints)
		}

		layouts, err := te.Layouts()
		if err != nil {
			return err
		}
		if len(layouts) != 2 || te.DefaultLayoutOid != storage.RowStoreLayoutOid {
			t.Errorf("Layouts() got %v; default %d", layouts, te.DefaultLayoutOid)
		}

		s, err := te.Schema()
		if err != nil {
			return err
		}
		pk := s.PrimaryKey()
		if len(pk) != 1 || pk[0] != 0 {
			t.Errorf("Schema().PrimaryKey() got %v", pk)
		}
		ok, err := env.c.ExistTableByName(txn, "db1", catalog.DefaultSchemaName, "missing")
		if err != nil || ok {
			t.Errorf("ExistTableByName(missing) got %v, %v", ok, err)
		}
		return nil
	})

	env.insertRows(t, "db1", "accounts",
		[]sql.Value{sql.IntegerValue(1), sql.StringValue("alice"), sql.BigIntValue(10)})
	env.fail(t, "InsertTuple(dup name)", storage.ErrDuplicateKey,
		func(txn *concurrency.TransactionContext) error {
			dt, err := env.c.GetTableWithName(txn, "db1", catalog.DefaultSchemaName,
				"accounts")
			if err != nil {
				return err
			}
			tpl, err := sql.MakeTuple(dt.Schema(), sql.IntegerValue(2),
				sql.StringValue("alice"), sql.BigIntValue(10))
			if err != nil {
				return err
			}
			_, err = env.tm.InsertTuple(txn, dt, tpl)
			return err
		})
}

func TestCreateTableAbort(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	te, err := env.c.CreateTable(txn, "db1", catalog.DefaultSchemaName, "accounts",
		accountsSchema())
	if err != nil {
		t.Fatalf("CreateTable() failed with %s", err)
	}
	ok, err := env.c.ExistTableByName(txn, "db1", catalog.DefaultSchemaName, "accounts")
	if err != nil || !ok {
		t.Errorf("ExistTableByName() in creating txn got %v, %v", ok, err)
	}
	env.tm.AbortTransaction(txn)

	if _, err := env.st.GetTableWithOid(te.DatabaseOid, te.Oid); err == nil {
		t.Errorf("CreateTable(): storage table remains after abort")
	}
	env.run(t, "GetTableObject", func(txn *concurrency.TransactionContext) error {
		_, err := env.c.GetTableObject(txn, "db1", catalog.DefaultSchemaName, "accounts")
		if !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("GetTableObject() after abort got %v want not found", err)
		}
		return nil
	})

	env.createTable(t, "db1", "accounts", accountsSchema())
}

func TestDropTable(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")
	te := env.createTable(t, "db1", "accounts", accountsSchema())
	env.inv.take()

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	err := env.c.DropTable(txn, "db1", catalog.DefaultSchemaName, "accounts")
	if err != nil {
		t.Fatalf("DropTable() failed with %s", err)
	}
	if oids := env.inv.take(); len(oids) != 0 {
		t.Errorf("DropTable(): invalidated %v before commit", oids)
	}
	if _, err := env.st.GetTableWithOid(te.DatabaseOid, te.Oid); err != nil {
		t.Errorf("DropTable(): storage table dropped before commit")
	}
	env.tm.AbortTransaction(txn)
	if oids := env.inv.take(); len(oids) != 0 {
		t.Errorf("DropTable(): invalidated %v after abort", oids)
	}

	env.run(t, "DropTable", func(txn *concurrency.TransactionContext) error {
		return env.c.DropTable(txn, "db1", catalog.DefaultSchemaName, "accounts")
	})
	if oids := env.inv.take(); len(oids) != 1 || oids[0] != te.Oid {
		t.Errorf("DropTable(): invalidated %v want [%d]", oids, te.Oid)
	}
	if _, err := env.st.GetTableWithOid(te.DatabaseOid, te.Oid); err == nil {
		t.Errorf("DropTable(): storage table remains")
	}

	env.run(t, "lookups", func(txn *concurrency.TransactionContext) error {
		_, err := env.c.GetTableObjectByOid(txn, te.DatabaseOid, te.Oid)
		if !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("GetTableObjectByOid() got %v want not found", err)
		}
		_, err = env.c.GetIndexObject(txn, te.DatabaseOid, catalog.DefaultSchemaName,
			"accounts_pkey")
		if !errors.Is(err, catalog.ErrNotFound) {
			t.Errorf("GetIndexObject(accounts_pkey) got %v want not found", err)
		}
		return nil
	})

	env.fail(t, "DropTable(accounts)", catalog.ErrNotFound,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropTable(txn, "db1", catalog.DefaultSchemaName, "accounts")
		})
	env.fail(t, "DropTable(pg_table)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropTable(txn, "db1", catalog.CatalogSchemaName, "pg_table")
		})
}

func TestCreateIndex(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")
	env.createTable(t, "db1", "accounts", accountsSchema())

	var rows [][]sql.Value
	for i := 0; i < 10; i++ {
		rows = append(rows, []sql.Value{sql.IntegerValue(i), sql.StringValue(string(rune('a' + i))),
			sql.BigIntValue(i % 3)})
	}
	env.insertRows(t, "db1", "accounts", rows...)

	env.fail(t, "CreateIndex(unique balance)", catalog.ErrConstraint,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateIndex(txn, "db1", catalog.DefaultSchemaName, "accounts",
				"accounts_balance_uniq", []int{2}, storage.BTreeIndexType, true)
			return err
		})
	env.fail(t, "CreateIndex(bad column)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateIndex(txn, "db1", catalog.DefaultSchemaName, "accounts",
				"accounts_bad", []int{3}, storage.BTreeIndexType, false)
			return err
		})

	env.inv.take()
	var ie *catalog.IndexEntry
	env.run(t, "CreateIndex", func(txn *concurrency.TransactionContext) error {
		var err error
		ie, err = env.c.CreateIndex(txn, "db1", catalog.DefaultSchemaName, "accounts",
			"accounts_balance", []int{2}, storage.HashIndexType, false)
		return err
	})
	if oids := env.inv.take(); len(oids) != 1 {
		t.Errorf("CreateIndex(): invalidated %v", oids)
	}

	env.run(t, "check index", func(txn *concurrency.TransactionContext) error {
		dt, err := env.c.GetTableWithName(txn, "db1", catalog.DefaultSchemaName, "accounts")
		if err != nil {
			return err
		}
		idx, ok := dt.GetIndexWithOid(ie.Oid)
		if !ok {
			t.Fatalf("GetIndexWithOid(%d) not found", ie.Oid)
		}
		if idx.Count() != 10 {
			t.Errorf("index Count() got %d want 10", idx.Count())
		}
		var n int
		err = env.tm.ScanIndex(txn, dt, idx, []sql.Value{sql.BigIntValue(1)},
			func(_ storage.ItemPointer, _ *sql.Tuple) error {
				n += 1
				return nil
			})
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("ScanIndex(1) got %d rows want 3", n)
		}
		return nil
	})

	env.fail(t, "DropIndex(accounts_pkey)", catalog.ErrConstraint,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropIndex(txn, "db1", catalog.DefaultSchemaName, "accounts_pkey")
		})
	env.run(t, "DropIndex", func(txn *concurrency.TransactionContext) error {
		return env.c.DropIndex(txn, "db1", catalog.DefaultSchemaName, "accounts_balance")
	})
	env.run(t, "check drop", func(txn *concurrency.TransactionContext) error {
		dt, err := env.c.GetTableWithName(txn, "db1", catalog.DefaultSchemaName, "accounts")
		if err != nil {
			return err
		}
		if _, ok := dt.GetIndexWithOid(ie.Oid); ok {
			t.Errorf("GetIndexWithOid(%d) found after DropIndex()", ie.Oid)
		}
		return nil
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

func TestForeignKeys(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")
	accounts := env.createTable(t, "db1", "accounts", accountsSchema())
	orders := env.createTable(t, "db1", "orders", ordersSchema())

	env.fail(t, "AddForeignKey(no index)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.AddForeignKey(txn, "db1", catalog.DefaultSchemaName, "orders",
				catalog.ForeignKeyDef{
					SourceColumns: []int{1},
					SinkTable:     "accounts",
					SinkColumns:   []int{2},
				})
			return err
		})

	env.inv.take()
	env.run(t, "AddForeignKey", func(txn *concurrency.TransactionContext) error {
		ce, err := env.c.AddForeignKey(txn, "db1", catalog.DefaultSchemaName, "orders",
			catalog.ForeignKeyDef{
				SourceColumns: []int{1},
				SinkTable:     "accounts",
				SinkColumns:   []int{0},
				DeleteAction:  storage.FKCascade,
			})
		if err != nil {
			return err
		}
		if ce.Name != "orders_accounts_fkey" || ce.FKUpdateAction != storage.FKNoAction {
			t.Errorf("AddForeignKey() got %v", ce)
		}
		return nil
	})
	if oids := env.inv.take(); len(oids) != 2 {
		t.Errorf("AddForeignKey(): invalidated %v", oids)
	}

	sink, err := env.st.GetTableWithOid(accounts.DatabaseOid, accounts.Oid)
	if err != nil {
		t.Fatal(err)
	}
	src, err := env.st.GetTableWithOid(orders.DatabaseOid, orders.Oid)
	if err != nil {
		t.Fatal(err)
	}
	if len(src.ForeignKeys()) != 1 || len(sink.ForeignKeySources()) != 1 {
		t.Errorf("AddForeignKey(): %d foreign keys, %d sources", len(src.ForeignKeys()),
			len(sink.ForeignKeySources()))
	}

	env.fail(t, "DropTable(accounts)", catalog.ErrConstraint,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropTable(txn, "db1", catalog.DefaultSchemaName, "accounts")
		})

	env.run(t, "DropTable(orders)", func(txn *concurrency.TransactionContext) error {
		return env.c.DropTable(txn, "db1", catalog.DefaultSchemaName, "orders")
	})
	if len(sink.ForeignKeySources()) != 0 {
		t.Errorf("DropTable(orders): accounts still has %d sources",
			len(sink.ForeignKeySources()))
	}
	env.run(t, "DropTable(accounts)", func(txn *concurrency.TransactionContext) error {
		return env.c.DropTable(txn, "db1", catalog.DefaultSchemaName, "accounts")
	})
}

func TestForeignKeyAbort(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")
	accounts := env.createTable(t, "db1", "accounts", accountsSchema())
	env.createTable(t, "db1", "orders", ordersSchema())

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	_, err := env.c.AddForeignKey(txn, "db1", catalog.DefaultSchemaName, "orders",
		catalog.ForeignKeyDef{
			Name:          "orders_account",
			SourceColumns: []int{1},
			SinkTable:     "accounts",
			SinkColumns:   []int{0},
		})
	if err != nil {
		t.Fatalf("AddForeignKey() failed with %s", err)
	}
	env.tm.AbortTransaction(txn)

	sink, err := env.st.GetTableWithOid(accounts.DatabaseOid, accounts.Oid)
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.ForeignKeySources()) != 0 {
		t.Errorf("AddForeignKey(): source remains after abort")
	}
}

func TestSequences(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")

	env.run(t, "CreateSequence", func(txn *concurrency.TransactionContext) error {
		_, err := env.c.CreateSequence(txn, "db1", catalog.DefaultSchemaName, "once",
			catalog.SequenceDef{Min: 1, Max: 3})
		if err != nil {
			return err
		}
		_, err = env.c.CreateSequence(txn, "db1", catalog.DefaultSchemaName, "cycle",
			catalog.SequenceDef{Min: 1, Max: 3, Cycle: true})
		if err != nil {
			return err
		}
		_, err = env.c.CreateSequence(txn, "db1", catalog.DefaultSchemaName, "down",
			catalog.SequenceDef{Increment: -5, Min: -10, Max: 10, Start: 10})
		return err
	})

	cases := []struct {
		name string
		vals []int64
		fail bool
	}{
		{name: "once", vals: []int64{1, 2}, fail: true},
		{name: "cycle", vals: []int64{1, 2, 3, 1, 2}},
		{name: "down", vals: []int64{10, 5, 0, -5}, fail: true},
	}
	for _, c := range cases {
		for _, want := range c.vals {
			env.run(t, "NextVal", func(txn *concurrency.TransactionContext) error {
				val, err := env.c.NextVal(txn, "db1", catalog.DefaultSchemaName, c.name)
				if err != nil {
					return err
				}
				if val != want {
					t.Errorf("NextVal(%s) got %d want %d", c.name, val, want)
				}
				return nil
			})
		}
		if c.fail {
			env.fail(t, "NextVal("+c.name+")", catalog.ErrConstraint,
				func(txn *concurrency.TransactionContext) error {
					_, err := env.c.NextVal(txn, "db1", catalog.DefaultSchemaName, c.name)
					return err
				})
		}
	}

	env.fail(t, "CreateSequence(bad range)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateSequence(txn, "db1", catalog.DefaultSchemaName, "bad",
				catalog.SequenceDef{Min: 10, Max: 1})
			return err
		})
	env.fail(t, "CreateSequence(bad start)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateSequence(txn, "db1", catalog.DefaultSchemaName, "bad",
				catalog.SequenceDef{Min: 1, Max: 10, Start: 11})
			return err
		})
	env.fail(t, "DropSchema(public)", catalog.ErrConstraint,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropSchema(txn, "db1", catalog.DefaultSchemaName)
		})
	env.run(t, "DropSequence", func(txn *concurrency.TransactionContext) error {
		return env.c.DropSequence(txn, "db1", catalog.DefaultSchemaName, "once")
	})
	env.fail(t, "NextVal(once)", catalog.ErrNotFound,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.NextVal(txn, "db1", catalog.DefaultSchemaName, "once")
			return err
		})
}

func TestLayouts(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")
	te := env.createTable(t, "db1", "accounts", accountsSchema())

	columnMap := []storage.TileColumn{
		{Tile: 0, Offset: 0},
		{Tile: 1, Offset: 0},
		{Tile: 1, Offset: 1},
	}
	var le *catalog.LayoutEntry
	env.run(t, "CreateLayout", func(txn *concurrency.TransactionContext) error {
		var err error
		le, err = env.c.CreateLayout(txn, "db1", catalog.DefaultSchemaName, "accounts",
			columnMap)
		if err != nil {
			return err
		}
		return env.c.SetDefaultLayout(txn, "db1", catalog.DefaultSchemaName, "accounts",
			le.Oid)
	})
	if le.Oid != storage.FirstHybridLayoutOid {
		t.Errorf("CreateLayout() got oid %d want %d", le.Oid, storage.FirstHybridLayoutOid)
	}

	dt, err := env.st.GetTableWithOid(te.DatabaseOid, te.Oid)
	if err != nil {
		t.Fatal(err)
	}
	if dt.DefaultLayout().Oid() != le.Oid {
		t.Errorf("SetDefaultLayout(): default layout got %d", dt.DefaultLayout().Oid())
	}

	env.run(t, "check layouts", func(txn *concurrency.TransactionContext) error {
		te, err := env.c.GetTableObject(txn, "db1", catalog.DefaultSchemaName, "accounts")
		if err != nil {
			return err
		}
		if te.DefaultLayoutOid != le.Oid {
			t.Errorf("DefaultLayoutOid got %d want %d", te.DefaultLayoutOid, le.Oid)
		}
		layouts, err := te.Layouts()
		if err != nil {
			return err
		}
		if len(layouts) != 3 {
			t.Errorf("Layouts() got %d layouts want 3", len(layouts))
		}
		return nil
	})

	env.fail(t, "CreateLayout(short)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateLayout(txn, "db1", catalog.DefaultSchemaName, "accounts",
				columnMap[:2])
			return err
		})
	env.fail(t, "DropLayout(row)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			return env.c.DropLayout(txn, "db1", catalog.DefaultSchemaName, "accounts",
				storage.RowStoreLayoutOid)
		})
	env.fail(t, "SetDefaultLayout(missing)", catalog.ErrNotFound,
		func(txn *concurrency.TransactionContext) error {
			return env.c.SetDefaultLayout(txn, "db1", catalog.DefaultSchemaName, "accounts",
				99)
		})

	env.run(t, "DropLayout", func(txn *concurrency.TransactionContext) error {
		return env.c.DropLayout(txn, "db1", catalog.DefaultSchemaName, "accounts", le.Oid)
	})
	if dt.DefaultLayout().Oid() != storage.RowStoreLayoutOid {
		t.Errorf("DropLayout(): default layout got %d", dt.DefaultLayout().Oid())
	}
	if _, ok := dt.GetLayout(le.Oid); ok {
		t.Errorf("DropLayout(): layout %d remains", le.Oid)
	}
}

func TestTriggers(t *testing.T) {
	env := newEnv(t)
	env.createDatabase(t, "db1")
	te := env.createTable(t, "db1", "accounts", accountsSchema())

	var fired int
	env.c.RegisterTriggerFunc("count_inserts",
		func(td *storage.TriggerData) (*sql.Tuple, error) {
			fired += 1
			return nil, nil
		})

	trigType := storage.RowTrigger | storage.BeforeTrigger | storage.InsertTrigger
	env.run(t, "CreateTrigger", func(txn *concurrency.TransactionContext) error {
		_, err := env.c.CreateTrigger(txn, "db1", catalog.DefaultSchemaName, "accounts",
			&storage.Trigger{
				Name:     "accounts_count",
				Type:     trigType,
				FuncName: "count_inserts",
				Args:     []string{"a", "b"},
				When: &storage.TriggerWhen{
					Column: 2,
					Op:     ">",
					Value:  sql.BigIntValue(5),
				},
			})
		return err
	})

	env.fail(t, "CreateTrigger(dup)", catalog.ErrAlreadyExists,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateTrigger(txn, "db1", catalog.DefaultSchemaName, "accounts",
				&storage.Trigger{Name: "accounts_count", Type: trigType,
					FuncName: "count_inserts"})
			return err
		})
	env.fail(t, "CreateTrigger(missing func)", catalog.ErrNotFound,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateTrigger(txn, "db1", catalog.DefaultSchemaName, "accounts",
				&storage.Trigger{Name: "t2", Type: trigType, FuncName: "missing"})
			return err
		})
	env.fail(t, "CreateTrigger(no events)", catalog.ErrInvalidArgument,
		func(txn *concurrency.TransactionContext) error {
			_, err := env.c.CreateTrigger(txn, "db1", catalog.DefaultSchemaName, "accounts",
				&storage.Trigger{Name: "t3", Type: storage.RowTrigger,
					FuncName: "count_inserts"})
			return err
		})

	env.insertRows(t, "db1", "accounts",
		[]sql.Value{sql.IntegerValue(1), sql.StringValue("a"), sql.BigIntValue(1)},
		[]sql.Value{sql.IntegerValue(2), sql.StringValue("b"), sql.BigIntValue(10)})
	if fired != 1 {
		t.Errorf("trigger fired %d times want 1", fired)
	}

	env.run(t, "check triggers", func(txn *concurrency.TransactionContext) error {
		te, err := env.c.GetTableObject(txn, "db1", catalog.DefaultSchemaName, "accounts")
		if err != nil {
			return err
		}
		triggers, err := te.Triggers()
		if err != nil {
			return err
		}
		if len(triggers) != 1 || triggers[0].Args != "a,b" || triggers[0].Type != trigType ||
			triggers[0].WhenValue == nil || *triggers[0].WhenValue != "5" {

			t.Errorf("Triggers() got %v", triggers)
		}
		return nil
	})

	env.run(t, "DropTrigger", func(txn *concurrency.TransactionContext) error {
		return env.c.DropTrigger(txn, "db1", catalog.DefaultSchemaName, "accounts",
			"accounts_count")
	})
	dt, err := env.st.GetTableWithOid(te.DatabaseOid, te.Oid)
	if err != nil {
		t.Fatal(err)
	}
	if dt.Triggers().Count() != 0 {
		t.Errorf("DropTrigger(): %d triggers remain", dt.Triggers().Count())
	}
}

func TestRecoverStorageObjects(t *testing.T) {
	env := newEnv(t)
	de := env.createDatabase(t, "db1")
	accounts := env.createTable(t, "db1", "accounts", accountsSchema())
	orders := env.createTable(t, "db1", "orders", ordersSchema())

	env.c.RegisterTriggerFunc("noop", func(td *storage.TriggerData) (*sql.Tuple, error) {
		return nil, nil
	})
	env.run(t, "DDL", func(txn *concurrency.TransactionContext) error {
		_, err := env.c.AddForeignKey(txn, "db1", catalog.DefaultSchemaName, "orders",
			catalog.ForeignKeyDef{
				SourceColumns: []int{1},
				SinkTable:     "accounts",
				SinkColumns:   []int{0},
			})
		if err != nil {
			return err
		}
		le, err := env.c.CreateLayout(txn, "db1", catalog.DefaultSchemaName, "orders",
			[]storage.TileColumn{{Tile: 0, Offset: 0}, {Tile: 1, Offset: 0}})
		if err != nil {
			return err
		}
		err = env.c.SetDefaultLayout(txn, "db1", catalog.DefaultSchemaName, "orders", le.Oid)
		if err != nil {
			return err
		}
		_, err = env.c.CreateTrigger(txn, "db1", catalog.DefaultSchemaName, "orders",
			&storage.Trigger{
				Name:     "orders_noop",
				Type:     storage.RowTrigger | storage.UpdateTrigger,
				FuncName: "noop",
			})
		return err
	})

	db, err := env.st.GetDatabaseWithOid(de.Oid)
	if err != nil {
		t.Fatal(err)
	}
	for _, oid := range []storage.Oid{accounts.Oid, orders.Oid} {
		dt, err := db.DropTableWithOid(oid)
		if err != nil {
			t.Fatal(err)
		}
		dt.DropTileGroups()
	}

	var tables []*storage.DataTable
	env.run(t, "RecoverStorageObjects", func(txn *concurrency.TransactionContext) error {
		var err error
		tables, err = env.c.RecoverStorageObjects(txn, de.Oid)
		return err
	})
	if len(tables) != 2 {
		t.Fatalf("RecoverStorageObjects() got %d tables want 2", len(tables))
	}

	sink, err := env.st.GetTableWithOid(de.Oid, accounts.Oid)
	if err != nil {
		t.Fatal(err)
	}
	src, err := env.st.GetTableWithOid(de.Oid, orders.Oid)
	if err != nil {
		t.Fatal(err)
	}
	if !sink.Schema().Equal(accountsSchema()) {
		t.Errorf("recovered schema got %s want %s", sink.Schema(), accountsSchema())
	}
	if sink.IndexCount() != 2 {
		t.Errorf("recovered accounts: %d indexes want 2", sink.IndexCount())
	}
	if idx, ok := sink.PrimaryIndex(); !ok || idx.Name() != "accounts_pkey" {
		t.Errorf("recovered accounts: no primary index")
	}
	if src.DefaultLayout().Oid() != storage.FirstHybridLayoutOid {
		t.Errorf("recovered orders: default layout %d", src.DefaultLayout().Oid())
	}
	if len(src.ForeignKeys()) != 1 || len(sink.ForeignKeySources()) != 1 {
		t.Errorf("recovered: %d foreign keys, %d sources", len(src.ForeignKeys()),
			len(sink.ForeignKeySources()))
	}
	trigs := src.Triggers().Triggers()
	if len(trigs) != 1 || trigs[0].Func == nil {
		t.Errorf("recovered orders: triggers %v", trigs)
	}

	env.run(t, "new table", func(txn *concurrency.TransactionContext) error {
		te, err := env.c.CreateTable(txn, "db1", catalog.DefaultSchemaName, "items",
			ordersSchema())
		if err != nil {
			return err
		}
		if te.Oid <= orders.Oid {
			t.Errorf("CreateTable() after recovery got oid %d; orders has %d", te.Oid,
				orders.Oid)
		}
		return nil
	})
}
