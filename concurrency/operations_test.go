package concurrency_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
	"github.com/cmu-db/peloton-sub010/testutil"
)

func init() {
	testutil.SetupLogger("concurrency_test.log")
}

func testSchema() *sql.Schema {
	id := sql.MakeColumn("id", sql.IntegerType, 0)
	id.AddConstraint(sql.MakeConstraint(sql.PrimaryConstraint, "con_primary"))
	return sql.NewSchema([]sql.Column{
		id,
		sql.MakeColumn("v", sql.IntegerType, 0),
	})
}

type testEnv struct {
	st *storage.Manager
	db *storage.Database
	tm *concurrency.TransactionManager
}

func newEnv(t *testing.T) testEnv {
	t.Helper()

	st := storage.NewManager()
	db := storage.NewDatabase(1, "db")
	err := st.AddDatabase(db)
	if err != nil {
		t.Fatalf("AddDatabase() failed with %s", err)
	}
	return testEnv{
		st: st,
		db: db,
		tm: concurrency.NewTransactionManager(st, concurrency.NewEpochManager(),
			concurrency.Serializable),
	}
}

func (env testEnv) newTable(t *testing.T, oid storage.Oid, name string,
	s *sql.Schema) *storage.DataTable {

	t.Helper()

	dt := storage.NewDataTable(env.st, env.db.Oid(), oid, name, s, 4, storage.RowLayout, false)
	dt.AddIndex(storage.NewIndex(storage.NewIndexMetadata(name+"_pkey", oid+1000, oid,
		env.db.Oid(), storage.BTreeIndexType, storage.PrimaryKeyIndexConstraint, s,
		s.PrimaryKey(), true)))
	err := env.db.AddTable(dt)
	if err != nil {
		t.Fatalf("AddTable(%s) failed with %s", name, err)
	}
	return dt
}

func row(t *testing.T, dt *storage.DataTable, vals ...int) *sql.Tuple {
	t.Helper()

	svals := make([]sql.Value, len(vals))
	for idx, v := range vals {
		svals[idx] = sql.IntegerValue(v)
	}
	tpl, err := sql.MakeTuple(dt.Schema(), svals...)
	if err != nil {
		t.Fatalf("MakeTuple(%v) failed with %s", vals, err)
	}
	return tpl
}

func (env testEnv) insert(t *testing.T, dt *storage.DataTable, rows ...[]int) {
	t.Helper()

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	for _, r := range rows {
		_, err := env.tm.InsertTuple(txn, dt, row(t, dt, r...))
		if err != nil {
			t.Fatalf("InsertTuple(%v) failed with %s", r, err)
		}
	}
	if env.tm.CommitTransaction(txn) != concurrency.ResultSuccess {
		t.Fatalf("CommitTransaction() failed")
	}
}

func (env testEnv) scan(t *testing.T, txn *concurrency.TransactionContext,
	dt *storage.DataTable) [][]sql.Value {

	t.Helper()

	var rows [][]sql.Value
	err := env.tm.ScanTable(txn, dt, func(loc storage.ItemPointer, tpl *sql.Tuple) error {
		rows = append(rows, tpl.Values())
		return nil
	})
	if err != nil {
		t.Fatalf("ScanTable(%s) failed with %s", dt.Name(), err)
	}
	testutil.SortValues([]int{0}, rows)
	return rows
}

func (env testEnv) rows(t *testing.T, dt *storage.DataTable) [][]sql.Value {
	t.Helper()

	txn := env.tm.BeginReadonlyTransaction()
	defer env.tm.EndTransaction(txn)
	return env.scan(t, txn, dt)
}

func values(rows ...[]int) [][]sql.Value {
	var ret [][]sql.Value
	for _, r := range rows {
		var vals []sql.Value
		for _, v := range r {
			vals = append(vals, sql.IntegerValue(v))
		}
		ret = append(ret, vals)
	}
	return ret
}

func (env testEnv) checkRows(t *testing.T, dt *storage.DataTable, want [][]sql.Value) {
	t.Helper()

	got := env.rows(t, dt)
	var trc string
	if !testutil.DeepEqual(got, want, &trc) {
		t.Errorf("ScanTable(%s) got %v want %v: %s", dt.Name(), got, want, trc)
	}
}

func TestInsertCommitAbort(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())

	env.insert(t, dt, []int{1, 10}, []int{2, 20})
	env.checkRows(t, dt, values([]int{1, 10}, []int{2, 20}))

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	_, err := env.tm.InsertTuple(txn, dt, row(t, dt, 3, 30))
	if err != nil {
		t.Fatalf("InsertTuple() failed with %s", err)
	}
	own := env.scan(t, txn, dt)
	if len(own) != 3 {
		t.Errorf("ScanTable() in inserting transaction got %d rows want 3", len(own))
	}
	env.checkRows(t, dt, values([]int{1, 10}, []int{2, 20}))

	if env.tm.AbortTransaction(txn) != concurrency.ResultAborted {
		t.Errorf("AbortTransaction() did not abort")
	}
	env.checkRows(t, dt, values([]int{1, 10}, []int{2, 20}))

	// The key of an aborted insert is free again.
	env.insert(t, dt, []int{3, 33})
	env.checkRows(t, dt, values([]int{1, 10}, []int{2, 20}, []int{3, 33}))
}

func TestDuplicateKey(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())
	env.insert(t, dt, []int{1, 10})

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	_, err := env.tm.InsertTuple(txn, dt, row(t, dt, 1, 11))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("InsertTuple() got %v want %s", err, storage.ErrDuplicateKey)
	}
	if txn.Result() != concurrency.ResultFailure {
		t.Errorf("Result() got %s want %s", txn.Result(), concurrency.ResultFailure)
	}
	if env.tm.EndTransaction(txn) != concurrency.ResultAborted {
		t.Errorf("EndTransaction() of failed transaction did not abort")
	}

	// An uncommitted insert also holds its key.
	txn1 := env.tm.BeginTransaction(concurrency.Serializable)
	txn2 := env.tm.BeginTransaction(concurrency.Serializable)
	_, err = env.tm.InsertTuple(txn1, dt, row(t, dt, 2, 20))
	if err != nil {
		t.Fatalf("InsertTuple() failed with %s", err)
	}
	_, err = env.tm.InsertTuple(txn2, dt, row(t, dt, 2, 21))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("InsertTuple() got %v want %s", err, storage.ErrDuplicateKey)
	}
	env.tm.CommitTransaction(txn1)
	env.tm.AbortTransaction(txn2)

	env.checkRows(t, dt, values([]int{1, 10}, []int{2, 20}))
}

func TestConcurrentInsertSameKey(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())

	const (
		rounds  = 200
		writers = 8
	)
	for r := 1; r <= rounds; r++ {
		tpls := make([]*sql.Tuple, writers)
		for w := range tpls {
			tpls[w] = row(t, dt, r, w)
		}

		var commits atomic.Int32
		var start, wg sync.WaitGroup
		start.Add(1)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(tpl *sql.Tuple) {
				defer wg.Done()
				start.Wait()

				txn := env.tm.BeginTransaction(concurrency.Serializable)
				env.tm.InsertTuple(txn, dt, tpl)
				if env.tm.EndTransaction(txn) == concurrency.ResultSuccess {
					commits.Add(1)
				}
			}(tpls[w])
		}
		start.Done()
		wg.Wait()

		if n := commits.Load(); n != 1 {
			t.Fatalf("round %d: %d transactions committed key %d; want 1", r, n, r)
		}
	}

	if n := len(env.rows(t, dt)); n != rounds {
		t.Errorf("ScanTable() got %d rows want %d", n, rounds)
	}
}

func TestUpdate(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())
	env.insert(t, dt, []int{1, 10}, []int{2, 20})

	before := env.tm.BeginReadonlyTransaction()

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	loc, tpl, err := env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(1)})
	if err != nil {
		t.Fatalf("LookupTuple() failed with %s", err)
	}
	if sql.Compare(tpl.GetValue(1), sql.IntegerValue(10)) != 0 {
		t.Errorf("LookupTuple() got %s", tpl)
	}
	loc, err = env.tm.UpdateTuple(txn, dt, loc, row(t, dt, 1, 11))
	if err != nil {
		t.Fatalf("UpdateTuple() failed with %s", err)
	}
	// Updating its own new version happens in place.
	loc2, err := env.tm.UpdateTuple(txn, dt, loc, row(t, dt, 1, 12))
	if err != nil {
		t.Fatalf("UpdateTuple() failed with %s", err)
	}
	if loc2 != loc {
		t.Errorf("UpdateTuple() of own version got %s want %s", loc2, loc)
	}
	if env.tm.CommitTransaction(txn) != concurrency.ResultSuccess {
		t.Fatalf("CommitTransaction() failed")
	}

	env.checkRows(t, dt, values([]int{1, 12}, []int{2, 20}))

	// A snapshot taken before the update still sees the old version.
	got := env.scan(t, before, dt)
	want := values([]int{1, 10}, []int{2, 20})
	if !testutil.DeepEqual(got, want) {
		t.Errorf("ScanTable() of old snapshot got %v want %v", got, want)
	}
	env.tm.EndTransaction(before)

	// An aborted update leaves the committed version in place.
	txn = env.tm.BeginTransaction(concurrency.Serializable)
	loc, _, err = env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(2)})
	if err != nil {
		t.Fatalf("LookupTuple() failed with %s", err)
	}
	_, err = env.tm.UpdateTuple(txn, dt, loc, row(t, dt, 2, 99))
	if err != nil {
		t.Fatalf("UpdateTuple() failed with %s", err)
	}
	env.tm.AbortTransaction(txn)
	env.checkRows(t, dt, values([]int{1, 12}, []int{2, 20}))

	// Changing the primary key moves the row.
	txn = env.tm.BeginTransaction(concurrency.Serializable)
	loc, _, err = env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(2)})
	if err != nil {
		t.Fatalf("LookupTuple() failed with %s", err)
	}
	_, err = env.tm.UpdateTuple(txn, dt, loc, row(t, dt, 3, 20))
	if err != nil {
		t.Fatalf("UpdateTuple() failed with %s", err)
	}
	env.tm.CommitTransaction(txn)
	env.checkRows(t, dt, values([]int{1, 12}, []int{3, 20}))

	txn = env.tm.BeginReadonlyTransaction()
	_, _, err = env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(2)})
	if !errors.Is(err, concurrency.ErrNotFound) {
		t.Errorf("LookupTuple(2) got %v want %s", err, concurrency.ErrNotFound)
	}
	env.tm.EndTransaction(txn)
}

func TestConcurrentUpdate(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())
	env.insert(t, dt, []int{1, 10})

	increment := func(txn *concurrency.TransactionContext) (storage.ItemPointer, *sql.Tuple) {
		loc, tpl, err := env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(1)})
		if err != nil {
			t.Fatalf("LookupTuple() failed with %s", err)
		}
		v := int(tpl.GetValue(1).(sql.IntegerValue))
		return loc, row(t, dt, 1, v+1)
	}

	txn1 := env.tm.BeginTransaction(concurrency.Serializable)
	txn2 := env.tm.BeginTransaction(concurrency.Serializable)
	loc1, new1 := increment(txn1)
	loc2, new2 := increment(txn2)

	_, err1 := env.tm.UpdateTuple(txn1, dt, loc1, new1)
	_, err2 := env.tm.UpdateTuple(txn2, dt, loc2, new2)
	r1 := env.tm.EndTransaction(txn1)
	r2 := env.tm.EndTransaction(txn2)

	if (r1 == concurrency.ResultSuccess) == (r2 == concurrency.ResultSuccess) {
		t.Fatalf("EndTransaction() got %s and %s; want exactly one success", r1, r2)
	}
	if r1 == concurrency.ResultSuccess && err1 != nil || r2 == concurrency.ResultSuccess &&
		err2 != nil {

		t.Errorf("UpdateTuple() failed with %v, %v", err1, err2)
	}
	for _, err := range []error{err1, err2} {
		if err != nil && !errors.Is(err, concurrency.ErrConflict) {
			t.Errorf("UpdateTuple() got %s want %s", err, concurrency.ErrConflict)
		}
	}

	env.checkRows(t, dt, values([]int{1, 11}))
}

func TestDelete(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())
	env.insert(t, dt, []int{1, 10}, []int{2, 20})

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	loc, _, err := env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(1)})
	if err != nil {
		t.Fatalf("LookupTuple() failed with %s", err)
	}
	err = env.tm.DeleteTuple(txn, dt, loc)
	if err != nil {
		t.Fatalf("DeleteTuple() failed with %s", err)
	}
	if env.tm.CommitTransaction(txn) != concurrency.ResultSuccess {
		t.Fatalf("CommitTransaction() failed")
	}
	env.checkRows(t, dt, values([]int{2, 20}))

	// Deleting the deleted version again fails and leaves the chain alone.
	txn = env.tm.BeginTransaction(concurrency.Serializable)
	err = env.tm.DeleteTuple(txn, dt, loc)
	if !errors.Is(err, concurrency.ErrConflict) {
		t.Errorf("DeleteTuple() of deleted tuple got %v want %s", err, concurrency.ErrConflict)
	}
	if env.tm.EndTransaction(txn) != concurrency.ResultAborted {
		t.Errorf("EndTransaction() of failed delete did not abort")
	}
	env.checkRows(t, dt, values([]int{2, 20}))

	// Deleting twice within one transaction fails the second time.
	txn = env.tm.BeginTransaction(concurrency.Serializable)
	loc, _, err = env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(2)})
	if err != nil {
		t.Fatalf("LookupTuple() failed with %s", err)
	}
	err = env.tm.DeleteTuple(txn, dt, loc)
	if err != nil {
		t.Fatalf("DeleteTuple() failed with %s", err)
	}
	err = env.tm.DeleteTuple(txn, dt, loc)
	if !errors.Is(err, concurrency.ErrConflict) {
		t.Errorf("DeleteTuple() twice got %v want %s", err, concurrency.ErrConflict)
	}
	env.tm.EndTransaction(txn)
	env.checkRows(t, dt, values([]int{2, 20}))

	// Deleting an own insert.
	txn = env.tm.BeginTransaction(concurrency.Serializable)
	loc, err = env.tm.InsertTuple(txn, dt, row(t, dt, 5, 50))
	if err != nil {
		t.Fatalf("InsertTuple() failed with %s", err)
	}
	err = env.tm.DeleteTuple(txn, dt, loc)
	if err != nil {
		t.Fatalf("DeleteTuple() of own insert failed with %s", err)
	}
	rw, _ := txn.RWType(loc)
	if rw != concurrency.RWInsDel {
		t.Errorf("RWType() got %s want %s", rw, concurrency.RWInsDel)
	}
	env.tm.CommitTransaction(txn)
	env.checkRows(t, dt, values([]int{2, 20}))
}

func fkTables(t *testing.T, env testEnv, update, del storage.FKAction) (*storage.DataTable,
	*storage.DataTable) {

	sink := env.newTable(t, 10, "sink", testSchema())

	ref := sql.MakeColumn("ref", sql.IntegerType, 0)
	ref.AddConstraint(sql.Constraint{
		Type:    sql.DefaultConstraint,
		Name:    "con_default",
		Default: sql.IntegerValue(0),
	})
	src := env.newTable(t, 20, "src", sql.NewSchema([]sql.Column{
		testSchema().Column(0),
		ref,
	}))

	fk := &storage.ForeignKey{
		Oid:            30,
		Name:           "fk_ref",
		SourceTableOid: src.Oid(),
		SourceColumns:  []int{1},
		SinkTableOid:   sink.Oid(),
		SinkColumns:    []int{0},
		UpdateAction:   update,
		DeleteAction:   del,
	}
	src.AddForeignKey(fk)
	sink.RegisterForeignKeySource(fk)

	env.insert(t, sink, []int{0, 0}, []int{1, 10}, []int{2, 20})
	env.insert(t, src, []int{100, 1}, []int{101, 1}, []int{102, 2})
	return sink, src
}

func TestForeignKeyActions(t *testing.T) {
	cases := []struct {
		update, del storage.FKAction
		updateRows  [][]sql.Value
		deleteRows  [][]sql.Value
		fail        bool
	}{
		{
			update: storage.FKRestrict,
			del:    storage.FKNoAction,
			fail:   true,
		},
		{
			update:     storage.FKCascade,
			del:        storage.FKCascade,
			updateRows: values([]int{100, 5}, []int{101, 5}, []int{102, 2}),
			deleteRows: values([]int{102, 2}),
		},
		{
			update:     storage.FKSetDefault,
			del:        storage.FKSetDefault,
			updateRows: values([]int{100, 0}, []int{101, 0}, []int{102, 2}),
			deleteRows: values([]int{100, 0}, []int{101, 0}, []int{102, 2}),
		},
	}

	for _, c := range cases {
		for _, del := range []bool{false, true} {
			env := newEnv(t)
			sink, src := fkTables(t, env, c.update, c.del)

			txn := env.tm.BeginTransaction(concurrency.Serializable)
			loc, _, err := env.tm.LookupTuple(txn, sink, []sql.Value{sql.IntegerValue(1)})
			if err != nil {
				t.Fatalf("LookupTuple() failed with %s", err)
			}
			if del {
				err = env.tm.DeleteTuple(txn, sink, loc)
			} else {
				_, err = env.tm.UpdateTuple(txn, sink, loc, row(t, sink, 5, 10))
			}

			if c.fail {
				if !errors.Is(err, storage.ErrForeignKey) {
					t.Errorf("%s/%s: got %v want %s", c.update, c.del, err,
						storage.ErrForeignKey)
				}
				if txn.Result() != concurrency.ResultFailure {
					t.Errorf("Result() got %s want %s", txn.Result(), concurrency.ResultFailure)
				}
				env.tm.EndTransaction(txn)
				env.checkRows(t, src, values([]int{100, 1}, []int{101, 1}, []int{102, 2}))
				continue
			}

			if err != nil {
				t.Fatalf("%s/%s: failed with %s", c.update, c.del, err)
			}
			if env.tm.EndTransaction(txn) != concurrency.ResultSuccess {
				t.Fatalf("EndTransaction() failed")
			}
			if del {
				env.checkRows(t, src, c.deleteRows)
			} else {
				env.checkRows(t, src, c.updateRows)
			}
		}
	}
}

func TestInsertForeignKey(t *testing.T) {
	env := newEnv(t)
	_, src := fkTables(t, env, storage.FKNoAction, storage.FKNoAction)

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	_, err := env.tm.InsertTuple(txn, src, row(t, src, 200, 7))
	if !errors.Is(err, storage.ErrForeignKey) {
		t.Errorf("InsertTuple() got %v want %s", err, storage.ErrForeignKey)
	}
	env.tm.EndTransaction(txn)
}

func TestTriggersFire(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())

	var fired []string
	record := func(td *storage.TriggerData) (*sql.Tuple, error) {
		fired = append(fired, td.Trigger.Name)
		return nil, nil
	}
	dt.AddTrigger(&storage.Trigger{
		Oid:  40,
		Name: "after_insert",
		Type: storage.RowTrigger | storage.AfterTrigger | storage.InsertTrigger,
		Func: record,
	})
	dt.AddTrigger(&storage.Trigger{
		Oid:  41,
		Name: "commit_delete",
		Type: storage.RowTrigger | storage.CommitTrigger | storage.DeleteTrigger,
		Func: record,
	})

	env.insert(t, dt, []int{1, 10})

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	loc, _, err := env.tm.LookupTuple(txn, dt, []sql.Value{sql.IntegerValue(1)})
	if err != nil {
		t.Fatalf("LookupTuple() failed with %s", err)
	}
	err = env.tm.DeleteTuple(txn, dt, loc)
	if err != nil {
		t.Fatalf("DeleteTuple() failed with %s", err)
	}
	if len(fired) != 1 {
		t.Errorf("commit trigger fired before commit: %v", fired)
	}
	env.tm.CommitTransaction(txn)

	want := []string{"after_insert", "commit_delete"}
	if !testutil.DeepEqual(fired, want) {
		t.Errorf("fired got %v want %v", fired, want)
	}
}

func TestObjectRecords(t *testing.T) {
	env := newEnv(t)
	dt := env.newTable(t, 10, "t", testSchema())

	txn := env.tm.BeginTransaction(concurrency.Serializable)
	txn.RecordCreate(env.db.Oid(), dt.Oid(), storage.InvalidOid)
	env.tm.AbortTransaction(txn)
	if _, err := env.db.GetTableWithOid(dt.Oid()); err == nil {
		t.Errorf("table created by aborted transaction still exists")
	}

	dt = env.newTable(t, 11, "t2", testSchema())
	txn = env.tm.BeginTransaction(concurrency.Serializable)
	txn.RecordDrop(env.db.Oid(), dt.Oid(), storage.InvalidOid)
	if _, err := env.db.GetTableWithOid(dt.Oid()); err != nil {
		t.Errorf("table dropped before commit")
	}
	env.tm.CommitTransaction(txn)
	if _, err := env.db.GetTableWithOid(dt.Oid()); err == nil {
		t.Errorf("table dropped by committed transaction still exists")
	}
	if env.tm.ActiveTransactions() != 0 {
		t.Errorf("ActiveTransactions() got %d want 0", env.tm.ActiveTransactions())
	}
}
