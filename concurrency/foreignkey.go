package concurrency

import (
	"fmt"

	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

type reference struct {
	location storage.ItemPointer
	tuple    *sql.Tuple
}

// CheckForeignKeySrcAndCascade runs before oldTuple of sink is deleted
// (newTuple is nil) or replaced by newTuple. For every foreign key that
// references sink and every visible row still holding the old key, it applies
// the action of the foreign key: NO ACTION and RESTRICT fail, CASCADE deletes
// or updates the referencing row, SET NULL and SET DEFAULT update it.
func (tm *TransactionManager) CheckForeignKeySrcAndCascade(txn *TransactionContext,
	sink *storage.DataTable, oldTuple, newTuple *sql.Tuple) error {

	for _, fk := range sink.ForeignKeySources() {
		key := oldTuple.Project(fk.SinkColumns)
		if hasNull(key) {
			continue
		}
		if newTuple != nil && sql.CompareValues(key, newTuple.Project(fk.SinkColumns)) == 0 {
			continue
		}

		src, err := tm.st.GetTableWithOid(sink.DatabaseOid(), fk.SourceTableOid)
		if err != nil {
			return err
		}
		refs, err := tm.findReferences(txn, src, fk.SourceColumns, key)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			continue
		}

		action := fk.DeleteAction
		if newTuple != nil {
			action = fk.UpdateAction
		}
		for _, ref := range refs {
			switch action {
			case storage.FKCascade:
				if newTuple == nil {
					err = tm.deleteVersion(txn, src, ref.location, ref.tuple, true)
				} else {
					t := ref.tuple.Copy()
					for idx, col := range fk.SourceColumns {
						err = t.SetValue(col, newTuple.GetValue(fk.SinkColumns[idx]))
						if err != nil {
							break
						}
					}
					if err == nil {
						_, err = tm.updateTuple(txn, src, ref.location, t, false)
					}
				}
			case storage.FKSetNull, storage.FKSetDefault:
				t := ref.tuple.Copy()
				for _, col := range fk.SourceColumns {
					c := src.Schema().Column(col)
					var v sql.Value = sql.Null(c.Type)
					if action == storage.FKSetDefault {
						if def, ok := c.Default(); ok {
							v = def
						}
					}
					err = t.SetValue(col, v)
					if err != nil {
						break
					}
				}
				if err == nil {
					_, err = tm.updateTuple(txn, src, ref.location, t, false)
				}
			default:
				err = fmt.Errorf("concurrency: table %s: %w: %s: key %v still referenced from table %s",
					sink.Name(), storage.ErrForeignKey, fk.Name, key, src.Name())
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func hasNull(key []sql.Value) bool {
	for _, v := range key {
		if sql.IsNull(v) {
			return true
		}
	}
	return false
}

// findReferences returns the rows of src visible to txn whose cols equal key,
// using an index on cols if src has one.
func (tm *TransactionManager) findReferences(txn *TransactionContext, src *storage.DataTable,
	cols []int, key []sql.Value) ([]reference, error) {

	var refs []reference
	collect := func(location storage.ItemPointer, t *sql.Tuple) error {
		if sql.CompareValues(t.Project(cols), key) == 0 {
			refs = append(refs, reference{location: location, tuple: t})
		}
		return nil
	}

	var err error
	if idx, ok := src.IndexOnColumns(cols); ok {
		err = tm.ScanIndex(txn, src, idx, key, collect)
	} else {
		err = tm.ScanTable(txn, src, collect)
	}
	if err != nil {
		return nil, err
	}
	return refs, nil
}
