package catalog

import (
	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

// RecoverStorageObjects rebuilds the storage of every user table of the
// database dbOid from its catalog rows: schema, layouts, indexes and triggers,
// then the foreign keys between the tables. The tables are empty; their tuples
// are recovered separately.
func (c *Catalog) RecoverStorageObjects(txn *concurrency.TransactionContext,
	dbOid storage.Oid) ([]*storage.DataTable, error) {

	db, err := c.st.GetDatabaseWithOid(dbOid)
	if err != nil {
		return nil, errorf(NotFound, "%s", err)
	}
	tables, err := c.GetTableObjects(txn, dbOid)
	if err != nil {
		return nil, err
	}

	var recovered []*storage.DataTable
	var entries []*TableEntry
	for _, te := range tables {
		if te.SchemaName == CatalogSchemaName {
			continue
		}
		if _, err := db.GetTableWithOid(te.Oid); err == nil {
			continue
		}

		dt, err := c.recoverTable(te)
		if err != nil {
			return nil, err
		}
		err = db.AddTable(dt)
		if err != nil {
			dt.DropTileGroups()
			return nil, errorf(Internal, "%s", err)
		}
		c.AdvanceOid(te.Oid)
		recovered = append(recovered, dt)
		entries = append(entries, te)
	}

	for _, te := range entries {
		constraints, err := te.Constraints()
		if err != nil {
			return nil, err
		}
		for _, ce := range constraints {
			c.AdvanceOid(ce.Oid)
			if ce.Type != sql.ForeignConstraint {
				continue
			}
			src, err := c.st.GetTableWithOid(dbOid, ce.TableOid)
			if err != nil {
				return nil, errorf(Internal, "%s", err)
			}
			sink, err := c.st.GetTableWithOid(dbOid, ce.FKSinkTableOid)
			if err != nil {
				return nil, errorf(Internal, "foreign key %s: %s", ce.Name, err)
			}
			fk := foreignKey(ce)
			src.AddForeignKey(fk)
			sink.RegisterForeignKeySource(fk)
		}
	}

	log.WithFields(log.Fields{
		"database": dbOid,
		"tables":   len(recovered),
	}).Info("catalog: recovered storage objects")
	return recovered, nil
}

func (c *Catalog) recoverTable(te *TableEntry) (*storage.DataTable, error) {
	s, err := te.Schema()
	if err != nil {
		return nil, err
	}
	dt := storage.NewDataTable(c.st, te.DatabaseOid, te.Oid, te.Name, s,
		c.opts.TuplesPerTileGroup, c.opts.DefaultLayout, false)

	layouts, err := te.Layouts()
	if err != nil {
		return nil, err
	}
	for _, le := range layouts {
		if le.Oid < storage.FirstHybridLayoutOid {
			continue
		}
		cm, err := storage.DeserializeColumnMap(le.ColumnMap)
		if err != nil {
			return nil, errorf(Internal, "table %s: layout %d: %s", te.Name, le.Oid, err)
		}
		l, err := storage.NewHybridLayout(le.Oid, te.Oid, cm)
		if err != nil {
			return nil, errorf(Internal, "table %s: layout %d: %s", te.Name, le.Oid, err)
		}
		err = dt.AddLayout(l)
		if err != nil {
			return nil, errorf(Internal, "%s", err)
		}
	}
	err = dt.SetDefaultLayout(te.DefaultLayoutOid)
	if err != nil {
		return nil, errorf(Internal, "%s", err)
	}

	indexes, err := te.Indexes()
	if err != nil {
		return nil, err
	}
	for _, ie := range indexes {
		md := storage.NewIndexMetadata(ie.Name, ie.Oid, te.Oid, te.DatabaseOid, ie.Type,
			ie.Constraint, s, ie.KeyAttrs, ie.UniqueKeys)
		dt.AddIndex(storage.NewIndex(md))
		c.AdvanceOid(ie.Oid)
	}

	triggers, err := te.Triggers()
	if err != nil {
		return nil, err
	}
	for _, tre := range triggers {
		trig, err := c.storageTrigger(tre, s)
		if err != nil {
			return nil, err
		}
		dt.AddTrigger(trig)
		c.AdvanceOid(tre.Oid)
	}
	return dt, nil
}
