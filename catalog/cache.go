package catalog

import (
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/storage"
)

type cacheKey struct {
	c *Catalog
}

type tableOidKey struct {
	dbOid storage.Oid
	oid   storage.Oid
}

type tableNameKey struct {
	dbOid  storage.Oid
	schema string
	table  string
}

// txnCache holds the entries looked up by one transaction. It lives on the
// transaction and goes away with it.
type txnCache struct {
	databases     map[storage.Oid]*DatabaseEntry
	databaseNames map[string]*DatabaseEntry
	tables        map[tableOidKey]*TableEntry
	tableNames    map[tableNameKey]*TableEntry
}

func (c *Catalog) txnCache(txn *concurrency.TransactionContext) *txnCache {
	if tc, ok := txn.Value(cacheKey{c}).(*txnCache); ok {
		return tc
	}
	tc := &txnCache{
		databases:     map[storage.Oid]*DatabaseEntry{},
		databaseNames: map[string]*DatabaseEntry{},
		tables:        map[tableOidKey]*TableEntry{},
		tableNames:    map[tableNameKey]*TableEntry{},
	}
	txn.SetValue(cacheKey{c}, tc)
	return tc
}

func (tc *txnCache) addDatabase(de *DatabaseEntry) {
	tc.databases[de.Oid] = de
	tc.databaseNames[de.Name] = de
}

func (tc *txnCache) evictDatabase(de *DatabaseEntry) {
	delete(tc.databases, de.Oid)
	delete(tc.databaseNames, de.Name)
	for key, te := range tc.tables {
		if key.dbOid == de.Oid {
			tc.evictTable(te)
		}
	}
}

func (tc *txnCache) addTable(te *TableEntry) {
	tc.tables[tableOidKey{te.DatabaseOid, te.Oid}] = te
	tc.tableNames[tableNameKey{te.DatabaseOid, te.SchemaName, te.Name}] = te
}

func (tc *txnCache) evictTable(te *TableEntry) {
	delete(tc.tables, tableOidKey{te.DatabaseOid, te.Oid})
	delete(tc.tableNames, tableNameKey{te.DatabaseOid, te.SchemaName, te.Name})
}
