package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/groupcache/lru"

	"github.com/cmu-db/peloton-sub010/storage"
)

// Statement is a prepared statement: its text and the tables its plan reads
// or writes. Once one of the tables changes, the plan must be rebuilt before
// the statement runs again.
type Statement struct {
	Query     string
	TableOids []storage.Oid
	Plan      interface{}

	replan atomic.Bool
}

func NewStatement(query string, tableOids []storage.Oid, plan interface{}) *Statement {
	return &Statement{
		Query:     query,
		TableOids: tableOids,
		Plan:      plan,
	}
}

func (stmt *Statement) NeedsReplan() bool {
	return stmt.replan.Load()
}

// SetPlan installs a rebuilt plan and clears the replan mark. A plan which
// uses different tables needs a new statement added to the cache instead.
func (stmt *Statement) SetPlan(plan interface{}) {
	stmt.Plan = plan
	stmt.replan.Store(false)
}

func (stmt *Statement) String() string {
	return fmt.Sprintf("%q tables: %v", stmt.Query, stmt.TableOids)
}

func queryKey(query string) uint64 {
	return xxhash.ChecksumString64(query)
}

// StatementCache is a bounded LRU cache of statements keyed by query text.
type StatementCache struct {
	mutex  sync.Mutex
	lru    *lru.Cache
	tables map[storage.Oid]map[uint64]*Statement
}

func NewStatementCache(size int) *StatementCache {
	sc := &StatementCache{
		lru:    lru.New(size),
		tables: map[storage.Oid]map[uint64]*Statement{},
	}
	sc.lru.OnEvicted = func(key lru.Key, val interface{}) {
		sc.unindex(key.(uint64), val.(*Statement))
	}
	return sc
}

func (sc *StatementCache) unindex(key uint64, stmt *Statement) {
	for _, oid := range stmt.TableOids {
		stmts, ok := sc.tables[oid]
		if !ok || stmts[key] != stmt {
			continue
		}
		delete(stmts, key)
		if len(stmts) == 0 {
			delete(sc.tables, oid)
		}
	}
}

// Add caches stmt, replacing any statement with the same query.
func (sc *StatementCache) Add(stmt *Statement) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	key := queryKey(stmt.Query)
	if val, ok := sc.lru.Get(key); ok {
		sc.unindex(key, val.(*Statement))
	}
	sc.lru.Add(key, stmt)
	for _, oid := range stmt.TableOids {
		stmts, ok := sc.tables[oid]
		if !ok {
			stmts = map[uint64]*Statement{}
			sc.tables[oid] = stmts
		}
		stmts[key] = stmt
	}
}

// Lookup returns the cached statement for query; the caller must check
// NeedsReplan before running its plan.
func (sc *StatementCache) Lookup(query string) (*Statement, bool) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	val, ok := sc.lru.Get(queryKey(query))
	if !ok {
		return nil, false
	}
	stmt := val.(*Statement)
	if stmt.Query != query {
		return nil, false
	}
	return stmt, true
}

// InvalidateTableOid marks every statement using the table oid as needing a
// new plan and returns how many were not already marked. Statements stay
// indexed by their tables until evicted or replaced, so a statement replanned
// with SetPlan is marked again by the next change to one of its tables.
func (sc *StatementCache) InvalidateTableOid(oid storage.Oid) int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	var n int
	for _, stmt := range sc.tables[oid] {
		if stmt.replan.CompareAndSwap(false, true) {
			n += 1
		}
	}
	return n
}

func (sc *StatementCache) Len() int {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.lru.Len()
}

func (sc *StatementCache) Clear() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	sc.lru.Clear()
	sc.tables = map[storage.Oid]map[uint64]*Statement{}
}
