package storage

import (
	"fmt"
	"strings"
	"sync"
)

// Database is an arena of tables: each table lives in a slot, and a dropped
// table leaves its slot empty.
type Database struct {
	mu        sync.RWMutex
	oid       Oid
	name      string
	tables    []*DataTable
	tableSlot map[Oid]int
}

func NewDatabase(oid Oid, name string) *Database {
	return &Database{
		oid:       oid,
		name:      name,
		tableSlot: map[Oid]int{},
	}
}

func (db *Database) Oid() Oid {
	return db.oid
}

func (db *Database) Name() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.name
}

func (db *Database) SetName(name string) {
	db.mu.Lock()
	db.name = name
	db.mu.Unlock()
}

func (db *Database) AddTable(dt *DataTable) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.tableSlot[dt.Oid()]; ok {
		return fmt.Errorf("storage: database %s: table %d already exists", db.name, dt.Oid())
	}
	db.tableSlot[dt.Oid()] = len(db.tables)
	db.tables = append(db.tables, dt)
	return nil
}

func (db *Database) GetTableWithOid(oid Oid) (*DataTable, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	slot, ok := db.tableSlot[oid]
	if !ok {
		return nil, fmt.Errorf("storage: database %s: table %d not found", db.name, oid)
	}
	return db.tables[slot], nil
}

func (db *Database) GetTableWithName(name string) (*DataTable, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, dt := range db.tables {
		if dt != nil && strings.EqualFold(dt.Name(), name) {
			return dt, nil
		}
	}
	return nil, fmt.Errorf("storage: database %s: table %s not found", db.name, name)
}

// DropTableWithOid empties the slot of the table and returns the table.
func (db *Database) DropTableWithOid(oid Oid) (*DataTable, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	slot, ok := db.tableSlot[oid]
	if !ok {
		return nil, fmt.Errorf("storage: database %s: table %d not found", db.name, oid)
	}
	dt := db.tables[slot]
	db.tables[slot] = nil
	delete(db.tableSlot, oid)
	return dt, nil
}

// Tables returns the live tables in the order they were added.
func (db *Database) Tables() []*DataTable {
	db.mu.RLock()
	defer db.mu.RUnlock()

	tables := make([]*DataTable, 0, len(db.tableSlot))
	for _, dt := range db.tables {
		if dt != nil {
			tables = append(tables, dt)
		}
	}
	return tables
}

func (db *Database) TableCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.tableSlot)
}

func (db *Database) String() string {
	return fmt.Sprintf("database %d %s", db.oid, db.Name())
}
