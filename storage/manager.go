package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Manager owns every database and keeps a registry of every tile group by id.
type Manager struct {
	mu         sync.RWMutex
	databases  []*Database
	dbSlot     map[Oid]int
	tileGroups sync.Map
	nextTGID   atomic.Uint32
}

func NewManager() *Manager {
	return &Manager{
		dbSlot: map[Oid]int{},
	}
}

func (m *Manager) AddDatabase(db *Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dbSlot[db.Oid()]; ok {
		return fmt.Errorf("storage: database %d already exists", db.Oid())
	}
	m.dbSlot[db.Oid()] = len(m.databases)
	m.databases = append(m.databases, db)
	return nil
}

func (m *Manager) HasDatabase(oid Oid) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.dbSlot[oid]
	return ok
}

func (m *Manager) GetDatabaseWithOid(oid Oid) (*Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slot, ok := m.dbSlot[oid]
	if !ok {
		return nil, fmt.Errorf("storage: database %d not found", oid)
	}
	return m.databases[slot], nil
}

// DropDatabaseWithOid removes the database and unregisters the tile groups of
// its tables.
func (m *Manager) DropDatabaseWithOid(oid Oid) (*Database, error) {
	m.mu.Lock()
	slot, ok := m.dbSlot[oid]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("storage: database %d not found", oid)
	}
	db := m.databases[slot]
	m.databases[slot] = nil
	delete(m.dbSlot, oid)
	m.mu.Unlock()

	for _, dt := range db.Tables() {
		for _, tg := range dt.TileGroups() {
			m.DropTileGroup(tg.ID())
		}
	}
	return db, nil
}

func (m *Manager) Databases() []*Database {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dbs := make([]*Database, 0, len(m.dbSlot))
	for _, db := range m.databases {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

func (m *Manager) GetTableWithOid(dbOid, tableOid Oid) (*DataTable, error) {
	db, err := m.GetDatabaseWithOid(dbOid)
	if err != nil {
		return nil, err
	}
	return db.GetTableWithOid(tableOid)
}

func (m *Manager) GetIndexWithOid(dbOid, tableOid, indexOid Oid) (Index, error) {
	dt, err := m.GetTableWithOid(dbOid, tableOid)
	if err != nil {
		return nil, err
	}
	idx, ok := dt.GetIndexWithOid(indexOid)
	if !ok {
		return nil, fmt.Errorf("storage: table %s: index %d not found", dt.Name(), indexOid)
	}
	return idx, nil
}

func (m *Manager) NextTileGroupID() Oid {
	return Oid(m.nextTGID.Add(1))
}

func (m *Manager) AddTileGroup(tg *TileGroup) {
	m.tileGroups.Store(tg.ID(), tg)
}

func (m *Manager) DropTileGroup(id Oid) {
	m.tileGroups.Delete(id)
}

// GetTileGroup returns the tile group with id or nil.
func (m *Manager) GetTileGroup(id Oid) *TileGroup {
	tg, ok := m.tileGroups.Load(id)
	if !ok {
		return nil
	}
	return tg.(*TileGroup)
}

// Clear drops every database and tile group.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.databases = nil
	m.dbSlot = map[Oid]int{}
	m.mu.Unlock()

	m.tileGroups.Range(func(key, _ interface{}) bool {
		m.tileGroups.Delete(key)
		return true
	})
}
