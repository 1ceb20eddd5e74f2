package storage

import (
	"sync"

	"github.com/cmu-db/peloton-sub010/sql"
)

// Tile stores a subset of the columns of a tile group for every slot.
type Tile struct {
	mu       sync.RWMutex
	columns  []int
	capacity int
	values   []sql.Value
}

func newTile(columns []int, capacity int) *Tile {
	return &Tile{
		columns:  columns,
		capacity: capacity,
		values:   make([]sql.Value, len(columns)*capacity),
	}
}

// Columns returns the table columns held by the tile.
func (t *Tile) Columns() []int {
	return t.columns
}

func (t *Tile) get(slot Oid, off int) sql.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.values[int(slot)*len(t.columns)+off]
}

func (t *Tile) set(slot Oid, off int, v sql.Value) {
	t.mu.Lock()
	t.values[int(slot)*len(t.columns)+off] = v
	t.mu.Unlock()
}
