package storage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cmu-db/peloton-sub010/sql"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrForeignKey   = errors.New("foreign key violation")
	ErrConstraint   = errors.New("constraint violation")
)

// VersionChecker answers visibility questions for one transaction. The
// transaction manager implements it; storage uses it to check unique keys and
// foreign keys without depending on the transaction manager.
type VersionChecker interface {
	// IsOccupied reports whether the newest version at location blocks the
	// insertion of another tuple with the same unique key.
	IsOccupied(location ItemPointer) bool
	// IsVisible reports whether some version in the chain starting at location
	// is visible.
	IsVisible(location ItemPointer) bool
	// ClaimSlot marks the new slot at location as an uncommitted insert. It is
	// called before the slot is added to any index, so a concurrent insert of
	// the same unique key finds it occupied.
	ClaimSlot(location ItemPointer)
}

// DataTable owns the tile groups of a table, its indexes, its foreign keys and
// its triggers. The structural lock guards the set of tile groups, layouts and
// indexes; tuple slots themselves are guarded by their headers.
type DataTable struct {
	mu sync.RWMutex

	manager            *Manager
	databaseOid        Oid
	oid                Oid
	name               string
	schema             *sql.Schema
	tuplesPerTileGroup int
	isCatalog          bool

	tileGroups    []*TileGroup
	tileGroupSlot map[Oid]int

	defaultLayout *Layout
	layouts       map[Oid]*Layout
	nextLayoutOid Oid

	indexes     []Index
	foreignKeys []*ForeignKey
	fkSources   []*ForeignKey
	triggers    TriggerList
}

func NewDataTable(m *Manager, databaseOid, oid Oid, name string, schema *sql.Schema,
	tuplesPerTileGroup int, layoutType LayoutType, isCatalog bool) *DataTable {

	if tuplesPerTileGroup <= 0 {
		panic(fmt.Sprintf("storage: table %s: tuples per tile group must be positive: %d", name,
			tuplesPerTileGroup))
	}

	dt := &DataTable{
		manager:            m,
		databaseOid:        databaseOid,
		oid:                oid,
		name:               name,
		schema:             schema,
		tuplesPerTileGroup: tuplesPerTileGroup,
		isCatalog:          isCatalog,
		tileGroupSlot:      map[Oid]int{},
		layouts:            map[Oid]*Layout{},
		nextLayoutOid:      FirstHybridLayoutOid,
	}

	row := NewRowLayout(schema.ColumnCount()).ForTable(RowStoreLayoutOid, oid)
	col := NewColumnLayout(schema.ColumnCount()).ForTable(ColumnStoreLayoutOid, oid)
	dt.layouts[row.Oid()] = row
	dt.layouts[col.Oid()] = col
	if layoutType == ColumnLayout {
		dt.defaultLayout = col
	} else {
		dt.defaultLayout = row
	}

	dt.AddDefaultTileGroup()
	return dt
}

func (dt *DataTable) Oid() Oid {
	return dt.oid
}

func (dt *DataTable) DatabaseOid() Oid {
	return dt.databaseOid
}

func (dt *DataTable) Name() string {
	return dt.name
}

func (dt *DataTable) Schema() *sql.Schema {
	return dt.schema
}

func (dt *DataTable) IsCatalog() bool {
	return dt.isCatalog
}

func (dt *DataTable) TuplesPerTileGroup() int {
	return dt.tuplesPerTileGroup
}

func (dt *DataTable) String() string {
	return fmt.Sprintf("table %d %s%s", dt.oid, dt.name, dt.schema)
}

// Tile groups

// AddDefaultTileGroup appends an empty tile group built with the default layout
// and returns its id.
func (dt *DataTable) AddDefaultTileGroup() Oid {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	tg := dt.newTileGroup(dt.defaultLayout, dt.tuplesPerTileGroup)
	dt.addTileGroup(tg)
	return tg.ID()
}

func (dt *DataTable) newTileGroup(layout *Layout, capacity int) *TileGroup {
	return NewTileGroup(dt.manager.NextTileGroupID(), dt.databaseOid, dt.oid, dt.schema, layout,
		capacity)
}

func (dt *DataTable) addTileGroup(tg *TileGroup) {
	dt.tileGroupSlot[tg.ID()] = len(dt.tileGroups)
	dt.tileGroups = append(dt.tileGroups, tg)
	dt.manager.AddTileGroup(tg)
}

// NewTileGroupForLayout builds, but does not add, a tile group using the layout
// layoutOid of the table.
func (dt *DataTable) NewTileGroupForLayout(layoutOid Oid, capacity int) (*TileGroup, error) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	layout, ok := dt.layouts[layoutOid]
	if !ok {
		return nil, fmt.Errorf("storage: table %s: layout %d not found", dt.name, layoutOid)
	}
	return dt.newTileGroup(layout, capacity), nil
}

// AddTileGroup appends tg, which must belong to this table.
func (dt *DataTable) AddTileGroup(tg *TileGroup) {
	if tg.TableOid() != dt.oid {
		panic(fmt.Sprintf("storage: table %s: adding tile group of table %d", dt.name,
			tg.TableOid()))
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.addTileGroup(tg)
}

// DropTileGroups removes every tile group from the table. It is used when the
// storage of a table is rebuilt; indexes are left alone.
func (dt *DataTable) DropTileGroups() {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	for _, tg := range dt.tileGroups {
		dt.manager.DropTileGroup(tg.ID())
	}
	dt.tileGroups = nil
	dt.tileGroupSlot = map[Oid]int{}
}

// ReplaceTileGroups swaps every tile group of the table for tgs, which must
// belong to it, under one hold of the structural lock; no reader sees a
// partial set. With no tgs, the table gets one empty tile group.
func (dt *DataTable) ReplaceTileGroups(tgs []*TileGroup) {
	for _, tg := range tgs {
		if tg.TableOid() != dt.oid {
			panic(fmt.Sprintf("storage: table %s: adding tile group of table %d", dt.name,
				tg.TableOid()))
		}
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	for _, tg := range dt.tileGroups {
		dt.manager.DropTileGroup(tg.ID())
	}
	dt.tileGroups = nil
	dt.tileGroupSlot = map[Oid]int{}
	for _, tg := range tgs {
		dt.addTileGroup(tg)
	}
	if len(dt.tileGroups) == 0 {
		dt.addTileGroup(dt.newTileGroup(dt.defaultLayout, dt.tuplesPerTileGroup))
	}
}

func (dt *DataTable) TileGroupCount() int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return len(dt.tileGroups)
}

func (dt *DataTable) GetTileGroup(offset int) *TileGroup {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	if offset < 0 || offset >= len(dt.tileGroups) {
		return nil
	}
	return dt.tileGroups[offset]
}

func (dt *DataTable) GetTileGroupByID(id Oid) *TileGroup {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	slot, ok := dt.tileGroupSlot[id]
	if !ok {
		return nil
	}
	return dt.tileGroups[slot]
}

// TileGroups returns the current tile groups of the table.
func (dt *DataTable) TileGroups() []*TileGroup {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return append([]*TileGroup(nil), dt.tileGroups...)
}

// TupleCount counts the slots handed out across every tile group.
func (dt *DataTable) TupleCount() int {
	cnt := 0
	for _, tg := range dt.TileGroups() {
		cnt += int(tg.NextTupleSlot())
	}
	return cnt
}

// Layouts

func (dt *DataTable) DefaultLayout() *Layout {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.defaultLayout
}

func (dt *DataTable) GetLayout(oid Oid) (*Layout, bool) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	l, ok := dt.layouts[oid]
	return l, ok
}

func (dt *DataTable) Layouts() []*Layout {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	var layouts []*Layout
	for oid := Oid(0); oid < dt.nextLayoutOid; oid++ {
		if l, ok := dt.layouts[oid]; ok {
			layouts = append(layouts, l)
		}
	}
	return layouts
}

// NextLayoutOid reserves an oid for a new hybrid layout of the table.
func (dt *DataTable) NextLayoutOid() Oid {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	oid := dt.nextLayoutOid
	dt.nextLayoutOid += 1
	return oid
}

func (dt *DataTable) AddLayout(l *Layout) error {
	if l.TableOid() != dt.oid || l.ColumnCount() != dt.schema.ColumnCount() {
		return fmt.Errorf("storage: table %s: layout %d does not fit", dt.name, l.Oid())
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()

	if _, ok := dt.layouts[l.Oid()]; ok {
		return fmt.Errorf("storage: table %s: layout %d already exists", dt.name, l.Oid())
	}
	dt.layouts[l.Oid()] = l
	if l.Oid() >= dt.nextLayoutOid {
		dt.nextLayoutOid = l.Oid() + 1
	}
	return nil
}

// SetDefaultLayout makes the layout oid the layout of new tile groups. Existing
// tile groups keep their layout.
func (dt *DataTable) SetDefaultLayout(oid Oid) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	l, ok := dt.layouts[oid]
	if !ok {
		return fmt.Errorf("storage: table %s: layout %d not found", dt.name, oid)
	}
	dt.defaultLayout = l
	return nil
}

func (dt *DataTable) DropLayout(oid Oid) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if oid == RowStoreLayoutOid || oid == ColumnStoreLayoutOid {
		return fmt.Errorf("storage: table %s: layout %d may not be dropped", dt.name, oid)
	}
	if _, ok := dt.layouts[oid]; !ok {
		return fmt.Errorf("storage: table %s: layout %d not found", dt.name, oid)
	}
	if dt.defaultLayout.Oid() == oid {
		return fmt.Errorf("storage: table %s: layout %d is the default layout", dt.name, oid)
	}
	for _, tg := range dt.tileGroups {
		if tg.Layout().Oid() == oid {
			return fmt.Errorf("storage: table %s: layout %d is in use", dt.name, oid)
		}
	}
	delete(dt.layouts, oid)
	return nil
}

// Indexes

func (dt *DataTable) AddIndex(idx Index) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.indexes = append(dt.indexes, idx)
}

func (dt *DataTable) GetIndexWithOid(oid Oid) (Index, bool) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	for _, idx := range dt.indexes {
		if idx.Oid() == oid {
			return idx, true
		}
	}
	return nil, false
}

func (dt *DataTable) DropIndexWithOid(oid Oid) (Index, error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	for i, idx := range dt.indexes {
		if idx.Oid() == oid {
			dt.indexes = append(dt.indexes[:i:i], dt.indexes[i+1:]...)
			return idx, nil
		}
	}
	return nil, fmt.Errorf("storage: table %s: index %d not found", dt.name, oid)
}

func (dt *DataTable) Indexes() []Index {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return append([]Index(nil), dt.indexes...)
}

func (dt *DataTable) IndexCount() int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return len(dt.indexes)
}

func (dt *DataTable) PrimaryIndex() (Index, bool) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	for _, idx := range dt.indexes {
		if idx.Metadata().Constraint == PrimaryKeyIndexConstraint {
			return idx, true
		}
	}
	return nil, false
}

// Foreign keys

// AddForeignKey adds fk, which references another table from this one.
func (dt *DataTable) AddForeignKey(fk *ForeignKey) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.foreignKeys = append(dt.foreignKeys, fk)
}

func (dt *DataTable) ForeignKeys() []*ForeignKey {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return append([]*ForeignKey(nil), dt.foreignKeys...)
}

func dropForeignKey(fks []*ForeignKey, oid Oid) ([]*ForeignKey, bool) {
	for idx, fk := range fks {
		if fk.Oid == oid {
			return append(fks[:idx:idx], fks[idx+1:]...), true
		}
	}
	return fks, false
}

func (dt *DataTable) DropForeignKey(oid Oid) bool {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	var ok bool
	dt.foreignKeys, ok = dropForeignKey(dt.foreignKeys, oid)
	return ok
}

// RegisterForeignKeySource records fk, which references this table from another
// table.
func (dt *DataTable) RegisterForeignKeySource(fk *ForeignKey) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	for _, src := range dt.fkSources {
		if src.Oid == fk.Oid {
			return
		}
	}
	dt.fkSources = append(dt.fkSources, fk)
}

func (dt *DataTable) ForeignKeySources() []*ForeignKey {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return append([]*ForeignKey(nil), dt.fkSources...)
}

func (dt *DataTable) DropForeignKeySource(oid Oid) bool {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	var ok bool
	dt.fkSources, ok = dropForeignKey(dt.fkSources, oid)
	return ok
}

// Triggers

func (dt *DataTable) Triggers() *TriggerList {
	return &dt.triggers
}

func (dt *DataTable) AddTrigger(trig *Trigger) {
	dt.triggers.AddTrigger(trig)
}

// Tuples

// GetEmptyTupleSlot copies t, which may be nil, into a free slot, adding a tile
// group when the last one is full.
func (dt *DataTable) GetEmptyTupleSlot(t *sql.Tuple) ItemPointer {
	for {
		dt.mu.RLock()
		var tg *TileGroup
		if len(dt.tileGroups) > 0 {
			tg = dt.tileGroups[len(dt.tileGroups)-1]
		}
		dt.mu.RUnlock()

		if tg != nil {
			slot := tg.InsertTuple(t)
			if slot != InvalidOid {
				return ItemPointer{Block: tg.ID(), Offset: slot}
			}
		}

		dt.mu.Lock()
		if len(dt.tileGroups) == 0 || dt.tileGroups[len(dt.tileGroups)-1] == tg {
			dt.addTileGroup(dt.newTileGroup(dt.defaultLayout, dt.tuplesPerTileGroup))
		}
		dt.mu.Unlock()
	}
}

// AcquireVersion returns an empty slot for a new version of some tuple.
func (dt *DataTable) AcquireVersion() ItemPointer {
	return dt.GetEmptyTupleSlot(nil)
}

// CheckConstraints checks the NOT NULL and CHECK constraints of t.
func (dt *DataTable) CheckConstraints(t *sql.Tuple) error {
	err := t.Validate()
	if err != nil {
		return fmt.Errorf("storage: table %s: %w: %s", dt.name, ErrConstraint, err)
	}
	return nil
}

// CheckForeignKeyConstraints checks that every foreign key of t references a
// visible tuple of its sink table. NULL references are not checked.
func (dt *DataTable) CheckForeignKeyConstraints(t *sql.Tuple, vc VersionChecker) error {
	for _, fk := range dt.ForeignKeys() {
		key := t.Project(fk.SourceColumns)
		hasNull := false
		for _, v := range key {
			if sql.IsNull(v) {
				hasNull = true
				break
			}
		}
		if hasNull {
			continue
		}

		sink, err := dt.manager.GetTableWithOid(dt.databaseOid, fk.SinkTableOid)
		if err != nil {
			return err
		}
		idx, ok := sink.indexOnColumns(fk.SinkColumns)
		if !ok {
			return fmt.Errorf("storage: table %s: no index for foreign key %s", dt.name, fk.Name)
		}

		found := false
		for _, cell := range idx.ScanKey(key) {
			if vc.IsVisible(UnpackItemPointer(cell.Load())) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("storage: table %s: %w: %s: key %v not present in table %s",
				dt.name, ErrForeignKey, fk.Name, key, sink.Name())
		}
	}
	return nil
}

// indexOnColumns returns an index whose key is exactly cols.
func (dt *DataTable) indexOnColumns(cols []int) (Index, bool) {
	for _, idx := range dt.Indexes() {
		attrs := idx.Metadata().KeyAttrs
		if len(attrs) != len(cols) {
			continue
		}
		match := true
		for i := range attrs {
			if attrs[i] != cols[i] {
				match = false
				break
			}
		}
		if match {
			return idx, true
		}
	}
	return nil, false
}

// IndexOnColumns returns an index of the table keyed by exactly cols.
func (dt *DataTable) IndexOnColumns(cols []int) (Index, bool) {
	return dt.indexOnColumns(cols)
}

// InsertInIndexes inserts t, stored at location, into every index. Unique
// indexes refuse the key if an occupied version already holds it. On failure
// no index keeps an entry for t.
func (dt *DataTable) InsertInIndexes(t *sql.Tuple, location ItemPointer,
	vc VersionChecker) (*atomic.Uint64, error) {

	cell := &atomic.Uint64{}
	cell.Store(location.Pack())

	occupied := func(c *atomic.Uint64) bool {
		return vc.IsOccupied(UnpackItemPointer(c.Load()))
	}

	indexes := dt.Indexes()
	for i, idx := range indexes {
		md := idx.Metadata()
		key := t.Project(md.KeyAttrs)

		var ok bool
		if md.UniqueKeys {
			ok = idx.CondInsertEntry(key, cell, occupied)
		} else {
			ok = idx.InsertEntry(key, cell)
		}
		if !ok {
			for _, prev := range indexes[:i] {
				prev.DeleteEntry(t.Project(prev.Metadata().KeyAttrs), cell)
			}
			return nil, fmt.Errorf("storage: table %s: %w: index %s: %v", dt.name,
				ErrDuplicateKey, md.Name, key)
		}
	}
	return cell, nil
}

// InsertInSecondaryIndexes adds entries for a new version of a tuple to every
// index, other than the primary index, whose key includes an updated column.
// The entries share the tuple's indirection cell.
func (dt *DataTable) InsertInSecondaryIndexes(t *sql.Tuple, updated []int,
	cell *atomic.Uint64, vc VersionChecker) error {

	occupied := func(c *atomic.Uint64) bool {
		return c != cell && vc.IsOccupied(UnpackItemPointer(c.Load()))
	}

	var inserted []Index
	for _, idx := range dt.Indexes() {
		md := idx.Metadata()
		if md.Constraint == PrimaryKeyIndexConstraint || !keyUpdated(md.KeyAttrs, updated) {
			continue
		}

		key := t.Project(md.KeyAttrs)
		if hasCell(idx.ScanKey(key), cell) {
			continue
		}

		if md.UniqueKeys {
			if !idx.CondInsertEntry(key, cell, occupied) {
				for _, prev := range inserted {
					prev.DeleteEntry(t.Project(prev.Metadata().KeyAttrs), cell)
				}
				return fmt.Errorf("storage: table %s: %w: index %s: %v", dt.name,
					ErrDuplicateKey, md.Name, key)
			}
		} else {
			idx.InsertEntry(key, cell)
		}
		inserted = append(inserted, idx)
	}
	return nil
}

func hasCell(cells []*atomic.Uint64, cell *atomic.Uint64) bool {
	for _, c := range cells {
		if c == cell {
			return true
		}
	}
	return false
}

func keyUpdated(attrs, updated []int) bool {
	for _, a := range attrs {
		for _, u := range updated {
			if a == u {
				return true
			}
		}
	}
	return false
}

// InsertTuple stores t in a new slot, claims it through vc and inserts it into
// every index. The caller installs the returned cell as the indirection of the
// slot. checkFK is false only during recovery, when referenced tables may not
// yet be loaded.
func (dt *DataTable) InsertTuple(t *sql.Tuple, vc VersionChecker,
	checkFK bool) (ItemPointer, *atomic.Uint64, error) {

	err := dt.CheckConstraints(t)
	if err != nil {
		return InvalidItemPointer, nil, err
	}
	if checkFK {
		err = dt.CheckForeignKeyConstraints(t, vc)
		if err != nil {
			return InvalidItemPointer, nil, err
		}
	}

	location := dt.GetEmptyTupleSlot(t)
	vc.ClaimSlot(location)
	cell, err := dt.InsertInIndexes(t, location, vc)
	if err != nil {
		return InvalidItemPointer, nil, err
	}
	return location, cell, nil
}

// InsertTupleAt claims location, which already holds a copy of t, and
// registers t in every index.
func (dt *DataTable) InsertTupleAt(t *sql.Tuple, location ItemPointer, vc VersionChecker,
	checkFK bool) (*atomic.Uint64, error) {

	err := dt.CheckConstraints(t)
	if err != nil {
		return nil, err
	}
	if checkFK {
		err = dt.CheckForeignKeyConstraints(t, vc)
		if err != nil {
			return nil, err
		}
	}
	vc.ClaimSlot(location)
	return dt.InsertInIndexes(t, location, vc)
}

// InstallVersion checks a new version t of a tuple and indexes it under every
// secondary index whose key it changes.
func (dt *DataTable) InstallVersion(t *sql.Tuple, updated []int, cell *atomic.Uint64,
	vc VersionChecker, checkFK bool) error {

	err := dt.CheckConstraints(t)
	if err != nil {
		return err
	}
	if checkFK {
		err = dt.CheckForeignKeyConstraints(t, vc)
		if err != nil {
			return err
		}
	}
	return dt.InsertInSecondaryIndexes(t, updated, cell, vc)
}

// GetTileGroupForLocation returns the tile group holding location.
func (dt *DataTable) GetTileGroupForLocation(location ItemPointer) *TileGroup {
	return dt.GetTileGroupByID(location.Block)
}
