package storage

import (
	"fmt"

	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage/encode"
)

// TileGroup is a batch of tuple slots stored in the tiles described by one
// layout, plus the version header of every slot.
type TileGroup struct {
	id          Oid
	databaseOid Oid
	tableOid    Oid
	schema      *sql.Schema
	layout      *Layout
	header      *TileGroupHeader
	tiles       []*Tile
}

func NewTileGroup(id, databaseOid, tableOid Oid, schema *sql.Schema, layout *Layout,
	capacity int) *TileGroup {

	if layout.ColumnCount() != schema.ColumnCount() {
		panic(fmt.Sprintf("storage: layout has %d columns; schema has %d", layout.ColumnCount(),
			schema.ColumnCount()))
	}

	tg := &TileGroup{
		id:          id,
		databaseOid: databaseOid,
		tableOid:    tableOid,
		schema:      schema,
		layout:      layout,
		header:      NewTileGroupHeader(capacity),
		tiles:       make([]*Tile, layout.TileCount()),
	}
	for tile := range tg.tiles {
		tg.tiles[tile] = newTile(layout.TileColumns(tile), capacity)
	}
	return tg
}

func (tg *TileGroup) ID() Oid {
	return tg.id
}

func (tg *TileGroup) DatabaseOid() Oid {
	return tg.databaseOid
}

func (tg *TileGroup) TableOid() Oid {
	return tg.tableOid
}

func (tg *TileGroup) Schema() *sql.Schema {
	return tg.schema
}

func (tg *TileGroup) Layout() *Layout {
	return tg.layout
}

func (tg *TileGroup) Header() *TileGroupHeader {
	return tg.header
}

func (tg *TileGroup) Capacity() int {
	return tg.header.Capacity()
}

func (tg *TileGroup) TileCount() int {
	return len(tg.tiles)
}

func (tg *TileGroup) Tile(tile int) *Tile {
	return tg.tiles[tile]
}

// NextTupleSlot is the number of slots which have been handed out.
func (tg *TileGroup) NextTupleSlot() Oid {
	return tg.header.GetCurrentNextTupleSlot()
}

func (tg *TileGroup) ActiveTupleCount() int {
	return tg.header.GetActiveTupleCount()
}

// InsertTuple copies t into the next free slot and returns the slot, or
// InvalidOid if the tile group is full. The slot is left unowned with its
// version metadata unset; the transaction manager installs it.
func (tg *TileGroup) InsertTuple(t *sql.Tuple) Oid {
	slot := tg.header.GetNextEmptyTupleSlot()
	if slot == InvalidOid {
		return InvalidOid
	}
	if t != nil {
		tg.CopyIn(slot, t)
	}
	return slot
}

// CopyIn writes every value of t into slot.
func (tg *TileGroup) CopyIn(slot Oid, t *sql.Tuple) {
	for col, v := range t.Values() {
		tg.SetValue(slot, col, v)
	}
}

func (tg *TileGroup) GetValue(slot Oid, col int) sql.Value {
	tc := tg.layout.Locate(col)
	return tg.tiles[tc.Tile].get(slot, tc.Offset)
}

func (tg *TileGroup) SetValue(slot Oid, col int, v sql.Value) {
	tc := tg.layout.Locate(col)
	tg.tiles[tc.Tile].set(slot, tc.Offset, v)
}

// CopyTuple returns a new tuple holding the values stored in slot.
func (tg *TileGroup) CopyTuple(slot Oid) *sql.Tuple {
	t := sql.NewTuple(tg.schema)
	for col := 0; col < tg.schema.ColumnCount(); col++ {
		v := tg.GetValue(slot, col)
		if v != nil {
			err := t.SetValue(col, v)
			if err != nil {
				panic(fmt.Sprintf("storage: tile group %d slot %d: %s", tg.id, slot, err))
			}
		}
	}
	return t
}

// Values returns the values stored in slot, without a tuple.
func (tg *TileGroup) Values(slot Oid) []sql.Value {
	vals := make([]sql.Value, tg.schema.ColumnCount())
	for col := range vals {
		vals[col] = tg.GetValue(slot, col)
	}
	return vals
}

// SerializeTo writes the tile group metadata: the layout oid and the number of
// allocated slots.
func (tg *TileGroup) SerializeTo(out *encode.Output) {
	out.WriteInt(int32(tg.layout.Oid()))
	out.WriteInt(int32(tg.Capacity()))
}

// DeserializeTileGroupMetadata reads the metadata written by SerializeTo.
func DeserializeTileGroupMetadata(in *encode.Input) (Oid, int, error) {
	layoutOid := Oid(in.ReadInt())
	capacity := int(in.ReadInt())
	if in.Err() != nil {
		return InvalidOid, 0, in.Err()
	}
	if capacity <= 0 {
		return InvalidOid, 0, fmt.Errorf("storage: bad tile group capacity: %d", capacity)
	}
	return layoutOid, capacity, nil
}

func (tg *TileGroup) String() string {
	return fmt.Sprintf("tile group %d of table %d: %d of %d slots, %s", tg.id, tg.tableOid,
		tg.NextTupleSlot(), tg.Capacity(), tg.layout.Type())
}
