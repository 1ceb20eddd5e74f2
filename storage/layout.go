package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type LayoutType int

const (
	RowLayout LayoutType = iota + 1
	ColumnLayout
	HybridLayout
)

const (
	RowStoreLayoutOid    Oid = 0
	ColumnStoreLayoutOid Oid = 1
	// Hybrid layouts of a table are numbered from FirstHybridLayoutOid.
	FirstHybridLayoutOid Oid = 2
)

func (lt LayoutType) String() string {
	switch lt {
	case RowLayout:
		return "row"
	case ColumnLayout:
		return "column"
	case HybridLayout:
		return "hybrid"
	}
	return fmt.Sprintf("layout-type-%d", int(lt))
}

func ParseLayoutType(s string) (LayoutType, error) {
	switch strings.ToLower(s) {
	case "row":
		return RowLayout, nil
	case "column":
		return ColumnLayout, nil
	case "hybrid":
		return HybridLayout, nil
	}
	return 0, fmt.Errorf("storage: unknown layout type: %s", s)
}

// TileColumn locates a table column inside a tile group: the tile which holds it
// and its position within that tile.
type TileColumn struct {
	Tile   int
	Offset int
}

// Layout maps the columns of a table onto the tiles of a tile group.
type Layout struct {
	oid        Oid
	tableOid   Oid
	layoutType LayoutType
	columnMap  []TileColumn
	tileCount  int
}

func NewRowLayout(numColumns int) *Layout {
	l := &Layout{
		oid:        RowStoreLayoutOid,
		tableOid:   InvalidOid,
		layoutType: RowLayout,
		columnMap:  make([]TileColumn, numColumns),
		tileCount:  1,
	}
	for col := range l.columnMap {
		l.columnMap[col] = TileColumn{Tile: 0, Offset: col}
	}
	return l
}

func NewColumnLayout(numColumns int) *Layout {
	l := &Layout{
		oid:        ColumnStoreLayoutOid,
		tableOid:   InvalidOid,
		layoutType: ColumnLayout,
		columnMap:  make([]TileColumn, numColumns),
		tileCount:  numColumns,
	}
	for col := range l.columnMap {
		l.columnMap[col] = TileColumn{Tile: col, Offset: 0}
	}
	return l
}

func NewLayout(lt LayoutType, numColumns int) (*Layout, error) {
	switch lt {
	case RowLayout:
		return NewRowLayout(numColumns), nil
	case ColumnLayout:
		return NewColumnLayout(numColumns), nil
	}
	return nil, fmt.Errorf("storage: %s layout needs a column map", lt)
}

// NewHybridLayout builds a layout from an explicit column map. Every tile must
// be used and the offsets within each tile must be 0 to n-1.
func NewHybridLayout(oid, tableOid Oid, columnMap []TileColumn) (*Layout, error) {
	if len(columnMap) == 0 {
		return nil, fmt.Errorf("storage: empty column map")
	}

	tiles := map[int][]int{}
	for _, tc := range columnMap {
		if tc.Tile < 0 || tc.Offset < 0 {
			return nil, fmt.Errorf("storage: bad column map entry: %v", tc)
		}
		tiles[tc.Tile] = append(tiles[tc.Tile], tc.Offset)
	}
	for tile := 0; tile < len(tiles); tile++ {
		offsets, ok := tiles[tile]
		if !ok {
			return nil, fmt.Errorf("storage: column map skips tile %d", tile)
		}
		sort.Ints(offsets)
		for idx, off := range offsets {
			if idx != off {
				return nil, fmt.Errorf("storage: column map has bad offsets for tile %d", tile)
			}
		}
	}

	l := &Layout{
		oid:        oid,
		tableOid:   tableOid,
		layoutType: HybridLayout,
		columnMap:  append([]TileColumn(nil), columnMap...),
		tileCount:  len(tiles),
	}
	if l.tileCount == 1 {
		l.layoutType = RowLayout
	} else if l.tileCount == len(columnMap) {
		l.layoutType = ColumnLayout
	}
	return l, nil
}

// ForTable returns a copy of the layout bound to a table with the given oid.
func (l *Layout) ForTable(oid, tableOid Oid) *Layout {
	return &Layout{
		oid:        oid,
		tableOid:   tableOid,
		layoutType: l.layoutType,
		columnMap:  l.columnMap,
		tileCount:  l.tileCount,
	}
}

func (l *Layout) Oid() Oid {
	return l.oid
}

func (l *Layout) TableOid() Oid {
	return l.tableOid
}

func (l *Layout) Type() LayoutType {
	return l.layoutType
}

func (l *Layout) ColumnCount() int {
	return len(l.columnMap)
}

func (l *Layout) TileCount() int {
	return l.tileCount
}

func (l *Layout) Locate(col int) TileColumn {
	return l.columnMap[col]
}

func (l *Layout) IsRowStore() bool {
	return l.layoutType == RowLayout
}

func (l *Layout) IsColumnStore() bool {
	return l.layoutType == ColumnLayout
}

// TileColumns returns the table columns held by tile, in tile order.
func (l *Layout) TileColumns(tile int) []int {
	var cols []int
	for col, tc := range l.columnMap {
		if tc.Tile == tile {
			cols = append(cols, col)
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		return l.columnMap[cols[i]].Offset < l.columnMap[cols[j]].Offset
	})
	return cols
}

// SerializeColumnMap encodes the column map as column:tile:offset triples, each
// followed by a colon.
func (l *Layout) SerializeColumnMap() string {
	var b strings.Builder
	for col, tc := range l.columnMap {
		fmt.Fprintf(&b, "%d:%d:%d:", col, tc.Tile, tc.Offset)
	}
	return b.String()
}

func DeserializeColumnMap(s string) ([]TileColumn, error) {
	fields := strings.Split(strings.TrimSuffix(s, ":"), ":")
	if len(fields)%3 != 0 {
		return nil, fmt.Errorf("storage: bad column map: %q", s)
	}

	columnMap := make([]TileColumn, len(fields)/3)
	seen := make([]bool, len(columnMap))
	for idx := 0; idx < len(fields); idx += 3 {
		var nums [3]int
		for n := 0; n < 3; n++ {
			i, err := strconv.Atoi(fields[idx+n])
			if err != nil {
				return nil, fmt.Errorf("storage: bad column map: %q: %s", s, err)
			}
			nums[n] = i
		}
		col := nums[0]
		if col < 0 || col >= len(columnMap) || seen[col] {
			return nil, fmt.Errorf("storage: bad column map: %q: column %d", s, col)
		}
		seen[col] = true
		columnMap[col] = TileColumn{Tile: nums[1], Offset: nums[2]}
	}
	return columnMap, nil
}

func (l *Layout) String() string {
	return fmt.Sprintf("layout %d (%s) of table %d: %s", l.oid, l.layoutType, l.tableOid,
		l.SerializeColumnMap())
}
