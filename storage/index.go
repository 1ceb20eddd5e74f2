package storage

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/google/btree"

	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage/encode"
)

type IndexType int

const (
	BTreeIndexType IndexType = iota + 1
	HashIndexType
)

func (it IndexType) String() string {
	switch it {
	case BTreeIndexType:
		return "BWTREE"
	case HashIndexType:
		return "HASH"
	}
	return fmt.Sprintf("index-type-%d", int(it))
}

// ParseIndexType accepts the ordered index names as aliases for the btree.
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToUpper(s) {
	case "BWTREE", "BTREE", "ART", "SKIPLIST":
		return BTreeIndexType, nil
	case "HASH":
		return HashIndexType, nil
	}
	return 0, fmt.Errorf("storage: unknown index type: %s", s)
}

type IndexConstraintType int

const (
	DefaultIndexConstraint IndexConstraintType = iota + 1
	PrimaryKeyIndexConstraint
	UniqueIndexConstraint
)

func (ict IndexConstraintType) String() string {
	switch ict {
	case DefaultIndexConstraint:
		return "DEFAULT"
	case PrimaryKeyIndexConstraint:
		return "PRIMARY_KEY"
	case UniqueIndexConstraint:
		return "UNIQUE"
	}
	return fmt.Sprintf("index-constraint-%d", int(ict))
}

type IndexMetadata struct {
	Name        string
	Oid         Oid
	TableOid    Oid
	DatabaseOid Oid
	Type        IndexType
	Constraint  IndexConstraintType
	TupleSchema *sql.Schema
	KeySchema   *sql.Schema
	KeyAttrs    []int
	UniqueKeys  bool
}

func NewIndexMetadata(name string, oid, tableOid, databaseOid Oid, it IndexType,
	ict IndexConstraintType, tupleSchema *sql.Schema, keyAttrs []int,
	unique bool) *IndexMetadata {

	return &IndexMetadata{
		Name:        name,
		Oid:         oid,
		TableOid:    tableOid,
		DatabaseOid: databaseOid,
		Type:        it,
		Constraint:  ict,
		TupleSchema: tupleSchema,
		KeySchema:   sql.CopySchema(tupleSchema, keyAttrs),
		KeyAttrs:    append([]int(nil), keyAttrs...),
		UniqueKeys:  unique,
	}
}

// EntryPredicate is evaluated against the existing entries of a key; a true
// result blocks a conditional insert.
type EntryPredicate func(cell *atomic.Uint64) bool

// Index maps keys to the indirection cells of the tuples with that key. A cell
// holds the packed ItemPointer of the newest version of the tuple.
type Index interface {
	Metadata() *IndexMetadata
	Oid() Oid
	Name() string

	InsertEntry(key []sql.Value, cell *atomic.Uint64) bool
	// CondInsertEntry inserts the entry unless some existing entry for key
	// satisfies pred.
	CondInsertEntry(key []sql.Value, cell *atomic.Uint64, pred EntryPredicate) bool
	DeleteEntry(key []sql.Value, cell *atomic.Uint64) bool
	ScanKey(key []sql.Value) []*atomic.Uint64
	ScanAllKeys() []*atomic.Uint64
	Count() int
}

func NewIndex(md *IndexMetadata) Index {
	switch md.Type {
	case BTreeIndexType:
		return &BTreeIndex{
			md:   md,
			tree: btree.New(16),
		}
	case HashIndexType:
		return &HashIndex{
			md:      md,
			buckets: map[uint64][]*indexItem{},
		}
	}
	panic(fmt.Sprintf("storage: unexpected index type: %d", md.Type))
}

type indexItem struct {
	key   []sql.Value
	cells []*atomic.Uint64
}

func (ii *indexItem) Less(item btree.Item) bool {
	return sql.CompareValues(ii.key, item.(*indexItem).key) < 0
}

func (ii *indexItem) remove(cell *atomic.Uint64) bool {
	for idx, c := range ii.cells {
		if c == cell {
			ii.cells = append(ii.cells[:idx], ii.cells[idx+1:]...)
			return true
		}
	}
	return false
}

func (ii *indexItem) blocked(pred EntryPredicate) bool {
	for _, c := range ii.cells {
		if pred(c) {
			return true
		}
	}
	return false
}

// BTreeIndex is an ordered index.
type BTreeIndex struct {
	md    *IndexMetadata
	mu    sync.RWMutex
	tree  *btree.BTree
	count int
}

func (bi *BTreeIndex) Metadata() *IndexMetadata {
	return bi.md
}

func (bi *BTreeIndex) Oid() Oid {
	return bi.md.Oid
}

func (bi *BTreeIndex) Name() string {
	return bi.md.Name
}

func (bi *BTreeIndex) item(key []sql.Value) *indexItem {
	it := bi.tree.Get(&indexItem{key: key})
	if it == nil {
		return nil
	}
	return it.(*indexItem)
}

func (bi *BTreeIndex) InsertEntry(key []sql.Value, cell *atomic.Uint64) bool {
	return bi.CondInsertEntry(key, cell, nil)
}

func (bi *BTreeIndex) CondInsertEntry(key []sql.Value, cell *atomic.Uint64,
	pred EntryPredicate) bool {

	bi.mu.Lock()
	defer bi.mu.Unlock()

	ii := bi.item(key)
	if ii == nil {
		bi.tree.ReplaceOrInsert(&indexItem{
			key:   append([]sql.Value(nil), key...),
			cells: []*atomic.Uint64{cell},
		})
	} else {
		if pred != nil && ii.blocked(pred) {
			return false
		}
		ii.cells = append(ii.cells, cell)
	}
	bi.count += 1
	return true
}

func (bi *BTreeIndex) DeleteEntry(key []sql.Value, cell *atomic.Uint64) bool {
	bi.mu.Lock()
	defer bi.mu.Unlock()

	ii := bi.item(key)
	if ii == nil || !ii.remove(cell) {
		return false
	}
	if len(ii.cells) == 0 {
		bi.tree.Delete(ii)
	}
	bi.count -= 1
	return true
}

func (bi *BTreeIndex) ScanKey(key []sql.Value) []*atomic.Uint64 {
	bi.mu.RLock()
	defer bi.mu.RUnlock()

	ii := bi.item(key)
	if ii == nil {
		return nil
	}
	return append([]*atomic.Uint64(nil), ii.cells...)
}

// ScanRange returns the cells of every key k with low <= k < high, in key
// order; a nil bound is unbounded.
func (bi *BTreeIndex) ScanRange(low, high []sql.Value) []*atomic.Uint64 {
	bi.mu.RLock()
	defer bi.mu.RUnlock()

	var cells []*atomic.Uint64
	iter := func(it btree.Item) bool {
		ii := it.(*indexItem)
		if high != nil && sql.CompareValues(ii.key, high) >= 0 {
			return false
		}
		cells = append(cells, ii.cells...)
		return true
	}
	if low == nil {
		bi.tree.Ascend(iter)
	} else {
		bi.tree.AscendGreaterOrEqual(&indexItem{key: low}, iter)
	}
	return cells
}

func (bi *BTreeIndex) ScanAllKeys() []*atomic.Uint64 {
	return bi.ScanRange(nil, nil)
}

func (bi *BTreeIndex) Count() int {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.count
}

// HashIndex is an unordered index; keys are bucketed by the xxhash of their
// key encoding.
type HashIndex struct {
	md      *IndexMetadata
	mu      sync.RWMutex
	buckets map[uint64][]*indexItem
	count   int
}

func hashKey(key []sql.Value) uint64 {
	var buf []byte
	for _, v := range key {
		buf = encode.AppendKeyValue(buf, v)
	}
	return xxhash.Checksum64(buf)
}

func (hi *HashIndex) Metadata() *IndexMetadata {
	return hi.md
}

func (hi *HashIndex) Oid() Oid {
	return hi.md.Oid
}

func (hi *HashIndex) Name() string {
	return hi.md.Name
}

func (hi *HashIndex) item(h uint64, key []sql.Value) *indexItem {
	for _, ii := range hi.buckets[h] {
		if sql.CompareValues(ii.key, key) == 0 {
			return ii
		}
	}
	return nil
}

func (hi *HashIndex) InsertEntry(key []sql.Value, cell *atomic.Uint64) bool {
	return hi.CondInsertEntry(key, cell, nil)
}

func (hi *HashIndex) CondInsertEntry(key []sql.Value, cell *atomic.Uint64,
	pred EntryPredicate) bool {

	h := hashKey(key)

	hi.mu.Lock()
	defer hi.mu.Unlock()

	ii := hi.item(h, key)
	if ii == nil {
		hi.buckets[h] = append(hi.buckets[h], &indexItem{
			key:   append([]sql.Value(nil), key...),
			cells: []*atomic.Uint64{cell},
		})
	} else {
		if pred != nil && ii.blocked(pred) {
			return false
		}
		ii.cells = append(ii.cells, cell)
	}
	hi.count += 1
	return true
}

func (hi *HashIndex) DeleteEntry(key []sql.Value, cell *atomic.Uint64) bool {
	h := hashKey(key)

	hi.mu.Lock()
	defer hi.mu.Unlock()

	ii := hi.item(h, key)
	if ii == nil || !ii.remove(cell) {
		return false
	}
	if len(ii.cells) == 0 {
		bucket := hi.buckets[h]
		for idx := range bucket {
			if bucket[idx] == ii {
				bucket = append(bucket[:idx], bucket[idx+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(hi.buckets, h)
		} else {
			hi.buckets[h] = bucket
		}
	}
	hi.count -= 1
	return true
}

func (hi *HashIndex) ScanKey(key []sql.Value) []*atomic.Uint64 {
	h := hashKey(key)

	hi.mu.RLock()
	defer hi.mu.RUnlock()

	ii := hi.item(h, key)
	if ii == nil {
		return nil
	}
	return append([]*atomic.Uint64(nil), ii.cells...)
}

func (hi *HashIndex) ScanAllKeys() []*atomic.Uint64 {
	hi.mu.RLock()
	defer hi.mu.RUnlock()

	var cells []*atomic.Uint64
	for _, bucket := range hi.buckets {
		for _, ii := range bucket {
			cells = append(cells, ii.cells...)
		}
	}
	return cells
}

func (hi *HashIndex) Count() int {
	hi.mu.RLock()
	defer hi.mu.RUnlock()
	return hi.count
}
