package testutil

import (
	"sort"

	"github.com/cmu-db/peloton-sub010/sql"
)

type sortValues struct {
	values [][]sql.Value
	key    []int
}

func (sv sortValues) Len() int {
	return len(sv.values)
}

func (sv sortValues) Swap(i, j int) {
	sv.values[i], sv.values[j] = sv.values[j], sv.values[i]
}

func (sv sortValues) Less(i, j int) bool {
	for _, col := range sv.key {
		cmp := sql.Compare(sv.values[i][col], sv.values[j][col])
		if cmp < 0 {
			return true
		} else if cmp > 0 {
			return false
		}
	}
	return false
}

// SortValues sorts rows by the listed columns; scans return rows in storage
// order, which tests should not depend on.
func SortValues(key []int, values [][]sql.Value) {
	sort.Sort(sortValues{values: values, key: key})
}
