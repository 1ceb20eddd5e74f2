package sql_test

import (
	"testing"

	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/testutil"
)

func testSchema() *sql.Schema {
	id := sql.MakeColumn("id", sql.IntegerType, 0)
	id.AddConstraint(sql.MakeConstraint(sql.PrimaryConstraint, "con_primary"))
	val := sql.MakeColumn("value1", sql.DecimalType, 0)
	val.AddConstraint(sql.MakeConstraint(sql.NotNullConstraint, "con_not_null"))
	name := sql.MakeColumn("value2", sql.VarcharType, 32)
	chk := sql.MakeConstraint(sql.CheckConstraint, "con_check")
	chk.CheckOp = ">"
	chk.CheckValue = sql.IntegerValue(0)
	cnt := sql.MakeColumn("cnt", sql.SmallIntType, 0)
	cnt.AddConstraint(chk)
	return sql.NewSchema([]sql.Column{id, val, name, cnt})
}

func TestSchemaOffsets(t *testing.T) {
	s := testSchema()

	cases := []struct {
		col     int
		offset  uint32
		length  uint32
		inlined bool
	}{
		{0, 0, 4, true},
		{1, 4, 8, true},
		{2, 12, 32, false},
		{3, 20, 2, true},
	}

	for _, c := range cases {
		col := s.Column(c.col)
		if col.Offset != c.offset || col.Length != c.length || col.Inlined != c.inlined {
			t.Errorf("Column(%d) got %d %d %v want %d %d %v", c.col, col.Offset, col.Length,
				col.Inlined, c.offset, c.length, c.inlined)
		}
	}
	if s.Length() != 22 {
		t.Errorf("Length() got %d want 22", s.Length())
	}
	if !testutil.DeepEqual(s.UninlinedColumns(), []int{2}) {
		t.Errorf("UninlinedColumns() got %v want [2]", s.UninlinedColumns())
	}
	if !testutil.DeepEqual(s.PrimaryKey(), []int{0}) {
		t.Errorf("PrimaryKey() got %v want [0]", s.PrimaryKey())
	}
}

func TestCopySchema(t *testing.T) {
	s := testSchema()
	ks := sql.CopySchema(s, []int{2, 0})
	if ks.ColumnCount() != 2 {
		t.Fatalf("CopySchema() got %d columns want 2", ks.ColumnCount())
	}
	if ks.Column(0).Name != "value2" || ks.Column(1).Name != "id" {
		t.Errorf("CopySchema() got %s", ks)
	}
	if !testutil.DeepEqual(ks.IndexedColumns(), []int{2, 0}) {
		t.Errorf("IndexedColumns() got %v want [2 0]", ks.IndexedColumns())
	}
	if ks.Column(1).Offset != sql.VarlenReferenceSize {
		t.Errorf("CopySchema() offset got %d want %d", ks.Column(1).Offset,
			sql.VarlenReferenceSize)
	}
}

func TestTupleValidate(t *testing.T) {
	s := testSchema()

	cases := []struct {
		vals []sql.Value
		fail bool
	}{
		{vals: []sql.Value{sql.IntegerValue(1), sql.NewDecimalValue(1.2), sql.StringValue("aaa"),
			sql.SmallIntValue(3)}},
		{vals: []sql.Value{nil, sql.NewDecimalValue(1.2), sql.StringValue("aaa"),
			sql.SmallIntValue(3)}, fail: true},
		{vals: []sql.Value{sql.IntegerValue(1), nil, nil, nil}, fail: true},
		{vals: []sql.Value{sql.IntegerValue(1), sql.NewDecimalValue(1.2), nil,
			sql.SmallIntValue(0)}, fail: true},
		{vals: []sql.Value{sql.IntegerValue(1), sql.NewDecimalValue(1.2), nil, nil}},
	}

	for i, c := range cases {
		tpl, err := sql.MakeTuple(s, c.vals...)
		if err != nil {
			t.Errorf("MakeTuple(%d) failed with %s", i, err)
			continue
		}
		err = tpl.Validate()
		if c.fail {
			if err == nil {
				t.Errorf("Validate(%s) did not fail", tpl)
			}
		} else if err != nil {
			t.Errorf("Validate(%s) failed with %s", tpl, err)
		}
	}

	_, err := sql.MakeTuple(s, sql.IntegerValue(1), sql.NewDecimalValue(1.2),
		sql.StringValue("0123456789012345678901234567890123456789"), sql.SmallIntValue(3))
	if err == nil {
		t.Errorf("MakeTuple() with an oversized varchar did not fail")
	}
}

func TestTupleProject(t *testing.T) {
	s := testSchema()
	tpl, err := sql.MakeTuple(s, sql.IntegerValue(7), sql.NewDecimalValue(1.5),
		sql.StringValue("xyz"), sql.SmallIntValue(2))
	if err != nil {
		t.Fatalf("MakeTuple() failed with %s", err)
	}
	key := tpl.Project([]int{2, 0})
	if sql.CompareValues(key, []sql.Value{sql.StringValue("xyz"), sql.IntegerValue(7)}) != 0 {
		t.Errorf("Project([2 0]) got %v", key)
	}
	cpy := tpl.Copy()
	err = cpy.SetValue(0, sql.IntegerValue(8))
	if err != nil {
		t.Fatalf("SetValue() failed with %s", err)
	}
	if tpl.Equal(cpy) {
		t.Errorf("Copy() shares values with the original")
	}
}
