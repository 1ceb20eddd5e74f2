package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

// Entry is one row of a catalog table, decoded. The set of entries is closed:
// only the types in this package implement it.
type Entry interface {
	EntryName() string
	catalogEntry()
}

type DatabaseEntry struct {
	Oid  storage.Oid `column:"database_oid"`
	Name string      `column:"database_name"`
}

type SchemaEntry struct {
	Oid         storage.Oid `column:"namespace_oid"`
	Name        string      `column:"namespace_name"`
	DatabaseOid storage.Oid `column:"-"`
}

// TableEntry describes a table. Its columns, indexes, constraints, layouts and
// triggers are loaded from the catalog the first time they are needed, by the
// transaction which looked up the table, and kept until evicted.
type TableEntry struct {
	Oid              storage.Oid `column:"table_oid"`
	Name             string      `column:"table_name"`
	SchemaName       string      `column:"schema_name"`
	DatabaseOid      storage.Oid `column:"database_oid"`
	VersionID        int32       `column:"version_id"`
	DefaultLayoutOid storage.Oid `column:"default_layout_oid"`

	c           *Catalog
	txn         *concurrency.TransactionContext
	mutex       sync.Mutex
	columns     []*ColumnEntry
	indexes     []*IndexEntry
	constraints []*ConstraintEntry
	layouts     []*LayoutEntry
	triggers    []*TriggerEntry
}

type ColumnEntry struct {
	TableOid storage.Oid  `column:"table_oid"`
	Name     string       `column:"column_name"`
	ID       int32        `column:"column_id"`
	Offset   int32        `column:"column_offset"`
	Type     sql.DataType `column:"column_type"`
	Length   int32        `column:"column_length"`
	Inlined  bool         `column:"is_inlined"`
	NotNull  bool         `column:"is_not_null"`
	Primary  bool         `column:"is_primary"`
	Unique   bool         `column:"is_unique"`
	Default  *string      `column:"default_value"`
}

type IndexEntry struct {
	Oid        storage.Oid                 `column:"index_oid"`
	Name       string                      `column:"index_name"`
	TableOid   storage.Oid                 `column:"table_oid"`
	SchemaName string                      `column:"schema_name"`
	Type       storage.IndexType           `column:"index_type"`
	Constraint storage.IndexConstraintType `column:"index_constraint"`
	UniqueKeys bool                        `column:"unique_keys"`
	KeyAttrs   []int                       `column:"indexed_attributes"`
}

type LayoutEntry struct {
	TableOid   storage.Oid `column:"table_oid"`
	Oid        storage.Oid `column:"layout_oid"`
	NumColumns int32       `column:"num_columns"`
	ColumnMap  string      `column:"column_map"`
}

type ConstraintEntry struct {
	Oid            storage.Oid        `column:"constraint_oid"`
	Name           string             `column:"constraint_name"`
	Type           sql.ConstraintType `column:"constraint_type"`
	TableOid       storage.Oid        `column:"table_oid"`
	Columns        []int              `column:"column_ids"`
	IndexOid       storage.Oid        `column:"index_oid"`
	FKSinkTableOid storage.Oid        `column:"fk_sink_table_oid"`
	FKSinkColumns  []int              `column:"fk_sink_col_ids"`
	FKUpdateAction storage.FKAction   `column:"fk_update_action"`
	FKDeleteAction storage.FKAction   `column:"fk_delete_action"`
	CheckOp        *string            `column:"check_op"`
	CheckValue     *string            `column:"check_value"`
}

type TriggerEntry struct {
	Oid        storage.Oid         `column:"trigger_oid"`
	TableOid   storage.Oid         `column:"tgrelid"`
	Name       string              `column:"trigger_name"`
	Type       storage.TriggerType `column:"fire_type"`
	FuncName   string              `column:"function_name"`
	Args       string              `column:"function_arguments"`
	WhenColumn *int32              `column:"when_column"`
	WhenOp     *string             `column:"when_op"`
	WhenValue  *string             `column:"when_value"`
}

type SettingEntry struct {
	Name         string  `column:"name"`
	Value        string  `column:"value"`
	ValueType    string  `column:"value_type"`
	Description  string  `column:"description"`
	MinValue     *string `column:"min_value"`
	MaxValue     *string `column:"max_value"`
	DefaultValue string  `column:"default_value"`
	IsMutable    bool    `column:"is_mutable"`
	IsPersistent bool    `column:"is_persistent"`
}

type LanguageEntry struct {
	Oid  storage.Oid `column:"language_oid"`
	Name string      `column:"lanname"`
}

type ProcEntry struct {
	Oid         storage.Oid  `column:"proc_oid"`
	Name        string       `column:"proname"`
	ReturnType  sql.DataType `column:"prorettype"`
	ArgTypes    string       `column:"proargtypes"`
	LanguageOid storage.Oid  `column:"prolang"`
	Source      string       `column:"prosrc"`
}

type SequenceEntry struct {
	Oid          storage.Oid `column:"sequence_oid"`
	DatabaseOid  storage.Oid `column:"database_oid"`
	NamespaceOid storage.Oid `column:"namespace_oid"`
	Name         string      `column:"sequence_name"`
	Increment    int64       `column:"seq_increment"`
	Max          int64       `column:"seq_max"`
	Min          int64       `column:"seq_min"`
	Start        int64       `column:"seq_start"`
	Cycle        bool        `column:"seq_cycle"`
	Value        int64       `column:"seq_value"`
}

func (*DatabaseEntry) catalogEntry()   {}
func (*SchemaEntry) catalogEntry()     {}
func (*TableEntry) catalogEntry()      {}
func (*ColumnEntry) catalogEntry()     {}
func (*IndexEntry) catalogEntry()      {}
func (*LayoutEntry) catalogEntry()     {}
func (*ConstraintEntry) catalogEntry() {}
func (*TriggerEntry) catalogEntry()    {}
func (*SettingEntry) catalogEntry()    {}
func (*LanguageEntry) catalogEntry()   {}
func (*ProcEntry) catalogEntry()       {}
func (*SequenceEntry) catalogEntry()   {}

func (de *DatabaseEntry) EntryName() string   { return de.Name }
func (se *SchemaEntry) EntryName() string     { return se.Name }
func (te *TableEntry) EntryName() string      { return te.SchemaName + "." + te.Name }
func (ce *ColumnEntry) EntryName() string     { return ce.Name }
func (ie *IndexEntry) EntryName() string      { return ie.Name }
func (le *LayoutEntry) EntryName() string     { return fmt.Sprintf("layout %d", le.Oid) }
func (ce *ConstraintEntry) EntryName() string { return ce.Name }
func (te *TriggerEntry) EntryName() string    { return te.Name }
func (se *SettingEntry) EntryName() string    { return se.Name }
func (le *LanguageEntry) EntryName() string   { return le.Name }
func (pe *ProcEntry) EntryName() string       { return pe.Name }
func (se *SequenceEntry) EntryName() string   { return se.Name }

func (de *DatabaseEntry) String() string {
	return fmt.Sprintf("database %s (%d)", de.Name, de.Oid)
}

func (te *TableEntry) String() string {
	return fmt.Sprintf("table %s.%s (%d)", te.SchemaName, te.Name, te.Oid)
}

// Columns returns the columns of the table ordered by column id.
func (te *TableEntry) Columns() ([]*ColumnEntry, error) {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	if te.columns == nil {
		columns, err := te.c.loadColumns(te.txn, te.DatabaseOid, te.Oid)
		if err != nil {
			return nil, err
		}
		te.columns = columns
	}
	return te.columns, nil
}

func (te *TableEntry) Column(name string) (*ColumnEntry, error) {
	columns, err := te.Columns()
	if err != nil {
		return nil, err
	}
	for _, ce := range columns {
		if strings.EqualFold(ce.Name, name) {
			return ce, nil
		}
	}
	return nil, errorf(NotFound, "table %s: column %s not found", te.Name, name)
}

func (te *TableEntry) Indexes() ([]*IndexEntry, error) {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	if te.indexes == nil {
		indexes, err := te.c.loadIndexes(te.txn, te.DatabaseOid, te.Oid)
		if err != nil {
			return nil, err
		}
		te.indexes = indexes
	}
	return te.indexes, nil
}

func (te *TableEntry) Constraints() ([]*ConstraintEntry, error) {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	if te.constraints == nil {
		constraints, err := te.c.loadConstraints(te.txn, te.DatabaseOid, te.Oid)
		if err != nil {
			return nil, err
		}
		te.constraints = constraints
	}
	return te.constraints, nil
}

func (te *TableEntry) Layouts() ([]*LayoutEntry, error) {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	if te.layouts == nil {
		layouts, err := te.c.loadLayouts(te.txn, te.DatabaseOid, te.Oid)
		if err != nil {
			return nil, err
		}
		te.layouts = layouts
	}
	return te.layouts, nil
}

func (te *TableEntry) Triggers() ([]*TriggerEntry, error) {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	if te.triggers == nil {
		triggers, err := te.c.loadTriggers(te.txn, te.DatabaseOid, te.Oid)
		if err != nil {
			return nil, err
		}
		te.triggers = triggers
	}
	return te.triggers, nil
}

func (te *TableEntry) EvictColumns() {
	te.mutex.Lock()
	te.columns = nil
	te.mutex.Unlock()
}

func (te *TableEntry) EvictIndexes() {
	te.mutex.Lock()
	te.indexes = nil
	te.mutex.Unlock()
}

func (te *TableEntry) EvictConstraints() {
	te.mutex.Lock()
	te.constraints = nil
	te.mutex.Unlock()
}

func (te *TableEntry) EvictLayouts() {
	te.mutex.Lock()
	te.layouts = nil
	te.mutex.Unlock()
}

func (te *TableEntry) EvictTriggers() {
	te.mutex.Lock()
	te.triggers = nil
	te.mutex.Unlock()
}

func (te *TableEntry) EvictAll() {
	te.mutex.Lock()
	te.columns = nil
	te.indexes = nil
	te.constraints = nil
	te.layouts = nil
	te.triggers = nil
	te.mutex.Unlock()
}

// Schema rebuilds the schema of the table from its columns and constraints.
func (te *TableEntry) Schema() (*sql.Schema, error) {
	columns, err := te.Columns()
	if err != nil {
		return nil, err
	}
	constraints, err := te.Constraints()
	if err != nil {
		return nil, err
	}
	return buildSchema(te.Name, columns, constraints)
}

func buildSchema(tblName string, columns []*ColumnEntry,
	constraints []*ConstraintEntry) (*sql.Schema, error) {

	cols := make([]sql.Column, len(columns))
	for idx, ce := range columns {
		if int(ce.ID) != idx {
			return nil, errorf(Internal, "table %s: column %s has id %d; expected %d", tblName,
				ce.Name, ce.ID, idx)
		}
		col := sql.MakeColumn(ce.Name, ce.Type, uint32(ce.Length))
		if ce.NotNull {
			col.AddConstraint(sql.MakeConstraint(sql.NotNullConstraint, ""))
		}
		if ce.Primary {
			col.AddConstraint(sql.MakeConstraint(sql.PrimaryConstraint, ""))
		}
		if ce.Unique {
			col.AddConstraint(sql.MakeConstraint(sql.UniqueConstraint, ""))
		}
		if ce.Default != nil {
			def, err := sql.ConvertValue(ce.Type, sql.StringValue(*ce.Default))
			if err != nil {
				return nil, errorf(Internal, "table %s: column %s: default: %s", tblName,
					ce.Name, err)
			}
			con := sql.MakeConstraint(sql.DefaultConstraint, "")
			con.Default = def
			col.AddConstraint(con)
		}
		cols[idx] = col
	}

	var multi []sql.MultiConstraint
	for _, con := range constraints {
		switch con.Type {
		case sql.CheckConstraint:
			if len(con.Columns) != 1 || con.Columns[0] >= len(cols) || con.CheckOp == nil ||
				con.CheckValue == nil {

				return nil, errorf(Internal, "table %s: malformed check constraint %s", tblName,
					con.Name)
			}
			chk := sql.MakeConstraint(sql.CheckConstraint, con.Name)
			chk.CheckOp = *con.CheckOp
			chk.CheckValue = sql.StringValue(*con.CheckValue)
			cols[con.Columns[0]].AddConstraint(chk)
		case sql.PrimaryConstraint, sql.UniqueConstraint:
			if len(con.Columns) > 1 {
				multi = append(multi, sql.MultiConstraint{
					Type:    con.Type,
					Name:    con.Name,
					Columns: con.Columns,
				})
			}
		}
	}

	s := sql.NewSchema(cols)
	for _, mc := range multi {
		s.AddMultiConstraint(mc)
	}
	return s, nil
}
