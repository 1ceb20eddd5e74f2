package catalog

import (
	"reflect"

	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

const (
	nameLength = 256
	textLength = 4096
)

type indexDef struct {
	oid        storage.Oid
	name       string
	columns    []int
	constraint storage.IndexConstraintType
}

// tableDef describes a catalog table: its schema, its indexes with the
// primary index first, and the codec for its rows. Tables with catalogDBOnly
// set exist only in the catalog database.
type tableDef struct {
	oid           storage.Oid
	name          string
	schema        *sql.Schema
	indexes       []indexDef
	codec         *rowCodec
	catalogDBOnly bool

	// oidColumn is the column holding the oids the table hands out, or -1.
	oidColumn int
}

func (td *tableDef) primaryKey() []int {
	return td.indexes[0].columns
}

type columnDef struct {
	name    string
	typ     sql.DataType
	length  uint32
	notNull bool
}

func makeSchema(colDefs []columnDef) *sql.Schema {
	cols := make([]sql.Column, len(colDefs))
	for idx, cd := range colDefs {
		col := sql.MakeColumn(cd.name, cd.typ, cd.length)
		if cd.notNull {
			col.AddConstraint(sql.MakeConstraint(sql.NotNullConstraint, ""))
		}
		cols[idx] = col
	}
	return sql.NewSchema(cols)
}

func newTableDef(oid storage.Oid, name string, colDefs []columnDef, rowType reflect.Type,
	oidColumn int, catalogDBOnly bool, indexes ...indexDef) *tableDef {

	s := makeSchema(colDefs)
	pk := indexes[0].columns
	if len(pk) > 1 {
		s.AddMultiConstraint(sql.MultiConstraint{
			Type:    sql.PrimaryConstraint,
			Name:    name + "_pkey",
			Columns: pk,
		})
	}
	return &tableDef{
		oid:           oid,
		name:          name,
		schema:        s,
		indexes:       indexes,
		codec:         newRowCodec(name, s, rowType),
		catalogDBOnly: catalogDBOnly,
		oidColumn:     oidColumn,
	}
}

func oidCol(name string) columnDef {
	return columnDef{name: name, typ: sql.IntegerType, notNull: true}
}

func intCol(name string) columnDef {
	return columnDef{name: name, typ: sql.IntegerType, notNull: true}
}

func bigintCol(name string) columnDef {
	return columnDef{name: name, typ: sql.BigIntType, notNull: true}
}

func boolCol(name string) columnDef {
	return columnDef{name: name, typ: sql.BooleanType, notNull: true}
}

func nameCol(name string) columnDef {
	return columnDef{name: name, typ: sql.VarcharType, length: nameLength, notNull: true}
}

func textCol(name string, notNull bool) columnDef {
	return columnDef{name: name, typ: sql.VarcharType, length: textLength, notNull: notNull}
}

func primaryIndex(oid storage.Oid, name string, cols ...int) indexDef {
	return indexDef{
		oid:        oid,
		name:       name,
		columns:    cols,
		constraint: storage.PrimaryKeyIndexConstraint,
	}
}

func uniqueIndex(oid storage.Oid, name string, cols ...int) indexDef {
	return indexDef{
		oid:        oid,
		name:       name,
		columns:    cols,
		constraint: storage.UniqueIndexConstraint,
	}
}

func secondaryIndex(oid storage.Oid, name string, cols ...int) indexDef {
	return indexDef{
		oid:        oid,
		name:       name,
		columns:    cols,
		constraint: storage.DefaultIndexConstraint,
	}
}

var (
	databaseCatalog = newTableDef(DatabaseCatalogOid, "pg_database",
		[]columnDef{
			oidCol("database_oid"),
			nameCol("database_name"),
		},
		reflect.TypeOf(DatabaseEntry{}), 0, true,
		primaryIndex(IndexOidMask|1, "pg_database_pkey", 0),
		uniqueIndex(IndexOidMask|2, "pg_database_skey0", 1))

	settingsCatalog = newTableDef(SettingsCatalogOid, "pg_settings",
		[]columnDef{
			nameCol("name"),
			textCol("value", true),
			nameCol("value_type"),
			textCol("description", true),
			textCol("min_value", false),
			textCol("max_value", false),
			textCol("default_value", true),
			boolCol("is_mutable"),
			boolCol("is_persistent"),
		},
		reflect.TypeOf(SettingEntry{}), -1, true,
		primaryIndex(IndexOidMask|3, "pg_settings_pkey", 0))

	languageCatalog = newTableDef(LanguageCatalogOid, "pg_language",
		[]columnDef{
			oidCol("language_oid"),
			nameCol("lanname"),
		},
		reflect.TypeOf(LanguageEntry{}), 0, true,
		primaryIndex(IndexOidMask|4, "pg_language_pkey", 0),
		uniqueIndex(IndexOidMask|5, "pg_language_skey0", 1))

	procCatalog = newTableDef(ProcCatalogOid, "pg_proc",
		[]columnDef{
			oidCol("proc_oid"),
			nameCol("proname"),
			intCol("prorettype"),
			nameCol("proargtypes"),
			oidCol("prolang"),
			textCol("prosrc", true),
		},
		reflect.TypeOf(ProcEntry{}), 0, true,
		primaryIndex(IndexOidMask|6, "pg_proc_pkey", 0),
		uniqueIndex(IndexOidMask|7, "pg_proc_skey0", 1, 3))

	schemaCatalog = newTableDef(SchemaCatalogOid, "pg_namespace",
		[]columnDef{
			oidCol("namespace_oid"),
			nameCol("namespace_name"),
		},
		reflect.TypeOf(SchemaEntry{}), 0, false,
		primaryIndex(IndexOidMask|8, "pg_namespace_pkey", 0),
		uniqueIndex(IndexOidMask|9, "pg_namespace_skey0", 1))

	tableCatalog = newTableDef(TableCatalogOid, "pg_table",
		[]columnDef{
			oidCol("table_oid"),
			nameCol("table_name"),
			nameCol("schema_name"),
			oidCol("database_oid"),
			intCol("version_id"),
			oidCol("default_layout_oid"),
		},
		reflect.TypeOf(TableEntry{}), 0, false,
		primaryIndex(IndexOidMask|10, "pg_table_pkey", 0),
		uniqueIndex(IndexOidMask|11, "pg_table_skey0", 2, 1))

	columnCatalog = newTableDef(ColumnCatalogOid, "pg_attribute",
		[]columnDef{
			oidCol("table_oid"),
			nameCol("column_name"),
			intCol("column_id"),
			intCol("column_offset"),
			intCol("column_type"),
			intCol("column_length"),
			boolCol("is_inlined"),
			boolCol("is_not_null"),
			boolCol("is_primary"),
			boolCol("is_unique"),
			textCol("default_value", false),
		},
		reflect.TypeOf(ColumnEntry{}), -1, false,
		primaryIndex(IndexOidMask|12, "pg_attribute_pkey", 0, 2),
		secondaryIndex(IndexOidMask|13, "pg_attribute_skey0", 0))

	indexCatalog = newTableDef(IndexCatalogOid, "pg_index",
		[]columnDef{
			oidCol("index_oid"),
			nameCol("index_name"),
			oidCol("table_oid"),
			nameCol("schema_name"),
			intCol("index_type"),
			intCol("index_constraint"),
			boolCol("unique_keys"),
			nameCol("indexed_attributes"),
		},
		reflect.TypeOf(IndexEntry{}), 0, false,
		primaryIndex(IndexOidMask|14, "pg_index_pkey", 0),
		uniqueIndex(IndexOidMask|15, "pg_index_skey0", 3, 1),
		secondaryIndex(IndexOidMask|16, "pg_index_skey1", 2))

	layoutCatalog = newTableDef(LayoutCatalogOid, "pg_layout",
		[]columnDef{
			oidCol("table_oid"),
			oidCol("layout_oid"),
			intCol("num_columns"),
			textCol("column_map", true),
		},
		reflect.TypeOf(LayoutEntry{}), -1, false,
		primaryIndex(IndexOidMask|17, "pg_layout_pkey", 0, 1),
		secondaryIndex(IndexOidMask|18, "pg_layout_skey0", 0))

	constraintCatalog = newTableDef(ConstraintCatalogOid, "pg_constraint",
		[]columnDef{
			oidCol("constraint_oid"),
			nameCol("constraint_name"),
			intCol("constraint_type"),
			oidCol("table_oid"),
			nameCol("column_ids"),
			oidCol("index_oid"),
			oidCol("fk_sink_table_oid"),
			nameCol("fk_sink_col_ids"),
			intCol("fk_update_action"),
			intCol("fk_delete_action"),
			{name: "check_op", typ: sql.VarcharType, length: nameLength},
			textCol("check_value", false),
		},
		reflect.TypeOf(ConstraintEntry{}), 0, false,
		primaryIndex(IndexOidMask|19, "pg_constraint_pkey", 0),
		secondaryIndex(IndexOidMask|20, "pg_constraint_skey0", 3))

	triggerCatalog = newTableDef(TriggerCatalogOid, "pg_trigger",
		[]columnDef{
			oidCol("trigger_oid"),
			oidCol("tgrelid"),
			nameCol("trigger_name"),
			{name: "fire_type", typ: sql.SmallIntType, notNull: true},
			nameCol("function_name"),
			textCol("function_arguments", true),
			{name: "when_column", typ: sql.IntegerType},
			{name: "when_op", typ: sql.VarcharType, length: nameLength},
			textCol("when_value", false),
		},
		reflect.TypeOf(TriggerEntry{}), 0, false,
		primaryIndex(IndexOidMask|21, "pg_trigger_pkey", 0),
		uniqueIndex(IndexOidMask|22, "pg_trigger_skey0", 1, 2),
		secondaryIndex(IndexOidMask|23, "pg_trigger_skey1", 1))

	sequenceCatalog = newTableDef(SequenceCatalogOid, "pg_sequence",
		[]columnDef{
			oidCol("sequence_oid"),
			oidCol("database_oid"),
			oidCol("namespace_oid"),
			nameCol("sequence_name"),
			bigintCol("seq_increment"),
			bigintCol("seq_max"),
			bigintCol("seq_min"),
			bigintCol("seq_start"),
			boolCol("seq_cycle"),
			bigintCol("seq_value"),
		},
		reflect.TypeOf(SequenceEntry{}), 0, false,
		primaryIndex(IndexOidMask|24, "pg_sequence_pkey", 0),
		uniqueIndex(IndexOidMask|25, "pg_sequence_skey0", 2, 3))
)

var catalogDBTables = []*tableDef{
	databaseCatalog,
	settingsCatalog,
	languageCatalog,
	procCatalog,
}

var databaseTables = []*tableDef{
	schemaCatalog,
	tableCatalog,
	columnCatalog,
	indexCatalog,
	layoutCatalog,
	constraintCatalog,
	triggerCatalog,
	sequenceCatalog,
}

var tableDefs = map[storage.Oid]*tableDef{}

func init() {
	for _, td := range catalogDBTables {
		tableDefs[td.oid] = td
	}
	for _, td := range databaseTables {
		tableDefs[td.oid] = td
	}
}

// IsCatalogTable reports whether oid is the oid of a catalog table.
func IsCatalogTable(oid storage.Oid) bool {
	_, ok := tableDefs[oid]
	return ok
}

// CatalogTableName returns the name of the catalog table oid.
func CatalogTableName(oid storage.Oid) (string, bool) {
	td, ok := tableDefs[oid]
	if !ok {
		return "", false
	}
	return td.name, true
}

// CatalogTables returns the oids of the catalog tables held in the database
// dbOid.
func CatalogTables(dbOid storage.Oid) []storage.Oid {
	var oids []storage.Oid
	if dbOid == CatalogDatabaseOid {
		for _, td := range catalogDBTables {
			oids = append(oids, td.oid)
		}
	}
	for _, td := range databaseTables {
		oids = append(oids, td.oid)
	}
	return oids
}

func tablesOf(dbOid storage.Oid) []*tableDef {
	var tds []*tableDef
	if dbOid == CatalogDatabaseOid {
		tds = append(tds, catalogDBTables...)
	}
	return append(tds, databaseTables...)
}
