package catalog

import (
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

type builtinProc struct {
	name     string
	ret      sql.DataType
	argTypes []sql.DataType
	source   string
}

var builtinProcs = []builtinProc{
	{"abs", sql.DecimalType, []sql.DataType{sql.DecimalType}, "Abs"},
	{"sqrt", sql.DecimalType, []sql.DataType{sql.DecimalType}, "Sqrt"},
	{"ceil", sql.DecimalType, []sql.DataType{sql.DecimalType}, "Ceil"},
	{"floor", sql.DecimalType, []sql.DataType{sql.DecimalType}, "Floor"},
	{"round", sql.DecimalType, []sql.DataType{sql.DecimalType}, "Round"},
	{"lower", sql.VarcharType, []sql.DataType{sql.VarcharType}, "Lower"},
	{"upper", sql.VarcharType, []sql.DataType{sql.VarcharType}, "Upper"},
	{"length", sql.IntegerType, []sql.DataType{sql.VarcharType}, "Length"},
	{"substr", sql.VarcharType,
		[]sql.DataType{sql.VarcharType, sql.IntegerType, sql.IntegerType}, "Substr"},
	{"concat", sql.VarcharType, []sql.DataType{sql.VarcharType, sql.VarcharType}, "Concat"},
	{"now", sql.TimestampType, nil, "Now"},
	{"nextval", sql.BigIntType, []sql.DataType{sql.VarcharType}, "Nextval"},
}

func builtinLanguages() []*LanguageEntry {
	return []*LanguageEntry{
		{Oid: InternalLanguageOid, Name: "internal"},
		{Oid: PlpgsqlLanguageOid, Name: "plpgsql"},
	}
}

// createStorageDatabase creates the storage of the database dbOid together
// with its empty catalog tables.
func (c *Catalog) createStorageDatabase(dbOid storage.Oid, name string) (*storage.Database,
	error) {

	if c.st.HasDatabase(dbOid) {
		return nil, errorf(AlreadyExists, "database %d already exists", dbOid)
	}

	db := storage.NewDatabase(dbOid, name)
	for _, td := range tablesOf(dbOid) {
		dt := storage.NewDataTable(c.st, dbOid, td.oid, td.name, td.schema,
			c.opts.TuplesPerTileGroup, storage.RowLayout, true)
		for _, id := range td.indexes {
			md := storage.NewIndexMetadata(id.name, id.oid, td.oid, dbOid,
				storage.BTreeIndexType, id.constraint, td.schema, id.columns,
				id.constraint != storage.DefaultIndexConstraint)
			dt.AddIndex(storage.NewIndex(md))
		}
		err := db.AddTable(dt)
		if err != nil {
			return nil, errorf(Internal, "%s", err)
		}
	}

	err := c.st.AddDatabase(db)
	if err != nil {
		return nil, errorf(AlreadyExists, "%s", err)
	}
	return db, nil
}

// insertBootstrapRows inserts the rows which describe the catalog tables of
// the database dbOid and its default schemas.
func (c *Catalog) insertBootstrapRows(txn *concurrency.TransactionContext,
	dbOid storage.Oid) error {

	schemas := []*SchemaEntry{
		{Oid: CatalogSchemaOid, Name: CatalogSchemaName},
		{Oid: DefaultSchemaOid, Name: DefaultSchemaName},
	}
	for _, se := range schemas {
		err := c.insertRow(txn, dbOid, schemaCatalog, se)
		if err != nil {
			return err
		}
	}

	for _, td := range tablesOf(dbOid) {
		dt, err := c.st.GetTableWithOid(dbOid, td.oid)
		if err != nil {
			return errorf(Internal, "%s", err)
		}

		err = c.insertRow(txn, dbOid, tableCatalog, &TableEntry{
			Oid:              td.oid,
			Name:             td.name,
			SchemaName:       CatalogSchemaName,
			DatabaseOid:      dbOid,
			DefaultLayoutOid: dt.DefaultLayout().Oid(),
		})
		if err != nil {
			return err
		}
		err = c.insertColumns(txn, dbOid, td.oid, td.schema)
		if err != nil {
			return err
		}
		err = c.insertLayouts(txn, dbOid, dt)
		if err != nil {
			return err
		}
		for _, id := range td.indexes {
			err = c.insertRow(txn, dbOid, indexCatalog, &IndexEntry{
				Oid:        id.oid,
				Name:       id.name,
				TableOid:   td.oid,
				SchemaName: CatalogSchemaName,
				Type:       storage.BTreeIndexType,
				Constraint: id.constraint,
				UniqueKeys: id.constraint != storage.DefaultIndexConstraint,
				KeyAttrs:   id.columns,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Bootstrap creates the catalog database: its storage, the rows describing
// its catalog tables, the settings, the languages and the built-in
// functions. Everything is done by txn; if txn aborts, the catalog database is
// dropped.
func (c *Catalog) Bootstrap(txn *concurrency.TransactionContext) error {
	_, err := c.createStorageDatabase(CatalogDatabaseOid, CatalogDatabaseName)
	if err != nil {
		return err
	}
	txn.RecordCreate(CatalogDatabaseOid, storage.InvalidOid, storage.InvalidOid)

	err = c.insertRow(txn, CatalogDatabaseOid, databaseCatalog,
		&DatabaseEntry{Oid: CatalogDatabaseOid, Name: CatalogDatabaseName})
	if err != nil {
		return err
	}
	err = c.insertBootstrapRows(txn, CatalogDatabaseOid)
	if err != nil {
		return err
	}

	for _, se := range c.settings {
		err = c.insertRow(txn, CatalogDatabaseOid, settingsCatalog, se)
		if err != nil {
			return err
		}
	}
	for _, le := range builtinLanguages() {
		err = c.insertRow(txn, CatalogDatabaseOid, languageCatalog, le)
		if err != nil {
			return err
		}
	}
	for idx, bp := range builtinProcs {
		err = c.insertRow(txn, CatalogDatabaseOid, procCatalog, &ProcEntry{
			Oid:         ProcOidMask | storage.Oid(idx+1),
			Name:        bp.name,
			ReturnType:  bp.ret,
			ArgTypes:    formatArgTypes(bp.argTypes),
			LanguageOid: InternalLanguageOid,
			Source:      bp.source,
		})
		if err != nil {
			return err
		}
	}

	logDDL(txn, "bootstrap").WithField("database", CatalogDatabaseName).Info(
		"catalog: bootstrapped")
	return nil
}

// BootstrapDatabase creates the storage and catalog tables of the database
// dbOid and inserts the rows describing them; it does not add the database to
// pg_database. Recovery uses it to rebuild databases listed in a recovered
// pg_database.
func (c *Catalog) BootstrapDatabase(txn *concurrency.TransactionContext, dbOid storage.Oid,
	name string) error {

	_, err := c.createStorageDatabase(dbOid, name)
	if err != nil {
		return err
	}
	txn.RecordCreate(dbOid, storage.InvalidOid, storage.InvalidOid)
	return c.insertBootstrapRows(txn, dbOid)
}

func (c *Catalog) insertColumns(txn *concurrency.TransactionContext, dbOid,
	tableOid storage.Oid, s *sql.Schema) error {

	for idx, col := range s.Columns() {
		ce := &ColumnEntry{
			TableOid: tableOid,
			Name:     col.Name,
			ID:       int32(idx),
			Offset:   int32(col.Offset),
			Type:     col.Type,
			Length:   int32(col.Length),
			Inlined:  col.Inlined,
			NotNull:  col.IsNotNull(),
			Primary:  col.IsPrimary(),
			Unique:   col.IsUnique(),
		}
		if def, ok := col.Default(); ok && !sql.IsNull(def) {
			s, err := formatValue(def)
			if err != nil {
				return errorf(InvalidArgument, "column %s: default: %s", col.Name, err)
			}
			ce.Default = &s
		}
		err := c.insertRow(txn, dbOid, columnCatalog, ce)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) insertLayouts(txn *concurrency.TransactionContext, dbOid storage.Oid,
	dt *storage.DataTable) error {

	for _, l := range dt.Layouts() {
		err := c.insertRow(txn, dbOid, layoutCatalog, &LayoutEntry{
			TableOid:   dt.Oid(),
			Oid:        l.Oid(),
			NumColumns: int32(l.ColumnCount()),
			ColumnMap:  l.SerializeColumnMap(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v sql.Value) (string, error) {
	sv, err := sql.ConvertValue(sql.VarcharType, v)
	if err != nil {
		return "", err
	}
	return string(sv.(sql.StringValue)), nil
}
