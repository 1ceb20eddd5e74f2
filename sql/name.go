package sql

import (
	"fmt"
)

const (
	CatalogDatabaseName = "peloton"
	CatalogSchemaName   = "pg_catalog"
	DefaultSchemaName   = "public"
)

type SchemaName struct {
	Database string
	Schema   string
}

type TableName struct {
	Database string
	Schema   string
	Table    string
}

func (sn SchemaName) String() string {
	if sn.Database == "" {
		return sn.Schema
	}
	return fmt.Sprintf("%s.%s", sn.Database, sn.Schema)
}

func (tn TableName) String() string {
	if tn.Database == "" {
		if tn.Schema == "" {
			return tn.Table
		}
		return fmt.Sprintf("%s.%s", tn.Schema, tn.Table)
	}
	return fmt.Sprintf("%s.%s.%s", tn.Database, tn.Schema, tn.Table)
}

func (tn TableName) SchemaName() SchemaName {
	return SchemaName{tn.Database, tn.Schema}
}
