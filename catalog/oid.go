package catalog

import (
	"fmt"

	"github.com/cmu-db/peloton-sub010/storage"
)

// CatalogType tags the oids handed out by the catalog: the type lives in the
// top byte of the oid.
type CatalogType uint32

const (
	InvalidCatalogType CatalogType = iota
	DatabaseCatalogType
	SchemaCatalogType
	TableCatalogType
	IndexCatalogType
	ConstraintCatalogType
	TriggerCatalogType
	LanguageCatalogType
	ProcCatalogType
	SequenceCatalogType

	numCatalogTypes
)

func (ct CatalogType) String() string {
	switch ct {
	case DatabaseCatalogType:
		return "database"
	case SchemaCatalogType:
		return "schema"
	case TableCatalogType:
		return "table"
	case IndexCatalogType:
		return "index"
	case ConstraintCatalogType:
		return "constraint"
	case TriggerCatalogType:
		return "trigger"
	case LanguageCatalogType:
		return "language"
	case ProcCatalogType:
		return "proc"
	case SequenceCatalogType:
		return "sequence"
	}
	return fmt.Sprintf("catalog-type-%d", uint32(ct))
}

// OIDOffset reserves the low oids of every type for the catalog's own objects.
const OIDOffset = 100

const (
	oidTypeShift             = 24
	oidValueMask storage.Oid = 1<<oidTypeShift - 1

	DatabaseOidMask   = storage.Oid(DatabaseCatalogType) << oidTypeShift
	SchemaOidMask     = storage.Oid(SchemaCatalogType) << oidTypeShift
	TableOidMask      = storage.Oid(TableCatalogType) << oidTypeShift
	IndexOidMask      = storage.Oid(IndexCatalogType) << oidTypeShift
	ConstraintOidMask = storage.Oid(ConstraintCatalogType) << oidTypeShift
	TriggerOidMask    = storage.Oid(TriggerCatalogType) << oidTypeShift
	LanguageOidMask   = storage.Oid(LanguageCatalogType) << oidTypeShift
	ProcOidMask       = storage.Oid(ProcCatalogType) << oidTypeShift
	SequenceOidMask   = storage.Oid(SequenceCatalogType) << oidTypeShift
)

const (
	CatalogDatabaseName = "peloton"
	CatalogSchemaName   = "pg_catalog"
	DefaultSchemaName   = "public"

	CatalogDatabaseOid = DatabaseOidMask | 1
	CatalogSchemaOid   = SchemaOidMask | 1
	DefaultSchemaOid   = SchemaOidMask | 2

	InternalLanguageOid = LanguageOidMask | 1
	PlpgsqlLanguageOid  = LanguageOidMask | 2
)

// Oids of the catalog tables. The tables of the catalog database are only
// found there; the others exist in every database.
const (
	DatabaseCatalogOid = TableOidMask | iota + 1
	SettingsCatalogOid
	LanguageCatalogOid
	ProcCatalogOid
	SchemaCatalogOid
	TableCatalogOid
	ColumnCatalogOid
	IndexCatalogOid
	LayoutCatalogOid
	ConstraintCatalogOid
	TriggerCatalogOid
	SequenceCatalogOid
)

func oidMask(ct CatalogType) storage.Oid {
	return storage.Oid(ct) << oidTypeShift
}

// OidType returns the catalog type an oid was allocated for.
func OidType(oid storage.Oid) CatalogType {
	if oid == storage.InvalidOid {
		return InvalidCatalogType
	}
	return CatalogType(oid >> oidTypeShift)
}

func (c *Catalog) resetOids() {
	for ct := range c.oids {
		c.oids[ct].Store(uint32(storage.StartOid + OIDOffset))
	}
}

// GetNextOid allocates the next oid of type ct; the oids of each type are
// strictly increasing.
func (c *Catalog) GetNextOid(ct CatalogType) storage.Oid {
	if ct <= InvalidCatalogType || ct >= numCatalogTypes {
		panic(fmt.Sprintf("catalog: unexpected catalog type: %d", ct))
	}
	n := storage.Oid(c.oids[ct].Add(1) - 1)
	if n > oidValueMask {
		panic(fmt.Sprintf("catalog: %s oids exhausted", ct))
	}
	return n | oidMask(ct)
}

// AdvanceOid moves the counter of the type of oid past oid, so that oids
// recovered from a checkpoint are never handed out again.
func (c *Catalog) AdvanceOid(oid storage.Oid) {
	ct := OidType(oid)
	if ct <= InvalidCatalogType || ct >= numCatalogTypes {
		return
	}
	next := uint32(oid&oidValueMask) + 1
	for {
		cur := c.oids[ct].Load()
		if cur >= next || c.oids[ct].CompareAndSwap(cur, next) {
			return
		}
	}
}
