package catalog

import (
	"errors"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

// SequenceDef describes a new sequence. A zero Increment is 1; a zero Min
// and Max mean no bound.
type SequenceDef struct {
	Increment int64
	Min       int64
	Max       int64
	Start     int64
	Cycle     bool
}

func (c *Catalog) sequenceNamespace(txn *concurrency.TransactionContext, dbName,
	schemaName string) (*DatabaseEntry, *SchemaEntry, error) {

	de, err := c.GetDatabaseObject(txn, dbName)
	if err != nil {
		return nil, nil, err
	}
	se, err := c.GetSchemaObject(txn, de.Oid, schemaName)
	if err != nil {
		return nil, nil, err
	}
	return de, se, nil
}

func (c *Catalog) CreateSequence(txn *concurrency.TransactionContext, dbName, schemaName,
	name string, sd SequenceDef) (*SequenceEntry, error) {

	de, se, err := c.sequenceNamespace(txn, dbName, schemaName)
	if err != nil {
		return nil, err
	}
	_, err = c.GetSequenceObject(txn, de.Oid, se.Oid, name)
	if err == nil {
		return nil, errorf(AlreadyExists, "sequence %s already exists", name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if sd.Increment == 0 {
		sd.Increment = 1
	}
	if sd.Min == 0 && sd.Max == 0 {
		if sd.Increment > 0 {
			sd.Min, sd.Max = 1, math.MaxInt64
		} else {
			sd.Min, sd.Max = math.MinInt64+1, -1
		}
	}
	if sd.Min >= sd.Max {
		return nil, errorf(InvalidArgument, "sequence %s: MINVALUE (%d) must be less than MAXVALUE (%d)",
			name, sd.Min, sd.Max)
	}
	if sd.Start == 0 {
		if sd.Increment > 0 {
			sd.Start = sd.Min
		} else {
			sd.Start = sd.Max
		}
	}
	if sd.Start < sd.Min || sd.Start > sd.Max {
		return nil, errorf(InvalidArgument, "sequence %s: START value (%d) out of range", name,
			sd.Start)
	}

	seq := &SequenceEntry{
		Oid:          c.GetNextOid(SequenceCatalogType),
		DatabaseOid:  de.Oid,
		NamespaceOid: se.Oid,
		Name:         name,
		Increment:    sd.Increment,
		Max:          sd.Max,
		Min:          sd.Min,
		Start:        sd.Start,
		Cycle:        sd.Cycle,
		Value:        sd.Start,
	}
	err = c.insertRow(txn, de.Oid, sequenceCatalog, seq)
	if err != nil {
		return nil, err
	}
	logDDL(txn, "create sequence").WithFields(log.Fields{
		"database": dbName,
		"sequence": name,
	}).Debug("catalog: ddl")
	return seq, nil
}

// nextValue returns the value following cur, wrapping around if the sequence
// cycles.
func (seq *SequenceEntry) nextValue(cur int64) (int64, error) {
	inc := seq.Increment
	if inc > 0 {
		if (seq.Max >= 0 && cur > seq.Max-inc) || (seq.Max < 0 && cur+inc > seq.Max) {
			if !seq.Cycle {
				return 0, errorf(Constraint, "nextval: reached maximum value of sequence %s (%d)",
					seq.Name, seq.Max)
			}
			return seq.Min, nil
		}
	} else {
		if (seq.Min < 0 && cur < seq.Min-inc) || (seq.Min >= 0 && cur+inc < seq.Min) {
			if !seq.Cycle {
				return 0, errorf(Constraint, "nextval: reached minimum value of sequence %s (%d)",
					seq.Name, seq.Min)
			}
			return seq.Max, nil
		}
	}
	return cur + inc, nil
}

// NextVal returns the current value of a sequence and advances it. Two
// transactions advancing the same sequence conflict like any other update.
func (c *Catalog) NextVal(txn *concurrency.TransactionContext, dbName, schemaName,
	name string) (int64, error) {

	de, se, err := c.sequenceNamespace(txn, dbName, schemaName)
	if err != nil {
		return 0, err
	}
	location, seq, err := getEntry[SequenceEntry](c, txn, de.Oid, sequenceCatalog, 1,
		[]sql.Value{oidValue(se.Oid), sql.StringValue(name)})
	if err != nil {
		return 0, err
	} else if seq == nil {
		return 0, errorf(NotFound, "sequence %s not found", name)
	}

	val := seq.Value
	next, err := seq.nextValue(val)
	if err != nil {
		return 0, err
	}
	seq.Value = next
	err = c.updateRow(txn, de.Oid, sequenceCatalog, location, seq)
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (c *Catalog) DropSequence(txn *concurrency.TransactionContext, dbName, schemaName,
	name string) error {

	de, se, err := c.sequenceNamespace(txn, dbName, schemaName)
	if err != nil {
		return err
	}
	seq, err := c.GetSequenceObject(txn, de.Oid, se.Oid, name)
	if err != nil {
		return err
	}
	_, err = c.deleteRows(txn, de.Oid, sequenceCatalog, 0, oidKey(seq.Oid))
	if err != nil {
		return err
	}
	logDDL(txn, "drop sequence").WithFields(log.Fields{
		"database": dbName,
		"sequence": name,
	}).Debug("catalog: ddl")
	return nil
}

// GetSequences returns the sequences of the database dbOid.
func (c *Catalog) GetSequences(txn *concurrency.TransactionContext,
	dbOid storage.Oid) ([]*SequenceEntry, error) {

	return listEntries[SequenceEntry](c, txn, dbOid, sequenceCatalog, -1, nil)
}
