package catalog

import (
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

const triggerEvents = storage.InsertTrigger | storage.DeleteTrigger | storage.UpdateTrigger

func (c *Catalog) getTrigger(txn *concurrency.TransactionContext, dbOid, tableOid storage.Oid,
	name string) (*TriggerEntry, error) {

	_, te, err := getEntry[TriggerEntry](c, txn, dbOid, triggerCatalog, 1,
		[]sql.Value{oidValue(tableOid), sql.StringValue(name)})
	if err != nil {
		return nil, err
	} else if te == nil {
		return nil, errorf(NotFound, "trigger %s not found", name)
	}
	return te, nil
}

// CreateTrigger adds trig to a table. The trigger function is found by
// trig.FuncName among the registered trigger functions unless trig.Func is
// set, in which case it is registered under that name.
func (c *Catalog) CreateTrigger(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName string, trig *storage.Trigger) (*TriggerEntry, error) {

	te, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if te.SchemaName == CatalogSchemaName {
		return nil, errorf(InvalidArgument, "catalog table %s may not have triggers", tableName)
	}
	err = c.lockObject(txn, te.Oid)
	if err != nil {
		return nil, err
	}
	dt, err := c.dataTable(te)
	if err != nil {
		return nil, err
	}

	if trig.Name == "" || trig.FuncName == "" {
		return nil, errorf(InvalidArgument, "trigger must have a name and a function")
	}
	if trig.Type&triggerEvents == 0 {
		return nil, errorf(InvalidArgument, "trigger %s: no events", trig.Name)
	}
	if trig.Type&storage.BeforeTrigger != 0 && trig.Type&storage.CommitTrigger != 0 {
		return nil, errorf(InvalidArgument, "trigger %s: before and on commit", trig.Name)
	}
	_, err = c.getTrigger(txn, te.DatabaseOid, te.Oid, trig.Name)
	if err == nil {
		return nil, errorf(AlreadyExists, "trigger %s already exists on table %s", trig.Name,
			tableName)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if trig.Func != nil {
		c.RegisterTriggerFunc(trig.FuncName, trig.Func)
	} else if fn, ok := c.triggerFunc(trig.FuncName); ok {
		trig.Func = fn
	} else {
		return nil, errorf(NotFound, "trigger function %s not found", trig.FuncName)
	}

	tre := &TriggerEntry{
		Oid:      c.GetNextOid(TriggerCatalogType),
		TableOid: te.Oid,
		Name:     trig.Name,
		Type:     trig.Type,
		FuncName: trig.FuncName,
		Args:     strings.Join(trig.Args, ","),
	}
	if trig.When != nil {
		if trig.When.Column < 0 || trig.When.Column >= dt.Schema().ColumnCount() {
			return nil, errorf(InvalidArgument, "trigger %s: column %d out of range",
				trig.Name, trig.When.Column)
		}
		wv, err := formatValue(trig.When.Value)
		if err != nil {
			return nil, errorf(InvalidArgument, "trigger %s: when: %s", trig.Name, err)
		}
		wc := int32(trig.When.Column)
		wo := trig.When.Op
		tre.WhenColumn = &wc
		tre.WhenOp = &wo
		tre.WhenValue = &wv
	}
	err = c.insertRow(txn, te.DatabaseOid, triggerCatalog, tre)
	if err != nil {
		return nil, err
	}

	trig.Oid = tre.Oid
	trig.TableOid = te.Oid
	dt.AddTrigger(trig)
	txn.OnAbort(func() {
		dt.Triggers().DropTrigger(trig.Name)
	})

	te.EvictTriggers()
	c.invalidateOnCommit(txn, te.Oid)
	logDDL(txn, "create trigger").WithFields(log.Fields{
		"table":   te.EntryName(),
		"trigger": trig.Name,
		"type":    trig.Type,
	}).Debug("catalog: ddl")
	return tre, nil
}

func (c *Catalog) DropTrigger(txn *concurrency.TransactionContext, dbName, schemaName,
	tableName, triggerName string) error {

	te, err := c.GetTableObject(txn, dbName, schemaName, tableName)
	if err != nil {
		return err
	}
	err = c.lockObject(txn, te.Oid)
	if err != nil {
		return err
	}
	dt, err := c.dataTable(te)
	if err != nil {
		return err
	}
	tre, err := c.getTrigger(txn, te.DatabaseOid, te.Oid, triggerName)
	if err != nil {
		return err
	}

	_, err = c.deleteRows(txn, te.DatabaseOid, triggerCatalog, 0, oidKey(tre.Oid))
	if err != nil {
		return err
	}
	txn.OnCommit(func() {
		dt.Triggers().DropTrigger(triggerName)
	})

	te.EvictTriggers()
	c.invalidateOnCommit(txn, te.Oid)
	logDDL(txn, "drop trigger").WithFields(log.Fields{
		"table":   te.EntryName(),
		"trigger": triggerName,
	}).Debug("catalog: ddl")
	return nil
}

// storageTrigger rebuilds the trigger described by tre for a table with
// schema s. The function is left nil if it is not registered.
func (c *Catalog) storageTrigger(tre *TriggerEntry, s *sql.Schema) (*storage.Trigger, error) {
	trig := &storage.Trigger{
		Oid:      tre.Oid,
		Name:     tre.Name,
		TableOid: tre.TableOid,
		Type:     tre.Type,
		FuncName: tre.FuncName,
	}
	if tre.Args != "" {
		trig.Args = strings.Split(tre.Args, ",")
	}
	if tre.WhenColumn != nil && tre.WhenOp != nil && tre.WhenValue != nil {
		col := int(*tre.WhenColumn)
		if col < 0 || col >= s.ColumnCount() {
			return nil, errorf(Internal, "trigger %s: column %d out of range", tre.Name, col)
		}
		v, err := sql.ConvertValue(s.Column(col).Type, sql.StringValue(*tre.WhenValue))
		if err != nil {
			return nil, errorf(Internal, "trigger %s: when: %s", tre.Name, err)
		}
		trig.When = &storage.TriggerWhen{
			Column: col,
			Op:     *tre.WhenOp,
			Value:  v,
		}
	}
	if fn, ok := c.triggerFunc(tre.FuncName); ok {
		trig.Func = fn
	} else {
		log.WithFields(log.Fields{
			"trigger":  tre.Name,
			"function": tre.FuncName,
		}).Warn("catalog: trigger function not registered")
	}
	return trig, nil
}
