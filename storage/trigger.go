package storage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cmu-db/peloton-sub010/sql"
)

// TriggerType is a set of flags: which row or statement event fires the
// trigger and when.
type TriggerType int16

const (
	RowTrigger TriggerType = 1 << iota
	BeforeTrigger
	InsertTrigger
	DeleteTrigger
	UpdateTrigger
	CommitTrigger

	StatementTrigger TriggerType = 0
	AfterTrigger     TriggerType = 0

	triggerTimingMask = BeforeTrigger | CommitTrigger
	triggerEventMask  = InsertTrigger | DeleteTrigger | UpdateTrigger
)

// Matches reports whether a trigger of type tt fires for the single event ev.
func (tt TriggerType) Matches(ev TriggerType) bool {
	return tt&RowTrigger == ev&RowTrigger && tt&triggerTimingMask == ev&triggerTimingMask &&
		tt&ev&triggerEventMask != 0
}

func (tt TriggerType) String() string {
	var parts []string
	switch {
	case tt&BeforeTrigger != 0:
		parts = append(parts, "BEFORE")
	case tt&CommitTrigger != 0:
		parts = append(parts, "ON COMMIT")
	default:
		parts = append(parts, "AFTER")
	}
	var events []string
	if tt&InsertTrigger != 0 {
		events = append(events, "INSERT")
	}
	if tt&UpdateTrigger != 0 {
		events = append(events, "UPDATE")
	}
	if tt&DeleteTrigger != 0 {
		events = append(events, "DELETE")
	}
	parts = append(parts, strings.Join(events, " OR "))
	if tt&RowTrigger != 0 {
		parts = append(parts, "FOR EACH ROW")
	} else {
		parts = append(parts, "FOR EACH STATEMENT")
	}
	return strings.Join(parts, " ")
}

// TriggerData is passed to a trigger function. For row triggers Old holds the
// version being replaced or deleted and New the version being written.
type TriggerData struct {
	Type    TriggerType
	Trigger *Trigger
	TxnID   TxnID
	Old     *sql.Tuple
	New     *sql.Tuple
}

// TriggerFunc may return a replacement for the new tuple of a before row
// trigger; returning nil keeps the tuple unchanged.
type TriggerFunc func(td *TriggerData) (*sql.Tuple, error)

// TriggerWhen is a simple fire condition: the value of a column compared with a
// constant.
type TriggerWhen struct {
	Column int
	Op     string
	Value  sql.Value
}

func (tw *TriggerWhen) matches(t *sql.Tuple) (bool, error) {
	if t == nil {
		return false, nil
	}
	con := sql.MakeConstraint(sql.CheckConstraint, "when")
	con.CheckOp = tw.Op
	con.CheckValue = tw.Value
	v := t.GetValue(tw.Column)
	if sql.IsNull(v) {
		return false, nil
	}
	return con.Check(v)
}

type Trigger struct {
	Oid      Oid
	Name     string
	TableOid Oid
	Type     TriggerType
	FuncName string
	Args     []string
	When     *TriggerWhen
	Func     TriggerFunc
}

// TriggerList holds the triggers of a table.
type TriggerList struct {
	mu       sync.RWMutex
	triggers []*Trigger
	summary  TriggerType
}

func (tl *TriggerList) AddTrigger(trig *Trigger) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.triggers = append(tl.triggers, trig)
	tl.summary |= trig.Type
}

func (tl *TriggerList) DropTrigger(name string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for idx, trig := range tl.triggers {
		if trig.Name == name {
			tl.triggers = append(tl.triggers[:idx], tl.triggers[idx+1:]...)
			tl.summary = 0
			for _, trig := range tl.triggers {
				tl.summary |= trig.Type
			}
			return true
		}
	}
	return false
}

func (tl *TriggerList) Triggers() []*Trigger {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return append([]*Trigger(nil), tl.triggers...)
}

func (tl *TriggerList) Count() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.triggers)
}

// ExecTriggers runs every trigger matching the event ev, in the order the
// triggers were added. It returns the new tuple, as replaced by any before row
// trigger.
func (tl *TriggerList) ExecTriggers(ev TriggerType, txn TxnID, oldTuple,
	newTuple *sql.Tuple) (*sql.Tuple, error) {

	tl.mu.RLock()
	if tl.summary&ev&triggerEventMask == 0 {
		tl.mu.RUnlock()
		return newTuple, nil
	}
	triggers := append([]*Trigger(nil), tl.triggers...)
	tl.mu.RUnlock()

	for _, trig := range triggers {
		if !trig.Type.Matches(ev) || trig.Func == nil {
			continue
		}
		if trig.When != nil {
			t := newTuple
			if ev&DeleteTrigger != 0 {
				t = oldTuple
			}
			ok, err := trig.When.matches(t)
			if err != nil {
				return nil, fmt.Errorf("storage: trigger %s: %s", trig.Name, err)
			} else if !ok {
				continue
			}
		}

		ret, err := trig.Func(&TriggerData{
			Type:    ev,
			Trigger: trig,
			TxnID:   txn,
			Old:     oldTuple,
			New:     newTuple,
		})
		if err != nil {
			return nil, fmt.Errorf("storage: trigger %s: %s", trig.Name, err)
		}
		if ret != nil && ev&BeforeTrigger != 0 && ev&RowTrigger != 0 {
			newTuple = ret
		}
	}
	return newTuple, nil
}
