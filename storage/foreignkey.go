package storage

import (
	"fmt"
	"strings"
)

type FKAction int

const (
	FKNoAction FKAction = iota + 1
	FKRestrict
	FKCascade
	FKSetNull
	FKSetDefault
)

func (fka FKAction) String() string {
	switch fka {
	case FKNoAction:
		return "NO ACTION"
	case FKRestrict:
		return "RESTRICT"
	case FKCascade:
		return "CASCADE"
	case FKSetNull:
		return "SET NULL"
	case FKSetDefault:
		return "SET DEFAULT"
	}
	return fmt.Sprintf("fk-action-%d", int(fka))
}

func ParseFKAction(s string) (FKAction, error) {
	for fka := FKNoAction; fka <= FKSetDefault; fka++ {
		if strings.EqualFold(fka.String(), s) {
			return fka, nil
		}
	}
	return 0, fmt.Errorf("storage: unknown foreign key action: %s", s)
}

// ForeignKey is a reference from columns of the source table to the primary key
// columns of the sink table. The source table keeps it in its foreign key list;
// the sink table keeps it as a foreign key source.
type ForeignKey struct {
	Oid            Oid
	Name           string
	SourceTableOid Oid
	SourceColumns  []int
	SinkTableOid   Oid
	SinkColumns    []int
	UpdateAction   FKAction
	DeleteAction   FKAction
}

func (fk *ForeignKey) String() string {
	return fmt.Sprintf("%s: %d%v -> %d%v ON UPDATE %s ON DELETE %s", fk.Name,
		fk.SourceTableOid, fk.SourceColumns, fk.SinkTableOid, fk.SinkColumns, fk.UpdateAction,
		fk.DeleteAction)
}
