package repl

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/cmu-db/peloton-sub010/catalog"
	"github.com/cmu-db/peloton-sub010/checkpoint"
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/engine"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
)

// LineReader returns one command line at a time; io.EOF ends the session.
type LineReader interface {
	ReadLine() (string, error)
}

type command struct {
	name  string
	args  string
	usage string
	fn    func(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{`\l`, "", "list databases", listDatabases},
		{`\dt`, "[database]", "list tables", listTables},
		{`\d`, "[database.[schema.]]table", "describe a table", describeTable},
		{"scan", "[database.[schema.]]table", "show the visible rows of a table", scanTable},
		{"settings", "", "list settings", listSettings},
		{`\set`, "name value", "change a setting", setParam},
		{"checkpoint", "", "take a checkpoint now", takeCheckpoint},
		{"history", "", "list finished checkpoints", listHistory},
		{"help", "", "list commands", help},
		{`\q`, "", "quit", nil},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

// Repl runs commands read from lr against e until \q or the end of input.
func Repl(ctx context.Context, e *engine.Engine, lr LineReader, w io.Writer) {
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return
		} else if err != nil {
			fmt.Fprintln(w, err)
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, ok := lookupCommand(fields[0])
		if !ok {
			fmt.Fprintf(w, "unknown command: %s; try help\n", fields[0])
			continue
		}
		if cmd.fn == nil {
			return
		}
		err = cmd.fn(ctx, e, w, fields[1:])
		if err != nil {
			fmt.Fprintln(w, err)
		}
	}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetHeader(header)
	return tw
}

func render(w io.Writer, tw *tablewriter.Table) {
	tw.Render()
	fmt.Fprintf(w, "(%d rows)\n", tw.NumLines())
}

func expectArgs(args []string, min, max int) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("wrong number of arguments; try help")
	}
	return nil
}

func help(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	tw := newTable(w, "command", "arguments", "description")
	for _, cmd := range commands {
		tw.Append([]string{cmd.name, cmd.args, cmd.usage})
	}
	tw.Render()
	return nil
}

func listDatabases(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 0, 0)
	if err != nil {
		return err
	}

	return e.ReadOnly(func(txn *concurrency.TransactionContext) error {
		dbs, err := e.Catalog().GetDatabaseObjects(txn)
		if err != nil {
			return err
		}
		sort.Slice(dbs, func(i, j int) bool {
			return dbs[i].Name < dbs[j].Name
		})

		tw := newTable(w, "oid", "name")
		for _, de := range dbs {
			tw.Append([]string{strconv.FormatUint(uint64(de.Oid), 10), de.Name})
		}
		render(w, tw)
		return nil
	})
}

func listTables(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 0, 1)
	if err != nil {
		return err
	}
	dbName := catalog.CatalogDatabaseName
	if len(args) == 1 {
		dbName = args[0]
	}

	return e.ReadOnly(func(txn *concurrency.TransactionContext) error {
		de, err := e.Catalog().GetDatabaseObject(txn, dbName)
		if err != nil {
			return err
		}
		tables, err := e.Catalog().GetTableObjects(txn, de.Oid)
		if err != nil {
			return err
		}
		sort.Slice(tables, func(i, j int) bool {
			if tables[i].SchemaName != tables[j].SchemaName {
				return tables[i].SchemaName < tables[j].SchemaName
			}
			return tables[i].Name < tables[j].Name
		})

		tw := newTable(w, "oid", "schema", "name", "layout", "tile groups")
		for _, te := range tables {
			dt, err := e.Storage().GetTableWithOid(de.Oid, te.Oid)
			if err != nil {
				return err
			}
			tw.Append([]string{
				strconv.FormatUint(uint64(te.Oid), 10),
				te.SchemaName,
				te.Name,
				strconv.FormatUint(uint64(te.DefaultLayoutOid), 10),
				strconv.Itoa(len(dt.TileGroups())),
			})
		}
		render(w, tw)
		return nil
	})
}

// parseTableName accepts table, database.table or database.schema.table.
func parseTableName(s string) (string, string, string, error) {
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if p == "" {
			return "", "", "", fmt.Errorf("bad table name: %s", s)
		}
	}

	switch len(parts) {
	case 1:
		return catalog.CatalogDatabaseName, catalog.DefaultSchemaName, parts[0], nil
	case 2:
		return parts[0], catalog.DefaultSchemaName, parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	}
	return "", "", "", fmt.Errorf("bad table name: %s", s)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func describeTable(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 1, 1)
	if err != nil {
		return err
	}
	dbName, schemaName, tableName, err := parseTableName(args[0])
	if err != nil {
		return err
	}

	return e.ReadOnly(func(txn *concurrency.TransactionContext) error {
		te, err := e.Catalog().GetTableObject(txn, dbName, schemaName, tableName)
		if err != nil {
			return err
		}
		s, err := te.Schema()
		if err != nil {
			return err
		}

		tw := newTable(w, "column", "type", "not null", "primary", "unique")
		for _, col := range s.Columns() {
			tw.Append([]string{col.Name, col.DataType(), yesNo(col.IsNotNull()),
				yesNo(col.IsPrimary()), yesNo(col.IsUnique())})
		}
		render(w, tw)

		indexes, err := te.Indexes()
		if err != nil {
			return err
		}
		if len(indexes) > 0 {
			tw = newTable(w, "index", "type", "columns", "unique")
			for _, ie := range indexes {
				cols := make([]string, len(ie.KeyAttrs))
				for idx, attr := range ie.KeyAttrs {
					cols[idx] = s.Column(attr).Name
				}
				tw.Append([]string{ie.Name, ie.Type.String(), strings.Join(cols, ", "),
					yesNo(ie.UniqueKeys)})
			}
			tw.Render()
		}
		return nil
	})
}

func formatValue(v sql.Value) string {
	if s, ok := v.(sql.StringValue); ok {
		return string(s)
	}
	return sql.Format(v)
}

func scanTable(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 1, 1)
	if err != nil {
		return err
	}
	dbName, schemaName, tableName, err := parseTableName(args[0])
	if err != nil {
		return err
	}

	return e.ReadOnly(func(txn *concurrency.TransactionContext) error {
		dt, err := e.Catalog().GetTableWithName(txn, dbName, schemaName, tableName)
		if err != nil {
			return err
		}

		s := dt.Schema()
		header := make([]string, s.ColumnCount())
		for idx, col := range s.Columns() {
			header[idx] = col.Name
		}

		var rows [][]sql.Value
		err = e.TransactionManager().ScanTable(txn, dt,
			func(location storage.ItemPointer, tpl *sql.Tuple) error {
				rows = append(rows, tpl.Values())
				return nil
			})
		if err != nil {
			return err
		}
		key := s.PrimaryKey()
		if len(key) > 0 {
			sort.SliceStable(rows, func(i, j int) bool {
				for _, k := range key {
					cmp, _ := rows[i][k].Compare(rows[j][k])
					if cmp != 0 {
						return cmp < 0
					}
				}
				return false
			})
		}

		tw := newTable(w, header...)
		for _, r := range rows {
			vals := make([]string, len(r))
			for idx, v := range r {
				vals[idx] = formatValue(v)
			}
			tw.Append(vals)
		}
		render(w, tw)
		return nil
	})
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func listSettings(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 0, 0)
	if err != nil {
		return err
	}

	return e.ReadOnly(func(txn *concurrency.TransactionContext) error {
		settings, err := e.Catalog().GetSettings(txn)
		if err != nil {
			return err
		}

		tw := newTable(w, "name", "value", "type", "default", "min", "max", "mutable",
			"persistent")
		for _, se := range settings {
			tw.Append([]string{se.Name, se.Value, se.ValueType, se.DefaultValue,
				optional(se.MinValue), optional(se.MaxValue), yesNo(se.IsMutable),
				yesNo(se.IsPersistent)})
		}
		render(w, tw)
		return nil
	})
}

func setParam(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 2, 2)
	if err != nil {
		return err
	}
	err = e.SetParam(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", args[0], args[1])
	return nil
}

func takeCheckpoint(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 0, 0)
	if err != nil {
		return err
	}
	rec, err := e.Checkpoint(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "checkpoint %d: %d tables, %d tuples\n", rec.Epoch, rec.Tables, rec.Tuples)
	return nil
}

func listHistory(ctx context.Context, e *engine.Engine, w io.Writer, args []string) error {
	err := expectArgs(args, 0, 0)
	if err != nil {
		return err
	}
	recs, err := e.History()
	if err != nil {
		return err
	}
	WriteHistory(w, recs)
	return nil
}

// WriteHistory writes checkpoint records as a table.
func WriteHistory(w io.Writer, recs []checkpoint.Record) {
	tw := newTable(w, "epoch", "time", "duration", "tables", "tuples")
	for _, rec := range recs {
		tw.Append([]string{
			strconv.FormatUint(uint64(rec.Epoch), 10),
			rec.Time.Format(time.RFC3339),
			rec.Duration.String(),
			strconv.Itoa(rec.Tables),
			strconv.FormatInt(rec.Tuples, 10),
		})
	}
	render(w, tw)
}
