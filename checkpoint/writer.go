package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cmu-db/peloton-sub010/catalog"
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
	"github.com/cmu-db/peloton-sub010/storage/encode"
)

type tableFile struct {
	dt     *storage.DataTable
	path   string
	format FileFormat
	filter func(vals []sql.Value) bool
}

// persistentOnly keeps the rows of pg_settings flagged persistent.
func persistentOnly(dt *storage.DataTable) (func(vals []sql.Value) bool, error) {
	col, ok := dt.Schema().ColumnIndex("is_persistent")
	if !ok {
		return nil, errors.Errorf("checkpoint: table %s: no is_persistent column", dt.Name())
	}
	return func(vals []sql.Value) bool {
		b, ok := vals[col].(sql.BoolValue)
		return ok && bool(b)
	}, nil
}

// tableFiles lists every table, catalog tables included, of every database
// visible to txn.
func (m *Manager) tableFiles(txn *concurrency.TransactionContext) ([]tableFile, error) {
	dbs, err := m.c.GetDatabaseObjects(txn)
	if err != nil {
		return nil, err
	}

	var tfs []tableFile
	for _, de := range dbs {
		tables, err := m.c.GetTableObjects(txn, de.Oid)
		if err != nil {
			return nil, err
		}
		for _, te := range tables {
			dt, err := m.st.GetTableWithOid(de.Oid, te.Oid)
			if err != nil {
				return nil, errors.Wrapf(err, "checkpoint: database %s: table %s", de.Name,
					te.Name)
			}

			tf := tableFile{
				dt:     dt,
				path:   filepath.Join(de.Name, te.SchemaName, te.Name),
				format: FullFormat,
			}
			if te.SchemaName == catalog.CatalogSchemaName {
				tf.format = FlatFormat
				if te.Oid == catalog.SettingsCatalogOid {
					tf.filter, err = persistentOnly(dt)
					if err != nil {
						return nil, err
					}
				}
			}
			tfs = append(tfs, tf)
		}
	}
	return tfs, nil
}

// visibleTuples calls fn with the values of every slot of tg visible at cid.
func visibleTuples(tg *storage.TileGroup, cid storage.CID, fn func(vals []sql.Value)) {
	tgh := tg.Header()
	cnt := tg.NextTupleSlot()
	for slot := storage.Oid(0); slot < cnt; slot++ {
		if concurrency.VisibleAt(tgh.GetTransactionId(slot), tgh.GetBeginCommitId(slot),
			tgh.GetEndCommitId(slot), cid) {

			fn(tg.Values(slot))
		}
	}
}

// encodeTable serializes the tuples of tf visible at cid and returns them with
// the number of tuples.
func encodeTable(tf tableFile, cid storage.CID) ([]byte, int64) {
	out := encode.NewOutput(4096)
	types := tf.dt.Schema().ColumnTypes()
	var tuples int64

	tgs := tf.dt.TileGroups()
	switch tf.format {
	case FullFormat:
		out.WriteLong(int64(len(tgs)))
		for _, tg := range tgs {
			tg.SerializeTo(out)
			visibleTuples(tg, cid, func(vals []sql.Value) {
				out.WriteBool(true)
				out.WriteValues(types, vals)
				tuples += 1
			})
			out.WriteBool(false)
		}
	case FlatFormat:
		for _, tg := range tgs {
			visibleTuples(tg, cid, func(vals []sql.Value) {
				if tf.filter != nil && !tf.filter(vals) {
					return
				}
				out.WriteValues(types, vals)
				tuples += 1
			})
		}
	}
	return out.Bytes(), tuples
}

func writeFile(path string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return errors.Wrapf(err, "checkpoint: create %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "checkpoint: create %s", path)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "checkpoint: write %s", path)
	}
	return nil
}

func (m *Manager) writeTableFile(dir string, tf tableFile, cid storage.CID) (FileInfo, error) {
	data, tuples := encodeTable(tf, cid)
	if m.cfg.Compress {
		data = snappy.Encode(nil, data)
	}

	err := writeFile(filepath.Join(dir, tf.path), data)
	if err != nil {
		return FileInfo{}, err
	}

	log.WithFields(log.Fields{
		"table":  tf.path,
		"tuples": tuples,
		"bytes":  len(data),
	}).Debug("checkpoint: wrote table")
	return FileInfo{
		Path:        tf.path,
		DatabaseOid: tf.dt.DatabaseOid(),
		TableOid:    tf.dt.Oid(),
		Format:      tf.format,
		Checksum:    xxhash.Checksum64(data),
		Tuples:      tuples,
	}, nil
}

// Checkpoint takes one checkpoint: every tuple visible at the start of a new
// epoch is written to the working directory, which is renamed to the epoch once
// complete.
func (m *Manager) Checkpoint(ctx context.Context) (Record, error) {
	m.cycleMutex.Lock()
	defer m.cycleMutex.Unlock()

	start := m.cfg.Clock.Now()
	working := filepath.Join(m.cfg.Dir, workingName)
	err := os.RemoveAll(working)
	if err != nil {
		return Record{}, errors.Wrapf(err, "checkpoint: remove %s", working)
	}
	err = os.MkdirAll(working, 0755)
	if err != nil {
		return Record{}, errors.Wrapf(err, "checkpoint: create %s", working)
	}

	m.tm.EpochManager().NextEpoch()
	txn := m.tm.BeginReadonlyTransaction()
	if m.afterSnapshot != nil {
		m.afterSnapshot()
	}
	man, err := m.writeTables(ctx, txn, working)
	m.tm.CommitTransaction(txn)
	if err != nil {
		os.RemoveAll(working)
		return Record{}, err
	}

	err = writeFile(filepath.Join(working, manifestName), man.Marshal())
	if err != nil {
		os.RemoveAll(working)
		return Record{}, err
	}

	final := epochDir(m.cfg.Dir, man.Epoch)
	err = os.Rename(working, final)
	if err != nil {
		os.RemoveAll(working)
		return Record{}, errors.Wrapf(err, "checkpoint: rename %s to %s", working, final)
	}

	rec := Record{
		Epoch:    man.Epoch,
		BeginCID: man.BeginCID,
		Time:     start,
		Duration: m.cfg.Clock.Now().Sub(start),
		Tables:   len(man.Files),
	}
	for _, fi := range man.Files {
		rec.Tuples += fi.Tuples
	}

	h, err := OpenHistory(historyPath(m.cfg.Dir))
	if err != nil {
		return rec, err
	}
	defer h.Close()
	err = h.Add(rec)
	if err != nil {
		return rec, errors.Wrap(err, "checkpoint: history")
	}
	err = m.removeOldCheckpoints(h)
	if err != nil {
		return rec, err
	}

	log.WithFields(log.Fields{
		"epoch":     rec.Epoch,
		"begin_cid": rec.BeginCID,
		"tables":    rec.Tables,
		"tuples":    rec.Tuples,
		"duration":  rec.Duration,
	}).Info("checkpoint: finished")
	return rec, nil
}

func (m *Manager) writeTables(ctx context.Context, txn *concurrency.TransactionContext,
	dir string) (*Manifest, error) {

	tfs, err := m.tableFiles(txn)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, len(tfs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for idx, tf := range tfs {
		idx, tf := idx, tf
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fi, err := m.writeTableFile(dir, tf, txn.ReadID())
			files[idx] = fi
			return err
		})
	}
	err = g.Wait()
	if err != nil {
		return nil, err
	}

	man := &Manifest{
		Epoch:      txn.EpochID(),
		BeginCID:   txn.ReadID(),
		Compressed: m.cfg.Compress,
		Files:      files,
	}
	man.sortFiles()
	return man, nil
}
