package checkpoint

import (
	"context"
	"os"
	"path/filepath"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/cmu-db/peloton-sub010/catalog"
	"github.com/cmu-db/peloton-sub010/concurrency"
	"github.com/cmu-db/peloton-sub010/sql"
	"github.com/cmu-db/peloton-sub010/storage"
	"github.com/cmu-db/peloton-sub010/storage/encode"
)

type mergeStrategy int

const (
	plainMerge mergeStrategy = iota
	duplicateCheckMerge
	persistentMerge
)

// Catalog tables which hold rows inserted by bootstrap are merged skipping the
// rows already present.
var catalogMerge = map[storage.Oid]mergeStrategy{
	catalog.DatabaseCatalogOid:   duplicateCheckMerge,
	catalog.SchemaCatalogOid:     duplicateCheckMerge,
	catalog.TableCatalogOid:      duplicateCheckMerge,
	catalog.ColumnCatalogOid:     duplicateCheckMerge,
	catalog.IndexCatalogOid:      duplicateCheckMerge,
	catalog.LayoutCatalogOid:     duplicateCheckMerge,
	catalog.ConstraintCatalogOid: duplicateCheckMerge,
	catalog.LanguageCatalogOid:   duplicateCheckMerge,
	catalog.ProcCatalogOid:       duplicateCheckMerge,
	catalog.SettingsCatalogOid:   persistentMerge,
	catalog.TriggerCatalogOid:    plainMerge,
	catalog.SequenceCatalogOid:   plainMerge,
}

// RecoveryEpoch returns the epoch of the newest finished checkpoint in dir.
func RecoveryEpoch(dir string) (storage.EpochID, bool, error) {
	epochs, err := epochDirs(dir)
	if err != nil {
		return 0, false, err
	}
	if len(epochs) == 0 {
		return 0, false, nil
	}
	return epochs[0], true, nil
}

func readManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestName)
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: read %s", path)
	}
	man, err := UnmarshalManifest(buf)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return man, nil
}

// readTableFile reads the file fi of the checkpoint in dir, checks it against
// the manifest and returns it uncompressed.
func readTableFile(dir string, man *Manifest, fi FileInfo) ([]byte, error) {
	path := filepath.Join(dir, fi.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: read %s", path)
	}
	if sum := xxhash.Checksum64(data); sum != fi.Checksum {
		return nil, errors.Errorf("checkpoint: %s: checksum %x; manifest has %x", path, sum,
			fi.Checksum)
	}
	if man.Compressed {
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return nil, errors.Wrapf(err, "checkpoint: decompress %s", path)
		}
	}
	return data, nil
}

// DoCheckpointRecovery loads the newest checkpoint, if there is one, into an
// empty storage manager and returns whether it did. The catalog tables are
// recovered, with the catalog bootstrapped first, in one transaction; the user
// tables are rebuilt from the recovered catalog and loaded in a second. Any
// error leaves the storage manager in an unusable state.
func (m *Manager) DoCheckpointRecovery(ctx context.Context) (bool, error) {
	m.cycleMutex.Lock()
	defer m.cycleMutex.Unlock()

	epoch, ok, err := RecoveryEpoch(m.cfg.Dir)
	if err != nil {
		return false, err
	}
	if !ok {
		log.WithField("dir", m.cfg.Dir).Info("checkpoint: no checkpoint to recover")
		return false, nil
	}

	start := m.cfg.Clock.Now()
	dir := epochDir(m.cfg.Dir, epoch)
	man, err := readManifest(dir)
	if err != nil {
		return false, err
	}
	if man.Epoch != epoch {
		return false, errors.Errorf("checkpoint: %s: manifest is for epoch %d", dir, man.Epoch)
	}

	// Everything recovered is written after the checkpoint's epoch.
	m.tm.EpochManager().SetCurrentEpoch(epoch + 1)

	err = m.runRecovery(func(txn *concurrency.TransactionContext) error {
		return m.recoverCatalogTables(ctx, txn, dir, man)
	})
	if err != nil {
		return false, errors.Wrap(err, "checkpoint: recover catalog tables")
	}
	var tuples int64
	err = m.runRecovery(func(txn *concurrency.TransactionContext) error {
		var err error
		tuples, err = m.recoverUserTables(ctx, txn, dir, man)
		return err
	})
	if err != nil {
		return false, errors.Wrap(err, "checkpoint: recover user tables")
	}

	log.WithFields(log.Fields{
		"epoch":     epoch,
		"begin_cid": man.BeginCID,
		"tuples":    tuples,
		"duration":  m.cfg.Clock.Now().Sub(start),
	}).Info("checkpoint: recovered")
	return true, nil
}

func (m *Manager) runRecovery(fn func(txn *concurrency.TransactionContext) error) error {
	txn := m.tm.BeginTransaction(concurrency.Serializable)
	err := fn(txn)
	if err != nil {
		m.tm.AbortTransaction(txn)
		return err
	}
	if ret := m.tm.CommitTransaction(txn); ret != concurrency.ResultSuccess {
		return errors.Errorf("commit: %s", ret)
	}
	return nil
}

func (m *Manager) recoverCatalogTables(ctx context.Context, txn *concurrency.TransactionContext,
	dir string, man *Manifest) error {

	err := m.c.Bootstrap(txn)
	if err != nil {
		return err
	}
	err = m.recoverDatabaseCatalog(txn, dir, man, catalog.CatalogDatabaseOid)
	if err != nil {
		return err
	}

	dbs, err := m.c.GetDatabaseObjects(txn)
	if err != nil {
		return err
	}
	for _, de := range dbs {
		if de.Oid == catalog.CatalogDatabaseOid {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err = m.c.BootstrapDatabase(txn, de.Oid, de.Name)
		if err != nil {
			return err
		}
		err = m.recoverDatabaseCatalog(txn, dir, man, de.Oid)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) recoverDatabaseCatalog(txn *concurrency.TransactionContext, dir string,
	man *Manifest, dbOid storage.Oid) error {

	for _, tableOid := range catalog.CatalogTables(dbOid) {
		fi, ok := man.Lookup(dbOid, tableOid)
		if !ok {
			name, _ := catalog.CatalogTableName(tableOid)
			return errors.Errorf("database %d: no checkpoint of %s", dbOid, name)
		}
		if fi.Format != FlatFormat {
			return errors.Errorf("%s: catalog table in %s format", fi.Path, fi.Format)
		}
		dt, err := m.c.CatalogTable(dbOid, tableOid)
		if err != nil {
			return err
		}

		data, err := readTableFile(dir, man, fi)
		if err != nil {
			return err
		}
		var recovered, skipped int64
		err = readFlatTuples(data, dt.Schema(), func(t *sql.Tuple) error {
			m.c.AdvanceOidFor(tableOid, t)
			recovered += 1
			merged, err := m.mergeTuple(txn, dt, catalogMerge[tableOid], t)
			if err == nil && !merged {
				skipped += 1
			}
			return err
		})
		if err != nil {
			return errors.Wrap(err, fi.Path)
		}
		if recovered != fi.Tuples {
			return errors.Errorf("%s: recovered %d tuples; manifest has %d", fi.Path, recovered,
				fi.Tuples)
		}

		log.WithFields(log.Fields{
			"table":     fi.Path,
			"recovered": recovered,
			"skipped":   skipped,
		}).Debug("checkpoint: recovered catalog table")
	}
	return nil
}

// mergeTuple adds t, a recovered row, to the catalog table dt and returns
// whether dt changed.
func (m *Manager) mergeTuple(txn *concurrency.TransactionContext, dt *storage.DataTable,
	ms mergeStrategy, t *sql.Tuple) (bool, error) {

	if ms == plainMerge {
		_, err := m.tm.RecoverTuple(txn, dt, t)
		return err == nil, err
	}

	pk, ok := catalog.PrimaryKey(dt.Oid())
	if !ok {
		return false, errors.Errorf("table %s: no primary key", dt.Name())
	}
	location, _, err := m.tm.LookupTuple(txn, dt, t.Project(pk))
	if errors.Is(err, concurrency.ErrNotFound) {
		_, err = m.tm.RecoverTuple(txn, dt, t)
		return err == nil, err
	} else if err != nil {
		return false, err
	}

	if ms == duplicateCheckMerge {
		return false, nil
	}
	// A persistent setting replaces the value set at bootstrap.
	_, err = m.tm.UpdateTuple(txn, dt, location, t)
	return err == nil, err
}

func readFlatTuples(data []byte, s *sql.Schema, fn func(t *sql.Tuple) error) error {
	in := encode.NewInput(data)
	types := s.ColumnTypes()
	for !in.Done() {
		vals := in.ReadValues(types)
		if in.Err() != nil {
			return in.Err()
		}
		t, err := sql.MakeTuple(s, vals...)
		if err != nil {
			return err
		}
		err = fn(t)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) recoverUserTables(ctx context.Context, txn *concurrency.TransactionContext,
	dir string, man *Manifest) (int64, error) {

	var tuples int64
	for _, db := range m.st.Databases() {
		tables, err := m.c.RecoverStorageObjects(txn, db.Oid())
		if err != nil {
			return 0, err
		}
		for _, dt := range tables {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			fi, ok := man.Lookup(db.Oid(), dt.Oid())
			if !ok {
				return 0, errors.Errorf("database %s: no checkpoint of table %s", db.Name(),
					dt.Name())
			}
			if fi.Format != FullFormat {
				return 0, errors.Errorf("%s: user table in %s format", fi.Path, fi.Format)
			}
			data, err := readTableFile(dir, man, fi)
			if err != nil {
				return 0, err
			}
			n, err := m.recoverTableData(txn, dt, data)
			if err != nil {
				return 0, errors.Wrap(err, fi.Path)
			}
			if n != fi.Tuples {
				return 0, errors.Errorf("%s: recovered %d tuples; manifest has %d", fi.Path, n,
					fi.Tuples)
			}
			tuples += n

			log.WithFields(log.Fields{
				"table":  fi.Path,
				"tuples": n,
			}).Debug("checkpoint: recovered table")
		}
	}
	return tuples, nil
}

// recoverTableData replaces the tile groups of dt with those read from data,
// inserting every tuple into the indexes of dt. The tile groups are built
// aside, visible only to the storage manager, and swapped into dt at the end.
func (m *Manager) recoverTableData(txn *concurrency.TransactionContext, dt *storage.DataTable,
	data []byte) (int64, error) {

	in := encode.NewInput(data)
	s := dt.Schema()
	types := s.ColumnTypes()
	cnt := in.ReadLong()
	if in.Err() != nil {
		return 0, in.Err()
	}

	var tuples int64
	var tgs []*storage.TileGroup
	for n := int64(0); n < cnt; n++ {
		layoutOid, capacity, err := storage.DeserializeTileGroupMetadata(in)
		if err != nil {
			return 0, err
		}
		tg, err := dt.NewTileGroupForLayout(layoutOid, capacity)
		if err != nil {
			return 0, err
		}
		m.st.AddTileGroup(tg)
		tgs = append(tgs, tg)

		for in.ReadBool() {
			vals := in.ReadValues(types)
			if in.Err() != nil {
				return 0, in.Err()
			}
			t, err := sql.MakeTuple(s, vals...)
			if err != nil {
				return 0, err
			}
			_, err = m.tm.RecoverTupleAt(txn, dt, tg, t)
			if err != nil {
				return 0, err
			}
			tuples += 1
		}
		if in.Err() != nil {
			return 0, in.Err()
		}
	}
	if !in.Done() {
		return 0, errors.Errorf("table %s: %d bytes after the last tile group", dt.Name(),
			in.Remaining())
	}
	dt.ReplaceTileGroups(tgs)
	return tuples, nil
}
