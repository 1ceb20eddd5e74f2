package checkpoint

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/cmu-db/peloton-sub010/storage"
	"github.com/cmu-db/peloton-sub010/storage/encode"
)

const (
	historyName = "checkpoints.db"
)

var historyBucket = []byte("checkpoints")

// Record is the history entry of one finished checkpoint.
type Record struct {
	Epoch    storage.EpochID
	BeginCID storage.CID
	Time     time.Time
	Duration time.Duration
	Tables   int
	Tuples   int64
}

// History is the list of finished checkpoints, kept in a bbolt database next
// to the checkpoint directories.
type History struct {
	db *bbolt.DB
}

func OpenHistory(path string) (*History, error) {
	db, err := bbolt.Open(path, os.ModePerm, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint: open history %s", path)
	}
	return &History{db: db}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

func epochKey(epoch storage.EpochID) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(epoch))
	return key[:]
}

func encodeRecord(rec Record) []byte {
	out := encode.NewOutput(48)
	out.WriteLong(int64(rec.BeginCID))
	out.WriteLong(rec.Time.UnixNano())
	out.WriteLong(int64(rec.Duration))
	out.WriteInt(int32(rec.Tables))
	out.WriteLong(rec.Tuples)
	return out.Bytes()
}

func decodeRecord(key, val []byte) (Record, error) {
	if len(key) != 8 {
		return Record{}, errors.Errorf("checkpoint: history: bad key length: %d", len(key))
	}
	in := encode.NewInput(val)
	rec := Record{
		Epoch:    storage.EpochID(binary.BigEndian.Uint64(key)),
		BeginCID: storage.CID(in.ReadLong()),
		Time:     time.Unix(0, in.ReadLong()),
		Duration: time.Duration(in.ReadLong()),
		Tables:   int(in.ReadInt()),
		Tuples:   in.ReadLong(),
	}
	if in.Err() != nil {
		return Record{}, errors.Wrapf(in.Err(), "checkpoint: history: epoch %d", rec.Epoch)
	}
	return rec, nil
}

func (h *History) Add(rec Record) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(historyBucket)
		if err != nil {
			return err
		}
		return bkt.Put(epochKey(rec.Epoch), encodeRecord(rec))
	})
}

func (h *History) Remove(epochs ...storage.EpochID) error {
	return h.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(historyBucket)
		if bkt == nil {
			return nil
		}
		for _, epoch := range epochs {
			err := bkt.Delete(epochKey(epoch))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns the records ordered by epoch.
func (h *History) List() ([]Record, error) {
	var recs []Record
	err := h.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(historyBucket)
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(key, val []byte) error {
			rec, err := decodeRecord(key, val)
			if err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// ListHistory opens the history kept in the checkpoint directory dir and lists
// it. A directory without history has no records.
func ListHistory(dir string) ([]Record, error) {
	path := historyPath(dir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	h, err := OpenHistory(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.List()
}
