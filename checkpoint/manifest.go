package checkpoint

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/cmu-db/peloton-sub010/storage"
)

// FileFormat is how the tuples of a table are laid out in its checkpoint file.
type FileFormat int

const (
	// FullFormat files hold the tile groups of the table: their layout and
	// capacity followed by the visible tuples of each.
	FullFormat FileFormat = iota + 1

	// FlatFormat files hold the visible tuples with no tile group information;
	// readers read until the end of the file.
	FlatFormat
)

func (ff FileFormat) String() string {
	switch ff {
	case FullFormat:
		return "full"
	case FlatFormat:
		return "flat"
	}
	return fmt.Sprintf("FileFormat(%d)", int(ff))
}

// FileInfo describes one table file of a checkpoint.
type FileInfo struct {
	Path        string
	DatabaseOid storage.Oid
	TableOid    storage.Oid
	Format      FileFormat
	Checksum    uint64
	Tuples      int64
}

// Manifest lists the files of a checkpoint. It is written last, into the
// working directory, so a checkpoint directory with a manifest is complete.
type Manifest struct {
	Epoch      storage.EpochID
	BeginCID   storage.CID
	Compressed bool
	Files      []FileInfo
}

const manifestName = "manifest"

const (
	manifestEpochField      protowire.Number = 1
	manifestBeginCIDField   protowire.Number = 2
	manifestCompressedField protowire.Number = 3
	manifestFileField       protowire.Number = 4

	filePathField     protowire.Number = 1
	fileDatabaseField protowire.Number = 2
	fileTableField    protowire.Number = 3
	fileFormatField   protowire.Number = 4
	fileChecksumField protowire.Number = 5
	fileTuplesField   protowire.Number = 6
)

func protowireBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (m *Manifest) sortFiles() {
	sort.Slice(m.Files, func(i, j int) bool {
		return m.Files[i].Path < m.Files[j].Path
	})
}

// Lookup returns the file holding the table tableOid of the database dbOid.
func (m *Manifest) Lookup(dbOid, tableOid storage.Oid) (FileInfo, bool) {
	for _, fi := range m.Files {
		if fi.DatabaseOid == dbOid && fi.TableOid == tableOid {
			return fi, true
		}
	}
	return FileInfo{}, false
}

func (m *Manifest) Marshal() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, manifestEpochField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.Epoch))
	buf = protowire.AppendTag(buf, manifestBeginCIDField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.BeginCID))
	buf = protowire.AppendTag(buf, manifestCompressedField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowireBool(m.Compressed))

	for _, fi := range m.Files {
		var fbuf []byte
		fbuf = protowire.AppendTag(fbuf, filePathField, protowire.BytesType)
		fbuf = protowire.AppendString(fbuf, fi.Path)
		fbuf = protowire.AppendTag(fbuf, fileDatabaseField, protowire.VarintType)
		fbuf = protowire.AppendVarint(fbuf, uint64(fi.DatabaseOid))
		fbuf = protowire.AppendTag(fbuf, fileTableField, protowire.VarintType)
		fbuf = protowire.AppendVarint(fbuf, uint64(fi.TableOid))
		fbuf = protowire.AppendTag(fbuf, fileFormatField, protowire.VarintType)
		fbuf = protowire.AppendVarint(fbuf, uint64(fi.Format))
		fbuf = protowire.AppendTag(fbuf, fileChecksumField, protowire.Fixed64Type)
		fbuf = protowire.AppendFixed64(fbuf, fi.Checksum)
		fbuf = protowire.AppendTag(fbuf, fileTuplesField, protowire.VarintType)
		fbuf = protowire.AppendVarint(fbuf, uint64(fi.Tuples))

		buf = protowire.AppendTag(buf, manifestFileField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, fbuf)
	}
	return buf
}

func consumeVarint(buf []byte, typ protowire.Type) (uint64, int) {
	if typ != protowire.VarintType {
		return 0, -1
	}
	return protowire.ConsumeVarint(buf)
}

func UnmarshalManifest(buf []byte) (*Manifest, error) {
	var m Manifest
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("checkpoint: manifest: %s", protowire.ParseError(n))
		}
		buf = buf[n:]

		var v uint64
		switch num {
		case manifestEpochField:
			v, n = consumeVarint(buf, typ)
			m.Epoch = storage.EpochID(v)
		case manifestBeginCIDField:
			v, n = consumeVarint(buf, typ)
			m.BeginCID = storage.CID(v)
		case manifestCompressedField:
			v, n = consumeVarint(buf, typ)
			m.Compressed = v != 0
		case manifestFileField:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("checkpoint: manifest: file field has wire type %d", typ)
			}
			var fbuf []byte
			fbuf, n = protowire.ConsumeBytes(buf)
			if n >= 0 {
				fi, err := unmarshalFileInfo(fbuf)
				if err != nil {
					return nil, err
				}
				m.Files = append(m.Files, fi)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return nil, fmt.Errorf("checkpoint: manifest: field %d: bad value", num)
		}
		buf = buf[n:]
	}
	return &m, nil
}

func unmarshalFileInfo(buf []byte) (FileInfo, error) {
	var fi FileInfo
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fi, fmt.Errorf("checkpoint: manifest: %s", protowire.ParseError(n))
		}
		buf = buf[n:]

		var v uint64
		switch num {
		case filePathField:
			if typ != protowire.BytesType {
				n = -1
				break
			}
			var s string
			s, n = protowire.ConsumeString(buf)
			fi.Path = s
		case fileDatabaseField:
			v, n = consumeVarint(buf, typ)
			fi.DatabaseOid = storage.Oid(v)
		case fileTableField:
			v, n = consumeVarint(buf, typ)
			fi.TableOid = storage.Oid(v)
		case fileFormatField:
			v, n = consumeVarint(buf, typ)
			fi.Format = FileFormat(v)
		case fileChecksumField:
			if typ != protowire.Fixed64Type {
				n = -1
				break
			}
			fi.Checksum, n = protowire.ConsumeFixed64(buf)
		case fileTuplesField:
			v, n = consumeVarint(buf, typ)
			fi.Tuples = int64(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return fi, fmt.Errorf("checkpoint: manifest: file field %d: bad value", num)
		}
		buf = buf[n:]
	}

	if fi.Path == "" {
		return fi, fmt.Errorf("checkpoint: manifest: file without a path")
	}
	if fi.Format != FullFormat && fi.Format != FlatFormat {
		return fi, fmt.Errorf("checkpoint: manifest: %s: unknown format: %s", fi.Path, fi.Format)
	}
	return fi, nil
}
