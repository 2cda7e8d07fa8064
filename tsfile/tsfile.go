// Package tsfile implements the TSF v1 binary time-series file format: an
// append-only log of fixed-size request records behind a crash-safe rotating
// superblock (spec.md §4.8). It has no dependency on the rest of the engine
// and is usable standalone, the way libtsfile was its own library in the
// original C tree.
package tsfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const (
	magic          = uint32(0x54534c31) // "TSL1"
	version        = uint32(1)
	headerSize     = 4096
	superblockSize = 32
	numSuperblocks = 4

	// RecordHeaderSize is the size in bytes of Record's fixed fields, before
	// the schema-defined parameter suffix (spec.md §4.8).
	RecordHeaderSize = 4 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 4 + 2
)

// Record is one fixed-size request record (spec.md §4.8). Params holds the
// raw parameter-struct bytes, copied verbatim and sized per the file's Schema.
type Record struct {
	Step         uint32
	Request      uint32
	ChainRequest int32
	Thread       uint32
	User         uint32
	SchedTime    int64
	StartTime    int64
	EndTime      int64
	QueueLength  int32
	Flags        uint16
	Params       []byte
}

func (r Record) marshal(entrySize uint32) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Step)
	binary.LittleEndian.PutUint32(buf[4:8], r.Request)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.ChainRequest))
	binary.LittleEndian.PutUint32(buf[12:16], r.Thread)
	binary.LittleEndian.PutUint32(buf[16:20], r.User)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(r.SchedTime))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(r.StartTime))
	binary.LittleEndian.PutUint64(buf[36:44], uint64(r.EndTime))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(r.QueueLength))
	binary.LittleEndian.PutUint16(buf[48:50], r.Flags)
	copy(buf[RecordHeaderSize:], r.Params)
	return buf
}

func unmarshalRecord(buf []byte) Record {
	return Record{
		Step:         binary.LittleEndian.Uint32(buf[0:4]),
		Request:      binary.LittleEndian.Uint32(buf[4:8]),
		ChainRequest: int32(binary.LittleEndian.Uint32(buf[8:12])),
		Thread:       binary.LittleEndian.Uint32(buf[12:16]),
		User:         binary.LittleEndian.Uint32(buf[16:20]),
		SchedTime:    int64(binary.LittleEndian.Uint64(buf[20:28])),
		StartTime:    int64(binary.LittleEndian.Uint64(buf[28:36])),
		EndTime:      int64(binary.LittleEndian.Uint64(buf[36:44])),
		QueueLength:  int32(binary.LittleEndian.Uint32(buf[44:48])),
		Flags:        binary.LittleEndian.Uint16(buf[48:50]),
		Params:       append([]byte(nil), buf[RecordHeaderSize:]...),
	}
}

// superblock is a small rotating metadata record used for crash-safe count
// updates (spec.md §4.8, glossary).
type superblock struct {
	Count     uint32
	WriteTime int64
}

func (s superblock) marshal() []byte {
	buf := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.Count)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(s.WriteTime))
	return buf
}

func unmarshalSuperblock(buf []byte) superblock {
	return superblock{
		Count:     binary.LittleEndian.Uint32(buf[0:4]),
		WriteTime: int64(binary.LittleEndian.Uint64(buf[4:12])),
	}
}

// File is an open TSF v1 file (spec.md §4.8).
type File struct {
	mu sync.Mutex

	f      *os.File
	schema Schema

	superblocks [numSuperblocks]superblock
	curSB       int
	count       uint32

	stickyErr error
}

// Create initializes a fresh TSF file at path with the given schema,
// truncating any existing content.
func Create(path string, schema Schema) (*File, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	tf := &File{f: f, schema: schema}
	if err := tf.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSchemaJSON(path, schema); err != nil {
		f.Close()
		return nil, err
	}
	return tf, nil
}

// Open opens an existing TSF file, checking the header's magic and version,
// requiring its schema to match expect under Schema.Equal, and selecting the
// latest superblock by write_time that is not in the future (spec.md §4.8).
func Open(path string, expect Schema) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	tf := &File{f: f}
	if err := tf.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if !tf.schema.Equal(expect) {
		f.Close()
		return nil, fmt.Errorf("tsfile: schema mismatch on open of %s", path)
	}

	best := -1
	now := time.Now()
	for i, sb := range tf.superblocks {
		if sb.WriteTime > now.UnixNano() {
			continue
		}
		if best == -1 || sb.WriteTime > tf.superblocks[best].WriteTime {
			best = i
		}
	}
	if best == -1 {
		best = 0
	}
	tf.curSB = best
	tf.count = tf.superblocks[best].Count
	return tf, nil
}

func (f *File) writeHeader() error {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	for i, sb := range f.superblocks {
		off := 8 + i*superblockSize
		copy(header[off:off+superblockSize], sb.marshal())
	}
	schemaBytes, err := json.Marshal(f.schema)
	if err != nil {
		return err
	}
	schemaOff := 8 + numSuperblocks*superblockSize
	copy(header[schemaOff:], schemaBytes)

	if _, err := f.f.WriteAt(header, 0); err != nil {
		return err
	}
	return nil
}

func (f *File) readHeader() error {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f.f, header); err != nil {
		return fmt.Errorf("tsfile: short header: %w", err)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != magic {
		return fmt.Errorf("tsfile: bad magic")
	}
	if binary.LittleEndian.Uint32(header[4:8]) != version {
		return fmt.Errorf("tsfile: unsupported version")
	}
	for i := 0; i < numSuperblocks; i++ {
		off := 8 + i*superblockSize
		f.superblocks[i] = unmarshalSuperblock(header[off : off+superblockSize])
	}
	schemaOff := 8 + numSuperblocks*superblockSize
	schemaBytes := bytes.TrimRight(header[schemaOff:], "\x00")
	return json.Unmarshal(schemaBytes, &f.schema)
}

// Append writes records starting at the current count, then rotates and
// rewrites the active superblock (spec.md §4.8 step 1-4). On a crash between
// the data write and the superblock rewrite, the previous superblock still
// describes a consistent prefix.
func (f *File) Append(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stickyErr != nil {
		return f.stickyErr
	}
	if len(records) == 0 {
		return nil
	}

	entrySize := f.schema.EntrySize
	buf := make([]byte, 0, entrySize*uint32(len(records)))
	for _, r := range records {
		buf = append(buf, r.marshal(entrySize)...)
	}

	offset := int64(headerSize) + int64(f.count)*int64(entrySize)
	if _, err := f.f.WriteAt(buf, offset); err != nil {
		f.stickyErr = err
		return err
	}

	f.count += uint32(len(records))
	f.curSB = (f.curSB + 1) % numSuperblocks
	f.superblocks[f.curSB] = superblock{Count: f.count, WriteTime: time.Now().UnixNano()}

	region := make([]byte, numSuperblocks*superblockSize)
	for i, sb := range f.superblocks {
		copy(region[i*superblockSize:(i+1)*superblockSize], sb.marshal())
	}
	if _, err := f.f.WriteAt(region, 8); err != nil {
		f.stickyErr = err
		return err
	}
	return f.f.Sync()
}

// ReadRange reads records [start, end) honoring the monotone counter: reading
// past the active superblock's count fails (spec.md §4.8).
func (f *File) ReadRange(start, end uint32) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if end > f.count || start > end {
		return nil, fmt.Errorf("tsfile: invalid range [%d,%d) beyond count %d", start, end, f.count)
	}

	entrySize := f.schema.EntrySize
	n := end - start
	buf := make([]byte, int64(n)*int64(entrySize))
	offset := int64(headerSize) + int64(start)*int64(entrySize)
	if _, err := f.f.ReadAt(buf, offset); err != nil {
		return nil, err
	}

	out := make([]Record, 0, n)
	for i := uint32(0); i < n; i++ {
		off := int64(i) * int64(entrySize)
		out = append(out, unmarshalRecord(buf[off:off+int64(entrySize)]))
	}
	return out, nil
}

// Count returns the number of records visible through the active superblock.
func (f *File) Count() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Schema returns the file's record schema.
func (f *File) Schema() Schema {
	return f.schema
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

func writeSchemaJSON(path string, schema Schema) error {
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path+"-schema.json", out, 0o644)
}
