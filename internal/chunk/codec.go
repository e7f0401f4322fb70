package chunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/vector"
)

var fileMagic = [4]byte{'V', 'P', 'C', 'K'}

// FormatVersion is the current chunk file version.
const FormatVersion uint16 = 2

const flagGraph uint32 = 1

// header is the fixed-size prefix of a chunk file.
type header struct {
	Magic     [4]byte
	Version   uint16
	IndexType uint8
	Metric    uint8
	Dim       uint32
	M         uint32
	EfConstr  uint32
	Count     uint32
	Slots     uint32
	Flags     uint32
}

// tableEntry is one live record of the record table.
type tableEntry struct {
	Handle uint32         `msgpack:"h"`
	Record *models.Record `msgpack:"r"`
}

// Encode serializes the chunk:
//
//	header | u32 table length | record table (msgpack) | u32 graph length | graph | u64 xxhash
//
// Without PersistGraph the table holds live records only and handles are
// renumbered densely, so the reader can rebuild the index by replay.
func Encode(c *Chunk) ([]byte, error) {
	var entries []tableEntry
	slots := c.index.Slots()
	withGraph := c.opts.PersistGraph
	for h, r := range c.records {
		if r == nil {
			continue
		}
		handle := uint32(h)
		if !withGraph {
			handle = uint32(len(entries))
		}
		entries = append(entries, tableEntry{Handle: handle, Record: r})
	}
	if !withGraph {
		slots = len(entries)
	}

	table, err := msgpack.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode record table: %w", err)
	}

	var graph bytes.Buffer
	flags := uint32(0)
	if withGraph {
		if err := c.index.WriteGraph(&graph); err != nil {
			return nil, fmt.Errorf("encode graph: %w", err)
		}
		flags |= flagGraph
	}

	cfg := c.index.Config()
	h := header{
		Magic:     fileMagic,
		Version:   FormatVersion,
		IndexType: c.index.Type().Code(),
		Metric:    cfg.Metric.Code(),
		Dim:       uint32(cfg.Dim),
		M:         uint32(cfg.M),
		EfConstr:  uint32(cfg.EfConstruction),
		Count:     uint32(len(entries)),
		Slots:     uint32(slots),
		Flags:     flags,
	}

	var buf bytes.Buffer
	buf.Grow(binary.Size(h) + len(table) + graph.Len() + 16)
	le := binary.LittleEndian
	if err := binary.Write(&buf, le, h); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, le, uint32(len(table))); err != nil {
		return nil, err
	}
	buf.Write(table)
	if err := binary.Write(&buf, le, uint32(graph.Len())); err != nil {
		return nil, err
	}
	buf.Write(graph.Bytes())
	if err := binary.Write(&buf, le, xxhash.Sum64(buf.Bytes())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a chunk file. Every validation failure wraps
// models.ErrChunkCorrupted. When the stored index type, metric, graph
// parameters or graph flag differ from opts, the sub-index is rebuilt from
// the record table.
func Decode(id string, data []byte, opts Options) (*Chunk, error) {
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("chunk %s: %s: %w", id, fmt.Sprintf(format, args...), models.ErrChunkCorrupted)
	}

	var h header
	hdrSize := binary.Size(h)
	if len(data) < hdrSize+16 {
		return nil, corrupt("file too short (%d bytes)", len(data))
	}
	body, sum := data[:len(data)-8], binary.LittleEndian.Uint64(data[len(data)-8:])
	if xxhash.Sum64(body) != sum {
		return nil, corrupt("checksum mismatch")
	}

	r := bytes.NewReader(body)
	le := binary.LittleEndian
	if err := binary.Read(r, le, &h); err != nil {
		return nil, corrupt("read header: %v", err)
	}
	if h.Magic != fileMagic {
		return nil, corrupt("bad magic %q", h.Magic[:])
	}
	if h.Version != FormatVersion {
		return nil, corrupt("unsupported version %d", h.Version)
	}
	if int(h.Dim) != opts.Index.Dim {
		return nil, corrupt("dimension %d, store expects %d", h.Dim, opts.Index.Dim)
	}
	storedType, err := vector.IndexTypeFromCode(h.IndexType)
	if err != nil {
		return nil, corrupt("%v", err)
	}
	storedMetric, err := vector.MetricFromCode(h.Metric)
	if err != nil {
		return nil, corrupt("%v", err)
	}

	section := func(name string) ([]byte, error) {
		var n uint32
		if err := binary.Read(r, le, &n); err != nil {
			return nil, corrupt("read %s length: %v", name, err)
		}
		if int64(n) > int64(r.Len()) {
			return nil, corrupt("%s length %d exceeds file", name, n)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, corrupt("read %s: %v", name, err)
		}
		return b, nil
	}
	table, err := section("record table")
	if err != nil {
		return nil, err
	}
	graph, err := section("graph")
	if err != nil {
		return nil, err
	}

	var entries []tableEntry
	if err := msgpack.Unmarshal(table, &entries); err != nil {
		return nil, corrupt("decode record table: %v", err)
	}
	if len(entries) != int(h.Count) {
		return nil, corrupt("header count %d, table has %d records", h.Count, len(entries))
	}

	c, err := New(id, opts)
	if err != nil {
		return nil, err
	}

	sameGraphParams := storedType == vector.IndexTypeFlat ||
		(int(h.M) == opts.Index.M && int(h.EfConstr) == opts.Index.EfConstruction)
	useGraph := h.Flags&flagGraph != 0 &&
		storedType == opts.IndexType &&
		storedMetric == opts.Index.Metric &&
		sameGraphParams
	if !useGraph {
		for _, e := range entries {
			if e.Record == nil {
				return nil, corrupt("empty record table entry")
			}
			if err := c.add(e.Record); err != nil {
				return nil, corrupt("replay record %s: %v", e.Record.ID, err)
			}
		}
		if h.Flags&flagGraph != 0 {
			// Index settings changed since the chunk was written.
			c.dirty = true
		} else {
			c.dirty = false
		}
		return c, nil
	}

	records := make([]*models.Record, h.Slots)
	vectors := make([][]float32, h.Slots)
	for _, e := range entries {
		if e.Record == nil || e.Handle >= h.Slots || records[e.Handle] != nil {
			return nil, corrupt("invalid record table entry for handle %d", e.Handle)
		}
		if len(e.Record.Vector) != opts.Index.Dim {
			return nil, corrupt("record %s has %d dims", e.Record.ID, len(e.Record.Vector))
		}
		records[e.Handle] = e.Record
		vectors[e.Handle] = e.Record.Vector
		c.byID[e.Record.ID] = vector.Handle(e.Handle)
	}
	if len(c.byID) != len(entries) {
		return nil, corrupt("duplicate record ids")
	}
	if err := c.index.ReadGraph(bytes.NewReader(graph), vectors); err != nil {
		return nil, corrupt("graph: %v", err)
	}
	if c.index.Len() != len(entries) {
		return nil, corrupt("graph has %d live nodes, table has %d", c.index.Len(), len(entries))
	}
	c.records = records
	return c, nil
}
