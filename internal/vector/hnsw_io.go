package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

var graphMagic = [4]byte{'H', 'N', 'S', 'W'}

const graphVersion uint32 = 1

// WriteGraph serializes the graph structure. Live vectors are not written;
// the chunk record table carries them. Tombstones keep their routing vector.
//
// Format (little endian):
//
//	[4B magic "HNSW"] [4B version] [4B M] [4B efConstruction] [8B seed]
//	[4B slots] [8B entry] [4B maxLevel]
//	per slot: [1B deleted] [4B level] per layer 0..level: [4B n] [n x 4B friend]
//	          if deleted: [dim x 4B vector]
func (g *HNSW) WriteGraph(w io.Writer) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian
	write := func(v any) error { return binary.Write(bw, le, v) }

	if _, err := bw.Write(graphMagic[:]); err != nil {
		return fmt.Errorf("write graph magic: %w", err)
	}
	header := []any{
		graphVersion,
		uint32(g.cfg.M),
		uint32(g.cfg.EfConstruction),
		g.cfg.Seed,
		uint32(len(g.nodes)),
		g.entry,
		uint32(g.maxLevel),
	}
	for _, v := range header {
		if err := write(v); err != nil {
			return fmt.Errorf("write graph header: %w", err)
		}
	}

	for _, nd := range g.nodes {
		var deleted uint8
		if nd.deleted {
			deleted = 1
		}
		if err := write(deleted); err != nil {
			return err
		}
		if err := write(uint32(nd.level)); err != nil {
			return err
		}
		for lev := 0; lev <= nd.level; lev++ {
			friends := nd.friends[lev]
			if err := write(uint32(len(friends))); err != nil {
				return err
			}
			for _, f := range friends {
				if err := write(uint32(f)); err != nil {
					return err
				}
			}
		}
		if nd.deleted {
			if err := write(nd.vector); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ReadGraph replaces the graph with the structure read from r. The header must
// match the index configuration and every live slot needs a vector; entries
// of vectors for tombstoned slots are ignored.
func (g *HNSW) ReadGraph(r io.Reader, vectors [][]float32) error {
	br := bufio.NewReader(r)
	le := binary.LittleEndian
	read := func(v any) error { return binary.Read(br, le, v) }

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return fmt.Errorf("read graph magic: %w", err)
	}
	if magic != graphMagic {
		return fmt.Errorf("invalid graph magic %q", magic[:])
	}
	var version, m, efc, slots, maxLevel uint32
	var seed uint64
	var entry int64
	for _, v := range []any{&version, &m, &efc, &seed, &slots, &entry, &maxLevel} {
		if err := read(v); err != nil {
			return fmt.Errorf("read graph header: %w", err)
		}
	}
	if version != graphVersion {
		return fmt.Errorf("unsupported graph version %d (want %d)", version, graphVersion)
	}
	if int(m) != g.cfg.M || seed != g.cfg.Seed {
		return fmt.Errorf("graph built with m=%d seed=%d, index has m=%d seed=%d", m, seed, g.cfg.M, g.cfg.Seed)
	}
	if int(slots) != len(vectors) {
		return fmt.Errorf("graph has %d slots, record table has %d", slots, len(vectors))
	}
	if entry >= int64(slots) || (entry < 0 && slots > 0) || maxLevel > maxLevelCap {
		return fmt.Errorf("invalid graph entry point %d (level %d)", entry, maxLevel)
	}

	nodes := make([]*hnswNode, slots)
	live := 0
	for i := range nodes {
		var deleted uint8
		var level uint32
		if err := read(&deleted); err != nil {
			return fmt.Errorf("read node %d: %w", i, err)
		}
		if err := read(&level); err != nil {
			return fmt.Errorf("read node %d: %w", i, err)
		}
		if level > maxLevelCap {
			return fmt.Errorf("node %d has invalid level %d", i, level)
		}
		nd := &hnswNode{level: int(level), deleted: deleted == 1, friends: make([][]Handle, level+1)}
		for lev := 0; lev <= int(level); lev++ {
			var n uint32
			if err := read(&n); err != nil {
				return fmt.Errorf("read node %d layer %d: %w", i, lev, err)
			}
			if n > uint32(2*g.cfg.M) {
				return fmt.Errorf("node %d layer %d has %d friends", i, lev, n)
			}
			friends := make([]Handle, n)
			for j := range friends {
				var f uint32
				if err := read(&f); err != nil {
					return fmt.Errorf("read node %d layer %d: %w", i, lev, err)
				}
				if f >= slots {
					return fmt.Errorf("node %d references unknown node %d", i, f)
				}
				friends[j] = Handle(f)
			}
			nd.friends[lev] = friends
		}

		if nd.deleted {
			nd.vector = make([]float32, g.cfg.Dim)
			if err := read(nd.vector); err != nil {
				return fmt.Errorf("read tombstone %d: %w", i, err)
			}
		} else {
			nd.vector = vectors[i]
		}
		if nd.vector == nil {
			return fmt.Errorf("live node %d has no vector", i)
		}
		if len(nd.vector) != g.cfg.Dim {
			return fmt.Errorf("node %d: %d dims, want %d", i, len(nd.vector), g.cfg.Dim)
		}
		if !nd.deleted {
			live++
		}
		nodes[i] = nd
	}

	g.nodes = nodes
	g.entry = entry
	g.maxLevel = int(maxLevel)
	g.live = live
	return nil
}
