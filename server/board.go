package main

import "log"

// CellValue is one board cell, stored in two bits.
type CellValue uint8

const (
	CellEmpty  CellValue = 0
	CellCross  CellValue = 1
	CellNought CellValue = 2
	cellMask   CellValue = 3
)

const (
	ChunkSide    = 16
	bitsPerCell  = 2
	cellsPerByte = 8 / bitsPerCell
	chunkBytes   = ChunkSide * ChunkSide / cellsPerByte
)

// Chunk is a 16x16 tile of bit-packed cells keyed by its aligned origin.
type Chunk struct {
	X, Y int32
	data [chunkBytes]byte
}

// offset maps chunk-local coordinates to a byte index and bit shift.
// Out-of-range input means a broken global->local translation upstream.
func (c *Chunk) offset(x, y int32) (int, uint, bool) {
	if x < 0 || y < 0 || x >= ChunkSide || y >= ChunkSide {
		log.Printf("chunk-local out of bounds: (%d,%d)", x, y)
		return 0, 0, false
	}
	cellIdx := y*ChunkSide + x
	return int(cellIdx / cellsPerByte), uint(cellIdx%cellsPerByte) * bitsPerCell, true
}

func (c *Chunk) GetLocal(x, y int32) CellValue {
	byteIdx, shift, ok := c.offset(x, y)
	if !ok {
		return CellEmpty
	}
	return CellValue(c.data[byteIdx]>>shift) & cellMask
}

func (c *Chunk) GetGlobal(x, y int32) CellValue {
	return c.GetLocal(x-c.X, y-c.Y)
}

// SetLocal stores value&cellMask and returns it.
func (c *Chunk) SetLocal(x, y int32, value CellValue) CellValue {
	byteIdx, shift, ok := c.offset(x, y)
	if !ok {
		return CellEmpty
	}
	old := CellValue(c.data[byteIdx] >> shift)
	c.data[byteIdx] ^= byte((old^value)&cellMask) << shift
	return value & cellMask
}

func (c *Chunk) SetGlobal(x, y int32, value CellValue) CellValue {
	return c.SetLocal(x-c.X, y-c.Y, value)
}

type chunkKey struct {
	X, Y int32
}

// Box is an axis-aligned chunk extent; Max is exclusive.
type Box struct {
	MinX, MinY int32
	MaxX, MaxY int32
}

// Board is a sparse unbounded plane of 2-bit cells. Absent chunks read as
// CellEmpty; chunks are allocated on first write only and never pruned.
type Board struct {
	chunks map[chunkKey]*Chunk
}

func NewBoard() *Board {
	return &Board{chunks: make(map[chunkKey]*Chunk)}
}

// chunkOrigin aligns a coordinate down to its chunk origin using floor
// division, so negative coordinates map consistently.
func chunkOrigin(v int32) int32 {
	o := v / ChunkSide
	if v%ChunkSide != 0 && v < 0 {
		o--
	}
	return o * ChunkSide
}

func (b *Board) chunkFor(x, y int32, create bool) *Chunk {
	key := chunkKey{chunkOrigin(x), chunkOrigin(y)}
	chunk := b.chunks[key]
	if chunk == nil && create {
		chunk = &Chunk{X: key.X, Y: key.Y}
		b.chunks[key] = chunk
	}
	return chunk
}

func (b *Board) GetAt(x, y int32) CellValue {
	chunk := b.chunkFor(x, y, false)
	if chunk == nil {
		return CellEmpty
	}
	return chunk.GetGlobal(x, y)
}

func (b *Board) SetAt(x, y int32, value CellValue) CellValue {
	return b.chunkFor(x, y, true).SetGlobal(x, y, value)
}

// Reset discards all chunks.
func (b *Board) Reset() {
	b.chunks = make(map[chunkKey]*Chunk)
}

// Boundaries returns one box per allocated chunk, letting callers
// enumerate occupied cells in time proportional to allocated chunks
// rather than world size.
func (b *Board) Boundaries() []Box {
	boxes := make([]Box, 0, len(b.chunks))
	for _, chunk := range b.chunks {
		boxes = append(boxes, Box{
			MinX: chunk.X,
			MinY: chunk.Y,
			MaxX: chunk.X + ChunkSide,
			MaxY: chunk.Y + ChunkSide,
		})
	}
	return boxes
}

// ChunkSnapshot is the archived form of one chunk.
type ChunkSnapshot struct {
	X     int32  `msgpack:"x"`
	Y     int32  `msgpack:"y"`
	Cells []byte `msgpack:"cells"`
}

// Snapshot copies the allocated chunks for archival.
func (b *Board) Snapshot() []ChunkSnapshot {
	snap := make([]ChunkSnapshot, 0, len(b.chunks))
	for _, chunk := range b.chunks {
		cells := make([]byte, chunkBytes)
		copy(cells, chunk.data[:])
		snap = append(snap, ChunkSnapshot{X: chunk.X, Y: chunk.Y, Cells: cells})
	}
	return snap
}
