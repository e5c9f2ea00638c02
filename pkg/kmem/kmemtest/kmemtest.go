// Package kmemtest provides a sparse in-memory kernel for tests.
package kmemtest

import (
	"encoding/binary"
	"fmt"
)

const chunkSize = 0x1000

// Write is one recorded KWrite.
type Write struct {
	Addr uint64
	Data []byte
}

// Memory is a sparse little-endian address space. Unwritten bytes read as zero
// unless Strict is set, in which case reading them fails.
type Memory struct {
	Strict bool
	Writes []Write
	Reads  int

	chunks map[uint64][]byte
	faults map[uint64]bool
}

// New returns an empty Memory.
func New() *Memory {
	return &Memory{
		chunks: make(map[uint64][]byte),
		faults: make(map[uint64]bool),
	}
}

// Fault makes any access touching addr fail.
func (m *Memory) Fault(addr uint64) {
	m.faults[addr] = true
}

func (m *Memory) chunk(addr uint64, create bool) []byte {
	base := addr &^ (chunkSize - 1)
	c, ok := m.chunks[base]
	if !ok && create {
		c = make([]byte, chunkSize)
		m.chunks[base] = c
	}
	return c
}

func (m *Memory) check(addr uint64, n int) error {
	for i := uint64(0); i < uint64(n); i++ {
		if m.faults[addr+i] {
			return fmt.Errorf("kmemtest: fault at %#x", addr+i)
		}
		if m.Strict && m.chunk(addr+i, false) == nil {
			return fmt.Errorf("kmemtest: unmapped %#x", addr+i)
		}
	}
	return nil
}

func (m *Memory) KRead(kaddr uint64, p []byte) error {
	if err := m.check(kaddr, len(p)); err != nil {
		return err
	}
	m.Reads++
	for i := range p {
		if c := m.chunk(kaddr+uint64(i), false); c != nil {
			p[i] = c[(kaddr+uint64(i))&(chunkSize-1)]
		} else {
			p[i] = 0
		}
	}
	return nil
}

func (m *Memory) KWrite(p []byte, kaddr uint64) error {
	for i := uint64(0); i < uint64(len(p)); i++ {
		if m.faults[kaddr+i] {
			return fmt.Errorf("kmemtest: fault at %#x", kaddr+i)
		}
	}
	m.Writes = append(m.Writes, Write{Addr: kaddr, Data: append([]byte(nil), p...)})
	m.Poke(kaddr, p)
	return nil
}

// Poke stores p at addr without recording a write.
func (m *Memory) Poke(addr uint64, p []byte) {
	for i := range p {
		a := addr + uint64(i)
		m.chunk(a, true)[a&(chunkSize-1)] = p[i]
	}
}

// Peek returns n bytes at addr without counting a read.
func (m *Memory) Peek(addr uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		if c := m.chunk(addr+uint64(i), false); c != nil {
			out[i] = c[(addr+uint64(i))&(chunkSize-1)]
		}
	}
	return out
}

// Put64 stores a uint64 at addr.
func (m *Memory) Put64(addr, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.Poke(addr, b[:])
}

// Put32 stores a uint32 at addr.
func (m *Memory) Put32(addr uint64, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.Poke(addr, b[:])
}

// Get64 loads a uint64 from addr.
func (m *Memory) Get64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(m.Peek(addr, 8))
}

// Get32 loads a uint32 from addr.
func (m *Memory) Get32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(m.Peek(addr, 4))
}
