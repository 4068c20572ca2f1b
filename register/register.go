// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package register

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Supported register widths, in bits. Values wider than 64 bits move
// between guest and host through guest memory rather than as wasm scalars.
const (
	Bits32  uint32 = 32
	Bits64  uint32 = 64
	Bits160 uint32 = 160
	Bits256 uint32 = 256
	Bits512 uint32 = 512
)

var (
	ErrUnsupportedWidth = errors.New("unsupported register width")
	ErrIndexOutOfRange  = errors.New("register index out of range")
	ErrValueTooWide     = errors.New("value exceeds register width")

	// capacity is the fixed number of registers per width.
	capacity = map[uint32]int{
		Bits32:  16,
		Bits64:  16,
		Bits160: 8,
		Bits256: 8,
		Bits512: 8,
	}
)

// Widths lists the supported register widths in ascending order.
func Widths() []uint32 {
	return []uint32{Bits32, Bits64, Bits160, Bits256, Bits512}
}

// Capacity returns the number of registers available for [bits], or an
// error if the width is not supported.
func Capacity(bits uint32) (int, error) {
	n, ok := capacity[bits]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedWidth, bits)
	}
	return n, nil
}

// File is a fixed set of typed, indexed value slots used to pass data
// between the host and guest code during a single invocation. A File is
// scoped to one invocation; values never persist across calls.
type File struct {
	slots map[uint32][][]byte
}

// NewFile returns a register file with every register zeroed.
func NewFile() *File {
	slots := make(map[uint32][][]byte, len(capacity))
	for bits, count := range capacity {
		regs := make([][]byte, count)
		for i := range regs {
			regs[i] = make([]byte, bits/8)
		}
		slots[bits] = regs
	}
	return &File{slots: slots}
}

func (f *File) slot(bits, idx uint32) ([]byte, error) {
	regs, ok := f.slots[bits]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWidth, bits)
	}
	if int(idx) >= len(regs) {
		return nil, fmt.Errorf("%w: width %d index %d", ErrIndexOutOfRange, bits, idx)
	}
	return regs[idx], nil
}

// Read returns a copy of the register's bits/8 bytes. An unwritten
// register reads as all-zero.
func (f *File) Read(bits, idx uint32) ([]byte, error) {
	reg, err := f.slot(bits, idx)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(reg))
	copy(out, reg)
	return out, nil
}

// Write sets the register to [value], zero-extended to the register
// width. A value longer than the register width is rejected.
func (f *File) Write(bits, idx uint32, value []byte) error {
	reg, err := f.slot(bits, idx)
	if err != nil {
		return err
	}
	if len(value) > len(reg) {
		return fmt.Errorf("%w: %d bytes into %d-bit register", ErrValueTooWide, len(value), bits)
	}
	copy(reg, value)
	for i := len(value); i < len(reg); i++ {
		reg[i] = 0
	}
	return nil
}

// WriteUint sets the register to the little-endian encoding of [value],
// truncated or zero-extended to the register width.
func (f *File) WriteUint(bits, idx uint32, value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	n := int(bits / 8)
	if n > len(buf) {
		n = len(buf)
	}
	return f.Write(bits, idx, buf[:n])
}

// ReadUint reads the register as an unsigned little-endian integer. Only
// widths that fit a uint64 are readable this way.
func (f *File) ReadUint(bits, idx uint32) (uint64, error) {
	if bits > Bits64 {
		return 0, fmt.Errorf("%w: %d bits does not fit a scalar read", ErrUnsupportedWidth, bits)
	}
	reg, err := f.slot(bits, idx)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], reg)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Reset zeroes every register.
func (f *File) Reset() {
	for _, regs := range f.slots {
		for _, reg := range regs {
			for i := range reg {
				reg[i] = 0
			}
		}
	}
}
