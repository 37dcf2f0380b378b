package cdasset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
)

var (
	ErrTruncatedArchive = errors.New("truncated archive")
	ErrCorruptArchive   = errors.New("corrupt archive")
	ErrUnsizedRecord    = errors.New("record type has no fixed size")
)

// MaxStringLength bounds the length prefix accepted by ReadString.
const MaxStringLength = 1 << 24

// readChunk bounds a single allocation while decoding count-prefixed data, so a
// corrupt count fails with a truncation instead of a huge allocation.
const readChunk = 1 << 16

// HostByteOrder returns the byte order of the running host.
func HostByteOrder() binary.ByteOrder {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func swappedByteOrder() binary.ByteOrder {
	if HostByteOrder() == binary.ByteOrder(binary.LittleEndian) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// canonicalOrder maps any ByteOrder (binary.NativeEndian included) onto
// binary.LittleEndian or binary.BigEndian.
func canonicalOrder(order binary.ByteOrder) binary.ByteOrder {
	if order.Uint16([]byte{1, 0}) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func archiveError(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w: %w", op, ErrTruncatedArchive, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// OutputArchive writes scalars and record buffers in one fixed byte order.
type OutputArchive struct {
	wt    io.Writer
	order binary.ByteOrder
	swap  bool
	buf   [8]byte
}

// NewOutputArchive writes in host order.
func NewOutputArchive(wt io.Writer) *OutputArchive {
	return NewOutputArchiveWithOrder(wt, HostByteOrder())
}

// NewOutputArchiveSwapBytes writes in the order opposite to the host.
func NewOutputArchiveSwapBytes(wt io.Writer) *OutputArchive {
	return NewOutputArchiveWithOrder(wt, swappedByteOrder())
}

// NewOutputArchiveWithOrder writes in order. Any order other than big endian
// is treated as little endian.
func NewOutputArchiveWithOrder(wt io.Writer, order binary.ByteOrder) *OutputArchive {
	order = canonicalOrder(order)
	return &OutputArchive{wt: wt, order: order, swap: order != HostByteOrder()}
}

// ByteOrder returns the order every multi-byte value is written in.
func (oa *OutputArchive) ByteOrder() binary.ByteOrder { return oa.order }

// SwapBytes reports whether the archive order differs from the host order.
func (oa *OutputArchive) SwapBytes() bool { return oa.swap }

func (oa *OutputArchive) put(n int) error {
	if _, err := oa.wt.Write(oa.buf[:n]); err != nil {
		return archiveError("write", err)
	}
	return nil
}

// WriteUint8 writes a single byte.
func (oa *OutputArchive) WriteUint8(v uint8) error {
	oa.buf[0] = v
	return oa.put(1)
}

// WriteBool writes true as 1 and false as 0.
func (oa *OutputArchive) WriteBool(v bool) error {
	if v {
		return oa.WriteUint8(1)
	}
	return oa.WriteUint8(0)
}

// WriteUint16 writes 2 bytes.
func (oa *OutputArchive) WriteUint16(v uint16) error {
	oa.order.PutUint16(oa.buf[:], v)
	return oa.put(2)
}

// WriteUint32 writes 4 bytes.
func (oa *OutputArchive) WriteUint32(v uint32) error {
	oa.order.PutUint32(oa.buf[:], v)
	return oa.put(4)
}

// WriteInt32 writes the two's complement bits of v.
func (oa *OutputArchive) WriteInt32(v int32) error {
	return oa.WriteUint32(uint32(v))
}

// WriteUint64 writes 8 bytes.
func (oa *OutputArchive) WriteUint64(v uint64) error {
	oa.order.PutUint64(oa.buf[:], v)
	return oa.put(8)
}

// WriteInt64 writes the two's complement bits of v.
func (oa *OutputArchive) WriteInt64(v int64) error {
	return oa.WriteUint64(uint64(v))
}

// WriteFloat32 writes the IEEE 754 bits of v.
func (oa *OutputArchive) WriteFloat32(v float32) error {
	return oa.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 writes the IEEE 754 bits of v.
func (oa *OutputArchive) WriteFloat64(v float64) error {
	return oa.WriteUint64(math.Float64bits(v))
}

// WriteString writes a uint32 length followed by the raw bytes, no terminator.
func (oa *OutputArchive) WriteString(s string) error {
	if err := oa.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(oa.wt, s); err != nil {
		return archiveError("write string", err)
	}
	return nil
}

// WriteBytes writes a uint32 length followed by raw bytes.
func (oa *OutputArchive) WriteBytes(b []byte) error {
	if err := oa.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	if _, err := oa.wt.Write(b); err != nil {
		return archiveError("write bytes", err)
	}
	return nil
}

// Write encodes any fixed-size value: scalars, arrays and structs of them.
// Multi-field records are encoded field by field, each with its own width.
func (oa *OutputArchive) Write(v interface{}) error {
	if err := binary.Write(oa.wt, oa.order, v); err != nil {
		return archiveError("write value", err)
	}
	return nil
}

// InputArchive reads what an OutputArchive of the same order wrote.
type InputArchive struct {
	rd    io.Reader
	order binary.ByteOrder
	swap  bool
	buf   [8]byte
}

// NewInputArchive reads data written in host order.
func NewInputArchive(rd io.Reader) *InputArchive {
	return NewInputArchiveWithOrder(rd, HostByteOrder())
}

// NewInputArchiveSwapBytes reads data written in the order opposite to the host.
func NewInputArchiveSwapBytes(rd io.Reader) *InputArchive {
	return NewInputArchiveWithOrder(rd, swappedByteOrder())
}

// NewInputArchiveWithOrder reads data written in order.
func NewInputArchiveWithOrder(rd io.Reader, order binary.ByteOrder) *InputArchive {
	order = canonicalOrder(order)
	return &InputArchive{rd: rd, order: order, swap: order != HostByteOrder()}
}

// ByteOrder returns the order multi-byte values are decoded in.
func (ia *InputArchive) ByteOrder() binary.ByteOrder { return ia.order }

// SwapBytes reports whether the archive order differs from the host order.
func (ia *InputArchive) SwapBytes() bool { return ia.swap }

func (ia *InputArchive) get(n int) error {
	if _, err := io.ReadFull(ia.rd, ia.buf[:n]); err != nil {
		return archiveError("read", err)
	}
	return nil
}

// ReadUint8 reads a single byte.
func (ia *InputArchive) ReadUint8() (uint8, error) {
	if err := ia.get(1); err != nil {
		return 0, err
	}
	return ia.buf[0], nil
}

// ReadBool reads a byte; any non-zero value is true.
func (ia *InputArchive) ReadBool() (bool, error) {
	v, err := ia.ReadUint8()
	return v != 0, err
}

// ReadUint16 reads 2 bytes.
func (ia *InputArchive) ReadUint16() (uint16, error) {
	if err := ia.get(2); err != nil {
		return 0, err
	}
	return ia.order.Uint16(ia.buf[:]), nil
}

// ReadUint32 reads 4 bytes.
func (ia *InputArchive) ReadUint32() (uint32, error) {
	if err := ia.get(4); err != nil {
		return 0, err
	}
	return ia.order.Uint32(ia.buf[:]), nil
}

// ReadInt32 reads 4 bytes as a two's complement value.
func (ia *InputArchive) ReadInt32() (int32, error) {
	v, err := ia.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads 8 bytes.
func (ia *InputArchive) ReadUint64() (uint64, error) {
	if err := ia.get(8); err != nil {
		return 0, err
	}
	return ia.order.Uint64(ia.buf[:]), nil
}

// ReadInt64 reads 8 bytes as a two's complement value.
func (ia *InputArchive) ReadInt64() (int64, error) {
	v, err := ia.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads the IEEE 754 bits of a float32.
func (ia *InputArchive) ReadFloat32() (float32, error) {
	v, err := ia.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads the IEEE 754 bits of a float64.
func (ia *InputArchive) ReadFloat64() (float64, error) {
	v, err := ia.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadCount reads a uint32 count and rejects values above limit.
func (ia *InputArchive) ReadCount(limit uint32) (uint32, error) {
	n, err := ia.ReadUint32()
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, fmt.Errorf("count %d exceeds %d: %w", n, limit, ErrCorruptArchive)
	}
	return n, nil
}

// ReadString reads a string written by WriteString. Lengths above
// MaxStringLength are rejected as corrupt.
func (ia *InputArchive) ReadString() (string, error) {
	b, err := ia.readBytes(MaxStringLength)
	return string(b), err
}

// ReadBytes reads a byte slice written by WriteBytes. Memory grows with the
// bytes actually read.
func (ia *InputArchive) ReadBytes() ([]byte, error) {
	return ia.readBytes(math.MaxUint32)
}

func (ia *InputArchive) readBytes(limit uint32) ([]byte, error) {
	n, err := ia.ReadCount(limit)
	if err != nil {
		return nil, err
	}
	var out []byte
	for remain := int(n); remain > 0; {
		step := min(remain, readChunk)
		start := len(out)
		out = append(out, make([]byte, step)...)
		if _, err := io.ReadFull(ia.rd, out[start:]); err != nil {
			return nil, archiveError("read bytes", err)
		}
		remain -= step
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Read decodes into a pointer to a fixed-size value, mirroring OutputArchive.Write.
func (ia *InputArchive) Read(v interface{}) error {
	if err := binary.Read(ia.rd, ia.order, v); err != nil {
		return archiveError("read value", err)
	}
	return nil
}

func recordSize[T any]() (int, error) {
	var zero T
	sz := binary.Size(zero)
	if sz <= 0 {
		return 0, fmt.Errorf("%v: %w", reflect.TypeOf(zero), ErrUnsizedRecord)
	}
	return sz, nil
}

// ExportBuffer writes len(data) as uint32 followed by the records.
func ExportBuffer[T any](oa *OutputArchive, data []T) error {
	if _, err := recordSize[T](); err != nil {
		return err
	}
	if err := oa.WriteUint32(uint32(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := binary.Write(oa.wt, oa.order, data); err != nil {
		return archiveError("export buffer", err)
	}
	return nil
}

// ImportBuffer fills dst from a buffer written by ExportBuffer. The stored count
// must equal len(dst).
func ImportBuffer[T any](ia *InputArchive, dst []T) error {
	if _, err := recordSize[T](); err != nil {
		return err
	}
	n, err := ia.ReadUint32()
	if err != nil {
		return err
	}
	if int(n) != len(dst) {
		return fmt.Errorf("buffer holds %d records, want %d: %w", n, len(dst), ErrCorruptArchive)
	}
	if n == 0 {
		return nil
	}
	if err := binary.Read(ia.rd, ia.order, dst); err != nil {
		return archiveError("import buffer", err)
	}
	return nil
}

// ImportSlice reads a buffer written by ExportBuffer whose size is not known in
// advance. Counts above limit are rejected; an empty buffer yields nil.
func ImportSlice[T any](ia *InputArchive, limit uint32) ([]T, error) {
	sz, err := recordSize[T]()
	if err != nil {
		return nil, err
	}
	n, err := ia.ReadCount(limit)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	perChunk := max(1, readChunk/sz)
	out := make([]T, 0, min(int(n), perChunk))
	for remain := int(n); remain > 0; {
		step := min(remain, perChunk)
		start := len(out)
		out = append(out, make([]T, step)...)
		if err := binary.Read(ia.rd, ia.order, out[start:]); err != nil {
			return nil, archiveError("import slice", err)
		}
		remain -= step
	}
	return out, nil
}
