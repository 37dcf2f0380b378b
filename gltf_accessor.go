package cdasset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
)

var ErrBadAccessor = errors.New("invalid gltf accessor")

func uint32Ptr(v uint32) *uint32 {
	return &v
}

func componentSize(ct gltf.ComponentType) int {
	switch ct {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	default:
		return 4
	}
}

func componentCount(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	default:
		return 0
	}
}

// accessorView reads elements of one accessor straight from its buffer,
// honoring byte stride and normalized integer components.
type accessorView struct {
	acc    *gltf.Accessor
	data   []byte
	start  int
	stride int
	csize  int
	comps  int
}

func newAccessorView(doc *gltf.Document, idx uint32) (*accessorView, error) {
	if int(idx) >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d of %d: %w", idx, len(doc.Accessors), ErrBadAccessor)
	}
	acc := doc.Accessors[idx]
	v := &accessorView{acc: acc, csize: componentSize(acc.ComponentType), comps: componentCount(acc.Type)}
	if v.comps == 0 {
		return nil, fmt.Errorf("accessor %d type %v: %w", idx, acc.Type, ErrBadAccessor)
	}
	if acc.BufferView == nil {
		// all zero per the glTF rules
		return v, nil
	}
	if int(*acc.BufferView) >= len(doc.BufferViews) {
		return nil, fmt.Errorf("accessor %d buffer view %d: %w", idx, *acc.BufferView, ErrBadAccessor)
	}
	bv := doc.BufferViews[*acc.BufferView]
	if int(bv.Buffer) >= len(doc.Buffers) {
		return nil, fmt.Errorf("accessor %d buffer %d: %w", idx, bv.Buffer, ErrBadAccessor)
	}
	buf := doc.Buffers[bv.Buffer]
	elem := v.csize * v.comps
	v.stride = int(bv.ByteStride)
	if v.stride == 0 {
		v.stride = elem
	}
	v.start = int(bv.ByteOffset + acc.ByteOffset)
	end := int(bv.ByteOffset + bv.ByteLength)
	if acc.Count > 0 {
		last := v.start + v.stride*(int(acc.Count)-1) + elem
		if last > end || end > len(buf.Data) {
			return nil, fmt.Errorf("accessor %d needs %d bytes, view ends at %d of %d: %w", idx, last, end, len(buf.Data), ErrBadAccessor)
		}
	}
	v.data = buf.Data
	return v, nil
}

func (v *accessorView) Count() int { return int(v.acc.Count) }

func (v *accessorView) offset(i, c int) int { return v.start + i*v.stride + c*v.csize }

// Float returns component c of element i as float32, unpacking normalized integers.
func (v *accessorView) Float(i, c int) float32 {
	if v.data == nil {
		return 0
	}
	p := v.offset(i, c)
	le := binary.LittleEndian
	switch v.acc.ComponentType {
	case gltf.ComponentFloat:
		return math.Float32frombits(le.Uint32(v.data[p:]))
	case gltf.ComponentUbyte:
		if v.acc.Normalized {
			return float32(v.data[p]) / math.MaxUint8
		}
		return float32(v.data[p])
	case gltf.ComponentByte:
		if v.acc.Normalized {
			return max(float32(int8(v.data[p]))/math.MaxInt8, -1)
		}
		return float32(int8(v.data[p]))
	case gltf.ComponentUshort:
		if v.acc.Normalized {
			return float32(le.Uint16(v.data[p:])) / math.MaxUint16
		}
		return float32(le.Uint16(v.data[p:]))
	case gltf.ComponentShort:
		if v.acc.Normalized {
			return max(float32(int16(le.Uint16(v.data[p:])))/math.MaxInt16, -1)
		}
		return float32(int16(le.Uint16(v.data[p:])))
	default:
		return float32(le.Uint32(v.data[p:]))
	}
}

// Uint returns component c of element i as an unsigned integer.
func (v *accessorView) Uint(i, c int) uint32 {
	if v.data == nil {
		return 0
	}
	p := v.offset(i, c)
	le := binary.LittleEndian
	switch v.acc.ComponentType {
	case gltf.ComponentUbyte, gltf.ComponentByte:
		return uint32(v.data[p])
	case gltf.ComponentUshort, gltf.ComponentShort:
		return uint32(le.Uint16(v.data[p:]))
	case gltf.ComponentFloat:
		return uint32(math.Float32frombits(le.Uint32(v.data[p:])))
	default:
		return le.Uint32(v.data[p:])
	}
}

// Comps is the number of components per element.
func (v *accessorView) Comps() int { return v.comps }
