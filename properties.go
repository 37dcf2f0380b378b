package cdasset

import (
	"fmt"
	"maps"
	"slices"
)

type PropsType uint32

const (
	PROP_TYPE_STRING PropsType = iota
	PROP_TYPE_INT
	PROP_TYPE_FLOAT
	PROP_TYPE_BOOL
	PROP_TYPE_ARRAY
	PROP_TYPE_MAP
)

const (
	maxPropsCount  = 1 << 16
	maxPropsDepth  = 32
	maxPropsKeyLen = 1 << 10
)

type PropsValue struct {
	Type  PropsType
	Value interface{}
}

func StringProp(s string) PropsValue { return PropsValue{Type: PROP_TYPE_STRING, Value: s} }
func IntProp(i int64) PropsValue { return PropsValue{Type: PROP_TYPE_INT, Value: i} }
func FloatProp(f float64) PropsValue { return PropsValue{Type: PROP_TYPE_FLOAT, Value: f} }
func BoolProp(b bool) PropsValue { return PropsValue{Type: PROP_TYPE_BOOL, Value: b} }
func ArrayProp(a ...PropsValue) PropsValue {
	return PropsValue{Type: PROP_TYPE_ARRAY, Value: a}
}
func MapProp(p Properties) PropsValue { return PropsValue{Type: PROP_TYPE_MAP, Value: p} }

// Properties is a free-form typed bag attached to materials and nodes.
type Properties map[string]PropsValue

// PropertiesMarshal writes the bag with keys in sorted order so equal bags
// encode to equal bytes.
func PropertiesMarshal(oa *OutputArchive, props Properties) error {
	if err := oa.WriteUint32(uint32(len(props))); err != nil {
		return fmt.Errorf("write properties count failed: %w", err)
	}
	for _, key := range slices.Sorted(maps.Keys(props)) {
		if err := oa.WriteString(key); err != nil {
			return fmt.Errorf("write key %q failed: %w", key, err)
		}
		if err := marshalPropsValue(oa, props[key]); err != nil {
			return fmt.Errorf("write value %q failed: %w", key, err)
		}
	}
	return nil
}

func marshalPropsValue(oa *OutputArchive, value PropsValue) error {
	if err := oa.WriteUint32(uint32(value.Type)); err != nil {
		return err
	}
	switch value.Type {
	case PROP_TYPE_STRING:
		s, ok := value.Value.(string)
		if !ok {
			return propsTypeError(value)
		}
		return oa.WriteString(s)
	case PROP_TYPE_INT:
		i, ok := value.Value.(int64)
		if !ok {
			return propsTypeError(value)
		}
		return oa.WriteInt64(i)
	case PROP_TYPE_FLOAT:
		f, ok := value.Value.(float64)
		if !ok {
			return propsTypeError(value)
		}
		return oa.WriteFloat64(f)
	case PROP_TYPE_BOOL:
		b, ok := value.Value.(bool)
		if !ok {
			return propsTypeError(value)
		}
		return oa.WriteBool(b)
	case PROP_TYPE_ARRAY:
		arr, ok := value.Value.([]PropsValue)
		if !ok {
			return propsTypeError(value)
		}
		if err := oa.WriteUint32(uint32(len(arr))); err != nil {
			return fmt.Errorf("write array len failed: %w", err)
		}
		for i, item := range arr {
			if err := marshalPropsValue(oa, item); err != nil {
				return fmt.Errorf("write array item %d failed: %w", i, err)
			}
		}
		return nil
	case PROP_TYPE_MAP:
		sub, ok := value.Value.(Properties)
		if !ok {
			return propsTypeError(value)
		}
		return PropertiesMarshal(oa, sub)
	default:
		return fmt.Errorf("unknown property type %d", value.Type)
	}
}

func propsTypeError(v PropsValue) error {
	return fmt.Errorf("property type %d holds %T", v.Type, v.Value)
}

func PropertiesUnMarshal(ia *InputArchive) (Properties, error) {
	return unmarshalProperties(ia, 0)
}

func unmarshalProperties(ia *InputArchive, depth int) (Properties, error) {
	if depth > maxPropsDepth {
		return nil, fmt.Errorf("properties nested deeper than %d: %w", maxPropsDepth, ErrCorruptArchive)
	}
	size, err := ia.ReadCount(maxPropsCount)
	if err != nil {
		return nil, fmt.Errorf("read properties count failed: %w", err)
	}
	props := make(Properties, size)
	for i := uint32(0); i < size; i++ {
		key, err := ia.readBytes(maxPropsKeyLen)
		if err != nil {
			return nil, fmt.Errorf("read key failed: %w", err)
		}
		value, err := unmarshalPropsValue(ia, depth)
		if err != nil {
			return nil, fmt.Errorf("read value %q failed: %w", key, err)
		}
		props[string(key)] = value
	}
	return props, nil
}

func unmarshalPropsValue(ia *InputArchive, depth int) (PropsValue, error) {
	if depth > maxPropsDepth {
		return PropsValue{}, fmt.Errorf("properties nested deeper than %d: %w", maxPropsDepth, ErrCorruptArchive)
	}
	t, err := ia.ReadUint32()
	if err != nil {
		return PropsValue{}, err
	}
	value := PropsValue{Type: PropsType(t)}
	switch value.Type {
	case PROP_TYPE_STRING:
		value.Value, err = ia.ReadString()
	case PROP_TYPE_INT:
		value.Value, err = ia.ReadInt64()
	case PROP_TYPE_FLOAT:
		value.Value, err = ia.ReadFloat64()
	case PROP_TYPE_BOOL:
		value.Value, err = ia.ReadBool()
	case PROP_TYPE_ARRAY:
		var n uint32
		if n, err = ia.ReadCount(maxPropsCount); err != nil {
			return PropsValue{}, err
		}
		arr := make([]PropsValue, n)
		for i := range arr {
			if arr[i], err = unmarshalPropsValue(ia, depth+1); err != nil {
				return PropsValue{}, fmt.Errorf("array item %d: %w", i, err)
			}
		}
		value.Value = arr
	case PROP_TYPE_MAP:
		value.Value, err = unmarshalProperties(ia, depth+1)
	default:
		return PropsValue{}, fmt.Errorf("property type %d: %w", t, ErrCorruptArchive)
	}
	if err != nil {
		return PropsValue{}, err
	}
	return value, nil
}
