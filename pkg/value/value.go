package value

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

type Kind int

/* Wire type tags. The tag is written before the payload by the transfer layer. */
const (
	KindNull    = Kind(0)
	KindBoolean = Kind(1)
	KindInt     = Kind(2)
	KindLong    = Kind(3)
	KindDouble  = Kind(4)
	KindString  = Kind(5)
	KindBytes   = Kind(6)
	KindUUID    = Kind(7)
)

// Value is a typed SQL value. The zero Value is NULL.
type Value struct {
	kind Kind

	b   bool
	i   int64
	f   float64
	s   string
	raw []byte
}

var Null = Value{kind: KindNull}

func NewBoolean(v bool) Value {
	return Value{kind: KindBoolean, b: v}
}

func NewInt(v int32) Value {
	return Value{kind: KindInt, i: int64(v)}
}

func NewLong(v int64) Value {
	return Value{kind: KindLong, i: v}
}

func NewDouble(v float64) Value {
	return Value{kind: KindDouble, f: v}
}

func NewString(v string) Value {
	return Value{kind: KindString, s: v}
}

func NewBytes(v []byte) Value {
	return Value{kind: KindBytes, raw: v}
}

func NewUUID(v [16]byte) Value {
	return Value{kind: KindUUID, raw: append([]byte(nil), v[:]...)}
}

// NewRandomUUID builds the partition key substituted for rows inserted without
// one. The generated key is what gets hashed and what the routed row carries.
func NewRandomUUID() Value {
	u := uuid.New()
	return NewUUID(u)
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) Bool() bool {
	return v.b
}

func (v Value) Int() int32 {
	return int32(v.i)
}

func (v Value) Long() int64 {
	return v.i
}

func (v Value) Double() float64 {
	return v.f
}

func (v Value) Str() string {
	return v.s
}

func (v Value) Raw() []byte {
	return v.raw
}

// Bytes is the canonical byte encoding used as partitioner input.
func (v Value) Bytes() []byte {
	switch v.kind {
	case KindNull:
		return nil
	case KindBoolean:
		if v.b {
			return []byte{1}
		}
		return []byte{0}
	case KindInt, KindLong:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.i))
		return buf[:]
	case KindDouble:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.f))
		return buf[:]
	case KindString:
		return []byte(v.s)
	case KindBytes, KindUUID:
		return v.raw
	}
	return nil
}

func (v Value) Precision() int64 {
	switch v.kind {
	case KindInt:
		return 10
	case KindLong:
		return 19
	case KindDouble:
		return 17
	case KindString:
		return int64(len(v.s))
	case KindBytes, KindUUID:
		return int64(len(v.raw))
	}
	return 0
}

func (v Value) Scale() int {
	return 0
}

// Compare orders two values; values of different kinds order by kind tag,
// except that Int and Long compare numerically. NULL sorts first.
func (v Value) Compare(o Value) int {
	vk, ok := v.kind, o.kind
	if vk == KindInt {
		vk = KindLong
	}
	if ok == KindInt {
		ok = KindLong
	}
	if vk != ok {
		if vk < ok {
			return -1
		}
		return 1
	}
	switch vk {
	case KindNull:
		return 0
	case KindBoolean:
		switch {
		case v.b == o.b:
			return 0
		case o.b:
			return -1
		default:
			return 1
		}
	case KindLong:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case KindDouble:
		switch {
		case v.f < o.f:
			return -1
		case v.f > o.f:
			return 1
		default:
			return 0
		}
	case KindString:
		return bytes.Compare([]byte(v.s), []byte(o.s))
	case KindBytes, KindUUID:
		return bytes.Compare(v.raw, o.raw)
	}
	return 0
}

// Close releases any pinned buffer. Parameters close superseded values through
// here before rebinding.
func (v *Value) Close() {
	v.raw = nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBoolean:
		return fmt.Sprintf("%v", v.b)
	case KindInt, KindLong:
		return fmt.Sprintf("%d", v.i)
	case KindDouble:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBytes:
		return fmt.Sprintf("X'%x'", v.raw)
	case KindUUID:
		u, err := uuid.FromBytes(v.raw)
		if err != nil {
			return fmt.Sprintf("X'%x'", v.raw)
		}
		return u.String()
	}
	return "?"
}
