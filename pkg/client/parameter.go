package client

import (
	"github.com/sqlring/sqlring/pkg/models/dberror"
	"github.com/sqlring/sqlring/pkg/transfer"
	"github.com/sqlring/sqlring/pkg/value"
)

const nullableUnknown = 2

// Parameter is a client-side bound parameter. It is created empty during
// prepare with metadata supplied by the peer and must be bound before each
// execute.
type Parameter struct {
	index int
	value *value.Value

	dataType  int
	precision int64
	scale     int
	nullable  int
}

func newParameter(index int) *Parameter {
	return &Parameter{
		index:    index,
		dataType: int(value.KindNull),
		nullable: nullableUnknown,
	}
}

func (p *Parameter) Index() int {
	return p.index
}

// SetValue binds a new value; the superseded value is closed only when the
// caller says so.
func (p *Parameter) SetValue(v value.Value, closeOld bool) {
	if closeOld && p.value != nil {
		p.value.Close()
	}
	p.value = &v
}

func (p *Parameter) Value() *value.Value {
	return p.value
}

func (p *Parameter) IsValueSet() bool {
	return p.value != nil
}

// CheckSet fails with the 1-based parameter index when no value is bound.
func (p *Parameter) CheckSet() error {
	if p.value == nil {
		return dberror.ParameterNotSet(p.index)
	}
	return nil
}

// DataType reports the bound value's type when present, else the metadata.
func (p *Parameter) DataType() int {
	if p.value == nil {
		return p.dataType
	}
	return int(p.value.Kind())
}

func (p *Parameter) Precision() int64 {
	if p.value == nil {
		return p.precision
	}
	return p.value.Precision()
}

func (p *Parameter) Scale() int {
	if p.value == nil {
		return p.scale
	}
	return p.value.Scale()
}

// Nullable is always metadata.
func (p *Parameter) Nullable() int {
	return p.nullable
}

func (p *Parameter) readMetaData(t *transfer.Transfer) error {
	var err error
	if p.dataType, err = t.ReadInt(); err != nil {
		return err
	}
	if p.precision, err = t.ReadLong(); err != nil {
		return err
	}
	if p.scale, err = t.ReadInt(); err != nil {
		return err
	}
	p.nullable, err = t.ReadInt()
	return err
}

func (p *Parameter) close() {
	if p.value != nil {
		p.value.Close()
		p.value = nil
	}
}
