// Package transfer implements the typed framing used on the per-statement wire
// between peers. A command message is a sequence of typed writes followed by a
// done barrier that flushes and reads the peer's status trailer. All use of a
// single Transfer is serialized by the owning session's lock.
package transfer

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/sqlring/sqlring/pkg/models/dberror"
	"github.com/sqlring/sqlring/pkg/value"
)

/* Status trailer sent by the peer after each done barrier. */
const (
	StatusError          = 0
	StatusOK             = 1
	StatusClosed         = 2
	StatusOKStateChanged = 3
)

type Transfer struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader
	w    *bufio.Writer
}

func New(conn io.ReadWriteCloser) *Transfer {
	return &Transfer{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

func (t *Transfer) WriteInt(v int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(int32(v)))
	_, err := t.w.Write(buf[:])
	return errors.Wrap(err, "transfer: write int")
}

func (t *Transfer) ReadInt() (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(t.r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "transfer: read int")
	}
	return int(int32(binary.BigEndian.Uint32(buf[:]))), nil
}

func (t *Transfer) WriteLong(v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := t.w.Write(buf[:])
	return errors.Wrap(err, "transfer: write long")
}

func (t *Transfer) ReadLong() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(t.r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "transfer: read long")
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (t *Transfer) WriteBoolean(v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	err := t.w.WriteByte(b)
	return errors.Wrap(err, "transfer: write boolean")
}

func (t *Transfer) ReadBoolean() (bool, error) {
	b, err := t.r.ReadByte()
	if err != nil {
		return false, errors.Wrap(err, "transfer: read boolean")
	}
	return b != 0, nil
}

// WriteString writes a length-prefixed UTF-8 string; length -1 encodes the nil
// string.
func (t *Transfer) WriteString(s string) error {
	if err := t.WriteInt(len(s)); err != nil {
		return err
	}
	_, err := t.w.WriteString(s)
	return errors.Wrap(err, "transfer: write string")
}

func (t *Transfer) WriteNilString() error {
	return t.WriteInt(-1)
}

func (t *Transfer) ReadString() (string, error) {
	n, err := t.ReadInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return "", errors.Wrap(err, "transfer: read string")
	}
	return string(buf), nil
}

func (t *Transfer) WriteBytes(b []byte) error {
	if b == nil {
		return t.WriteInt(-1)
	}
	if err := t.WriteInt(len(b)); err != nil {
		return err
	}
	_, err := t.w.Write(b)
	return errors.Wrap(err, "transfer: write bytes")
}

func (t *Transfer) ReadBytes() ([]byte, error) {
	n, err := t.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return nil, errors.Wrap(err, "transfer: read bytes")
	}
	return buf, nil
}

// WriteValue writes the type tag followed by the kind-specific payload.
func (t *Transfer) WriteValue(v value.Value) error {
	if err := t.WriteInt(int(v.Kind())); err != nil {
		return err
	}
	switch v.Kind() {
	case value.KindNull:
		return nil
	case value.KindBoolean:
		return t.WriteBoolean(v.Bool())
	case value.KindInt:
		return t.WriteInt(int(v.Int()))
	case value.KindLong:
		return t.WriteLong(v.Long())
	case value.KindDouble:
		return t.WriteLong(int64(math.Float64bits(v.Double())))
	case value.KindString:
		return t.WriteString(v.Str())
	case value.KindBytes, value.KindUUID:
		return t.WriteBytes(v.Raw())
	}
	return dberror.Newf(dberror.SQLRING_PROTOCOL, "unknown value kind %d", v.Kind())
}

func (t *Transfer) ReadValue() (value.Value, error) {
	tag, err := t.ReadInt()
	if err != nil {
		return value.Null, err
	}
	switch value.Kind(tag) {
	case value.KindNull:
		return value.Null, nil
	case value.KindBoolean:
		b, err := t.ReadBoolean()
		if err != nil {
			return value.Null, err
		}
		return value.NewBoolean(b), nil
	case value.KindInt:
		i, err := t.ReadInt()
		if err != nil {
			return value.Null, err
		}
		return value.NewInt(int32(i)), nil
	case value.KindLong:
		i, err := t.ReadLong()
		if err != nil {
			return value.Null, err
		}
		return value.NewLong(i), nil
	case value.KindDouble:
		i, err := t.ReadLong()
		if err != nil {
			return value.Null, err
		}
		return value.NewDouble(math.Float64frombits(uint64(i))), nil
	case value.KindString:
		s, err := t.ReadString()
		if err != nil {
			return value.Null, err
		}
		return value.NewString(s), nil
	case value.KindBytes:
		b, err := t.ReadBytes()
		if err != nil {
			return value.Null, err
		}
		return value.NewBytes(b), nil
	case value.KindUUID:
		b, err := t.ReadBytes()
		if err != nil {
			return value.Null, err
		}
		if len(b) != 16 {
			return value.Null, dberror.Newf(dberror.SQLRING_PROTOCOL, "uuid payload of %d bytes", len(b))
		}
		var u [16]byte
		copy(u[:], b)
		return value.NewUUID(u), nil
	}
	return value.Null, dberror.Newf(dberror.SQLRING_PROTOCOL, "unknown value tag %d", tag)
}

func (t *Transfer) Flush() error {
	return errors.Wrap(t.w.Flush(), "transfer: flush")
}

// Done flushes pending writes and reads the status trailer. The returned bool
// reports whether the peer flagged a session-state change alongside success.
func (t *Transfer) Done() (bool, error) {
	if err := t.Flush(); err != nil {
		return false, err
	}
	status, err := t.ReadInt()
	if err != nil {
		return false, err
	}
	switch status {
	case StatusOK:
		return false, nil
	case StatusOKStateChanged:
		return true, nil
	case StatusError:
		code, err := t.ReadString()
		if err != nil {
			return false, err
		}
		msg, err := t.ReadString()
		if err != nil {
			return false, err
		}
		return false, dberror.New(code, msg)
	case StatusClosed:
		return false, dberror.New(dberror.SQLRING_SESSION_CLOSED, "session closed by peer")
	}
	return false, dberror.Newf(dberror.SQLRING_PROTOCOL, "unexpected status %d", status)
}

func (t *Transfer) Close() error {
	return t.conn.Close()
}

// IsIOError reports whether err came from the byte stream rather than from a
// peer-reported database error. Only these enter session reconnect handling.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	var dbe *dberror.Error
	return !errors.As(err, &dbe)
}
