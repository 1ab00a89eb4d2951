package types

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// StringField represents a variable-length string field.
// Serialization is a 4-byte length prefix followed by the raw bytes.
type StringField struct {
	Value string
}

func NewStringField(value string) *StringField {
	return &StringField{Value: value}
}

func (f *StringField) Serialize(w io.Writer) error {
	bytes := make([]byte, 4)
	binary.BigEndian.PutUint32(bytes, uint32(len(f.Value)))
	if _, err := w.Write(bytes); err != nil {
		return err
	}
	_, err := io.WriteString(w, f.Value)
	return err
}

func (f *StringField) Compare(op Op, other Field) (bool, error) {
	otherField, ok := other.(*StringField)
	if !ok {
		return false, nil
	}
	return compareStrings(f.Value, otherField.Value, op), nil
}

func (f *StringField) Type() Type {
	return StringType
}

func (f *StringField) Equals(other Field) bool {
	otherField, ok := other.(*StringField)
	if !ok {
		return false
	}
	return f.Value == otherField.Value
}

func (f *StringField) Hash() uint64 {
	return xxhash.Sum64String(f.Value)
}

func (f *StringField) Length() uint32 {
	return uint32(4 + len(f.Value))
}

func (f *StringField) String() string {
	return f.Value
}

func compareStrings(a, b string, op Op) bool {
	cmp := strings.Compare(a, b)
	switch op {
	case Equals:
		return cmp == 0
	case LessThan:
		return cmp < 0
	case GreaterThan:
		return cmp > 0
	case LessThanOrEqual:
		return cmp <= 0
	case GreaterThanOrEqual:
		return cmp >= 0
	case NotEqual:
		return cmp != 0
	default:
		return false
	}
}

// ParseField reads one field of the given type from r.
func ParseField(r io.Reader, t Type) (Field, error) {
	switch t {
	case Int32Type:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read int field: %v", err)
		}
		return NewInt32Field(int32(binary.BigEndian.Uint32(buf))), nil
	case StringType:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read string length: %v", err)
		}
		length := binary.BigEndian.Uint32(buf)
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("failed to read string field: %v", err)
		}
		return NewStringField(string(data)), nil
	default:
		return nil, fmt.Errorf("unknown field type %v", t)
	}
}
