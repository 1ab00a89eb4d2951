// Package tuple provides rows, schemas and record identifiers. A tuple is a
// row of typed field values plus the RID of the slot that stores it.
package tuple

import (
	"bytes"
	"fmt"
	"strings"

	"graindb/pkg/types"
)

// Tuple represents a row of data.
type Tuple struct {
	schema *Schema
	fields []types.Field

	// RID is where this tuple is stored; InvalidRID for tuples that have
	// not been inserted into a table yet.
	RID RID
}

// NewTuple creates an empty tuple with the given schema.
func NewTuple(schema *Schema) *Tuple {
	return &Tuple{
		schema: schema,
		fields: make([]types.Field, schema.NumColumns()),
		RID:    InvalidRID,
	}
}

// NewTupleFromFields creates a tuple with all fields set. The field count
// and types must match the schema.
func NewTupleFromFields(schema *Schema, fields []types.Field) (*Tuple, error) {
	if len(fields) != schema.NumColumns() {
		return nil, fmt.Errorf("field count mismatch: schema has %d columns, got %d fields",
			schema.NumColumns(), len(fields))
	}
	t := NewTuple(schema)
	for i, f := range fields {
		if err := t.SetField(i, f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tuple) Schema() *Schema {
	return t.schema
}

func (t *Tuple) SetField(i int, field types.Field) error {
	if i < 0 || i >= len(t.fields) {
		return fmt.Errorf("field index %d out of bounds [0, %d)", i, len(t.fields))
	}

	expectedType, _ := t.schema.TypeAt(i)
	if field.Type() != expectedType {
		return fmt.Errorf("field type mismatch: expected %v, got %v", expectedType, field.Type())
	}

	t.fields[i] = field
	return nil
}

func (t *Tuple) GetField(i int) (types.Field, error) {
	if i < 0 || i >= len(t.fields) {
		return nil, fmt.Errorf("field index %d out of bounds [0, %d)", i, len(t.fields))
	}
	return t.fields[i], nil
}

// Bytes serializes the tuple's fields in schema order.
func (t *Tuple) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	for i, f := range t.fields {
		if f == nil {
			return nil, fmt.Errorf("field %d is not set", i)
		}
		if err := f.Serialize(&buf); err != nil {
			return nil, fmt.Errorf("failed to serialize field %d: %v", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Deserialize reads a tuple's fields from data, guided by the schema.
func Deserialize(schema *Schema, data []byte) (*Tuple, error) {
	t := NewTuple(schema)
	r := bytes.NewReader(data)
	for i := 0; i < schema.NumColumns(); i++ {
		fieldType, err := schema.TypeAt(i)
		if err != nil {
			return nil, err
		}
		field, err := types.ParseField(r, fieldType)
		if err != nil {
			return nil, fmt.Errorf("failed to parse field %d: %v", i, err)
		}
		t.fields[i] = field
	}
	return t, nil
}

// KeyFromTuple extracts the index key columns named by keyAttrs into a new
// tuple with the key schema.
func (t *Tuple) KeyFromTuple(keySchema *Schema, keyAttrs []int) (*Tuple, error) {
	key := NewTuple(keySchema)
	for i, attr := range keyAttrs {
		field, err := t.GetField(attr)
		if err != nil {
			return nil, err
		}
		if err := key.SetField(i, field); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// CombineTuples concatenates two tuples for join output.
func CombineTuples(left, right *Tuple) (*Tuple, error) {
	if left == nil || right == nil {
		return nil, fmt.Errorf("cannot combine nil tuples")
	}

	combined := NewTuple(Combine(left.schema, right.schema))
	for i, f := range left.fields {
		combined.fields[i] = f
	}
	for i, f := range right.fields {
		combined.fields[len(left.fields)+i] = f
	}
	return combined, nil
}

func (t *Tuple) String() string {
	parts := make([]string, 0, len(t.fields))
	for _, field := range t.fields {
		if field != nil {
			parts = append(parts, field.String())
		} else {
			parts = append(parts, "null")
		}
	}
	return strings.Join(parts, "\t")
}
