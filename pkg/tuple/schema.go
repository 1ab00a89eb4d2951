package tuple

import (
	"fmt"
	"strings"

	"graindb/pkg/types"
)

// Column describes one named, typed column of a schema.
type Column struct {
	Name string
	Type types.Type
}

// Schema describes the layout of a tuple: an ordered list of columns.
type Schema struct {
	columns []Column
}

func NewSchema(columns []Column) *Schema {
	return &Schema{columns: columns}
}

func (s *Schema) NumColumns() int {
	return len(s.columns)
}

func (s *Schema) ColumnAt(i int) (Column, error) {
	if i < 0 || i >= len(s.columns) {
		return Column{}, fmt.Errorf("column index %d out of bounds [0, %d)", i, len(s.columns))
	}
	return s.columns[i], nil
}

// TypeAt returns the type of the ith column.
func (s *Schema) TypeAt(i int) (types.Type, error) {
	col, err := s.ColumnAt(i)
	if err != nil {
		return 0, err
	}
	return col.Type, nil
}

// IndexOf returns the position of the named column.
func (s *Schema) IndexOf(name string) (int, error) {
	for i, col := range s.columns {
		if col.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column '%s' not found", name)
}

// Project builds a schema from a subset of this schema's columns.
func (s *Schema) Project(attrs []int) (*Schema, error) {
	columns := make([]Column, 0, len(attrs))
	for _, i := range attrs {
		col, err := s.ColumnAt(i)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return NewSchema(columns), nil
}

// Combine concatenates the columns of two schemas, left then right.
// Used by joins to describe combined output rows.
func Combine(left, right *Schema) *Schema {
	columns := make([]Column, 0, len(left.columns)+len(right.columns))
	columns = append(columns, left.columns...)
	columns = append(columns, right.columns...)
	return NewSchema(columns)
}

func (s *Schema) String() string {
	parts := make([]string, 0, len(s.columns))
	for _, col := range s.columns {
		parts = append(parts, fmt.Sprintf("%s %s", col.Name, col.Type))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
