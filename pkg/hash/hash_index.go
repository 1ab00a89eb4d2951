package hash

import (
	"graindb/pkg/buffer"
	"graindb/pkg/concurrency"
	"graindb/pkg/tuple"
)

// HashIndex exposes the extendible hash table as a table index mapping
// fixed-width keys, built from a tuple's key columns, to record ids.
type HashIndex struct {
	table     *ExtendibleHashTable[GenericKey, tuple.RID]
	keySchema *tuple.Schema
}

// NewHashIndex creates an index keyed by keySchema's columns.
func NewHashIndex(pool buffer.Pool, keySchema *tuple.Schema) (*HashIndex, error) {
	table, err := NewExtendibleHashTable[GenericKey, tuple.RID](pool, GenericKeyCodec{}, RIDValueCodec{})
	if err != nil {
		return nil, err
	}
	return &HashIndex{table: table, keySchema: keySchema}, nil
}

func (hi *HashIndex) KeySchema() *tuple.Schema {
	return hi.keySchema
}

// InsertEntry maps the key tuple to rid.
func (hi *HashIndex) InsertEntry(key *tuple.Tuple, rid tuple.RID, txn *concurrency.Transaction) error {
	k, err := NewGenericKey(key)
	if err != nil {
		return err
	}
	_, err = hi.table.Insert(k, rid)
	return err
}

// DeleteEntry removes the key tuple's mapping to rid.
func (hi *HashIndex) DeleteEntry(key *tuple.Tuple, rid tuple.RID, txn *concurrency.Transaction) error {
	k, err := NewGenericKey(key)
	if err != nil {
		return err
	}
	_, err = hi.table.Remove(k, rid)
	return err
}

// ScanKey returns the record ids stored under the key tuple.
func (hi *HashIndex) ScanKey(key *tuple.Tuple, txn *concurrency.Transaction) ([]tuple.RID, error) {
	k, err := NewGenericKey(key)
	if err != nil {
		return nil, err
	}
	return hi.table.GetValue(k)
}
