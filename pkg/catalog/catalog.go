// Package catalog tracks the tables and indexes of the database: names,
// object ids, schemas, and the heap or index structure backing each. It is
// the small interface the executors consume; DDL proper lives elsewhere.
package catalog

import (
	"fmt"
	"sync"

	"graindb/pkg/buffer"
	"graindb/pkg/concurrency"
	"graindb/pkg/hash"
	"graindb/pkg/log/wal"
	"graindb/pkg/storage/table"
	"graindb/pkg/tuple"
)

// Index is the index access interface executors maintain on writes.
type Index interface {
	InsertEntry(key *tuple.Tuple, rid tuple.RID, txn *concurrency.Transaction) error
	DeleteEntry(key *tuple.Tuple, rid tuple.RID, txn *concurrency.Transaction) error
	ScanKey(key *tuple.Tuple, txn *concurrency.Transaction) ([]tuple.RID, error)
}

// TableInfo describes one table.
type TableInfo struct {
	Name   string
	OID    uint32
	Schema *tuple.Schema
	Heap   *table.TableHeap
}

// IndexInfo describes one index over a table.
type IndexInfo struct {
	Name      string
	OID       uint32
	TableName string
	KeySchema *tuple.Schema
	KeyAttrs  []int
	Index     Index
}

// Catalog maintains bidirectional name/oid maps for tables, plus the
// indexes grouped by table name.
type Catalog struct {
	mutex sync.RWMutex

	pool        buffer.Pool
	lockManager *concurrency.LockManager
	logManager  *wal.LogManager

	tables       map[uint32]*TableInfo
	tableNames   map[string]uint32
	indexes      map[uint32]*IndexInfo
	tableIndexes map[string][]*IndexInfo

	nextTableOID uint32
	nextIndexOID uint32
}

func NewCatalog(pool buffer.Pool, lockManager *concurrency.LockManager, logManager *wal.LogManager) *Catalog {
	return &Catalog{
		pool:         pool,
		lockManager:  lockManager,
		logManager:   logManager,
		tables:       make(map[uint32]*TableInfo),
		tableNames:   make(map[string]uint32),
		indexes:      make(map[uint32]*IndexInfo),
		tableIndexes: make(map[string][]*IndexInfo),
	}
}

// CreateTable creates a table with a fresh heap.
func (c *Catalog) CreateTable(name string, schema *tuple.Schema, txn *concurrency.Transaction) (*TableInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("table name cannot be empty")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.tableNames[name]; exists {
		return nil, fmt.Errorf("table '%s' already exists", name)
	}

	heap, err := table.NewTableHeap(c.pool, schema, c.lockManager, c.logManager, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to create heap for table '%s': %v", name, err)
	}

	oid := c.nextTableOID
	c.nextTableOID++

	info := &TableInfo{Name: name, OID: oid, Schema: schema, Heap: heap}
	c.tables[oid] = info
	c.tableNames[name] = oid
	c.tableIndexes[name] = nil
	return info, nil
}

// GetTable looks a table up by oid.
func (c *Catalog) GetTable(oid uint32) (*TableInfo, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	info, exists := c.tables[oid]
	if !exists {
		return nil, fmt.Errorf("table with oid %d not found", oid)
	}
	return info, nil
}

// GetTableByName looks a table up by name.
func (c *Catalog) GetTableByName(name string) (*TableInfo, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	oid, exists := c.tableNames[name]
	if !exists {
		return nil, fmt.Errorf("table '%s' not found", name)
	}
	return c.tables[oid], nil
}

// CreateIndex creates a hash index over the named table's key columns and
// backfills it from the existing rows.
func (c *Catalog) CreateIndex(indexName, tableName string, keyAttrs []int, txn *concurrency.Transaction) (*IndexInfo, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	oid, exists := c.tableNames[tableName]
	if !exists {
		return nil, fmt.Errorf("table '%s' not found", tableName)
	}
	tableInfo := c.tables[oid]

	keySchema, err := tableInfo.Schema.Project(keyAttrs)
	if err != nil {
		return nil, err
	}

	index, err := hash.NewHashIndex(c.pool, keySchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create index '%s': %v", indexName, err)
	}

	it, err := tableInfo.Heap.Iterator(txn)
	if err != nil {
		return nil, err
	}
	for {
		t, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		key, err := t.KeyFromTuple(keySchema, keyAttrs)
		if err != nil {
			return nil, err
		}
		if err := index.InsertEntry(key, t.RID, txn); err != nil {
			return nil, err
		}
	}

	indexOID := c.nextIndexOID
	c.nextIndexOID++

	info := &IndexInfo{
		Name:      indexName,
		OID:       indexOID,
		TableName: tableName,
		KeySchema: keySchema,
		KeyAttrs:  keyAttrs,
		Index:     index,
	}
	c.indexes[indexOID] = info
	c.tableIndexes[tableName] = append(c.tableIndexes[tableName], info)
	return info, nil
}

// GetTableIndexes returns the indexes defined over a table.
func (c *Catalog) GetTableIndexes(tableName string) []*IndexInfo {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.tableIndexes[tableName]
}
