package execution

import (
	"path/filepath"
	"testing"

	"graindb/pkg/buffer"
	"graindb/pkg/catalog"
	"graindb/pkg/concurrency"
	"graindb/pkg/storage/disk"
	"graindb/pkg/tuple"
	"graindb/pkg/types"
)

type testEnv struct {
	catalog     *catalog.Catalog
	lockManager *concurrency.LockManager
	txnManager  *concurrency.TransactionManager
	tableInfo   *catalog.TableInfo
	indexInfo   *catalog.IndexInfo
}

func accountSchema() *tuple.Schema {
	return tuple.NewSchema([]tuple.Column{
		{Name: "id", Type: types.Int32Type},
		{Name: "owner", Type: types.StringType},
		{Name: "balance", Type: types.Int32Type},
	})
}

func accountRow(id int32, owner string, balance int32) []types.Field {
	return []types.Field{
		types.NewInt32Field(id),
		types.NewStringField(owner),
		types.NewInt32Field(balance),
	}
}

// newTestEnv builds a database with an "accounts" table, an index on its
// id column, and four committed rows.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dm, err := disk.NewDiskManager(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDiskManager failed: %v", err)
	}
	t.Cleanup(dm.ShutDown)

	pool := buffer.NewBufferPool(64, dm, nil)
	lockManager := concurrency.NewLockManager()
	txnManager := concurrency.NewTransactionManager(lockManager, nil)
	cat := catalog.NewCatalog(pool, lockManager, nil)

	tableInfo, err := cat.CreateTable("accounts", accountSchema(), nil)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	indexInfo, err := cat.CreateIndex("accounts_id", "accounts", []int{0}, nil)
	if err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}

	env := &testEnv{
		catalog:     cat,
		lockManager: lockManager,
		txnManager:  txnManager,
		tableInfo:   tableInfo,
		indexInfo:   indexInfo,
	}

	txn := txnManager.Begin(concurrency.RepeatableRead)
	env.runInsert(t, txn, [][]types.Field{
		accountRow(1, "alice", 100),
		accountRow(2, "bob", 250),
		accountRow(3, "carol", 250),
		accountRow(4, "dave", 50),
	})
	if err := txnManager.Commit(txn); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return env
}

func (env *testEnv) ctx(txn *concurrency.Transaction) *ExecutorContext {
	return &ExecutorContext{Txn: txn, Catalog: env.catalog, LockManager: env.lockManager}
}

func (env *testEnv) runInsert(t *testing.T, txn *concurrency.Transaction, rows [][]types.Field) {
	t.Helper()
	plan := &InsertPlan{TableOID: env.tableInfo.OID, RawValues: rows}
	exec, err := NewInsertExecutor(env.ctx(txn), plan, nil)
	if err != nil {
		t.Fatalf("NewInsertExecutor failed: %v", err)
	}
	drain(t, exec)
}

func drain(t *testing.T, e Executor) []*tuple.Tuple {
	t.Helper()
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	var out []*tuple.Tuple
	for {
		tup, ok, err := e.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, tup)
	}
}

func intAt(t *testing.T, tup *tuple.Tuple, col int) int32 {
	t.Helper()
	f, err := tup.GetField(col)
	if err != nil {
		t.Fatalf("GetField(%d) failed: %v", col, err)
	}
	return f.(*types.Int32Field).Value
}

// sliceExecutor feeds in-memory tuples, standing in for a child operator.
type sliceExecutor struct {
	tuples []*tuple.Tuple
	pos    int
}

func (e *sliceExecutor) Init() error {
	e.pos = 0
	return nil
}

func (e *sliceExecutor) Next() (*tuple.Tuple, bool, error) {
	if e.pos >= len(e.tuples) {
		return nil, false, nil
	}
	t := e.tuples[e.pos]
	e.pos++
	return t, true, nil
}

func sliceOf(t *testing.T, schema *tuple.Schema, rows ...[]types.Field) *sliceExecutor {
	t.Helper()
	exec := &sliceExecutor{}
	for _, row := range rows {
		tup, err := tuple.NewTupleFromFields(schema, row)
		if err != nil {
			t.Fatalf("NewTupleFromFields failed: %v", err)
		}
		exec.tuples = append(exec.tuples, tup)
	}
	return exec
}

func TestSeqScan_FullTable(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	rows := drain(t, mustSeqScan(t, env, txn, &SeqScanPlan{TableOID: env.tableInfo.OID}))
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if intAt(t, row, 0) != int32(i+1) {
			t.Errorf("Row %d: expected id %d, got %d", i, i+1, intAt(t, row, 0))
		}
	}
}

func mustSeqScan(t *testing.T, env *testEnv, txn *concurrency.Transaction, plan *SeqScanPlan) *SeqScanExecutor {
	t.Helper()
	exec, err := NewSeqScanExecutor(env.ctx(txn), plan)
	if err != nil {
		t.Fatalf("NewSeqScanExecutor failed: %v", err)
	}
	return exec
}

func TestSeqScan_PredicateAndProjection(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	plan := &SeqScanPlan{
		TableOID:      env.tableInfo.OID,
		Predicate:     &ScanPredicate{ColIdx: 2, Op: types.GreaterThan, Value: types.NewInt32Field(99)},
		OutputColumns: []int{1, 2},
	}
	rows := drain(t, mustSeqScan(t, env, txn, plan))
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows over 99, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Schema().NumColumns() != 2 {
			t.Fatalf("Expected 2 projected columns, got %d", row.Schema().NumColumns())
		}
		if intAt(t, row, 1) <= 99 {
			t.Errorf("Predicate leaked row with balance %d", intAt(t, row, 1))
		}
	}
}

// Scenario: under READ_COMMITTED a scan's shared locks are gone the moment
// each row is produced, so a concurrent writer locks without waiting.
func TestSeqScan_ReadCommittedReleasesLocks(t *testing.T) {
	env := newTestEnv(t)
	reader := env.txnManager.Begin(concurrency.ReadCommitted)

	rows := drain(t, mustSeqScan(t, env, reader, &SeqScanPlan{TableOID: env.tableInfo.OID}))
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	if n := len(reader.SharedLockSet()); n != 0 {
		t.Fatalf("READ_COMMITTED scan must hold no shared locks, found %d", n)
	}

	// A writer takes an exclusive lock on a scanned row without blocking.
	writer := env.txnManager.Begin(concurrency.RepeatableRead)
	if err := env.lockManager.LockExclusive(writer, rows[0].RID); err != nil {
		t.Fatalf("Writer should not wait: %v", err)
	}
}

func TestSeqScan_RepeatableReadHoldsLocks(t *testing.T) {
	env := newTestEnv(t)
	reader := env.txnManager.Begin(concurrency.RepeatableRead)

	rows := drain(t, mustSeqScan(t, env, reader, &SeqScanPlan{TableOID: env.tableInfo.OID}))
	if n := len(reader.SharedLockSet()); n != len(rows) {
		t.Errorf("REPEATABLE_READ scan must hold %d shared locks, found %d", len(rows), n)
	}
}

func TestInsert_MaintainsIndex(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	env.runInsert(t, txn, [][]types.Field{accountRow(9, "erin", 75)})
	if err := env.txnManager.Commit(txn); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	key, _ := tuple.NewTupleFromFields(env.indexInfo.KeySchema, []types.Field{types.NewInt32Field(9)})
	rids, err := env.indexInfo.Index.ScanKey(key, nil)
	if err != nil {
		t.Fatalf("ScanKey failed: %v", err)
	}
	if len(rids) != 1 {
		t.Fatalf("Expected one index entry for id 9, got %d", len(rids))
	}

	got, err := env.tableInfo.Heap.GetTuple(rids[0], nil)
	if err != nil {
		t.Fatalf("GetTuple via index failed: %v", err)
	}
	if intAt(t, got, 0) != 9 {
		t.Errorf("Index points at the wrong row: id %d", intAt(t, got, 0))
	}
}

func TestInsert_AbortUnwindsHeapAndIndex(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	env.runInsert(t, txn, [][]types.Field{accountRow(42, "mallory", 1)})
	if err := env.txnManager.Abort(txn); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	scan := env.txnManager.Begin(concurrency.RepeatableRead)
	rows := drain(t, mustSeqScan(t, env, scan, &SeqScanPlan{TableOID: env.tableInfo.OID}))
	if len(rows) != 4 {
		t.Errorf("Expected the aborted insert gone, got %d rows", len(rows))
	}

	key, _ := tuple.NewTupleFromFields(env.indexInfo.KeySchema, []types.Field{types.NewInt32Field(42)})
	rids, _ := env.indexInfo.Index.ScanKey(key, nil)
	if len(rids) != 0 {
		t.Errorf("Expected the aborted index entry gone, got %v", rids)
	}
}

func TestDelete_RemovesRowsAndIndexEntries(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	child := mustSeqScan(t, env, txn, &SeqScanPlan{
		TableOID:  env.tableInfo.OID,
		Predicate: &ScanPredicate{ColIdx: 0, Op: types.Equals, Value: types.NewInt32Field(2)},
	})
	del, err := NewDeleteExecutor(env.ctx(txn), &DeletePlan{TableOID: env.tableInfo.OID}, child)
	if err != nil {
		t.Fatalf("NewDeleteExecutor failed: %v", err)
	}
	deleted := drain(t, del)
	if len(deleted) != 1 {
		t.Fatalf("Expected 1 deleted row, got %d", len(deleted))
	}
	if err := env.txnManager.Commit(txn); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	scan := env.txnManager.Begin(concurrency.RepeatableRead)
	rows := drain(t, mustSeqScan(t, env, scan, &SeqScanPlan{TableOID: env.tableInfo.OID}))
	if len(rows) != 3 {
		t.Errorf("Expected 3 rows after delete, got %d", len(rows))
	}

	key, _ := tuple.NewTupleFromFields(env.indexInfo.KeySchema, []types.Field{types.NewInt32Field(2)})
	rids, _ := env.indexInfo.Index.ScanKey(key, nil)
	if len(rids) != 0 {
		t.Errorf("Expected index entry removed, got %v", rids)
	}
}

func TestUpdate_Add(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	child := mustSeqScan(t, env, txn, &SeqScanPlan{
		TableOID:  env.tableInfo.OID,
		Predicate: &ScanPredicate{ColIdx: 0, Op: types.Equals, Value: types.NewInt32Field(1)},
	})
	plan := &UpdatePlan{
		TableOID: env.tableInfo.OID,
		UpdateAttrs: map[int]UpdateInfo{
			2: {Type: UpdateAdd, Value: 25},
		},
	}
	upd, err := NewUpdateExecutor(env.ctx(txn), plan, child)
	if err != nil {
		t.Fatalf("NewUpdateExecutor failed: %v", err)
	}
	updated := drain(t, upd)
	if len(updated) != 1 {
		t.Fatalf("Expected 1 updated row, got %d", len(updated))
	}
	if intAt(t, updated[0], 2) != 125 {
		t.Errorf("Expected balance 125, got %d", intAt(t, updated[0], 2))
	}
	if err := env.txnManager.Commit(txn); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	check := env.txnManager.Begin(concurrency.RepeatableRead)
	rows := drain(t, mustSeqScan(t, env, check, &SeqScanPlan{
		TableOID:  env.tableInfo.OID,
		Predicate: &ScanPredicate{ColIdx: 0, Op: types.Equals, Value: types.NewInt32Field(1)},
	}))
	if len(rows) != 1 || intAt(t, rows[0], 2) != 125 {
		t.Errorf("Update did not persist: %v", rows)
	}
}

func TestAggregation_GroupsAndHaving(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	// Group the four rows by balance: 100 -> 1 row, 250 -> 2 rows, 50 -> 1.
	child := mustSeqScan(t, env, txn, &SeqScanPlan{TableOID: env.tableInfo.OID})
	plan := &AggregationPlan{
		GroupBys: []int{2},
		Aggregates: []AggregateExpr{
			{ColIdx: 0, Type: CountAggregate},
			{ColIdx: 0, Type: SumAggregate},
			{ColIdx: 0, Type: MinAggregate},
			{ColIdx: 0, Type: MaxAggregate},
		},
		Having: &HavingClause{AggIdx: 0, Op: types.GreaterThan, Value: 1},
	}
	agg := NewAggregationExecutor(env.ctx(txn), plan, child)

	groups := drain(t, agg)
	if len(groups) != 1 {
		t.Fatalf("Expected one group to pass HAVING, got %d", len(groups))
	}
	g := groups[0]
	if intAt(t, g, 0) != 250 {
		t.Errorf("Expected group key 250, got %d", intAt(t, g, 0))
	}
	if intAt(t, g, 1) != 2 {
		t.Errorf("Expected count 2, got %d", intAt(t, g, 1))
	}
	if intAt(t, g, 2) != 5 {
		t.Errorf("Expected sum 5, got %d", intAt(t, g, 2))
	}
	if intAt(t, g, 3) != 2 || intAt(t, g, 4) != 3 {
		t.Errorf("Expected min 2 and max 3, got %d and %d", intAt(t, g, 3), intAt(t, g, 4))
	}
}

func TestDistinct(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	// Project to balance only: 100, 250, 250, 50 -> three distinct rows.
	child := mustSeqScan(t, env, txn, &SeqScanPlan{
		TableOID:      env.tableInfo.OID,
		OutputColumns: []int{2},
	})
	rows := drain(t, NewDistinctExecutor(env.ctx(txn), child))
	if len(rows) != 3 {
		t.Fatalf("Expected 3 distinct balances, got %d", len(rows))
	}
}

func TestNestedLoopJoin(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	pairSchema := tuple.NewSchema([]tuple.Column{
		{Name: "k", Type: types.Int32Type},
		{Name: "tag", Type: types.StringType},
	})
	left := sliceOf(t, pairSchema,
		[]types.Field{types.NewInt32Field(1), types.NewStringField("l1")},
		[]types.Field{types.NewInt32Field(2), types.NewStringField("l2")},
	)
	right := sliceOf(t, pairSchema,
		[]types.Field{types.NewInt32Field(2), types.NewStringField("r2")},
		[]types.Field{types.NewInt32Field(3), types.NewStringField("r3")},
		[]types.Field{types.NewInt32Field(2), types.NewStringField("r2b")},
	)

	plan := &NestedLoopJoinPlan{Predicate: &JoinPredicate{LeftCol: 0, Op: types.Equals, RightCol: 0}}
	rows := drain(t, NewNestedLoopJoinExecutor(env.ctx(txn), plan, left, right))
	if len(rows) != 2 {
		t.Fatalf("Expected 2 joined rows, got %d", len(rows))
	}
	for _, row := range rows {
		if intAt(t, row, 0) != 2 || intAt(t, row, 2) != 2 {
			t.Errorf("Join keys disagree: %v", row)
		}
	}
}

func TestNestedLoopJoin_CrossProduct(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	oneCol := tuple.NewSchema([]tuple.Column{{Name: "v", Type: types.Int32Type}})
	left := sliceOf(t, oneCol,
		[]types.Field{types.NewInt32Field(1)},
		[]types.Field{types.NewInt32Field(2)},
	)
	right := sliceOf(t, oneCol,
		[]types.Field{types.NewInt32Field(10)},
		[]types.Field{types.NewInt32Field(20)},
		[]types.Field{types.NewInt32Field(30)},
	)

	rows := drain(t, NewNestedLoopJoinExecutor(env.ctx(txn), &NestedLoopJoinPlan{}, left, right))
	if len(rows) != 6 {
		t.Fatalf("Expected 6 cross-product rows, got %d", len(rows))
	}
}

func TestHashJoin(t *testing.T) {
	env := newTestEnv(t)
	txn := env.txnManager.Begin(concurrency.RepeatableRead)

	pairSchema := tuple.NewSchema([]tuple.Column{
		{Name: "k", Type: types.Int32Type},
		{Name: "tag", Type: types.StringType},
	})
	left := sliceOf(t, pairSchema,
		[]types.Field{types.NewInt32Field(1), types.NewStringField("l1")},
		[]types.Field{types.NewInt32Field(2), types.NewStringField("l2")},
		[]types.Field{types.NewInt32Field(2), types.NewStringField("l2b")},
	)
	right := sliceOf(t, pairSchema,
		[]types.Field{types.NewInt32Field(2), types.NewStringField("r2")},
		[]types.Field{types.NewInt32Field(5), types.NewStringField("r5")},
	)

	plan := &HashJoinPlan{
		LeftKeyCol:  0,
		RightKeyCol: 0,
		OutputColumns: []ColumnRef{
			{TupleIdx: 0, ColIdx: 1}, // left tag
			{TupleIdx: 1, ColIdx: 1}, // right tag
			{TupleIdx: 0, ColIdx: 0}, // join key
		},
	}
	rows := drain(t, NewHashJoinExecutor(env.ctx(txn), plan, left, right))
	if len(rows) != 2 {
		t.Fatalf("Expected 2 joined rows (both left 2s match right 2), got %d", len(rows))
	}
	for _, row := range rows {
		if intAt(t, row, 2) != 2 {
			t.Errorf("Expected join key 2, got %d", intAt(t, row, 2))
		}
		if row.Schema().NumColumns() != 3 {
			t.Errorf("Expected 3 output columns, got %d", row.Schema().NumColumns())
		}
	}
}
