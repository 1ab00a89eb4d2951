package hash

import (
	"fmt"
	"sync"

	"graindb/pkg/buffer"
	"graindb/pkg/primitives"
)

// ExtendibleHashTable is a disk-resident hash table whose directory doubles
// as buckets overflow and halves as they drain. The directory page id is
// fixed at creation; buckets come and go through the buffer pool.
//
// Concurrency: a table-level reader/writer latch plus a per-bucket page
// latch. Reads and in-place inserts take the table latch shared; every
// structural change (split, merge, directory resize) takes it exclusive.
type ExtendibleHashTable[K, V any] struct {
	pool       buffer.Pool
	dirPageID  primitives.PageID
	kc         KeyCodec[K]
	vc         ValueCodec[V]
	tableLatch sync.RWMutex
}

// NewExtendibleHashTable creates a table with global depth 1 and two empty
// buckets.
func NewExtendibleHashTable[K, V any](pool buffer.Pool, kc KeyCodec[K], vc ValueCodec[V]) (*ExtendibleHashTable[K, V], error) {
	dirPage, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate directory page: %v", err)
	}
	dir := AsDirectoryPage(dirPage)
	dir.SetPageID(dirPage.ID())
	dir.IncrGlobalDepth()

	bucket0, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate bucket page: %v", err)
	}
	bucket1, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate bucket page: %v", err)
	}

	dir.SetLocalDepth(0, 1)
	dir.SetLocalDepth(1, 1)
	dir.SetBucketPageID(0, bucket0.ID())
	dir.SetBucketPageID(1, bucket1.ID())

	ht := &ExtendibleHashTable[K, V]{
		pool:      pool,
		dirPageID: dirPage.ID(),
		kc:        kc,
		vc:        vc,
	}

	pool.UnpinPage(dirPage.ID(), true)
	pool.UnpinPage(bucket0.ID(), false)
	pool.UnpinPage(bucket1.ID(), false)
	return ht, nil
}

// Hash returns the key codec's 32-bit hash, used for directory indexing.
func (ht *ExtendibleHashTable[K, V]) Hash(key K) uint32 {
	return ht.kc.Hash(key)
}

func (ht *ExtendibleHashTable[K, V]) dirIndex(key K, dir *DirectoryPage) uint32 {
	return ht.Hash(key) & dir.GlobalDepthMask()
}

func (ht *ExtendibleHashTable[K, V]) fetchDirectory() (*DirectoryPage, error) {
	page, err := ht.pool.FetchPage(ht.dirPageID)
	if err != nil {
		return nil, err
	}
	return AsDirectoryPage(page), nil
}

func (ht *ExtendibleHashTable[K, V]) fetchBucket(pid primitives.PageID) (*BucketPage[K, V], *buffer.Page, error) {
	page, err := ht.pool.FetchPage(pid)
	if err != nil {
		return nil, nil, err
	}
	return AsBucketPage(page, ht.kc, ht.vc), page, nil
}

// GetValue returns all values stored under key.
func (ht *ExtendibleHashTable[K, V]) GetValue(key K) ([]V, error) {
	ht.tableLatch.RLock()
	defer ht.tableLatch.RUnlock()

	dir, err := ht.fetchDirectory()
	if err != nil {
		return nil, err
	}
	bucketPID := dir.BucketPageID(ht.dirIndex(key, dir))

	bucket, page, err := ht.fetchBucket(bucketPID)
	if err != nil {
		ht.pool.UnpinPage(ht.dirPageID, false)
		return nil, err
	}

	page.RLatch()
	values, _ := bucket.GetValue(key)
	page.RUnlatch()

	ht.pool.UnpinPage(bucketPID, false)
	ht.pool.UnpinPage(ht.dirPageID, false)
	return values, nil
}

// Insert adds the pair, splitting the target bucket when full. Duplicate
// pairs are rejected.
func (ht *ExtendibleHashTable[K, V]) Insert(key K, value V) (bool, error) {
	ht.tableLatch.RLock()

	dir, err := ht.fetchDirectory()
	if err != nil {
		ht.tableLatch.RUnlock()
		return false, err
	}
	bucketPID := dir.BucketPageID(ht.dirIndex(key, dir))

	bucket, page, err := ht.fetchBucket(bucketPID)
	if err != nil {
		ht.pool.UnpinPage(ht.dirPageID, false)
		ht.tableLatch.RUnlock()
		return false, err
	}

	page.RLatch()
	full := bucket.IsFull()
	page.RUnlatch()

	if full {
		ht.pool.UnpinPage(bucketPID, false)
		ht.pool.UnpinPage(ht.dirPageID, false)
		ht.tableLatch.RUnlock()
		return ht.splitInsert(key, value)
	}

	page.WLatch()
	ok := bucket.Insert(key, value)
	page.WUnlatch()

	ht.pool.UnpinPage(bucketPID, true)
	ht.pool.UnpinPage(ht.dirPageID, false)
	ht.tableLatch.RUnlock()
	return ok, nil
}

// splitInsert grows the table: doubling the directory when the overflowing
// bucket is at global depth, then redistributing its entries between the
// bucket and a fresh split image, and retrying the insert.
func (ht *ExtendibleHashTable[K, V]) splitInsert(key K, value V) (bool, error) {
	ht.tableLatch.Lock()

	dir, err := ht.fetchDirectory()
	if err != nil {
		ht.tableLatch.Unlock()
		return false, err
	}
	dirIdx := ht.dirIndex(key, dir)
	oldPID := dir.BucketPageID(dirIdx)

	if dir.GlobalDepth() == dir.LocalDepth(dirIdx) {
		if dir.GlobalDepth() >= primitives.MaxGlobalDepth {
			ht.pool.UnpinPage(ht.dirPageID, false)
			ht.tableLatch.Unlock()
			return false, nil
		}

		// Mirror the lower half into the upper half, then deepen.
		size := dir.Size()
		for i := uint32(0); i < size; i++ {
			mirror := i + size
			dir.SetLocalDepth(mirror, dir.LocalDepth(i))
			dir.SetBucketPageID(mirror, dir.BucketPageID(i))
		}
		dir.IncrGlobalDepth()
	}

	oldBucket, oldPage, err := ht.fetchBucket(oldPID)
	if err != nil {
		ht.pool.UnpinPage(ht.dirPageID, false)
		ht.tableLatch.Unlock()
		return false, err
	}

	newPage, err := ht.pool.NewPage()
	if err != nil {
		ht.pool.UnpinPage(oldPID, false)
		ht.pool.UnpinPage(ht.dirPageID, false)
		ht.tableLatch.Unlock()
		return false, err
	}
	newBucket := AsBucketPage(newPage, ht.kc, ht.vc)
	newPID := newPage.ID()

	dir.IncrLocalDepth(dirIdx)
	localMask := dir.LocalDepthMask(dirIdx)

	// Every slot still pointing at the old bucket deepens with it; slots
	// on the other side of the new bit redirect to the new bucket.
	size := dir.Size()
	for i := uint32(0); i < size; i++ {
		if i != dirIdx && dir.BucketPageID(i) == oldPID {
			dir.SetLocalDepth(i, dir.LocalDepth(dirIdx))
			if i&localMask != dirIdx&localMask {
				dir.SetBucketPageID(i, newPID)
			}
		}
	}

	// Rehash the old bucket's live entries; those now on the new side move.
	oldPage.WLatch()
	newPage.WLatch()
	for i := 0; i < oldBucket.Capacity(); i++ {
		if !oldBucket.IsOccupied(i) || !oldBucket.IsReadable(i) {
			continue
		}
		k := oldBucket.KeyAt(i)
		if ht.Hash(k)&localMask != dirIdx&localMask {
			newBucket.Insert(k, oldBucket.ValueAt(i))
			oldBucket.SetReadable(i, false)
		}
	}
	newPage.WUnlatch()
	oldPage.WUnlatch()

	ht.pool.UnpinPage(ht.dirPageID, true)
	ht.pool.UnpinPage(oldPID, true)
	ht.pool.UnpinPage(newPID, true)
	ht.tableLatch.Unlock()
	return ht.Insert(key, value)
}

// Remove deletes the pair, merging the bucket into its split image when it
// empties.
func (ht *ExtendibleHashTable[K, V]) Remove(key K, value V) (bool, error) {
	ht.tableLatch.RLock()

	dir, err := ht.fetchDirectory()
	if err != nil {
		ht.tableLatch.RUnlock()
		return false, err
	}
	bucketPID := dir.BucketPageID(ht.dirIndex(key, dir))

	bucket, page, err := ht.fetchBucket(bucketPID)
	if err != nil {
		ht.pool.UnpinPage(ht.dirPageID, false)
		ht.tableLatch.RUnlock()
		return false, err
	}

	page.WLatch()
	ok := bucket.Remove(key, value)
	empty := bucket.IsEmpty()
	page.WUnlatch()

	ht.pool.UnpinPage(bucketPID, ok)
	ht.pool.UnpinPage(ht.dirPageID, false)
	ht.tableLatch.RUnlock()

	if ok && empty {
		if err := ht.merge(key); err != nil {
			return false, err
		}
	}
	return ok, nil
}

// merge folds an empty bucket into its split image when both sit at the
// same positive local depth, then shrinks the directory while possible.
// The bucket is re-checked under the exclusive latch: a concurrent insert
// may have refilled it.
func (ht *ExtendibleHashTable[K, V]) merge(key K) error {
	ht.tableLatch.Lock()
	defer ht.tableLatch.Unlock()

	dir, err := ht.fetchDirectory()
	if err != nil {
		return err
	}
	bucketIdx := ht.dirIndex(key, dir)
	bucketPID := dir.BucketPageID(bucketIdx)

	bucket, page, err := ht.fetchBucket(bucketPID)
	if err != nil {
		ht.pool.UnpinPage(ht.dirPageID, false)
		return err
	}

	page.RLatch()
	empty := bucket.IsEmpty()
	page.RUnlatch()

	if !empty {
		ht.pool.UnpinPage(bucketPID, false)
		ht.pool.UnpinPage(ht.dirPageID, false)
		return nil
	}

	siblingIdx := dir.SplitImageIndex(bucketIdx)
	siblingPID := dir.BucketPageID(siblingIdx)

	if bucketPID != siblingPID &&
		dir.LocalDepth(bucketIdx) == dir.LocalDepth(siblingIdx) &&
		dir.LocalDepth(bucketIdx) > 0 {
		ht.pool.UnpinPage(bucketPID, false)
		ht.pool.DeletePage(bucketPID)

		size := dir.Size()
		for i := uint32(0); i < size; i++ {
			if dir.BucketPageID(i) == bucketPID {
				dir.DecrLocalDepth(i)
				dir.SetBucketPageID(i, siblingPID)
			} else if dir.BucketPageID(i) == siblingPID {
				dir.DecrLocalDepth(i)
			}
		}
	} else {
		ht.pool.UnpinPage(bucketPID, false)
	}

	for dir.CanShrink() && dir.GlobalDepth() > 1 {
		dir.DecrGlobalDepth()
	}

	ht.pool.UnpinPage(ht.dirPageID, true)
	return nil
}

// GlobalDepth returns the directory's current global depth.
func (ht *ExtendibleHashTable[K, V]) GlobalDepth() (uint32, error) {
	ht.tableLatch.RLock()
	defer ht.tableLatch.RUnlock()

	dir, err := ht.fetchDirectory()
	if err != nil {
		return 0, err
	}
	depth := dir.GlobalDepth()
	ht.pool.UnpinPage(ht.dirPageID, false)
	return depth, nil
}

// VerifyIntegrity checks the directory invariants.
func (ht *ExtendibleHashTable[K, V]) VerifyIntegrity() error {
	ht.tableLatch.RLock()
	defer ht.tableLatch.RUnlock()

	dir, err := ht.fetchDirectory()
	if err != nil {
		return err
	}
	err = dir.VerifyIntegrity()
	ht.pool.UnpinPage(ht.dirPageID, false)
	return err
}
