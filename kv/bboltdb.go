package kv

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
	"go.etcd.io/bbolt"
)

// boltDB adapts go.etcd.io/bbolt to the kv.DB contract. It takes an
// advisory file lock on open (gofrs/flock) so a second process cannot
// attach to the same shard file - the "one writer thread per shard"
// invariant (spec §5) held process-wide as well as within this module.
type boltDB struct {
	path string
	bdb  *bbolt.DB
	lock *flock.Flock
}

// Open opens (creating if absent) a bbolt-backed shard file at path.
func Open(path string) (DB, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("kv: acquire shard lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("kv: shard file %s is locked by another process", path)
	}

	bdb, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("kv: open bbolt shard %s: %w", path, err)
	}

	return &boltDB{path: path, bdb: bdb, lock: lock}, nil
}

func (d *boltDB) Path() string { return d.path }

func (d *boltDB) Close() error {
	err := d.bdb.Close()
	if unlockErr := d.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

func (d *boltDB) View(_ context.Context, fn func(Tx) error) error {
	return d.bdb.View(func(btx *bbolt.Tx) error {
		return fn(&boltTx{btx: btx})
	})
}

func (d *boltDB) Begin(durability Durability) (RwTx, error) {
	btx, err := d.bdb.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("kv: begin rw tx on %s: %w", d.path, err)
	}
	// bbolt's NoSync defers the fsync to the next synchronous commit;
	// DurabilityImmediate always fsyncs on Commit. Eventual/None relax
	// that per spec §4.4's Begin contract ("Eventual/None batches").
	btx.DB().NoSync = durability != DurabilityImmediate
	return &boltRwTx{boltTx: boltTx{btx: btx}}, nil
}

type boltTx struct {
	btx *bbolt.Tx
}

func (t *boltTx) Get(table string, key []byte) ([]byte, bool, error) {
	b := t.btx.Bucket([]byte(table))
	if b == nil {
		return nil, false, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *boltTx) Has(table string, key []byte) (bool, error) {
	_, ok, err := t.Get(table, key)
	return ok, err
}

func (t *boltTx) ForEach(table string, from []byte, walker func(k, v []byte) (bool, error)) error {
	b := t.btx.Bucket([]byte(table))
	if b == nil {
		return nil
	}
	c := b.Cursor()
	var k, v []byte
	if from == nil {
		k, v = c.First()
	} else {
		k, v = c.Seek(from)
	}
	for ; k != nil; k, v = c.Next() {
		cont, err := walker(k, v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (t *boltTx) Range(table string, from, until []byte) ([]KV, error) {
	var out []KV
	err := t.ForEach(table, from, func(k, v []byte) (bool, error) {
		if until != nil && bytesCompare(k, until) >= 0 {
			return false, nil
		}
		kk := make([]byte, len(k))
		copy(kk, k)
		vv := make([]byte, len(v))
		copy(vv, v)
		out = append(out, KV{Key: kk, Value: vv})
		return true, nil
	})
	return out, err
}

func (t *boltTx) Rollback() error {
	return t.btx.Rollback()
}

type boltRwTx struct {
	boltTx
}

func (t *boltRwTx) EnsureTable(table string) error {
	_, err := t.btx.CreateBucketIfNotExists([]byte(table))
	return err
}

func (t *boltRwTx) Put(table string, k, v []byte) error {
	b := t.btx.Bucket([]byte(table))
	if b == nil {
		var err error
		b, err = t.btx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}
	}
	return b.Put(k, v)
}

func (t *boltRwTx) Delete(table string, k []byte) (bool, error) {
	b := t.btx.Bucket([]byte(table))
	if b == nil {
		return false, nil
	}
	existed := b.Get(k) != nil
	if err := b.Delete(k); err != nil {
		return false, err
	}
	return existed, nil
}

func (t *boltRwTx) Commit() error {
	return t.btx.Commit()
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
