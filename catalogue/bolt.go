package catalogue

import (
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/anacrolix/swarmcheck"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

var recordsBucketKey = []byte("records")

// A catalogue in a bbolt database. Records are keyed by the raw infohash, and values are the same
// lines the flat-file form uses. Every change is committed immediately.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

func OpenBolt(path string) (_ *BoltStore, err error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		err = fmt.Errorf("opening %q: %w", path, err)
		return
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucketKey)
		return err
	})
	if err != nil {
		db.Close()
		return
	}
	return &BoltStore{db}, nil
}

func (me *BoltStore) Close() error {
	return me.db.Close()
}

func (me *BoltStore) Len() (n int, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(recordsBucketKey).Stats().KeyN
		return nil
	})
	return
}

// In key order.
func (me *BoltStore) InfoHashes() (ret []string, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucketKey).ForEach(func(k, _ []byte) error {
			ih, err := infohash.FromBytes(k)
			if err != nil {
				return fmt.Errorf("bad key %x: %w", k, err)
			}
			ret = append(ret, ih.HexString())
			return nil
		})
	})
	return
}

func (me *BoltStore) Get(ih infohash.T) (r Record, ok bool, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(recordsBucketKey).Get(ih.Bytes())
		if v == nil {
			return nil
		}
		ok = true
		r, err = ParseRecord(string(v))
		return err
	})
	return
}

func (me *BoltStore) Apply(verdicts map[infohash.T]swarmcheck.Verdict, now time.Time) (stats ApplyStats, err error) {
	err = me.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucketKey)
		n := b.Stats().KeyN
		for ih, v := range verdicts {
			k := ih.Bytes()
			val := b.Get(k)
			if val == nil {
				continue
			}
			switch v.Status {
			case swarmcheck.Dead:
				if err := b.Delete(k); err != nil {
					return err
				}
				stats.Dropped++
			case swarmcheck.Alive:
				rec, err := ParseRecord(string(val))
				if err != nil {
					return fmt.Errorf("record %v: %w", ih, err)
				}
				rec = applyAlive(rec, v, now)
				if err := b.Put(k, []byte(rec.Line())); err != nil {
					return err
				}
				stats.Updated++
			}
		}
		stats.Kept = n - stats.Dropped - stats.Updated
		return nil
	})
	if err != nil {
		stats = ApplyStats{}
	}
	return
}

func (me *BoltStore) Append(records ...Record) (added int, err error) {
	var recErrs error
	err = me.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(recordsBucketKey)
		for _, rec := range records {
			ih, err := rec.Key()
			if err != nil {
				recErrs = errors.Join(recErrs, fmt.Errorf("record %q: %w", rec.Name, err))
				continue
			}
			k := ih.Bytes()
			if b.Get(k) != nil {
				continue
			}
			rec.InfoHash = ih.HexString()
			if err := b.Put(k, []byte(rec.Line())); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		added = 0
		return
	}
	err = recErrs
	return
}
