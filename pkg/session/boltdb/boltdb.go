// Package boltdb provides a session.Adapter that keeps session documents in a bbolt file.
package boltdb

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultCollection = "sessions"
	connectTimeout    = 5 * time.Second
	backendName       = "document"
)

// document is the stored form of a session record.
type document struct {
	ID        string `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint"`
	UpdatedAt int64  `cbor:"3,keyasint"`
}

// Options configures an Adapter.
type Options struct {
	// Collection is the name of the bucket holding session documents, defaults to DefaultCollection.
	Collection string

	// Timeout bounds the wait for the database file lock at open, defaults to 5s.
	Timeout time.Duration
}

// Adapter is a session.Adapter that stores one document per session in a bbolt bucket.
type Adapter struct {
	db     *bolt.DB
	bucket []byte
}

// New returns an Adapter using the bbolt database at dbpath, the file is created if needed.
// It errors if the database can not be opened or the collection bucket can not be created.
func New(dbpath string, opts Options) (*Adapter, error) {
	if "" == opts.Collection {
		opts.Collection = DefaultCollection
	}
	if 0 == opts.Timeout {
		opts.Timeout = connectTimeout
	}

	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: opts.Timeout})
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "failed opening database")
	}

	bucket := []byte(opts.Collection)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if nil != err {
		db.Close()
		return nil, utils.WrapError(err, 0, session.ErrBackend, "failed %s bucket creation", opts.Collection)
	}

	return &Adapter{db: db, bucket: bucket}, nil
}

// Read returns the data of the document stored for id.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	var doc document
	var found bool
	err := self.db.View(func(tx *bolt.Tx) error {
		srzdoc := tx.Bucket(self.bucket).Get([]byte(id))
		if nil == srzdoc {
			return nil
		}
		found = true
		return cbor.Unmarshal(srzdoc, &doc)
	})
	switch {
	case nil != err:
		self.logFault(ctx, "read", err)
		return nil, utils.NewError(0, session.ErrUnavailable, "failed reading session document")
	case !found:
		return nil, utils.NewError(0, session.ErrNotFound, "no session document")
	}

	return doc.Data, nil
}

// Write replaces the document stored for id.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	if "" == id {
		return false
	}
	srzdoc, err := cbor.Marshal(document{ID: id, Data: data, UpdatedAt: time.Now().Unix()})
	if nil != err {
		self.logFault(ctx, "write", err)
		return false
	}

	err = self.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(self.bucket).Put([]byte(id), srzdoc)
	})
	if nil != err {
		self.logFault(ctx, "write", err)
		return false
	}

	return true
}

// Destroy deletes the document stored for id.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	if "" == id {
		return true
	}
	err := self.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(self.bucket).Delete([]byte(id))
	})
	if nil != err {
		self.logFault(ctx, "destroy", err)
		return false
	}

	return true
}

// GC deletes documents not updated for maxAge.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	limit := time.Now().Add(-maxAge).Unix()
	var count int
	err := self.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(self.bucket)

		var expired [][]byte
		var doc document
		err := bkt.ForEach(func(k, v []byte) error {
			doc = document{}
			if nil != cbor.Unmarshal(v, &doc) || doc.UpdatedAt <= limit {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if nil != err {
			return err
		}

		for _, k := range expired {
			err = bkt.Delete(k)
			if nil != err {
				return err
			}
		}
		count = len(expired)

		return nil
	})
	if nil != err {
		self.logFault(ctx, "gc", err)
		return 0, false
	}

	return count, true
}

// Close closes the database.
func (self *Adapter) Close() error {
	err := self.db.Close()
	return utils.WrapError(err, 0, session.Error, "failed closing database") // nil if err is nil
}

func (self *Adapter) logFault(ctx context.Context, op string, err error) {
	observability.Log(ctx).Warn("session storage fault", "backend", backendName, "op", op, "error", err)
}

var _ session.Adapter = &Adapter{}
