// Package sqlitedb provides a session.Adapter that keeps session rows in a SQLite database.
package sqlitedb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultAddress = session.DefaultClientAddr
	backendName    = "relational"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	readSQL         = `SELECT sess_data FROM sessions WHERE id = ?`
	readBoundSQL    = readSQL + ` AND sess_ip_address = ?`
	destroySQL      = `DELETE FROM sessions WHERE id = ?`
	destroyBoundSQL = destroySQL + ` AND sess_ip_address = ?`
	writeSQL        = `INSERT INTO sessions (id, sess_timestamp, sess_ip_address, sess_data) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		sess_timestamp = excluded.sess_timestamp,
		sess_ip_address = excluded.sess_ip_address,
		sess_data = excluded.sess_data`
	writeBoundSQL = writeSQL + ` WHERE sessions.sess_ip_address = excluded.sess_ip_address`
	gcSQL         = `DELETE FROM sessions WHERE sess_timestamp <= ?`
)

// Options configures an Adapter.
type Options struct {
	// BindAddress restricts Read, Destroy and updates to the client address that created the row.
	BindAddress bool

	// Timeout bounds each Adapter operation, defaults to DefaultTimeout.
	Timeout time.Duration
}

// Adapter is a session.Adapter that stores one row per session in the sessions table.
type Adapter struct {
	db   *sql.DB
	opts Options
}

// New returns an Adapter using the SQLite database at dsn, pending migrations are applied.
// It errors if the database can not be opened or migrated.
func New(ctx context.Context, dsn string, opts Options) (*Adapter, error) {
	if 0 == opts.Timeout {
		opts.Timeout = DefaultTimeout
	}

	db, err := sql.Open("sqlite", dsn)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "failed opening sqlite database")
	}

	err = runMigrations(ctx, db)
	if nil != err {
		db.Close()
		return nil, utils.WrapError(err, 0, session.ErrBackend, "failed migrating sqlite database")
	}
	db.SetMaxOpenConns(1)

	return &Adapter{db: db, opts: opts}, nil
}

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if nil != err {
		return err
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if nil != err {
		return err
	}

	_, err = provider.Up(ctx)
	return err
}

// Read returns the data stored for id.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, self.opts.Timeout)
	defer cancel()

	var row *sql.Row
	if self.opts.BindAddress {
		row = self.db.QueryRowContext(ctx, readBoundSQL, id, session.StoredClientAddr(ctx))
	} else {
		row = self.db.QueryRowContext(ctx, readSQL, id)
	}

	var data []byte
	err := row.Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, utils.NewError(0, session.ErrNotFound, "no session row")
	case nil != err:
		self.logFault(ctx, "read", err)
		return nil, utils.NewError(0, session.ErrUnavailable, "failed reading session row")
	}

	return data, nil
}

// Write inserts or updates the row of id.
//
// With BindAddress, an existing row created from another client address is left unchanged
// and Write returns false.
func (self *Adapter) Write(ctx context.Context, id string, data []byte) bool {
	if "" == id {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, self.opts.Timeout)
	defer cancel()

	query := writeSQL
	if self.opts.BindAddress {
		query = writeBoundSQL
	}
	if nil == data {
		data = []byte{}
	}
	res, err := self.db.ExecContext(ctx, query, id, time.Now().Unix(), session.StoredClientAddr(ctx), data)
	if nil != err {
		self.logFault(ctx, "write", err)
		return false
	}
	count, err := res.RowsAffected()
	if nil != err || 0 == count {
		observability.Log(ctx).Warn("session row not written", "backend", backendName, "error", err)
		return false
	}

	return true
}

// Destroy deletes the row of id.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	ctx, cancel := context.WithTimeout(ctx, self.opts.Timeout)
	defer cancel()

	var err error
	if self.opts.BindAddress {
		_, err = self.db.ExecContext(ctx, destroyBoundSQL, id, session.StoredClientAddr(ctx))
	} else {
		_, err = self.db.ExecContext(ctx, destroySQL, id)
	}
	if nil != err {
		self.logFault(ctx, "destroy", err)
		return false
	}

	return true
}

// GC deletes rows not written for maxAge.
func (self *Adapter) GC(ctx context.Context, maxAge time.Duration) (int, bool) {
	ctx, cancel := context.WithTimeout(ctx, self.opts.Timeout)
	defer cancel()

	res, err := self.db.ExecContext(ctx, gcSQL, time.Now().Add(-maxAge).Unix())
	if nil != err {
		self.logFault(ctx, "gc", err)
		return 0, false
	}
	count, err := res.RowsAffected()
	if nil != err {
		self.logFault(ctx, "gc", err)
		return 0, false
	}

	return int(count), true
}

// Close closes the database.
func (self *Adapter) Close() error {
	err := self.db.Close()
	return utils.WrapError(err, 0, session.Error, "failed closing sqlite database") // nil if err is nil
}

func (self *Adapter) logFault(ctx context.Context, op string, err error) {
	observability.Log(ctx).Warn("session storage fault", "backend", backendName, "op", op, "error", err)
}

var _ session.Adapter = &Adapter{}
