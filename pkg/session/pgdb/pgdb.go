// Package pgdb provides a session.Adapter that keeps session rows in a postgres table.
package pgdb

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/internal/utils"
	"code.kerpass.org/sessions/pkg/session"
)

const (
	DefaultTable   = "sessions"
	DefaultTimeout = 5 * time.Second
	DefaultAddress = session.DefaultClientAddr
	backendName    = "relational"
)

// PGDB is implemented by pgx.Tx, pgx.Conn & pgxpool.Pool
// accessing a postgres database through this common interface simplifies testing
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Columns names the columns of the session table.
type Columns struct {
	ID        string `yaml:"id"`
	Timestamp string `yaml:"timestamp"`
	Address   string `yaml:"address"`
	Data      string `yaml:"data"`
}

// DefaultColumns returns the default session table columns.
func DefaultColumns() Columns {
	return Columns{
		ID:        "id",
		Timestamp: "sess_timestamp",
		Address:   "sess_ip_address",
		Data:      "sess_data",
	}
}

// Options configures an Adapter.
type Options struct {
	// Table is the session table name, it may be schema qualified. Defaults to DefaultTable.
	Table string

	// Columns names the table columns, empty names are set to DefaultColumns.
	Columns Columns

	// BindAddress restricts Read, Destroy and updates to the client address that created the row.
	// The client address is obtained with session.ClientAddr. Address binding does not
	// authenticate clients, it is only as reliable as the address reported by the host.
	BindAddress bool

	// Timeout bounds each Adapter operation, defaults to DefaultTimeout.
	Timeout time.Duration
}

func (self *Options) setDefaults() {
	if "" == self.Table {
		self.Table = DefaultTable
	}
	cols := DefaultColumns()
	if "" == self.Columns.ID {
		self.Columns.ID = cols.ID
	}
	if "" == self.Columns.Timestamp {
		self.Columns.Timestamp = cols.Timestamp
	}
	if "" == self.Columns.Address {
		self.Columns.Address = cols.Address
	}
	if "" == self.Columns.Data {
		self.Columns.Data = cols.Data
	}
	if 0 == self.Timeout {
		self.Timeout = DefaultTimeout
	}
}

// sanitized returns quoted table & column identifiers.
func (self Options) sanitized() (table string, cols Columns) {
	table = pgx.Identifier(strings.Split(self.Table, ".")).Sanitize()
	cols = Columns{
		ID:        pgx.Identifier{self.Columns.ID}.Sanitize(),
		Timestamp: pgx.Identifier{self.Columns.Timestamp}.Sanitize(),
		Address:   pgx.Identifier{self.Columns.Address}.Sanitize(),
		Data:      pgx.Identifier{self.Columns.Data}.Sanitize(),
	}
	return table, cols
}

type queries struct {
	read    string
	write   string
	destroy string
	gc      string
}

func newQueries(opts Options) queries {
	table, c := opts.sanitized()

	var q queries
	q.read = fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, c.Data, table, c.ID)
	q.destroy = fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, table, c.ID)
	q.write = fmt.Sprintf(
		`INSERT INTO %[1]s AS t (%[2]s, %[3]s, %[4]s, %[5]s) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (%[2]s) DO UPDATE SET
		 %[3]s = EXCLUDED.%[3]s,
		 %[4]s = EXCLUDED.%[4]s,
		 %[5]s = EXCLUDED.%[5]s`,
		table, c.ID, c.Timestamp, c.Address, c.Data,
	)
	if opts.BindAddress {
		q.read += fmt.Sprintf(` AND %s = $2`, c.Address)
		q.destroy += fmt.Sprintf(` AND %s = $2`, c.Address)
		q.write += fmt.Sprintf(` WHERE t.%[1]s = EXCLUDED.%[1]s`, c.Address)
	}
	q.gc = fmt.Sprintf(
		`WITH deleted AS (DELETE FROM %s WHERE %s <= $1 RETURNING %s) SELECT count(*) FROM deleted`,
		table, c.Timestamp, c.ID,
	)

	return q
}

//go:embed schema.sql
var schemaScriptTpl string

// Migrate creates the session table described by opts if it does not exist.
func Migrate(ctx context.Context, db PGDB, opts Options) error {
	opts.setDefaults()
	table, c := opts.sanitized()
	parts := strings.Split(opts.Table, ".")
	index := pgx.Identifier{fmt.Sprintf("%s_%s_idx", parts[len(parts)-1], opts.Columns.Timestamp)}.Sanitize()

	script := strings.NewReplacer(
		"${table}", table,
		"${id_col}", c.ID,
		"${timestamp_col}", c.Timestamp,
		"${address_col}", c.Address,
		"${data_col}", c.Data,
		"${timestamp_idx}", index,
	).Replace(schemaScriptTpl)

	_, err := db.Exec(ctx, script)
	return utils.WrapError(err, 0, session.ErrBackend, "failed session table creation") // nil if err is nil
}

// Adapter is a session.Adapter that stores one row per session in a postgres table.
type Adapter struct {
	db   PGDB
	pool *pgxpool.Pool
	opts Options
	q    queries
}

// New returns an Adapter connected to the database at dsn.
// It errors if the database can not be reached.
func New(ctx context.Context, dsn string, opts Options) (*Adapter, error) {
	opts.setDefaults()
	pool, err := pgxpool.New(ctx, dsn)
	if nil != err {
		return nil, utils.WrapError(err, 0, session.ErrBackend, "failed connection pool creation")
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	err = pool.Ping(pingCtx)
	if nil != err {
		pool.Close()
		return nil, utils.WrapError(err, 0, session.ErrBackend, "database unreachable")
	}

	return &Adapter{db: pool, pool: pool, opts: opts, q: newQueries(opts)}, nil
}

// NewWithDB returns an Adapter that uses db, db is not closed by the Adapter.
func NewWithDB(db PGDB, opts Options) (*Adapter, error) {
	if nil == db {
		return nil, utils.NewError(0, session.ErrInvalidArgument, "nil PGDB")
	}
	opts.setDefaults()

	return &Adapter{db: db, opts: opts, q: newQueries(opts)}, nil
}

// DB returns the database used by the Adapter.
func (self *Adapter) DB() PGDB {
	return self.db
}

func (self *Adapter) args(ctx context.Context, id string) []any {
	if self.opts.BindAddress {
		return []any{id, session.StoredClientAddr(ctx)}
	}
	return []any{id}
}

// Read returns the data stored for id.
func (self *Adapter) Read(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, self.opts.Timeout)
	defer cancel()

	var data []byte
	err := self.db.QueryRow(ctx, self.q.read, self.args(ctx, id)...).Scan(&data)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
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

	if nil == data {
		data = []byte{}
	}
	tag, err := self.db.Exec(ctx, self.q.write, id, time.Now().Unix(), session.StoredClientAddr(ctx), data)
	if nil != err {
		self.logFault(ctx, "write", err)
		return false
	}
	if 0 == tag.RowsAffected() {
		observability.Log(ctx).Warn("session row bound to another address", "backend", backendName)
		return false
	}

	return true
}

// Destroy deletes the row of id.
func (self *Adapter) Destroy(ctx context.Context, id string) bool {
	ctx, cancel := context.WithTimeout(ctx, self.opts.Timeout)
	defer cancel()

	_, err := self.db.Exec(ctx, self.q.destroy, self.args(ctx, id)...)
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

	var count int
	limit := time.Now().Add(-maxAge).Unix()
	err := self.db.QueryRow(ctx, self.q.gc, limit).Scan(&count)
	if nil != err {
		self.logFault(ctx, "gc", err)
		return 0, false
	}

	return count, true
}

// Close closes the connection pool if it was created by New.
func (self *Adapter) Close() error {
	if nil != self.pool {
		self.pool.Close()
	}
	return nil
}

func (self *Adapter) logFault(ctx context.Context, op string, err error) {
	observability.Log(ctx).Warn("session storage fault", "backend", backendName, "op", op, "error", err)
}

var _ session.Adapter = &Adapter{}
