package pgdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	id        string
	timestamp int64
	address   string
	data      []byte
}

// fakeDB is a PGDB that interprets the Adapter queries against an in memory table.
type fakeDB struct {
	mut      sync.Mutex
	q        queries
	bound    bool
	rows     map[string]fakeRow
	executed []string
	fail     error
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string]fakeRow)}
}

// attach binds the fakeDB to the queries of adapter.
func (self *fakeDB) attach(adapter *Adapter) {
	self.q = adapter.q
	self.bound = adapter.opts.BindAddress
}

func (self *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.executed = append(self.executed, sql)
	if nil != self.fail {
		return pgconn.CommandTag{}, self.fail
	}

	switch sql {
	case self.q.write:
		row := fakeRow{
			id:        args[0].(string),
			timestamp: args[1].(int64),
			address:   args[2].(string),
			data:      args[3].([]byte),
		}
		cur, found := self.rows[row.id]
		if found && self.bound && cur.address != row.address {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		self.rows[row.id] = row
		return pgconn.NewCommandTag("INSERT 0 1"), nil

	case self.q.destroy:
		id := args[0].(string)
		cur, found := self.rows[id]
		if !found || (self.bound && cur.address != args[1].(string)) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(self.rows, id)
		return pgconn.NewCommandTag("DELETE 1"), nil

	default:
		return pgconn.CommandTag{}, fmt.Errorf("unexpected statement %q", sql)
	}
}

func (self *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected query %q", sql)
}

func (self *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	self.mut.Lock()
	defer self.mut.Unlock()

	self.executed = append(self.executed, sql)
	if nil != self.fail {
		return scanRow{err: self.fail}
	}

	switch sql {
	case self.q.read:
		row, found := self.rows[args[0].(string)]
		if !found || (self.bound && row.address != args[1].(string)) {
			return scanRow{err: pgx.ErrNoRows}
		}
		return scanRow{vals: []any{append([]byte(nil), row.data...)}}

	case self.q.gc:
		limit := args[0].(int64)
		var count int
		for id, row := range self.rows {
			if row.timestamp <= limit {
				delete(self.rows, id)
				count += 1
			}
		}
		return scanRow{vals: []any{count}}

	default:
		return scanRow{err: fmt.Errorf("unexpected query %q", sql)}
	}
}

func (self *fakeDB) row(id string) (fakeRow, bool) {
	self.mut.Lock()
	defer self.mut.Unlock()

	row, found := self.rows[id]
	return row, found
}

var _ PGDB = &fakeDB{}

type scanRow struct {
	vals []any
	err  error
}

func (self scanRow) Scan(dest ...any) error {
	if nil != self.err {
		return self.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *[]byte:
			*p = self.vals[i].([]byte)
		case *int:
			*p = self.vals[i].(int)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}
