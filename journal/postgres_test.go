package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"juryflow/event"
)

func TestPostgresAppend_WritesEventsAndOutbox(t *testing.T) {
	db := &fakeDB{}
	p := NewPostgres(db)
	events := sampleEvents()[:3]

	if err := p.Append(context.Background(), events); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if db.tx == nil {
		t.Fatalf("expected Begin to provide transaction")
	}
	if !db.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if got, want := len(db.tx.execs), 2*len(events); got != want {
		t.Fatalf("expected %d statements, got %d", want, got)
	}

	batch := db.tx.execs[0].args[1]
	if _, ok := batch.(uuid.UUID); !ok {
		t.Fatalf("expected uuid batch id, got %T", batch)
	}
	for i, e := range events {
		ev, ob := db.tx.execs[2*i], db.tx.execs[2*i+1]
		if !strings.Contains(ev.sql, "court_events") {
			t.Errorf("statement %d: expected court_events insert, got %q", 2*i, ev.sql)
		}
		if !strings.Contains(ob.sql, "outbox") {
			t.Errorf("statement %d: expected outbox insert, got %q", 2*i+1, ob.sql)
		}
		if ev.args[1] != batch {
			t.Errorf("event %d: expected shared batch id", i)
		}
		if ev.args[2] != string(e.Kind()) || ob.args[1] != string(e.Kind()) {
			t.Errorf("event %d: expected kind %s in both rows", i, e.Kind())
		}
		if ev.args[3] != ob.args[2] {
			t.Errorf("event %d: expected identical payloads", i)
		}
	}
}

func TestPostgresAppend_RollsBackOnFailure(t *testing.T) {
	db := &fakeDB{execErr: errors.New("disk full"), failAt: 3}
	p := NewPostgres(db)

	err := p.Append(context.Background(), sampleEvents())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected exec failure, got %v", err)
	}
	if !db.tx.rolled {
		t.Errorf("expected rollback to be called")
	}
	if db.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
}

func TestPostgresAppend_EmptyBatch(t *testing.T) {
	db := &fakeDB{}
	if err := NewPostgres(db).Append(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if db.tx != nil {
		t.Errorf("expected no transaction for an empty batch")
	}
}

func TestPostgresLoad_DecodesInOrder(t *testing.T) {
	events := sampleEvents()
	rows := &fakeRows{}
	for _, e := range events {
		payload, err := event.Marshal(e)
		if err != nil {
			t.Fatal(err)
		}
		rows.data = append(rows.data, []string{string(e.Kind()), string(payload)})
	}
	db := &fakeDB{rows: rows}

	loaded, err := NewPostgres(db).Load(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(loaded) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(loaded))
	}
	for i := range events {
		if fmt.Sprint(loaded[i]) != fmt.Sprint(events[i]) {
			t.Errorf("event %d: got %+v, want %+v", i, loaded[i], events[i])
		}
	}
	if !rows.closed {
		t.Errorf("expected rows to be closed")
	}
	if !strings.Contains(db.query, "ORDER BY seq") {
		t.Errorf("expected ordered query, got %q", db.query)
	}
}

func TestPostgresLoad_UnknownKind(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{data: [][]string{{"bogus", "{}"}}}}
	if _, err := NewPostgres(db).Load(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	tx      *fakeTx
	rows    *fakeRows
	query   string
	execErr error
	failAt  int
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{execErr: f.execErr, failAt: f.failAt, rows: f.rows}
	return f.tx, nil
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.query = sql
	return f.rows, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
	execs     []execCall
	execErr   error
	failAt    int
	rows      *fakeRows
	queries   []execCall
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.execErr != nil && len(f.execs) == f.failAt {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, execCall{sql: sql, args: args})
	if f.rows == nil {
		return &fakeRows{}, nil
	}
	return f.rows, nil
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeRows struct {
	data   [][]string
	err    error
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { panic("not implemented") }
func (r *fakeRows) RawValues() [][]byte                          { panic("not implemented") }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i := range dest {
		*dest[i].(*string) = row[i]
	}
	return nil
}
