package approval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/testutil"
)

type stubQuerier struct {
	execTag  pgconn.CommandTag
	execErr  error
	execSQLs []string
	execArgs [][]any

	rowSQLs []string
	rows    []pgx.Row

	list      pgx.Rows
	queryArgs [][]any
}

func (q *stubQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execSQLs = append(q.execSQLs, sql)
	q.execArgs = append(q.execArgs, args)
	return q.execTag, q.execErr
}

func (q *stubQuerier) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	q.queryArgs = append(q.queryArgs, args)
	return q.list, nil
}

// QueryRow hands out the queued rows in order.
func (q *stubQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.rowSQLs = append(q.rowSQLs, sql)
	row := q.rows[0]
	q.rows = q.rows[1:]
	return row
}

type stubRow struct {
	vals []any
	err  error
}

func (r *stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

type stubRows struct {
	data [][]any
	idx  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *stubRows) Scan(dest ...any) error { return assign(r.data[r.idx-1], dest) }
func (r *stubRows) Values() ([]any, error) { return nil, nil }
func (r *stubRows) RawValues() [][]byte    { return nil }
func (r *stubRows) Conn() *pgx.Conn        { return nil }

func assign(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = vals[i].(string)
		case *bool:
			*v = vals[i].(bool)
		case *int:
			*v = vals[i].(int)
		case *int64:
			*v = vals[i].(int64)
		case *[]byte:
			*v = vals[i].([]byte)
		case *time.Time:
			*v = vals[i].(time.Time)
		case **time.Time:
			switch t := vals[i].(type) {
			case nil:
				*v = nil
			case *time.Time:
				*v = t
			case time.Time:
				*v = &t
			}
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

// insertedRow captures the arguments Create passes to INSERT so they can be
// served back as a SELECT row; both use the same column order.
func insertedRow(t *testing.T, wf *Workflow) []any {
	t.Helper()
	q := &stubQuerier{}
	if err := NewPostgresStore(q).Create(context.Background(), wf); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.Contains(q.execSQLs[0], "INSERT INTO approval_workflows") {
		t.Fatalf("unexpected SQL: %s", q.execSQLs[0])
	}
	return q.execArgs[0]
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	wf := sampleWorkflow()
	row := insertedRow(t, wf)
	testutil.AssertEqual(t, len(row), 21)

	q := &stubQuerier{rows: []pgx.Row{&stubRow{vals: row}}}
	got, err := NewPostgresStore(q).Get(context.Background(), wf.ID)
	testutil.AssertNoError(t, err)
	if diff := cmp.Diff(wf, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresStore_GetWithoutOptionalFields(t *testing.T) {
	wf := sampleWorkflow()
	wf.BusinessContext = nil
	wf.Approvals = nil
	wf.ApprovedAt = nil
	wf.Status = StatusPending

	q := &stubQuerier{rows: []pgx.Row{&stubRow{vals: insertedRow(t, wf)}}}
	got, err := NewPostgresStore(q).Get(context.Background(), wf.ID)
	testutil.AssertNoError(t, err)
	if diff := cmp.Diff(wf, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresStore_CreateDuplicate(t *testing.T) {
	q := &stubQuerier{execErr: &pgconn.PgError{Code: "23505"}}
	err := NewPostgresStore(q).Create(context.Background(), sampleWorkflow())
	testutil.AssertErrorIs(t, err, ErrWorkflowExists)
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	q := &stubQuerier{rows: []pgx.Row{&stubRow{err: pgx.ErrNoRows}}}
	_, err := NewPostgresStore(q).Get(context.Background(), "missing")
	testutil.AssertErrorIs(t, err, ErrWorkflowNotFound)
}

func TestPostgresStore_Update(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		exists   bool
		wantErr  error
		wantRows int
	}{
		{name: "applied", tag: "UPDATE 1"},
		{name: "stale version", tag: "UPDATE 0", exists: true, wantErr: ErrStaleVersion, wantRows: 1},
		{name: "missing row", tag: "UPDATE 0", exists: false, wantErr: ErrWorkflowNotFound, wantRows: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &stubQuerier{
				execTag: pgconn.NewCommandTag(tt.tag),
				rows:    []pgx.Row{&stubRow{vals: []any{tt.exists}}},
			}
			err := NewPostgresStore(q).Update(context.Background(), sampleWorkflow(), 2)

			if !strings.Contains(q.execSQLs[0], "WHERE id = $1 AND version = $2") {
				t.Errorf("update is not version guarded: %s", q.execSQLs[0])
			}
			args := q.execArgs[0]
			testutil.AssertEqual(t, args[0].(string), "0123456789abcdef")
			testutil.AssertEqual(t, args[1].(int64), int64(2))
			testutil.AssertEqual(t, args[7].(int64), int64(3))
			testutil.AssertEqual(t, len(q.rowSQLs), tt.wantRows)

			if tt.wantErr == nil {
				testutil.AssertNoError(t, err)
				return
			}
			testutil.AssertErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPostgresStore_ListByStatus(t *testing.T) {
	first := sampleWorkflow()
	first.Status = StatusPending
	second := sampleWorkflow()
	second.ID = "fedcba9876543210"
	second.Status = StatusPending

	q := &stubQuerier{list: &stubRows{data: [][]any{insertedRow(t, first), insertedRow(t, second)}}}
	page, err := NewPostgresStore(q).ListByStatus(context.Background(), ListQuery{Status: StatusPending, Limit: 10})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(page.Workflows), 2)
	testutil.AssertEqual(t, page.Workflows[1].ID, "fedcba9876543210")
	testutil.AssertEqual(t, page.Next, "")

	want := []any{"PENDING", "", "", (*time.Time)(nil), "", 11}
	if diff := cmp.Diff(want, q.queryArgs[0]); diff != "" {
		t.Errorf("query args mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresStore_ListByStatus_Paged(t *testing.T) {
	first := sampleWorkflow()
	first.Status = StatusPending
	second := sampleWorkflow()
	second.ID = "0000000000000001"
	second.Status = StatusPending

	// Limit 1 fetches two rows; the second only signals another page.
	q := &stubQuerier{list: &stubRows{data: [][]any{insertedRow(t, first), insertedRow(t, second)}}}
	store := NewPostgresStore(q)
	page, err := store.ListByStatus(context.Background(), ListQuery{
		Status:  StatusPending,
		Scope:   catalog.ScopeOrganization,
		GroupID: "org-1",
		Limit:   1,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(page.Workflows), 1)
	testutil.AssertEqual(t, page.Workflows[0].ID, first.ID)
	if page.Next == "" {
		t.Fatal("expected a next cursor")
	}
	testutil.AssertEqual(t, q.queryArgs[0][1], any("ORGANIZATION"))
	testutil.AssertEqual(t, q.queryArgs[0][2], any("org-1"))

	q.list = &stubRows{}
	_, err = store.ListByStatus(context.Background(), ListQuery{Status: StatusPending, Limit: 1, Cursor: page.Next})
	testutil.AssertNoError(t, err)
	after := q.queryArgs[1]
	if got, ok := after[3].(*time.Time); !ok || got == nil || !got.Equal(first.CreatedAt) {
		t.Errorf("cursor time = %v, want %v", after[3], first.CreatedAt)
	}
	testutil.AssertEqual(t, after[4], any(first.ID))

	_, err = store.ListByStatus(context.Background(), ListQuery{Status: StatusPending, Cursor: "%%%"})
	testutil.AssertErrorIs(t, err, ErrInvalidCursor)
}

func TestPostgresStore_Migrate(t *testing.T) {
	q := &stubQuerier{}
	testutil.AssertNoError(t, NewPostgresStore(q).Migrate(context.Background()))
	testutil.AssertContains(t, q.execSQLs[0], "CREATE TABLE IF NOT EXISTS approval_workflows")
}
