package membership

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/byteness/saccoguard/catalog"
	guarderrors "github.com/byteness/saccoguard/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubQuerier struct {
	execTag  pgconn.CommandTag
	execErr  error
	execSQLs []string
	execArgs [][]any

	row  pgx.Row
	rows pgx.Rows
}

func (q *stubQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execSQLs = append(q.execSQLs, sql)
	q.execArgs = append(q.execArgs, args)
	return q.execTag, q.execErr
}

func (q *stubQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return q.rows, nil
}

func (q *stubQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return q.row
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
		case *time.Time:
			*v = vals[i].(time.Time)
		case **time.Time:
			if vals[i] == nil {
				*v = nil
			} else {
				t := vals[i].(time.Time)
				*v = &t
			}
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

var pgJoined = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func membershipRow(id, principal, group string) []any {
	return []any{id, principal, group, "organization", "ORG_ADMIN", "ORGANIZATION", true, pgJoined, nil}
}

func TestPostgresStore_Add(t *testing.T) {
	q := &stubQuerier{}
	store := NewPostgresStore(q)

	m := New("alice", "org-1", GroupOrganization, catalog.RoleOrgAdmin, pgJoined)
	if err := store.Add(context.Background(), m); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(q.execSQLs) != 1 || !strings.Contains(q.execSQLs[0], "INSERT INTO group_memberships") {
		t.Fatalf("exec SQL = %v", q.execSQLs)
	}
	if got := q.execArgs[0][1]; got != "alice" {
		t.Errorf("principal arg = %v, want alice", got)
	}
}

func TestPostgresStore_AddUniqueViolation(t *testing.T) {
	q := &stubQuerier{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "group_memberships_one_active"}}
	store := NewPostgresStore(q)

	err := store.Add(context.Background(), New("alice", "org-1", GroupOrganization, catalog.RoleOrgAdmin, pgJoined))
	if !errors.Is(err, ErrActiveMembershipExists) {
		t.Fatalf("Add() error = %v, want ErrActiveMembershipExists", err)
	}
}

func TestPostgresStore_AddOtherError(t *testing.T) {
	q := &stubQuerier{execErr: &pgconn.PgError{Code: "42P01"}}
	store := NewPostgresStore(q)

	err := store.Add(context.Background(), New("alice", "org-1", GroupOrganization, catalog.RoleOrgAdmin, pgJoined))
	if got := guarderrors.GetCode(err); got != guarderrors.ErrCodePostgresQuery {
		t.Fatalf("GetCode() = %q, want %q", got, guarderrors.ErrCodePostgresQuery)
	}
}

func TestPostgresStore_DeactivateNoRows(t *testing.T) {
	q := &stubQuerier{execTag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewPostgresStore(q)

	err := store.Deactivate(context.Background(), "alice", "org-1", pgJoined)
	if !errors.Is(err, ErrMembershipNotFound) {
		t.Fatalf("Deactivate() error = %v, want ErrMembershipNotFound", err)
	}

	q.execTag = pgconn.NewCommandTag("UPDATE 1")
	if err := store.Deactivate(context.Background(), "alice", "org-1", pgJoined); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
}

func TestPostgresStore_FindActive(t *testing.T) {
	q := &stubQuerier{row: &stubRow{vals: membershipRow("m1", "alice", "org-1")}}
	store := NewPostgresStore(q)

	m, err := store.FindActive(context.Background(), "alice", "org-1")
	if err != nil {
		t.Fatalf("FindActive() error = %v", err)
	}
	if m.Role != catalog.RoleOrgAdmin || m.GroupType != GroupOrganization || m.LeftAt != nil {
		t.Errorf("FindActive() = %+v", m)
	}

	q.row = &stubRow{err: pgx.ErrNoRows}
	if _, err := store.FindActive(context.Background(), "alice", "org-1"); !errors.Is(err, ErrMembershipNotFound) {
		t.Fatalf("FindActive() error = %v, want ErrMembershipNotFound", err)
	}
}

func TestPostgresStore_ListActiveByGroup(t *testing.T) {
	q := &stubQuerier{rows: &stubRows{data: [][]any{
		membershipRow("m1", "alice", "org-1"),
		membershipRow("m2", "bob", "org-1"),
	}}}
	store := NewPostgresStore(q)

	got, err := store.ListActiveByGroup(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("ListActiveByGroup() error = %v", err)
	}
	if len(got) != 2 || got[1].PrincipalID != "bob" {
		t.Errorf("ListActiveByGroup() = %v", got)
	}
}
