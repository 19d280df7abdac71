package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/byteness/saccoguard/catalog"
	guarderrors "github.com/byteness/saccoguard/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the group_memberships table. The partial unique index
// enforces one active membership per (principal, group).
const Schema = `
CREATE TABLE IF NOT EXISTS group_memberships (
  id           text PRIMARY KEY,
  principal_id text NOT NULL,
  group_id     text NOT NULL,
  group_type   text NOT NULL CHECK (group_type IN ('organization', 'chama')),
  role         text NOT NULL,
  scope        text NOT NULL,
  is_active    boolean NOT NULL DEFAULT true,
  joined_at    timestamptz NOT NULL,
  left_at      timestamptz
);
CREATE UNIQUE INDEX IF NOT EXISTS group_memberships_one_active
  ON group_memberships (principal_id, group_id) WHERE is_active;
CREATE INDEX IF NOT EXISTS group_memberships_group_active
  ON group_memberships (group_id) WHERE is_active;
`

const membershipTable = "group_memberships"

const selectColumns = `id, principal_id, group_id, group_type, role, scope, is_active, joined_at, left_at`

// pgQuerier is the subset of pgx.Conn / pgxpool.Pool used by PostgresStore.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	q pgQuerier
}

// NewPostgresStore creates a PostgresStore over a pgx pool or connection.
func NewPostgresStore(q pgQuerier) *PostgresStore {
	return &PostgresStore{q: q}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, Schema); err != nil {
		return guarderrors.WrapPostgresError(err, membershipTable, "migrate")
	}
	return nil
}

// Add implements Store.
func (s *PostgresStore) Add(ctx context.Context, m *Membership) error {
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := s.q.Exec(ctx, `
INSERT INTO group_memberships (id, principal_id, group_id, group_type, role, scope, is_active, joined_at, left_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.PrincipalID, m.GroupID, string(m.GroupType), string(m.Role), string(m.Scope), m.IsActive, m.JoinedAt, m.LeftAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s in %s: %w", m.PrincipalID, m.GroupID, ErrActiveMembershipExists)
		}
		return guarderrors.WrapPostgresError(err, membershipTable, "insert")
	}
	return nil
}

// Deactivate implements Store.
func (s *PostgresStore) Deactivate(ctx context.Context, principalID, groupID string, at time.Time) error {
	tag, err := s.q.Exec(ctx, `
UPDATE group_memberships SET is_active = false, left_at = $3
WHERE principal_id = $1 AND group_id = $2 AND is_active`,
		principalID, groupID, at)
	if err != nil {
		return guarderrors.WrapPostgresError(err, membershipTable, "deactivate")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s in %s: %w", principalID, groupID, ErrMembershipNotFound)
	}
	return nil
}

// FindActive implements Store.
func (s *PostgresStore) FindActive(ctx context.Context, principalID, groupID string) (*Membership, error) {
	row := s.q.QueryRow(ctx, `SELECT `+selectColumns+`
FROM group_memberships
WHERE principal_id = $1 AND group_id = $2 AND is_active`, principalID, groupID)

	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s in %s: %w", principalID, groupID, ErrMembershipNotFound)
		}
		return nil, guarderrors.WrapPostgresError(err, membershipTable, "find_active")
	}
	return m, nil
}

// ListActiveByPrincipal implements Store.
func (s *PostgresStore) ListActiveByPrincipal(ctx context.Context, principalID string) ([]*Membership, error) {
	return s.list(ctx, "list_by_principal", `SELECT `+selectColumns+`
FROM group_memberships
WHERE principal_id = $1 AND is_active
ORDER BY joined_at, id`, principalID)
}

// ListActiveByGroup implements Store.
func (s *PostgresStore) ListActiveByGroup(ctx context.Context, groupID string) ([]*Membership, error) {
	return s.list(ctx, "list_by_group", `SELECT `+selectColumns+`
FROM group_memberships
WHERE group_id = $1 AND is_active
ORDER BY joined_at, id`, groupID)
}

func (s *PostgresStore) list(ctx context.Context, op, sql string, arg string) ([]*Membership, error) {
	rows, err := s.q.Query(ctx, sql, arg)
	if err != nil {
		return nil, guarderrors.WrapPostgresError(err, membershipTable, op)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, guarderrors.WrapPostgresError(err, membershipTable, op)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, guarderrors.WrapPostgresError(err, membershipTable, op)
	}
	return out, nil
}

func scanMembership(row pgx.Row) (*Membership, error) {
	var (
		m                      Membership
		groupType, role, scope string
		leftAt                 *time.Time
	)
	if err := row.Scan(&m.ID, &m.PrincipalID, &m.GroupID, &groupType, &role, &scope, &m.IsActive, &m.JoinedAt, &leftAt); err != nil {
		return nil, err
	}
	m.GroupType = GroupType(groupType)
	m.Role = catalog.GroupRole(role)
	m.Scope = catalog.Scope(scope)
	m.LeftAt = leftAt
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
