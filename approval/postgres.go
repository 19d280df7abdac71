package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/byteness/saccoguard/catalog"
	guarderrors "github.com/byteness/saccoguard/errors"
	"github.com/byteness/saccoguard/operation"
)

// Schema creates the approval_workflows table.
const Schema = `
CREATE TABLE IF NOT EXISTS approval_workflows (
  id                 text PRIMARY KEY,
  service            text NOT NULL,
  operation          text NOT NULL,
  category           text NOT NULL DEFAULT '',
  initiator_id       text NOT NULL,
  initiator_role     text NOT NULL,
  scope              text NOT NULL,
  organization_id    text NOT NULL DEFAULT '',
  chama_id           text NOT NULL DEFAULT '',
  correlation_id     text NOT NULL DEFAULT '',
  business_context   jsonb,
  required_approvers integer NOT NULL CHECK (required_approvers > 0),
  approvals          jsonb NOT NULL DEFAULT '[]',
  policy             jsonb NOT NULL,
  status             text NOT NULL,
  rejection_reason   text NOT NULL DEFAULT '',
  created_at         timestamptz NOT NULL,
  updated_at         timestamptz NOT NULL,
  expires_at         timestamptz NOT NULL,
  approved_at        timestamptz,
  version            bigint NOT NULL
);
CREATE INDEX IF NOT EXISTS approval_workflows_status_created
  ON approval_workflows (status, created_at DESC, id DESC);
`

const workflowTable = "approval_workflows"

const workflowColumns = `id, service, operation, category, initiator_id, initiator_role, scope,
  organization_id, chama_id, correlation_id, business_context, required_approvers, approvals,
  policy, status, rejection_reason, created_at, updated_at, expires_at, approved_at, version`

// pgQuerier is the subset of pgx.Conn / pgxpool.Pool used by PostgresStore.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL. Update is a single
// UPDATE guarded by the expected version.
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
		return guarderrors.WrapPostgresError(err, workflowTable, "migrate")
	}
	return nil
}

type encodedWorkflow struct {
	businessContext []byte
	approvals       []byte
	policy          []byte
}

func encode(wf *Workflow) (*encodedWorkflow, error) {
	var (
		enc encodedWorkflow
		err error
	)
	if wf.BusinessContext != nil {
		if enc.businessContext, err = json.Marshal(wf.BusinessContext); err != nil {
			return nil, fmt.Errorf("marshal business context: %w", err)
		}
	}
	approvals := wf.Approvals
	if approvals == nil {
		approvals = []Vote{}
	}
	if enc.approvals, err = json.Marshal(approvals); err != nil {
		return nil, fmt.Errorf("marshal approvals: %w", err)
	}
	if enc.policy, err = json.Marshal(wf.Policy); err != nil {
		return nil, fmt.Errorf("marshal policy: %w", err)
	}
	return &enc, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, wf *Workflow) error {
	enc, err := encode(wf)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
INSERT INTO approval_workflows (`+workflowColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		wf.ID, wf.Service, wf.OperationName, wf.Category, wf.InitiatorID, string(wf.InitiatorRole), string(wf.Scope),
		wf.OrganizationID, wf.ChamaID, wf.CorrelationID, enc.businessContext, wf.RequiredApprovers, enc.approvals,
		enc.policy, string(wf.Status), string(wf.RejectionReason), wf.CreatedAt, wf.UpdatedAt, wf.ExpiresAt, wf.ApprovedAt, wf.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowExists)
		}
		return guarderrors.WrapPostgresError(err, workflowTable, "insert")
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Workflow, error) {
	row := s.q.QueryRow(ctx, `SELECT `+workflowColumns+` FROM approval_workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrWorkflowNotFound)
		}
		return nil, guarderrors.WrapPostgresError(err, workflowTable, "get")
	}
	return wf, nil
}

// Update implements Store. Only the mutable columns are written.
func (s *PostgresStore) Update(ctx context.Context, wf *Workflow, expectedVersion int64) error {
	enc, err := encode(wf)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `
UPDATE approval_workflows
SET approvals = $3, status = $4, rejection_reason = $5, updated_at = $6, approved_at = $7, version = $8
WHERE id = $1 AND version = $2`,
		wf.ID, expectedVersion, enc.approvals, string(wf.Status), string(wf.RejectionReason), wf.UpdatedAt, wf.ApprovedAt, wf.Version)
	if err != nil {
		return guarderrors.WrapPostgresError(err, workflowTable, "update")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approval_workflows WHERE id = $1)`, wf.ID).Scan(&exists); err != nil {
		return guarderrors.WrapPostgresError(err, workflowTable, "exists")
	}
	if !exists {
		return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowNotFound)
	}
	return fmt.Errorf("%s: expected version %d: %w", wf.ID, expectedVersion, ErrStaleVersion)
}

// ListByStatus implements Store. Pages are keyset-paginated on
// (created_at, id); one extra row is fetched to detect a further page.
func (s *PostgresStore) ListByStatus(ctx context.Context, q ListQuery) (*Page, error) {
	var (
		afterTime *time.Time
		afterID   string
	)
	if q.Cursor != "" {
		k, err := decodeKeyset(q.Cursor)
		if err != nil {
			return nil, err
		}
		afterTime, afterID = &k.createdAt, k.id
	}
	n := effectiveLimit(q.Limit)

	rows, err := s.q.Query(ctx, `SELECT `+workflowColumns+`
FROM approval_workflows
WHERE status = $1
  AND ($2::text = '' OR scope = $2::text)
  AND ($3::text = '' OR organization_id = $3::text OR chama_id = $3::text)
  AND ($4::timestamptz IS NULL OR (created_at, id) < ($4::timestamptz, $5::text))
ORDER BY created_at DESC, id DESC
LIMIT $6`, string(q.Status), string(q.Scope), q.GroupID, afterTime, afterID, n+1)
	if err != nil {
		return nil, guarderrors.WrapPostgresError(err, workflowTable, "list_by_status")
	}
	defer rows.Close()

	out := make([]*Workflow, 0)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, guarderrors.WrapPostgresError(err, workflowTable, "list_by_status")
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, guarderrors.WrapPostgresError(err, workflowTable, "list_by_status")
	}
	return pageOf(out, n), nil
}

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	var (
		wf                                            Workflow
		initiatorRole, scope, status, rejectionReason string
		businessContext, approvals, policy            []byte
		approvedAt                                    *time.Time
	)
	if err := row.Scan(&wf.ID, &wf.Service, &wf.OperationName, &wf.Category, &wf.InitiatorID, &initiatorRole, &scope,
		&wf.OrganizationID, &wf.ChamaID, &wf.CorrelationID, &businessContext, &wf.RequiredApprovers, &approvals,
		&policy, &status, &rejectionReason, &wf.CreatedAt, &wf.UpdatedAt, &wf.ExpiresAt, &approvedAt, &wf.Version); err != nil {
		return nil, err
	}

	wf.InitiatorRole = catalog.ServiceRole(initiatorRole)
	wf.Scope = catalog.Scope(scope)
	wf.Status = Status(status)
	wf.RejectionReason = RejectionReason(rejectionReason)
	wf.ApprovedAt = approvedAt

	if len(businessContext) > 0 {
		var bc operation.BusinessContext
		if err := json.Unmarshal(businessContext, &bc); err != nil {
			return nil, fmt.Errorf("unmarshal business context: %w", err)
		}
		wf.BusinessContext = &bc
	}
	if err := json.Unmarshal(approvals, &wf.Approvals); err != nil {
		return nil, fmt.Errorf("unmarshal approvals: %w", err)
	}
	if len(wf.Approvals) == 0 {
		wf.Approvals = nil
	}
	if err := json.Unmarshal(policy, &wf.Policy); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}
	return &wf, nil
}
