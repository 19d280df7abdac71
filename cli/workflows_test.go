package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/byteness/saccoguard/approval"
	"github.com/byteness/saccoguard/guard"
	"github.com/byteness/saccoguard/testutil"
)

// pendingWithdrawal authorizes a withdrawal above the default threshold and
// returns the resulting workflow id.
func pendingWithdrawal(t *testing.T, env *testEnv) string {
	t.Helper()
	out, err := AuthorizeCommand(context.Background(), AuthorizeCommandInput{
		Operation:      "organizations.withdraw",
		Scope:          "ORGANIZATION",
		OrganizationID: "org-1",
		Amount:         60000,
		Currency:       "KES",
		Output:         OutputJSON,
		Runtime:        env.rt,
		Principal:      env.principal(t, "alice"),
		Stdout:         &bytes.Buffer{},
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, out.Status, guard.StatusPendingApproval)
	return out.WorkflowID
}

func decodeWorkflow(t *testing.T, b []byte) approval.Workflow {
	t.Helper()
	var wf approval.Workflow
	if err := json.Unmarshal(b, &wf); err != nil {
		t.Fatalf("output is not a workflow: %v\n%s", err, b)
	}
	return wf
}

func TestVoteCommand_TwoApprovalsRelease(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	id := pendingWithdrawal(t, env)
	ctx := context.Background()

	var stdout bytes.Buffer
	err := VoteCommand(ctx, WorkflowCommandInput{
		WorkflowID: id,
		Decision:   "approve",
		Version:    1,
		Output:     OutputJSON,
		Runtime:    env.rt,
		Principal:  env.principal(t, "bob"),
		Stdout:     &stdout,
	})
	testutil.AssertNoError(t, err)
	wf := decodeWorkflow(t, stdout.Bytes())
	testutil.AssertEqual(t, wf.Status, approval.StatusPending)
	testutil.AssertEqual(t, wf.Version, int64(2))

	stdout.Reset()
	err = VoteCommand(ctx, WorkflowCommandInput{
		WorkflowID: id,
		Decision:   "APPROVE",
		Version:    2,
		Output:     OutputHuman,
		Runtime:    env.rt,
		Principal:  env.principal(t, "carol"),
		Stdout:     &stdout,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, stdout.String(), "status:     APPROVED")
	testutil.AssertContains(t, stdout.String(), "approvals:  2/2")
	testutil.AssertContains(t, stdout.String(), "carol APPROVE")
}

func TestVoteCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		voter   string
		version int64
		wantErr error
	}{
		{name: "initiator cannot vote", voter: "alice", version: 1, wantErr: approval.ErrSelfApprovalNotAllowed},
		{name: "stale version", voter: "bob", version: 7, wantErr: approval.ErrStaleVersion},
		{name: "member without vote permission", voter: "erin", version: 1, wantErr: guard.ErrPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, RuntimeOptions{})
			id := pendingWithdrawal(t, env)

			err := VoteCommand(context.Background(), WorkflowCommandInput{
				WorkflowID: id,
				Decision:   "approve",
				Version:    tt.version,
				Output:     OutputJSON,
				Runtime:    env.rt,
				Principal:  env.principal(t, tt.voter),
				Stdout:     &bytes.Buffer{},
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VoteCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCancelCommand(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	id := pendingWithdrawal(t, env)
	ctx := context.Background()

	err := CancelCommand(ctx, WorkflowCommandInput{
		WorkflowID: id,
		Version:    1,
		Runtime:    env.rt,
		Principal:  env.principal(t, "bob"),
		Stdout:     &bytes.Buffer{},
	})
	testutil.AssertErrorIs(t, err, approval.ErrNotInitiator)

	var stdout bytes.Buffer
	err = CancelCommand(ctx, WorkflowCommandInput{
		WorkflowID: id,
		Version:    1,
		Output:     OutputJSON,
		Runtime:    env.rt,
		Principal:  env.principal(t, "alice"),
		Stdout:     &stdout,
	})
	testutil.AssertNoError(t, err)
	wf := decodeWorkflow(t, stdout.Bytes())
	testutil.AssertEqual(t, wf.Status, approval.StatusRejected)
	testutil.AssertEqual(t, wf.RejectionReason, approval.ReasonCancelled)
}

func TestWorkflowsListCommand(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	ctx := context.Background()
	erin := env.principal(t, "erin")

	var stdout bytes.Buffer
	err := WorkflowsListCommand(ctx, WorkflowsListCommandInput{Output: OutputHuman, Runtime: env.rt, Principal: erin, Stdout: &stdout})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, stdout.String(), "No pending workflows.")

	id := pendingWithdrawal(t, env)

	stdout.Reset()
	err = WorkflowsListCommand(ctx, WorkflowsListCommandInput{
		Scope:     "organization",
		GroupID:   "org-1",
		Output:    OutputJSON,
		Runtime:   env.rt,
		Principal: erin,
		Stdout:    &stdout,
	})
	testutil.AssertNoError(t, err)
	var wfs []approval.Workflow
	if err := json.Unmarshal(stdout.Bytes(), &wfs); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(wfs) != 1 || wfs[0].ID != id {
		t.Fatalf("listed %d workflows, want only %s", len(wfs), id)
	}

	stdout.Reset()
	err = WorkflowsListCommand(ctx, WorkflowsListCommandInput{GroupID: "org-2", Output: OutputHuman, Runtime: env.rt, Principal: erin, Stdout: &stdout})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, stdout.String(), "No pending workflows.")

	err = WorkflowsListCommand(ctx, WorkflowsListCommandInput{Scope: "galaxy", Runtime: env.rt, Principal: erin, Stdout: &stdout})
	if err == nil {
		t.Error("expected error for invalid scope")
	}
}

func TestWorkflowsListCommand_HidesUnreadableWorkflows(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	ctx := context.Background()
	pendingWithdrawal(t, env)

	var stdout bytes.Buffer
	err := WorkflowsListCommand(ctx, WorkflowsListCommandInput{
		Output:    OutputHuman,
		Runtime:   env.rt,
		Principal: env.principal(t, "mallory"),
		Stdout:    &stdout,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, stdout.String(), "No pending workflows.")

	err = WorkflowsListCommand(ctx, WorkflowsListCommandInput{Runtime: env.rt, Stdout: &stdout})
	if err == nil {
		t.Error("expected error without a principal")
	}
}

func TestWorkflowShowCommand(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	id := pendingWithdrawal(t, env)

	var stdout bytes.Buffer
	err := WorkflowShowCommand(context.Background(), WorkflowCommandInput{
		WorkflowID: id,
		Output:     OutputHuman,
		Runtime:    env.rt,
		Principal:  env.principal(t, "erin"),
		Stdout:     &stdout,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, stdout.String(), "Workflow "+id)
	testutil.AssertContains(t, stdout.String(), "amount:     60000.00 KES")
	testutil.AssertContains(t, stdout.String(), "approvals:  0/2")

	err = WorkflowShowCommand(context.Background(), WorkflowCommandInput{
		WorkflowID: "missing",
		Runtime:    env.rt,
		Principal:  env.principal(t, "alice"),
		Stdout:     &stdout,
	})
	testutil.AssertErrorIs(t, err, approval.ErrWorkflowNotFound)
}

func TestSweepCommand_Once(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	pendingWithdrawal(t, env)
	ctx := context.Background()

	var stdout bytes.Buffer
	testutil.AssertNoError(t, SweepCommand(ctx, SweepCommandInput{Runtime: env.rt, Stdout: &stdout}))
	testutil.AssertContains(t, stdout.String(), "Expired 0 workflow(s)")

	env.clock.Advance(25 * time.Hour)
	stdout.Reset()
	testutil.AssertNoError(t, SweepCommand(ctx, SweepCommandInput{Runtime: env.rt, Stdout: &stdout}))
	testutil.AssertContains(t, stdout.String(), "Expired 1 workflow(s)")
}

func TestSweepCommand_InvalidSchedule(t *testing.T) {
	env := newTestEnv(t, RuntimeOptions{})
	err := SweepCommand(context.Background(), SweepCommandInput{Schedule: "not a schedule", Runtime: env.rt, Stdout: &bytes.Buffer{}})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
}
