package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/saccoguard/approval"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/identity"
)

// WorkflowsListCommandInput contains the input for workflows list.
type WorkflowsListCommandInput struct {
	Scope   string
	GroupID string
	Output  string

	Runtime   *Runtime
	Principal *identity.Principal
	Stdout    io.Writer
}

// WorkflowCommandInput contains the input for commands acting on one workflow.
type WorkflowCommandInput struct {
	WorkflowID string
	Decision   string
	Version    int64
	Output     string

	Runtime   *Runtime
	Principal *identity.Principal
	Stdout    io.Writer
}

// SweepCommandInput contains the input for the sweep command.
type SweepCommandInput struct {
	Schedule string

	Runtime *Runtime
	Stdout  io.Writer
}

// ConfigureWorkflowCommands sets up the workflows, vote, cancel and sweep commands.
func ConfigureWorkflowCommands(app *kingpin.Application, s *Saccoguard) {
	workflowsCmd := app.Command("workflows", "Inspect approval workflows")

	listInput := WorkflowsListCommandInput{}
	listCmd := workflowsCmd.Command("list", "List pending workflows")
	listCmd.Flag("scope", "Only workflows in this scope").
		StringVar(&listInput.Scope)
	listCmd.Flag("group", "Only workflows for this organization or chama").
		StringVar(&listInput.GroupID)
	listCmd.Flag("output", "Output format: human or json").
		EnumVar(&listInput.Output, OutputHuman, OutputJSON)
	listCmd.Action(func(c *kingpin.ParseContext) error {
		return withPrincipal(s, func(ctx context.Context, rt *Runtime, p *identity.Principal) error {
			listInput.Runtime, listInput.Principal = rt, p
			return WorkflowsListCommand(ctx, listInput)
		})
	})

	showInput := WorkflowCommandInput{}
	showCmd := workflowsCmd.Command("show", "Show one workflow")
	showCmd.Arg("workflow-id", "Workflow id").
		Required().
		StringVar(&showInput.WorkflowID)
	showCmd.Flag("output", "Output format: human or json").
		EnumVar(&showInput.Output, OutputHuman, OutputJSON)
	showCmd.Action(func(c *kingpin.ParseContext) error {
		return withPrincipal(s, func(ctx context.Context, rt *Runtime, p *identity.Principal) error {
			showInput.Runtime, showInput.Principal = rt, p
			return WorkflowShowCommand(ctx, showInput)
		})
	})

	voteInput := WorkflowCommandInput{}
	voteCmd := app.Command("vote", "Approve or reject a pending workflow")
	voteCmd.Arg("workflow-id", "Workflow id").
		Required().
		StringVar(&voteInput.WorkflowID)
	voteCmd.Arg("decision", "approve or reject").
		Required().
		EnumVar(&voteInput.Decision, "approve", "reject", "APPROVE", "REJECT")
	voteCmd.Flag("version", "Workflow version the vote is based on").
		Required().
		Int64Var(&voteInput.Version)
	voteCmd.Flag("output", "Output format: human or json").
		EnumVar(&voteInput.Output, OutputHuman, OutputJSON)
	voteCmd.Action(func(c *kingpin.ParseContext) error {
		return withPrincipal(s, func(ctx context.Context, rt *Runtime, p *identity.Principal) error {
			voteInput.Runtime, voteInput.Principal = rt, p
			return VoteCommand(ctx, voteInput)
		})
	})

	cancelInput := WorkflowCommandInput{}
	cancelCmd := app.Command("cancel", "Withdraw a pending workflow you initiated")
	cancelCmd.Arg("workflow-id", "Workflow id").
		Required().
		StringVar(&cancelInput.WorkflowID)
	cancelCmd.Flag("version", "Workflow version the cancellation is based on").
		Required().
		Int64Var(&cancelInput.Version)
	cancelCmd.Flag("output", "Output format: human or json").
		EnumVar(&cancelInput.Output, OutputHuman, OutputJSON)
	cancelCmd.Action(func(c *kingpin.ParseContext) error {
		return withPrincipal(s, func(ctx context.Context, rt *Runtime, p *identity.Principal) error {
			cancelInput.Runtime, cancelInput.Principal = rt, p
			return CancelCommand(ctx, cancelInput)
		})
	})

	sweepInput := SweepCommandInput{}
	sweepCmd := app.Command("sweep", "Expire pending workflows past their deadline")
	sweepCmd.Flag("schedule", "Cron schedule to keep sweeping on, e.g. \"@every 5m\" (runs once if unset)").
		StringVar(&sweepInput.Schedule)
	sweepCmd.Action(func(c *kingpin.ParseContext) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		exitIfError(func() error {
			rt, err := s.Runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			sweepInput.Runtime = rt
			return SweepCommand(ctx, sweepInput)
		}())
		return nil
	})
}

func withRuntime(s *Saccoguard, f func(context.Context, *Runtime) error) error {
	exitIfError(func() error {
		ctx := context.Background()
		rt, err := s.Runtime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		return f(ctx, rt)
	}())
	return nil
}

func withPrincipal(s *Saccoguard, f func(context.Context, *Runtime, *identity.Principal) error) error {
	return withRuntime(s, func(ctx context.Context, rt *Runtime) error {
		p, err := s.Principal(ctx, rt)
		if err != nil {
			return err
		}
		return f(ctx, rt, p)
	})
}

// exitIfError prints err with its suggestion and exits non-zero.
func exitIfError(err error) {
	if err != nil {
		FormatErrorWithSuggestion(err)
		os.Exit(1)
	}
}

// WorkflowsListCommand prints the pending workflows the principal may read.
func WorkflowsListCommand(ctx context.Context, input WorkflowsListCommandInput) error {
	var scope catalog.Scope
	if input.Scope != "" {
		var err error
		if scope, err = catalog.ParseScope(input.Scope); err != nil {
			return err
		}
	}
	wfs, err := input.Runtime.Guard.ListPendingWorkflows(ctx, input.Principal, scope, input.GroupID)
	if err != nil {
		return err
	}

	w := stdoutOr(input.Stdout)
	if resolveOutput(input.Output, w) == OutputJSON {
		return writeJSON(w, wfs)
	}
	if len(wfs) == 0 {
		fmt.Fprintln(w, "No pending workflows.")
		return nil
	}
	fmt.Fprintf(w, "%-16s  %-26s  %-12s  %-12s  %-9s  %s\n", "ID", "OPERATION", "INITIATOR", "GROUP", "APPROVALS", "EXPIRES")
	for _, wf := range wfs {
		fmt.Fprintf(w, "%-16s  %-26s  %-12s  %-12s  %d/%-7d  %s\n",
			wf.ID, wf.QualifiedOperation(), wf.InitiatorID, wf.GroupID(),
			wf.ApproveCount(), wf.RequiredApprovers, wf.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// WorkflowShowCommand prints one workflow the acting principal may read.
func WorkflowShowCommand(ctx context.Context, input WorkflowCommandInput) error {
	wf, err := input.Runtime.Guard.GetWorkflow(ctx, input.Principal, input.WorkflowID)
	if err != nil {
		return err
	}
	return printWorkflow(input.Stdout, input.Output, wf)
}

// VoteCommand records the acting principal's vote.
func VoteCommand(ctx context.Context, input WorkflowCommandInput) error {
	decision := approval.Decision(strings.ToUpper(input.Decision))
	wf, err := input.Runtime.Guard.Vote(ctx, input.Principal, input.WorkflowID, decision, input.Version)
	if wf != nil {
		if perr := printWorkflow(input.Stdout, input.Output, wf); perr != nil {
			return perr
		}
	}
	return err
}

// CancelCommand withdraws a workflow on behalf of its initiator.
func CancelCommand(ctx context.Context, input WorkflowCommandInput) error {
	wf, err := input.Runtime.Guard.Cancel(ctx, input.Principal, input.WorkflowID, input.Version)
	if err != nil {
		return err
	}
	return printWorkflow(input.Stdout, input.Output, wf)
}

// SweepCommand expires stale workflows once, or on a schedule until ctx ends.
func SweepCommand(ctx context.Context, input SweepCommandInput) error {
	w := stdoutOr(input.Stdout)
	if input.Schedule == "" {
		n, err := input.Runtime.Engine.ExpireStale(ctx)
		fmt.Fprintf(w, "Expired %d workflow(s)\n", n)
		return err
	}

	sweeper, err := approval.NewSweeper(input.Runtime.Engine, input.Schedule, input.Runtime.Logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	<-ctx.Done()
	sweeper.Stop()
	return nil
}

func printWorkflow(out io.Writer, format string, wf *approval.Workflow) error {
	w := stdoutOr(out)
	if resolveOutput(format, w) == OutputJSON {
		return writeJSON(w, wf)
	}

	fmt.Fprintf(w, "Workflow %s\n", wf.ID)
	fmt.Fprintf(w, "  operation:  %s\n", wf.QualifiedOperation())
	fmt.Fprintf(w, "  status:     %s", wf.Status)
	if wf.RejectionReason != "" {
		fmt.Fprintf(w, " (%s)", wf.RejectionReason)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  initiator:  %s\n", wf.InitiatorID)
	fmt.Fprintf(w, "  scope:      %s %s\n", wf.Scope, wf.GroupID())
	if bc := wf.BusinessContext; bc != nil && bc.Amount != nil {
		fmt.Fprintf(w, "  amount:     %.2f %s\n", *bc.Amount, bc.Currency)
	}
	fmt.Fprintf(w, "  approvals:  %d/%d\n", wf.ApproveCount(), wf.RequiredApprovers)
	for _, v := range wf.Approvals {
		fmt.Fprintf(w, "    %s %s at %s\n", v.ApproverID, v.Decision, v.Timestamp.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  expires:    %s\n", wf.ExpiresAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "  version:    %d\n", wf.Version)
	return nil
}
