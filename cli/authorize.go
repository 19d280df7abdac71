package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/guard"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/operation"
)

// AuthorizeCommandInput contains the input for the authorize command.
type AuthorizeCommandInput struct {
	Operation      string // service.operation
	Scope          string
	OrganizationID string
	ChamaID        string
	Amount         float64
	Currency       string
	Quantity       int
	Description    string
	CorrelationID  string
	Output         string

	// Runtime and Principal are injected by tests; the command builds
	// them from the global flags otherwise.
	Runtime   *Runtime
	Principal *identity.Principal
	Stdout    io.Writer
}

// ConfigureAuthorizeCommand sets up the authorize command with kingpin.
func ConfigureAuthorizeCommand(app *kingpin.Application, s *Saccoguard) {
	input := AuthorizeCommandInput{}

	cmd := app.Command("authorize", "Check whether the acting principal may perform an operation")

	cmd.Arg("operation", "Operation as service.name, e.g. organizations.withdraw").
		Required().
		StringVar(&input.Operation)

	cmd.Flag("scope", "Scope: GLOBAL, ORGANIZATION, CHAMA or PERSONAL").
		Required().
		StringVar(&input.Scope)

	cmd.Flag("org", "Organization id for ORGANIZATION scope").
		StringVar(&input.OrganizationID)

	cmd.Flag("chama", "Chama id for CHAMA scope").
		StringVar(&input.ChamaID)

	cmd.Flag("amount", "Monetary amount of the operation").
		Float64Var(&input.Amount)

	cmd.Flag("currency", "Currency of the amount").
		Default("KES").
		StringVar(&input.Currency)

	cmd.Flag("quantity", "Item count of the operation, e.g. shares transferred").
		IntVar(&input.Quantity)

	cmd.Flag("description", "Free-text description carried into the workflow").
		StringVar(&input.Description)

	cmd.Flag("correlation-id", "Correlation id to carry through audit records").
		StringVar(&input.CorrelationID)

	cmd.Flag("output", "Output format: human or json").
		EnumVar(&input.Output, OutputHuman, OutputJSON)

	cmd.Action(func(c *kingpin.ParseContext) error {
		return withPrincipal(s, func(ctx context.Context, rt *Runtime, p *identity.Principal) error {
			input.Runtime, input.Principal = rt, p
			_, err := AuthorizeCommand(ctx, input)
			return err
		})
	})
}

// SplitOperation splits "service.name" into its parts.
func SplitOperation(qualified string) (string, string, error) {
	service, name, ok := strings.Cut(qualified, ".")
	if !ok || service == "" || name == "" {
		return "", "", fmt.Errorf("invalid operation %q, expected service.name", qualified)
	}
	return service, name, nil
}

// AuthorizeCommand runs the operation through the guard and prints the outcome.
func AuthorizeCommand(ctx context.Context, input AuthorizeCommandInput) (guard.Outcome, error) {
	service, name, err := SplitOperation(input.Operation)
	if err != nil {
		return guard.Outcome{}, err
	}
	scope, err := catalog.ParseScope(input.Scope)
	if err != nil {
		return guard.Outcome{}, err
	}

	bc := &operation.BusinessContext{Currency: input.Currency, Description: input.Description}
	if input.Amount != 0 {
		bc.Amount = &input.Amount
	}
	if input.Quantity != 0 {
		bc.Quantity = &input.Quantity
	}

	out, err := input.Runtime.Guard.Authorize(ctx, guard.Request{
		Principal:       input.Principal,
		Service:         service,
		Operation:       name,
		Scope:           scope,
		OrganizationID:  input.OrganizationID,
		ChamaID:         input.ChamaID,
		BusinessContext: bc,
		CorrelationID:   input.CorrelationID,
	})
	if err != nil {
		return guard.Outcome{}, err
	}

	w := stdoutOr(input.Stdout)
	if resolveOutput(input.Output, w) == OutputJSON {
		return out, writeJSON(w, out)
	}

	switch out.Status {
	case guard.StatusGranted:
		fmt.Fprintf(w, "GRANTED %s for %s\n", input.Operation, input.Principal.ID)
	case guard.StatusPendingApproval:
		fmt.Fprintf(w, "PENDING_APPROVAL %s for %s\n", input.Operation, input.Principal.ID)
		fmt.Fprintf(w, "  workflow: %s\n", out.WorkflowID)
	case guard.StatusDenied:
		fmt.Fprintf(w, "DENIED %s for %s: %s\n", input.Operation, input.Principal.ID, out.Reason)
		for _, p := range out.Missing {
			fmt.Fprintf(w, "  missing: %s\n", p)
		}
	}
	fmt.Fprintf(w, "  correlation: %s\n", out.CorrelationID)
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output to JSON: %w", err)
	}
	fmt.Fprintln(w, string(b))
	return nil
}
