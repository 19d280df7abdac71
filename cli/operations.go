package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/saccoguard/operation"
)

// OperationsListCommandInput contains the input for operations list.
type OperationsListCommandInput struct {
	Service string
	Output  string

	Registry *operation.Registry
	Stdout   io.Writer
}

// ConfigureOperationsCommand sets up the operations list command.
func ConfigureOperationsCommand(app *kingpin.Application, s *Saccoguard) {
	input := OperationsListCommandInput{}

	cmd := app.Command("operations", "Operation registry commands").
		Command("list", "List registered operations")

	cmd.Flag("service", "Only operations of this service").
		StringVar(&input.Service)

	cmd.Flag("output", "Output format: human or json").
		EnumVar(&input.Output, OutputHuman, OutputJSON)

	cmd.Action(func(c *kingpin.ParseContext) error {
		ctx := context.Background()
		cat, err := s.loadCatalog(ctx)
		exitIfError(err)
		input.Registry, err = operation.DefaultRegistry(cat)
		exitIfError(err)
		exitIfError(OperationsListCommand(ctx, input))
		return nil
	})
}

// OperationsListCommand prints the registered operations.
func OperationsListCommand(_ context.Context, input OperationsListCommandInput) error {
	var entries []operation.Entry
	for _, e := range input.Registry.List() {
		if input.Service == "" || e.Service == input.Service {
			entries = append(entries, e)
		}
	}

	w := stdoutOr(input.Stdout)
	if resolveOutput(input.Output, w) == OutputJSON {
		return writeJSON(w, entries)
	}

	fmt.Fprintf(w, "%-30s  %-8s  %-8s  %-32s  %s\n", "OPERATION", "RISK", "APPROVAL", "SCOPES", "PERMISSIONS")
	for _, e := range entries {
		op := e.Operation
		scopes := make([]string, len(op.AllowedScopes))
		for i, sc := range op.AllowedScopes {
			scopes[i] = string(sc)
		}
		perms := make([]string, len(op.RequiredPermissions))
		for i, p := range op.RequiredPermissions {
			perms[i] = string(p)
		}
		approval := "-"
		if op.RequiresApproval {
			approval = op.Category
		}
		fmt.Fprintf(w, "%-30s  %-8s  %-8s  %-32s  %s\n",
			e.Service+"."+op.Name, op.RiskLevel, approval, strings.Join(scopes, ","), strings.Join(perms, ","))
	}
	return nil
}
