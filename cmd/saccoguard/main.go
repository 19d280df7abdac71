package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/saccoguard/cli"
)

// Version is provided at compile time
var Version = "dev"

func main() {
	app := kingpin.New("saccoguard", "Role-based authorization and maker-checker approvals for SACCO operations")
	app.Version(Version)

	s := cli.ConfigureGlobals(app)
	cli.ConfigureAuthorizeCommand(app, s)
	cli.ConfigureWorkflowCommands(app, s)

	// Catalog and operation registry
	cli.ConfigureCatalogCommands(app, s)
	cli.ConfigureOperationsCommand(app, s)

	// Identity
	cli.ConfigureTokenCommand(app, s)

	cli.ConfigureConfigCommand(app, s)
	cli.ConfigureAuditCommand(app, s)
	cli.ConfigureMigrateCommand(app, s)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
