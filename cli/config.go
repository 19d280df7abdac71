package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/saccoguard/config"
)

// ConfigValidateCommandInput contains the input for config validate.
type ConfigValidateCommandInput struct {
	Paths  []string
	Output string

	Stdout io.Writer
}

// ConfigValidateSummary aggregates validation results.
type ConfigValidateSummary struct {
	Results  []config.ValidationResult `json:"results"`
	Valid    int                       `json:"valid"`
	Invalid  int                       `json:"invalid"`
	Warnings int                       `json:"warnings"`
}

// ConfigTemplateCommandInput contains the input for config template.
type ConfigTemplateCommandInput struct {
	OutputFile string
	Force      bool

	Now    func() time.Time
	Stdout io.Writer
}

// ConfigureConfigCommand sets up the config command with its subcommands.
func ConfigureConfigCommand(app *kingpin.Application, s *Saccoguard) {
	configCmd := app.Command("config", "Maker-checker configuration commands")

	input := ConfigValidateCommandInput{}
	validateCmd := configCmd.Command("validate", "Validate maker-checker configuration files")
	validateCmd.Arg("paths", "Configuration files to validate").
		Required().
		StringsVar(&input.Paths)
	validateCmd.Flag("output", "Output format: human or json").
		EnumVar(&input.Output, OutputHuman, OutputJSON)
	validateCmd.Action(func(c *kingpin.ParseContext) error {
		exitCode, err := ConfigValidateCommand(context.Background(), input)
		exitIfError(err)
		if exitCode != 0 {
			os.Exit(exitCode)
		}
		return nil
	})

	tmplInput := ConfigTemplateCommandInput{}
	tmplCmd := configCmd.Command("template", "Print a starting maker-checker configuration")
	tmplCmd.Flag("output-file", "Write the template to this file instead of stdout").
		Short('o').
		StringVar(&tmplInput.OutputFile)
	tmplCmd.Flag("force", "Overwrite an existing output file").
		BoolVar(&tmplInput.Force)
	tmplCmd.Action(func(c *kingpin.ParseContext) error {
		exitIfError(ConfigTemplateCommand(context.Background(), tmplInput))
		return nil
	})
}

// ConfigValidateCommand validates each file and returns exit code 1 if any
// has errors. Warnings do not fail validation.
func ConfigValidateCommand(_ context.Context, input ConfigValidateCommandInput) (int, error) {
	if len(input.Paths) == 0 {
		return 1, fmt.Errorf("no paths specified")
	}

	var summary ConfigValidateSummary
	for _, path := range input.Paths {
		// A read failure is reported as an error issue in the result.
		result, _ := config.ValidateFile(path)
		summary.Results = append(summary.Results, result)
		if result.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
		summary.Warnings += len(result.Issues) - result.ErrorCount()
	}

	w := stdoutOr(input.Stdout)
	if resolveOutput(input.Output, w) == OutputJSON {
		if err := writeJSON(w, summary); err != nil {
			return 1, err
		}
	} else {
		outputValidationHuman(w, summary)
	}

	if summary.Invalid > 0 {
		return 1, nil
	}
	return 0, nil
}

func outputValidationHuman(w io.Writer, summary ConfigValidateSummary) {
	for _, result := range summary.Results {
		if result.Valid {
			fmt.Fprintf(w, "OK %s\n", result.Source)
		} else {
			fmt.Fprintf(w, "X %s\n", result.Source)
		}
		for _, issue := range result.Issues {
			loc := ""
			if issue.Location != "" {
				loc = issue.Location + ": "
			}
			fmt.Fprintf(w, "  %s: %s%s\n", issue.Severity, loc, issue.Message)
			if issue.Suggestion != "" {
				fmt.Fprintf(w, "    -> %s\n", issue.Suggestion)
			}
		}
	}
	fmt.Fprintf(w, "\n%d valid, %d invalid, %d warning(s)\n", summary.Valid, summary.Invalid, summary.Warnings)
}

// ConfigTemplateCommand writes the default configuration template.
func ConfigTemplateCommand(_ context.Context, input ConfigTemplateCommandInput) error {
	now := time.Now
	if input.Now != nil {
		now = input.Now
	}
	tmpl, err := config.Template(now())
	if err != nil {
		return err
	}

	if input.OutputFile == "" {
		_, err := io.WriteString(stdoutOr(input.Stdout), tmpl)
		return err
	}
	if !input.Force {
		if _, err := os.Stat(input.OutputFile); err == nil {
			return fmt.Errorf("%s already exists; use --force to overwrite", input.OutputFile)
		}
	}
	if err := os.WriteFile(input.OutputFile, []byte(tmpl), ConfigFileMode); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	fmt.Fprintf(stdoutOr(input.Stdout), "Wrote %s\n", input.OutputFile)
	return nil
}
