package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	guarderrors "github.com/byteness/saccoguard/errors"
	isatty "github.com/mattn/go-isatty"
)

// File modes for files the CLI writes.
const (
	// LogFileMode is for audit logs: owner read/write, group read.
	LogFileMode fs.FileMode = 0640

	// ConfigFileMode is for generated configuration templates.
	ConfigFileMode fs.FileMode = 0644
)

// Storage backends for workflows.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Output formats.
const (
	OutputHuman = "human"
	OutputJSON  = "json"
)

// Saccoguard holds the global flags shared by every command and builds the
// runtime they operate on.
type Saccoguard struct {
	Debug  bool
	Region string

	CatalogFile string
	CatalogSSM  string
	ConfigFile  string

	Backend         string
	WorkflowTable   string
	DatabaseURL     string
	MembershipsFile string
	ServiceApprover []string

	AuditLog       string
	AuditKeyID     string
	AuditKeyHex    string
	AuditLogGroup  string
	AuditLogStream string

	SNSTopicARN   string
	WebhookURL    string
	WebhookSecret string
	NotifyEvents  []string

	RateLimit       int
	RateLimitWindow string
	RateLimitTable  string

	JWTSecret   string
	Token       string
	As          string
	ServiceRole string

	logger *slog.Logger
	awsCfg *aws.Config
}

// ConfigureGlobals sets up global flags for the saccoguard CLI.
func ConfigureGlobals(app *kingpin.Application) *Saccoguard {
	s := &Saccoguard{}

	app.Flag("debug", "Show debugging output").
		BoolVar(&s.Debug)

	app.Flag("region", "AWS region for SSM, DynamoDB, SNS and CloudWatch Logs").
		Envar("AWS_REGION").
		StringVar(&s.Region)

	app.Flag("catalog", "Role catalog YAML file (built-in catalog if unset)").
		Envar("SACCOGUARD_CATALOG").
		StringVar(&s.CatalogFile)

	app.Flag("catalog-ssm", "SSM parameter holding the role catalog").
		Envar("SACCOGUARD_CATALOG_SSM").
		StringVar(&s.CatalogSSM)

	app.Flag("config", "Maker-checker configuration YAML file (built-in defaults if unset)").
		Envar("SACCOGUARD_CONFIG").
		StringVar(&s.ConfigFile)

	app.Flag("backend", "Workflow store: memory, dynamodb or postgres").
		Default(BackendMemory).
		Envar("SACCOGUARD_BACKEND").
		EnumVar(&s.Backend, BackendMemory, BackendDynamoDB, BackendPostgres)

	app.Flag("workflow-table", "DynamoDB table for approval workflows").
		Default("saccoguard-workflows").
		Envar("SACCOGUARD_WORKFLOW_TABLE").
		StringVar(&s.WorkflowTable)

	app.Flag("database-url", "PostgreSQL connection string for workflows and memberships").
		Envar("SACCOGUARD_DATABASE_URL").
		StringVar(&s.DatabaseURL)

	app.Flag("memberships", "YAML file of group memberships, used when no database is configured").
		Envar("SACCOGUARD_MEMBERSHIPS").
		StringVar(&s.MembershipsFile)

	app.Flag("service-approver", "Principal allowed to approve in any scope, as subject:SERVICE_ROLE (repeatable)").
		StringsVar(&s.ServiceApprover)

	app.Flag("audit-log", "Append audit records to this file as JSON lines").
		Envar("SACCOGUARD_AUDIT_LOG").
		StringVar(&s.AuditLog)

	app.Flag("audit-key", "Hex-encoded HMAC key for signing audit records").
		Envar("SACCOGUARD_AUDIT_KEY").
		StringVar(&s.AuditKeyHex)

	app.Flag("audit-key-id", "Identifier of the audit signing key").
		Default("default").
		Envar("SACCOGUARD_AUDIT_KEY_ID").
		StringVar(&s.AuditKeyID)

	app.Flag("audit-log-group", "CloudWatch Logs group to forward audit records to").
		Envar("SACCOGUARD_AUDIT_LOG_GROUP").
		StringVar(&s.AuditLogGroup)

	app.Flag("audit-log-stream", "CloudWatch Logs stream for audit records").
		Default("saccoguard").
		Envar("SACCOGUARD_AUDIT_LOG_STREAM").
		StringVar(&s.AuditLogStream)

	app.Flag("sns-topic", "SNS topic ARN for workflow notifications").
		Envar("SACCOGUARD_SNS_TOPIC").
		StringVar(&s.SNSTopicARN)

	app.Flag("webhook-url", "Webhook endpoint for workflow notifications").
		Envar("SACCOGUARD_WEBHOOK_URL").
		StringVar(&s.WebhookURL)

	app.Flag("webhook-secret", "Secret used to sign webhook bodies").
		Envar("SACCOGUARD_WEBHOOK_SECRET").
		StringVar(&s.WebhookSecret)

	app.Flag("notify-event", "Only deliver these event types, e.g. workflow.approved (repeatable; default all)").
		StringsVar(&s.NotifyEvents)

	app.Flag("rate-limit", "Authorization requests allowed per principal per window (0 disables)").
		Envar("SACCOGUARD_RATE_LIMIT").
		IntVar(&s.RateLimit)

	app.Flag("rate-limit-window", "Rate limit window, e.g. 1m or 1h").
		Default("1m").
		StringVar(&s.RateLimitWindow)

	app.Flag("rate-limit-table", "DynamoDB table for shared rate limit counters").
		Envar("SACCOGUARD_RATE_LIMIT_TABLE").
		StringVar(&s.RateLimitTable)

	app.Flag("jwt-secret", "HS256 secret for verifying and minting identity tokens").
		Envar("SACCOGUARD_JWT_SECRET").
		StringVar(&s.JWTSecret)

	app.Flag("token", "Identity token of the acting principal").
		Envar("SACCOGUARD_TOKEN").
		StringVar(&s.Token)

	app.Flag("as", "Act as this subject without a token (development only)").
		StringVar(&s.As)

	app.Flag("service-role", "Service role used with --as").
		Default("MEMBER").
		StringVar(&s.ServiceRole)

	app.PreAction(func(c *kingpin.ParseContext) error {
		level := slog.LevelInfo
		if s.Debug {
			level = slog.LevelDebug
		}
		s.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		s.logger.Debug("saccoguard starting", "version", app.Model().Version, "backend", s.Backend)
		return nil
	})

	return s
}

// Logger returns the operational logger.
func (s *Saccoguard) Logger() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// regionPattern matches region codes such as us-east-1 or af-south-1.
var regionPattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-[0-9]+$`)

// AWSConfig loads the default AWS configuration once.
func (s *Saccoguard) AWSConfig(ctx context.Context) (aws.Config, error) {
	if s.awsCfg != nil {
		return *s.awsCfg, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if s.Region != "" {
		if !regionPattern.MatchString(s.Region) {
			return aws.Config{}, guarderrors.New(guarderrors.ErrCodeConfigInvalidRegion,
				fmt.Sprintf("invalid AWS region %q", s.Region),
				guarderrors.GetSuggestion(guarderrors.ErrCodeConfigInvalidRegion), nil)
		}
		opts = append(opts, awsconfig.WithRegion(s.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	s.awsCfg = &cfg
	return cfg, nil
}

// defaultOutput picks human output for terminals and JSON otherwise.
func defaultOutput(w io.Writer) string {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return OutputHuman
	}
	return OutputJSON
}

func resolveOutput(format string, w io.Writer) string {
	switch strings.ToLower(format) {
	case OutputHuman, OutputJSON:
		return strings.ToLower(format)
	}
	return defaultOutput(w)
}

func stdoutOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

func stderrOr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}
