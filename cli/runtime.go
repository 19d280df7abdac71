package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/byteness/saccoguard/approval"
	"github.com/byteness/saccoguard/audit"
	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/config"
	"github.com/byteness/saccoguard/guard"
	"github.com/byteness/saccoguard/identity"
	"github.com/byteness/saccoguard/membership"
	"github.com/byteness/saccoguard/notification"
	"github.com/byteness/saccoguard/operation"
	"github.com/byteness/saccoguard/ratelimit"
	"github.com/byteness/saccoguard/resolver"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// catalogCacheTTL bounds how long an SSM-loaded catalog is reused.
const catalogCacheTTL = 5 * time.Minute

// Runtime is the wired engine a command operates on.
type Runtime struct {
	Catalog     *catalog.Catalog
	Config      *config.MakerCheckerConfig
	Registry    *operation.Registry
	Memberships membership.Store
	Workflows   approval.Store
	Engine      *approval.Engine
	Guard       *guard.Guard
	Builder     *identity.Builder
	Logger      *slog.Logger

	closers []func()
}

// Close releases database pools and waits for in-flight notifications.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// RuntimeOptions are the collaborators NewRuntime wires together. Nil
// fields fall back to in-memory implementations and built-in defaults.
type RuntimeOptions struct {
	Catalog          *catalog.Catalog
	Config           *config.MakerCheckerConfig
	Memberships      membership.Store
	Workflows        approval.Store
	Sink             audit.Sink
	Notifier         notification.Notifier
	Limiter          ratelimit.Limiter
	ServiceApprovers []approval.ServiceApprover
	Logger           *slog.Logger
	Clock            func() time.Time
}

// NewRuntime wires the catalog, registry, resolver, approval engine and
// guard from opts.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	rt := &Runtime{
		Catalog:     opts.Catalog,
		Config:      opts.Config,
		Memberships: opts.Memberships,
		Workflows:   opts.Workflows,
		Logger:      opts.Logger,
	}
	if rt.Catalog == nil {
		rt.Catalog = catalog.Default()
	}
	if rt.Config == nil {
		rt.Config = config.Default()
	}
	if rt.Memberships == nil {
		rt.Memberships = membership.NewMemoryStore()
	}
	if rt.Workflows == nil {
		rt.Workflows = approval.NewMemoryStore()
	}
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	sink := opts.Sink
	if sink == nil {
		sink = audit.NopSink{}
	}

	reg, err := operation.DefaultRegistry(rt.Catalog)
	if err != nil {
		return nil, err
	}
	rt.Registry = reg

	if opts.Notifier != nil {
		ns := notification.NewNotifyStore(rt.Workflows, opts.Notifier, rt.Logger)
		rt.Workflows = ns
		rt.closers = append(rt.closers, ns.Wait)
	}

	rt.Engine = approval.NewEngine(rt.Workflows, rt.Config,
		approval.WithClock(now),
		approval.WithSink(sink),
		approval.WithCatalog(rt.Catalog),
		approval.WithDirectory(approval.NewMembershipDirectory(rt.Catalog, rt.Memberships, opts.ServiceApprovers...)),
		approval.WithLogger(rt.Logger),
	)
	rt.Builder = identity.NewBuilder(rt.Catalog, rt.Memberships, now)

	guardOpts := []guard.Option{
		guard.WithBuilder(rt.Builder),
		guard.WithSink(sink),
		guard.WithLogger(rt.Logger),
		guard.WithClock(now),
	}
	if opts.Limiter != nil {
		guardOpts = append(guardOpts, guard.WithLimiter(opts.Limiter))
	}
	res := resolver.New(rt.Catalog, resolver.WithSink(sink), resolver.WithClock(now))
	rt.Guard = guard.New(reg, res, rt.Engine, guardOpts...)
	return rt, nil
}

// Runtime builds the runtime described by the global flags.
func (s *Saccoguard) Runtime(ctx context.Context) (*Runtime, error) {
	opts := RuntimeOptions{Logger: s.Logger()}
	var closers []func()
	fail := func(err error) (*Runtime, error) {
		for _, c := range closers {
			c()
		}
		return nil, err
	}

	var err error
	if opts.Catalog, err = s.loadCatalog(ctx); err != nil {
		return fail(err)
	}
	if s.ConfigFile != "" {
		if opts.Config, err = config.Load(s.ConfigFile); err != nil {
			return fail(err)
		}
	}
	if opts.ServiceApprovers, err = parseServiceApprovers(s.ServiceApprover); err != nil {
		return fail(err)
	}

	var pool *pgxpool.Pool
	if s.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, s.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("connect to postgres: %w", err))
		}
		closers = append(closers, pool.Close)
		opts.Memberships = membership.NewPostgresStore(pool)
	} else if s.MembershipsFile != "" {
		if opts.Memberships, err = LoadMemberships(s.MembershipsFile, time.Now()); err != nil {
			return fail(err)
		}
	}

	switch s.Backend {
	case BackendPostgres:
		if pool == nil {
			return fail(fmt.Errorf("--database-url is required for the postgres backend"))
		}
		opts.Workflows = approval.NewPostgresStore(pool)
	case BackendDynamoDB:
		awsCfg, err := s.AWSConfig(ctx)
		if err != nil {
			return fail(err)
		}
		opts.Workflows = approval.NewDynamoDBStore(awsCfg, s.WorkflowTable)
	}

	sink, sinkClosers, err := s.auditSink(ctx)
	closers = append(closers, sinkClosers...)
	if err != nil {
		return fail(err)
	}
	opts.Sink = sink

	if opts.Notifier, err = s.notifier(ctx); err != nil {
		return fail(err)
	}
	if opts.Limiter, err = s.limiter(ctx); err != nil {
		return fail(err)
	}

	rt, err := NewRuntime(opts)
	if err != nil {
		return fail(err)
	}
	rt.closers = append(closers, rt.closers...)
	return rt, nil
}

func (s *Saccoguard) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	switch {
	case s.CatalogSSM != "":
		awsCfg, err := s.AWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		loader := catalog.NewCachedLoader(catalog.NewSSMLoader(awsCfg), catalogCacheTTL)
		return loader.Load(ctx, s.CatalogSSM)
	case s.CatalogFile != "":
		return catalog.FileLoader{}.Load(ctx, s.CatalogFile)
	}
	return catalog.Default(), nil
}

func (s *Saccoguard) auditSink(ctx context.Context) (audit.Sink, []func(), error) {
	var sinks []audit.Sink
	var closers []func()

	var signCfg *audit.SignatureConfig
	if s.AuditKeyHex != "" {
		key, err := hex.DecodeString(strings.TrimSpace(s.AuditKeyHex))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid audit key: %w", err)
		}
		signCfg = &audit.SignatureConfig{KeyID: s.AuditKeyID, SecretKey: key}
		if err := signCfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	if s.AuditLog != "" {
		f, err := os.OpenFile(s.AuditLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, LogFileMode)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		closers = append(closers, func() { f.Close() })
		if signCfg != nil {
			sinks = append(sinks, audit.NewSignedSink(f, signCfg))
		} else {
			sinks = append(sinks, audit.NewJSONSink(f))
		}
	}

	if s.AuditLogGroup != "" {
		awsCfg, err := s.AWSConfig(ctx)
		if err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, audit.NewCloudWatchSink(awsCfg, &audit.CloudWatchConfig{
			LogGroupName:  s.AuditLogGroup,
			LogStreamName: s.AuditLogStream,
			SignConfig:    signCfg,
		}))
	}

	if len(sinks) == 0 {
		return audit.NopSink{}, closers, nil
	}
	return audit.NewMultiSink(sinks...), closers, nil
}

func (s *Saccoguard) notifier(ctx context.Context) (notification.Notifier, error) {
	var notifiers []notification.Notifier
	if s.SNSTopicARN != "" {
		awsCfg, err := s.AWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notification.NewSNSNotifier(awsCfg, s.SNSTopicARN))
	}
	if s.WebhookURL != "" {
		wh, err := notification.NewWebhookNotifier(notification.WebhookConfig{
			URL:    s.WebhookURL,
			Secret: []byte(s.WebhookSecret),
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, wh)
	}
	if len(notifiers) == 0 {
		return nil, nil
	}

	var n notification.Notifier = notification.NewMultiNotifier(notifiers...)
	if len(s.NotifyEvents) > 0 {
		types := make([]notification.EventType, len(s.NotifyEvents))
		for i, e := range s.NotifyEvents {
			types[i] = notification.EventType(e)
		}
		f, err := notification.NewFilter(n, types...)
		if err != nil {
			return nil, fmt.Errorf("--notify-event: %w", err)
		}
		n = f
	}
	return n, nil
}

func (s *Saccoguard) limiter(ctx context.Context) (ratelimit.Limiter, error) {
	if s.RateLimit <= 0 {
		return nil, nil
	}
	window, err := ParseDuration(s.RateLimitWindow)
	if err != nil {
		return nil, fmt.Errorf("--rate-limit-window: %w", err)
	}
	cfg := ratelimit.Config{RequestsPerWindow: s.RateLimit, Window: window}

	if s.RateLimitTable != "" {
		awsCfg, err := s.AWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewDynamoDBLimiter(dynamodb.NewFromConfig(awsCfg), s.RateLimitTable, cfg, s.Logger())
	}
	return ratelimit.NewTokenBucket(cfg)
}

func parseServiceApprovers(values []string) ([]approval.ServiceApprover, error) {
	out := make([]approval.ServiceApprover, 0, len(values))
	for _, v := range values {
		subject, role, ok := strings.Cut(v, ":")
		if !ok || subject == "" || role == "" {
			return nil, fmt.Errorf("invalid service approver %q, expected subject:SERVICE_ROLE", v)
		}
		out = append(out, approval.ServiceApprover{PrincipalID: subject, Role: catalog.ServiceRole(strings.ToUpper(role))})
	}
	return out, nil
}

// MembershipSeed is one entry of a memberships file.
type MembershipSeed struct {
	Principal string `yaml:"principal"`
	Group     string `yaml:"group"`
	Type      string `yaml:"type"`
	Role      string `yaml:"role"`
}

// LoadMemberships reads a YAML list of memberships into a MemoryStore.
func LoadMemberships(path string, joinedAt time.Time) (*membership.MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read memberships %s: %w", path, err)
	}
	return ParseMemberships(data, joinedAt)
}

// ParseMemberships parses a YAML list of memberships into a MemoryStore.
func ParseMemberships(data []byte, joinedAt time.Time) (*membership.MemoryStore, error) {
	var seeds []MembershipSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}

	store := membership.NewMemoryStore()
	for i, seed := range seeds {
		gt := membership.GroupType(strings.ToLower(seed.Type))
		m := membership.New(seed.Principal, seed.Group, gt, catalog.GroupRole(strings.ToUpper(seed.Role)), joinedAt)
		if err := store.Add(context.Background(), m); err != nil {
			return nil, fmt.Errorf("membership %d: %w", i, err)
		}
	}
	return store, nil
}
