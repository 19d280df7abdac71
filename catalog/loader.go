package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	guarderrors "github.com/byteness/saccoguard/errors"
)

// ErrCatalogNotFound is returned when the requested catalog parameter
// does not exist in SSM Parameter Store.
var ErrCatalogNotFound = errors.New("catalog not found")

// SSMAPI defines the SSM operations used by SSMLoader.
// This interface enables testing with mock implementations.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Loader loads a catalog from a named source.
type Loader interface {
	Load(ctx context.Context, name string) (*Catalog, error)
}

// SSMLoader fetches catalogs from AWS SSM Parameter Store.
type SSMLoader struct {
	client SSMAPI
}

// NewSSMLoader creates a new SSMLoader using the provided AWS configuration.
func NewSSMLoader(cfg aws.Config) *SSMLoader {
	return &SSMLoader{
		client: ssm.NewFromConfig(cfg),
	}
}

// NewSSMLoaderWithClient creates an SSMLoader with a custom SSM client.
func NewSSMLoaderWithClient(client SSMAPI) *SSMLoader {
	return &SSMLoader{
		client: client,
	}
}

// Load fetches and validates a catalog from SSM Parameter Store by parameter name.
// It returns ErrCatalogNotFound (wrapped) if the parameter does not exist.
// The parameter is fetched with decryption enabled to support SecureString parameters.
func (l *SSMLoader) Load(ctx context.Context, parameterName string) (*Catalog, error) {
	output, err := l.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(parameterName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", parameterName, ErrCatalogNotFound)
		}
		return nil, guarderrors.WrapSSMError(err, parameterName)
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return nil, fmt.Errorf("%s: %w", parameterName, ErrCatalogNotFound)
	}

	return Parse([]byte(*output.Parameter.Value))
}

// FileLoader loads catalogs from YAML files; the name is the file path.
type FileLoader struct{}

// Load reads the catalog at path.
func (FileLoader) Load(_ context.Context, path string) (*Catalog, error) {
	return LoadFile(path)
}

type cacheEntry struct {
	catalog *Catalog
	expiry  time.Time
}

// CachedLoader wraps a Loader with in-memory TTL-based caching.
// It is safe for concurrent use.
type CachedLoader struct {
	loader Loader
	mu     sync.RWMutex
	cache  map[string]*cacheEntry
	ttl    time.Duration
	now    func() time.Time
}

// NewCachedLoader creates a new CachedLoader that wraps the given loader
// and caches results for the specified TTL duration.
func NewCachedLoader(loader Loader, ttl time.Duration) *CachedLoader {
	return &CachedLoader{
		loader: loader,
		cache:  make(map[string]*cacheEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Load fetches a catalog by name, using cached values when available.
// Errors are not cached.
func (c *CachedLoader) Load(ctx context.Context, name string) (*Catalog, error) {
	c.mu.RLock()
	if entry, ok := c.cache[name]; ok && c.now().Before(entry.expiry) {
		c.mu.RUnlock()
		return entry.catalog, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have populated the entry.
	if entry, ok := c.cache[name]; ok && c.now().Before(entry.expiry) {
		return entry.catalog, nil
	}

	cat, err := c.loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	c.cache[name] = &cacheEntry{
		catalog: cat,
		expiry:  c.now().Add(c.ttl),
	}
	return cat, nil
}
