package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	guarderrors "github.com/byteness/saccoguard/errors"
)

type mockSSMClient struct {
	GetParameterFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (m *mockSSMClient) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return m.GetParameterFunc(ctx, params, optFns...)
}

const loaderCatalog = `
version: "1"
permissions: [ORG_READ]
group_roles:
  - name: ORG_MEMBER
    permissions: [ORG_READ]
`

func TestSSMLoader_Load(t *testing.T) {
	var gotInput *ssm.GetParameterInput
	client := &mockSSMClient{
		GetParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			gotInput = params
			return &ssm.GetParameterOutput{
				Parameter: &ssmtypes.Parameter{Value: aws.String(loaderCatalog)},
			}, nil
		},
	}

	c, err := NewSSMLoaderWithClient(client).Load(context.Background(), "/saccoguard/catalog")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !c.HasGroupRole("ORG_MEMBER") {
		t.Error("loaded catalog missing ORG_MEMBER")
	}
	if aws.ToString(gotInput.Name) != "/saccoguard/catalog" {
		t.Errorf("Name = %q", aws.ToString(gotInput.Name))
	}
	if !aws.ToBool(gotInput.WithDecryption) {
		t.Error("WithDecryption should be true")
	}
}

func TestSSMLoader_NotFound(t *testing.T) {
	client := &mockSSMClient{
		GetParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			return nil, &ssmtypes.ParameterNotFound{Message: aws.String("missing")}
		},
	}
	_, err := NewSSMLoaderWithClient(client).Load(context.Background(), "/missing")
	if !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("Load() error = %v, want ErrCatalogNotFound", err)
	}
}

func TestSSMLoader_AccessDenied(t *testing.T) {
	client := &mockSSMClient{
		GetParameterFunc: func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			return nil, errors.New("AccessDeniedException: not authorized")
		},
	}
	_, err := NewSSMLoaderWithClient(client).Load(context.Background(), "/denied")
	if got := guarderrors.GetCode(err); got != guarderrors.ErrCodeSSMAccessDenied {
		t.Fatalf("GetCode() = %q, want %q", got, guarderrors.ErrCodeSSMAccessDenied)
	}
}

type countingLoader struct {
	catalog   *Catalog
	err       error
	callCount int
}

func (m *countingLoader) Load(ctx context.Context, name string) (*Catalog, error) {
	m.callCount++
	return m.catalog, m.err
}

func TestCachedLoader_HitAndExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := &countingLoader{catalog: Default()}
	cached := NewCachedLoader(mock, time.Minute)
	cached.now = func() time.Time { return now }
	ctx := context.Background()

	c1, err := cached.Load(ctx, "p")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	c2, _ := cached.Load(ctx, "p")
	if mock.callCount != 1 {
		t.Errorf("callCount = %d, want 1 (cache hit)", mock.callCount)
	}
	if c1 != c2 {
		t.Error("cache hit should return the same catalog pointer")
	}

	now = now.Add(time.Minute)
	if _, err := cached.Load(ctx, "p"); err != nil {
		t.Fatalf("Load() after expiry error = %v", err)
	}
	if mock.callCount != 2 {
		t.Errorf("callCount = %d, want 2 after expiry", mock.callCount)
	}
}

func TestCachedLoader_ErrorsNotCached(t *testing.T) {
	mock := &countingLoader{err: errors.New("boom")}
	cached := NewCachedLoader(mock, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cached.Load(context.Background(), "p"); err == nil {
			t.Fatal("Load() should fail")
		}
	}
	if mock.callCount != 2 {
		t.Errorf("callCount = %d, want 2 (errors not cached)", mock.callCount)
	}
}
