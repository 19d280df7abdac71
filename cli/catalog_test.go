package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/byteness/saccoguard/catalog"
	"github.com/byteness/saccoguard/testutil"
)

type loaderFunc func(ctx context.Context, name string) (*catalog.Catalog, error)

func (f loaderFunc) Load(ctx context.Context, name string) (*catalog.Catalog, error) {
	return f(ctx, name)
}

func TestCatalogValidateCommand_BuiltIn(t *testing.T) {
	var stdout bytes.Buffer
	summary, err := CatalogValidateCommand(context.Background(), CatalogValidateCommandInput{
		Output: OutputJSON,
		Stdout: &stdout,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, summary.Source, "built-in")
	testutil.AssertEqual(t, summary.Permissions, len(catalog.DefaultDefinition().Permissions))

	var decoded CatalogSummary
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	testutil.AssertEqual(t, len(decoded.Roles), 8)

	var superAdmin *RoleSummary
	for i := range decoded.Roles {
		if decoded.Roles[i].Name == string(catalog.RoleSuperAdmin) {
			superAdmin = &decoded.Roles[i]
		}
	}
	if superAdmin == nil {
		t.Fatal("SUPER_ADMIN missing from summary")
	}
	testutil.AssertEqual(t, superAdmin.Family, "service")
	// SUPER_ADMIN inherits ADMIN, which inherits MEMBER.
	found := false
	for _, p := range superAdmin.Permissions {
		if p == catalog.PermWalletDeposit {
			found = true
		}
	}
	if !found {
		t.Errorf("SUPER_ADMIN permissions %v missing inherited %s", superAdmin.Permissions, catalog.PermWalletDeposit)
	}
}

func TestCatalogValidateCommand_CyclicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	cyclic := `
version: "1"
permissions: [ORG_READ]
service_roles:
  - name: A
    permissions: [ORG_READ]
    inherits: [B]
  - name: B
    permissions: []
    inherits: [A]
group_roles: []
`
	if err := os.WriteFile(path, []byte(cyclic), 0644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	var stderr bytes.Buffer
	_, err := CatalogValidateCommand(context.Background(), CatalogValidateCommandInput{
		Path:   path,
		Stdout: &bytes.Buffer{},
		Stderr: &stderr,
	})
	testutil.AssertErrorIs(t, err, catalog.ErrCyclicHierarchy)
	testutil.AssertContains(t, stderr.String(), "X "+path)
}

func TestCatalogValidateCommand_SSM(t *testing.T) {
	var requested string
	loader := loaderFunc(func(_ context.Context, name string) (*catalog.Catalog, error) {
		requested = name
		return catalog.Default(), nil
	})

	var stdout bytes.Buffer
	summary, err := CatalogValidateCommand(context.Background(), CatalogValidateCommandInput{
		SSM:    "/saccoguard/catalog",
		Output: OutputHuman,
		Loader: loader,
		Stdout: &stdout,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, requested, "/saccoguard/catalog")
	testutil.AssertEqual(t, summary.Source, "ssm:/saccoguard/catalog")
	testutil.AssertContains(t, stdout.String(), "# ssm:/saccoguard/catalog (version 1")
}

func TestCatalogValidateCommand_SSMNotFound(t *testing.T) {
	loader := loaderFunc(func(_ context.Context, name string) (*catalog.Catalog, error) {
		return nil, catalog.ErrCatalogNotFound
	})
	_, err := CatalogValidateCommand(context.Background(), CatalogValidateCommandInput{
		SSM:    "/missing",
		Loader: loader,
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	})
	if !errors.Is(err, catalog.ErrCatalogNotFound) {
		t.Errorf("error = %v, want ErrCatalogNotFound", err)
	}
}

func TestCatalogExportCommand_RoundTrip(t *testing.T) {
	var stdout bytes.Buffer
	testutil.AssertNoError(t, CatalogExportCommand(&stdout))

	c, err := catalog.Parse(stdout.Bytes())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, c.Version(), catalog.Default().Version())
	testutil.AssertEqual(t, len(c.GroupRoles()), 5)
}
