package operation

import (
	"fmt"
	"sort"

	"github.com/byteness/saccoguard/catalog"
)

// Builder collects operation declarations before they are frozen into a Registry.
type Builder struct {
	services map[string]map[string]*ServiceOperation
	errs     []error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{services: make(map[string]map[string]*ServiceOperation)}
}

// Register declares operations for a service. Registering the same
// service/operation pair twice is reported by Build.
func (b *Builder) Register(service string, ops ...ServiceOperation) *Builder {
	if service == "" {
		b.errs = append(b.errs, fmt.Errorf("service name is required"))
		return b
	}
	m, ok := b.services[service]
	if !ok {
		m = make(map[string]*ServiceOperation)
		b.services[service] = m
	}
	for i := range ops {
		op := ops[i].Clone()
		if _, dup := m[op.Name]; dup {
			b.errs = append(b.errs, fmt.Errorf("duplicate operation '%s.%s'", service, op.Name))
			continue
		}
		m[op.Name] = op
	}
	return b
}

// Build validates every declared operation against the catalog and returns
// an immutable Registry.
func (b *Builder) Build(c *catalog.Catalog) (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	for service, ops := range b.services {
		for name, op := range ops {
			if err := validate(c, op); err != nil {
				return nil, fmt.Errorf("operation '%s.%s': %w", service, name, err)
			}
		}
	}

	frozen := make(map[string]map[string]*ServiceOperation, len(b.services))
	for service, ops := range b.services {
		m := make(map[string]*ServiceOperation, len(ops))
		for name, op := range ops {
			m[name] = op.Clone()
		}
		frozen[service] = m
	}
	return &Registry{services: frozen}, nil
}

func validate(c *catalog.Catalog, op *ServiceOperation) error {
	if op.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(op.AllowedScopes) == 0 {
		return fmt.Errorf("at least one allowed scope is required")
	}
	for _, s := range op.AllowedScopes {
		if !s.IsValid() {
			return fmt.Errorf("invalid scope '%s'", s)
		}
	}
	for _, p := range op.RequiredPermissions {
		if !c.KnowsPermission(p) {
			return fmt.Errorf("unknown permission '%s'", p)
		}
	}
	if !op.RiskLevel.IsValid() {
		return fmt.Errorf("invalid risk level '%s'", op.RiskLevel)
	}
	if !op.AuditLevel.IsValid() {
		return fmt.Errorf("invalid audit level '%s'", op.AuditLevel)
	}
	if op.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}
	if op.RetryPolicy != nil && op.RetryPolicy.MaxAttempts < 1 {
		return fmt.Errorf("retry policy needs at least one attempt")
	}
	return nil
}

// Registry is an immutable index of operations by service and name.
// It is safe for concurrent use without locking.
type Registry struct {
	services map[string]map[string]*ServiceOperation
}

// Lookup returns a copy of the named operation or ErrOperationNotFound.
func (r *Registry) Lookup(service, name string) (*ServiceOperation, error) {
	op, ok := r.services[service][name]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", service, name, ErrOperationNotFound)
	}
	return op.Clone(), nil
}

// Entry pairs an operation with the service that declares it.
type Entry struct {
	Service   string            `json:"service"`
	Operation *ServiceOperation `json:"operation"`
}

// List returns every registered operation ordered by service then name.
func (r *Registry) List() []Entry {
	var out []Entry
	for service, ops := range r.services {
		for _, op := range ops {
			out = append(out, Entry{Service: service, Operation: op.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Operation.Name < out[j].Operation.Name
	})
	return out
}
