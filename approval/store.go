package approval

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/byteness/saccoguard/catalog"
)

// Query limit constants for List operations.
const (
	// DefaultQueryLimit is the default number of results for List operations.
	DefaultQueryLimit = 100
	// MaxQueryLimit is the maximum number of results for List operations.
	MaxQueryLimit = 1000
)

// Store persists workflows. Implementations must be safe for concurrent use.
type Store interface {
	// Create stores a new workflow. Returns ErrWorkflowExists if the ID is taken.
	Create(ctx context.Context, wf *Workflow) error

	// Get retrieves a workflow by ID. Returns ErrWorkflowNotFound if absent.
	Get(ctx context.Context, id string) (*Workflow, error)

	// Update replaces the stored workflow if and only if its stored version
	// equals expectedVersion. Returns ErrStaleVersion on mismatch and
	// ErrWorkflowNotFound if absent.
	Update(ctx context.Context, wf *Workflow, expectedVersion int64) error

	// ListByStatus returns one page of workflows matching q, newest first
	// (created_at, then id, both descending). Page.Next resumes the listing
	// and is empty once the results are exhausted.
	ListByStatus(ctx context.Context, q ListQuery) (*Page, error)
}

// ListQuery selects workflows for ListByStatus. An empty Scope or GroupID
// matches everything; GroupID matches either the organization or the chama.
// Limit is the page size: 0 means DefaultQueryLimit, and it is capped at
// MaxQueryLimit. Cursor is the Next value of the previous page.
type ListQuery struct {
	Status  Status
	Scope   catalog.Scope
	GroupID string
	Limit   int
	Cursor  string
}

func (q ListQuery) matches(wf *Workflow) bool {
	if wf.Status != q.Status {
		return false
	}
	if q.Scope != "" && wf.Scope != q.Scope {
		return false
	}
	if q.GroupID != "" && wf.OrganizationID != q.GroupID && wf.ChamaID != q.GroupID {
		return false
	}
	return true
}

// Page is one page of ListByStatus results.
type Page struct {
	Workflows []*Workflow
	Next      string
}

// ListAll follows page cursors until the listing is exhausted.
func ListAll(ctx context.Context, s Store, q ListQuery) ([]*Workflow, error) {
	var out []*Workflow
	for {
		page, err := s.ListByStatus(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Workflows...)
		if page.Next == "" {
			return out, nil
		}
		q.Cursor = page.Next
	}
}

// keyset is the (created_at, id) position of the last row on a page.
type keyset struct {
	createdAt time.Time
	id        string
}

func encodeKeyset(wf *Workflow) string {
	raw := strconv.FormatInt(wf.CreatedAt.UnixNano(), 10) + ":" + wf.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeKeyset(cursor string) (keyset, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return keyset{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return keyset{}, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return keyset{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return keyset{createdAt: time.Unix(0, n).UTC(), id: id}, nil
}

// after reports whether wf sorts after the cursor position.
func (k keyset) after(wf *Workflow) bool {
	if wf.CreatedAt.Equal(k.createdAt) {
		return wf.ID < k.id
	}
	return wf.CreatedAt.Before(k.createdAt)
}

// pageOf trims a newest-first result to n rows. wfs holds up to n+1 rows;
// the extra row only signals that another page exists.
func pageOf(wfs []*Workflow, n int) *Page {
	if len(wfs) <= n {
		return &Page{Workflows: wfs}
	}
	wfs = wfs[:n]
	return &Page{Workflows: wfs, Next: encodeKeyset(wfs[n-1])}
}

func newestFirst(wfs []*Workflow) {
	sort.Slice(wfs, func(i, j int) bool {
		if !wfs[i].CreatedAt.Equal(wfs[j].CreatedAt) {
			return wfs[i].CreatedAt.After(wfs[j].CreatedAt)
		}
		return wfs[i].ID > wfs[j].ID
	})
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// MemoryStore is an in-process Store. Its lock is held only for the
// duration of a single map read or compare-and-swap.
type MemoryStore struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]*Workflow)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[wf.ID]; ok {
		return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowExists)
	}
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrWorkflowNotFound)
	}
	return wf.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, wf *Workflow, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.workflows[wf.ID]
	if !ok {
		return fmt.Errorf("%s: %w", wf.ID, ErrWorkflowNotFound)
	}
	if existing.Version != expectedVersion {
		return fmt.Errorf("%s: version %d, expected %d: %w", wf.ID, existing.Version, expectedVersion, ErrStaleVersion)
	}
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

// ListByStatus implements Store.
func (s *MemoryStore) ListByStatus(_ context.Context, q ListQuery) (*Page, error) {
	var pos *keyset
	if q.Cursor != "" {
		k, err := decodeKeyset(q.Cursor)
		if err != nil {
			return nil, err
		}
		pos = &k
	}

	s.mu.Lock()
	out := make([]*Workflow, 0)
	for _, wf := range s.workflows {
		if !q.matches(wf) || (pos != nil && !pos.after(wf)) {
			continue
		}
		out = append(out, wf.Clone())
	}
	s.mu.Unlock()

	newestFirst(out)
	return pageOf(out, effectiveLimit(q.Limit)), nil
}
