package pkgclient

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"rmakedrv/recipe"
)

// Mock is an in-memory Client used by tests, grounded on the teacher's
// "mock" environment backend (environment.Environment's test-mode
// implementation): no actual repository, just maps pre-seeded by the
// caller.
type Mock struct {
	mu sync.Mutex

	Recipes       map[string]recipe.Spec   // portList entry -> spec
	Resolutions   map[recipe.Triple][2][]recipe.Triple // triple -> [buildReqs, crossReqs]
	Repository    map[recipe.Triple]bool
	RecordedReqs  map[recipe.Triple][]recipe.Triple
	ResolveErrors map[recipe.Triple]error

	Changesets    map[string]string // changeset id -> opaque contents
	FetchCount    map[string]int    // changeset id -> number of FetchChangeset calls, for cache-hit assertions
	Applied       []AppliedChangeset
}

// AppliedChangeset records one ApplyChangeset call for test assertions.
type AppliedChangeset struct {
	Data     string
	DestPath string
}

// NewMock creates an empty Mock ready to be populated by a test.
func NewMock() *Mock {
	return &Mock{
		Recipes:       make(map[string]recipe.Spec),
		Resolutions:   make(map[recipe.Triple][2][]recipe.Triple),
		Repository:    make(map[recipe.Triple]bool),
		RecordedReqs:  make(map[recipe.Triple][]recipe.Triple),
		ResolveErrors: make(map[recipe.Triple]error),
		Changesets:    make(map[string]string),
		FetchCount:    make(map[string]int),
	}
}

// SetChangeset registers the opaque contents FetchChangeset returns for id.
func (m *Mock) SetChangeset(id, contents string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Changesets[id] = contents
	return m
}

// AddRecipe registers a recipe spec to be returned by LoadRecipes for the
// given portList entry.
func (m *Mock) AddRecipe(portListEntry string, spec recipe.Spec) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Recipes[portListEntry] = spec
	return m
}

// SetResolution pre-seeds the resolve result for a recipe triple.
func (m *Mock) SetResolution(t recipe.Triple, buildReqs, crossReqs []recipe.Triple) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resolutions[t] = [2][]recipe.Triple{buildReqs, crossReqs}
	return m
}

// SetInRepository marks a triple as already present externally.
func (m *Mock) SetInRepository(t recipe.Triple) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Repository[t] = true
	return m
}

// SetRecordedBuildRequirements pre-seeds the recorded requirements used
// for prebuilt-reuse matching.
func (m *Mock) SetRecordedBuildRequirements(t recipe.Triple, reqs []recipe.Triple) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RecordedReqs[t] = reqs
	return m
}

func (m *Mock) LoadRecipes(portList []string) ([]recipe.Spec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []recipe.Spec
	for _, entry := range portList {
		spec, ok := m.Recipes[entry]
		if !ok {
			return nil, fmt.Errorf("pkgclient mock: no recipe registered for %q", entry)
		}
		out = append(out, spec)
	}
	return out, nil
}

func (m *Mock) Resolve(spec recipe.Spec) ([]recipe.Triple, []recipe.Triple, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.ResolveErrors[spec.Triple]; ok {
		return nil, nil, err
	}
	r, ok := m.Resolutions[spec.Triple]
	if !ok {
		return nil, nil, nil
	}
	return r[0], r[1], nil
}

func (m *Mock) RepositoryHasTrove(t recipe.Triple) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Repository[t]
}

func (m *Mock) RecordedBuildRequirements(t recipe.Triple) ([]recipe.Triple, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs, ok := m.RecordedReqs[t]
	return reqs, ok
}

func (m *Mock) FetchChangeset(id string) (io.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCount[id]++
	contents, ok := m.Changesets[id]
	if !ok {
		return nil, fmt.Errorf("pkgclient mock: no changeset registered for %q", id)
	}
	return strings.NewReader(contents), nil
}

func (m *Mock) ApplyChangeset(data io.Reader, destPath string) error {
	contents, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Applied = append(m.Applied, AppliedChangeset{Data: string(contents), DestPath: destPath})
	return nil
}
