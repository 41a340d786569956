package orchestrator

import (
	"context"
	"errors"

	"github.com/tyouritsugun/curated-heuristic-loop/internal/provider"
)

type fakeProvider struct {
	name          provider.Name
	available     bool
	searchResults []provider.Result
	searchErr     error
	searchCalls   int
	dupeResults   []provider.Result
	dupeErr       error
	rebuildErr    error
	rebuildCalls  int
}

func (f *fakeProvider) Name() provider.Name { return f.name }
func (f *fakeProvider) Available(_ context.Context) bool { return f.available }

func (f *fakeProvider) Search(_ context.Context, _ provider.SearchQuery) ([]provider.Result, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults, nil
}

func (f *fakeProvider) FindDuplicates(_ context.Context, _ provider.DuplicateQuery) ([]provider.Result, error) {
	if f.dupeErr != nil {
		return nil, f.dupeErr
	}
	return f.dupeResults, nil
}

func (f *fakeProvider) RebuildIndex(_ context.Context) error {
	f.rebuildCalls++
	return f.rebuildErr
}

var _ provider.SearchProvider = (*fakeProvider)(nil)

var errProviderBoom = errors.New("provider boom")
