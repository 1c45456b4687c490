package directory

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/singleflight"

	"github.com/campus-sis/campus-sis/internal/authapi"
)

// Service reads roster data from the auth service through the cache. A cold
// key is loaded exactly once even under concurrent page loads.
type Service struct {
	api   authapi.Client
	cache *Cache
	group singleflight.Group
}

// NewService constructs a Service.
func NewService(api authapi.Client, cache *Cache) *Service {
	return &Service{api: api, cache: cache}
}

// Stats returns the directory headcount snapshot.
func (s *Service) Stats(ctx context.Context) (authapi.Stats, error) {
	var stats authapi.Stats
	err := s.fetch(ctx, &stats, func(ctx context.Context) (interface{}, error) {
		return s.api.DirectoryStats(ctx)
	}, "directory", "stats")
	return stats, err
}

// Sections lists every class section.
func (s *Service) Sections(ctx context.Context) ([]authapi.Section, error) {
	var sections []authapi.Section
	err := s.fetch(ctx, &sections, func(ctx context.Context) (interface{}, error) {
		return s.api.Sections(ctx)
	}, "directory", "sections")
	return sections, err
}

// Section returns one class section by code.
func (s *Service) Section(ctx context.Context, code string) (*authapi.Section, error) {
	var section authapi.Section
	err := s.fetch(ctx, &section, func(ctx context.Context) (interface{}, error) {
		return s.api.Section(ctx, code)
	}, "directory", "section", code)
	if err != nil {
		return nil, err
	}
	return &section, nil
}

// Invalidate drops every cached read across all processes.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// fetch runs the cached load under singleflight, keyed by the versioned
// cache key, so one slow auth service call serves all waiters. The flight
// carries raw JSON; every waiter decodes into its own destination.
func (s *Service) fetch(ctx context.Context, dest interface{}, loader func(context.Context) (interface{}, error), keyParts ...string) error {
	key, err := s.cache.BuildKey(ctx, keyParts...)
	if err != nil {
		return err
	}
	resultChan := s.group.DoChan(key, func() (interface{}, error) {
		var raw json.RawMessage
		if err := s.cache.FetchJSON(ctx, key, &raw, loader); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.(json.RawMessage), dest)
	}
}
