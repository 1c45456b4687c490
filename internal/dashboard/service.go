package dashboard

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/campus-sis/campus-sis/internal/auth"
	"github.com/campus-sis/campus-sis/internal/authapi"
	"github.com/campus-sis/campus-sis/internal/authz"
	"github.com/campus-sis/campus-sis/internal/directory"
	"github.com/campus-sis/campus-sis/internal/identity"
)

const recentSigninsLimit = 8

// Service assembles the data behind the dashboard.
type Service struct {
	directory *directory.Service
	repo      auth.Repository
	logger    *slog.Logger
}

// NewService constructs the dashboard service.
func NewService(dir *directory.Service, repo auth.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{directory: dir, repo: repo, logger: logger}
}

// Overview is everything the dashboard shows for one user. Parts load
// independently; when one fails its OK flag stays false and the page shows a
// placeholder for that part instead of the whole dashboard going down.
type Overview struct {
	Stats      authapi.Stats
	StatsOK    bool
	Signins    auth.SigninStats
	SigninsOK  bool
	MySections []authapi.Section
	SectionsOK bool
	Recent     []auth.SigninEvent
	RecentOK   bool
}

// Overview loads the dashboard parts the given user is allowed to see.
func (s *Service) Overview(ctx context.Context, user *identity.Profile) (Overview, error) {
	var ov Overview
	if user == nil {
		return ov, nil
	}

	g, ctx := errgroup.WithContext(ctx)

	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleAdmin, identity.RoleFaculty}}) {
		g.Go(func() error {
			stats, err := s.directory.Stats(ctx)
			if err != nil {
				return s.part(ctx, "directory stats", err)
			}
			ov.Stats = stats
			ov.StatsOK = true
			return nil
		})
	}

	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleAdmin}}) {
		g.Go(func() error {
			stats, err := s.repo.SigninStats(ctx, time.Now().UTC())
			if err != nil {
				return s.part(ctx, "signin stats", err)
			}
			ov.Signins = stats
			ov.SigninsOK = true
			return nil
		})
		g.Go(func() error {
			recent, err := s.repo.RecentSignins(ctx, recentSigninsLimit)
			if err != nil {
				return s.part(ctx, "recent signins", err)
			}
			ov.Recent = recent
			ov.RecentOK = true
			return nil
		})
	}

	if authz.Authorize(user, authz.Requirement{Roles: []identity.Role{identity.RoleFaculty, identity.RoleStudent}}) {
		g.Go(func() error {
			sections, err := s.directory.Sections(ctx)
			if err != nil {
				return s.part(ctx, "sections", err)
			}
			var mine []authapi.Section
			for _, sec := range sections {
				if user.CanAccessSection(sec.Code) {
					mine = append(mine, sec)
				}
			}
			ov.MySections = mine
			ov.SectionsOK = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return ov, nil
}

// Stats exposes the cached directory counts for the JSON endpoint.
func (s *Service) Stats(ctx context.Context) (authapi.Stats, error) {
	return s.directory.Stats(ctx)
}

// RecentRollups lists the latest nightly aggregates for the jobs page.
func (s *Service) RecentRollups(ctx context.Context, limit int) ([]auth.RollupRow, error) {
	return s.repo.RecentRollups(ctx, limit)
}

// part degrades one failed dashboard part to a placeholder unless the whole
// request is already being torn down.
func (s *Service) part(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	s.logger.Warn("dashboard part unavailable", slog.String("part", name), slog.Any("error", err))
	return nil
}
