package reporting

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// RepositoryPort supplies stored order totals.
type RepositoryPort interface {
	OrderTotals(ctx context.Context, filter Filter) ([]OrderTotals, error)
}

// Service groups stored order totals. It performs no recomputation of its own.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs Service. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Daily sums order totals per calendar day (UTC).
func (s *Service) Daily(ctx context.Context, filter Filter) (Summary, error) {
	return s.summary(ctx, ByDay, filter)
}

// Monthly sums order totals per year and month.
func (s *Service) Monthly(ctx context.Context, filter Filter) (Summary, error) {
	return s.summary(ctx, ByMonth, filter)
}

// ByParty sums order totals per party.
func (s *Service) ByParty(ctx context.Context, filter Filter) (Summary, error) {
	return s.summary(ctx, ByParty, filter)
}

// ByEmployee sums order totals per selling employee.
func (s *Service) ByEmployee(ctx context.Context, filter Filter) (Summary, error) {
	return s.summary(ctx, ByEmployee, filter)
}

// Dashboard loads the four summaries concurrently.
func (s *Service) Dashboard(ctx context.Context, filter Filter) (Dashboard, error) {
	if err := filter.Validate(); err != nil {
		return Dashboard{}, err
	}
	var out Dashboard
	g, ctx := errgroup.WithContext(ctx)
	targets := []struct {
		dim  Dimension
		dest *Summary
	}{
		{ByDay, &out.Daily},
		{ByMonth, &out.Monthly},
		{ByParty, &out.ByParty},
		{ByEmployee, &out.ByEmployee},
	}
	for _, t := range targets {
		g.Go(func() error {
			summary, err := s.summary(ctx, t.dim, filter)
			if err != nil {
				return err
			}
			*t.dest = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}

func (s *Service) summary(ctx context.Context, dim Dimension, filter Filter) (Summary, error) {
	if err := filter.Validate(); err != nil {
		return Summary{}, err
	}
	key, err := s.cache.BuildKey(ctx, string(dim), filter.token())
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.String("dimension", string(dim)), slog.Any("error", err))
		return s.load(ctx, dim, filter)
	}
	var out Summary
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.load(ctx, dim, filter)
	})
	if err != nil {
		return Summary{}, err
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, dim Dimension, filter Filter) (Summary, error) {
	orders, err := s.repo.OrderTotals(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	return Group(dim, orders), nil
}
