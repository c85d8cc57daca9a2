package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/metrics"
)

var tracer = otel.Tracer("buildcheck-catalog")

// Source assembles snapshots for validation runs. The category tree,
// templates and rules are cached per tenant; parts are fetched per run for
// the ids a selection references.
type Source struct {
	repo  domain.Repository
	cache domain.Cache
	opts  Options
	ttl   time.Duration
}

// NewSource creates a snapshot source. cache may be nil.
func NewSource(repo domain.Repository, cache domain.Cache, opts Options, ttl time.Duration) *Source {
	if ttl <= 0 {
		ttl = domain.DefaultEngineConfig().SnapshotTTL
	}
	return &Source{repo: repo, cache: cache, opts: opts, ttl: ttl}
}

// Load builds a snapshot containing the tenant's schema, rules and the
// requested parts.
func (s *Source) Load(ctx context.Context, tenantID string, partIDs []string) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "catalog.Load",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("parts.requested", len(partIDs)),
		),
	)
	defer span.End()

	base, err := s.schema(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var parts []domain.Part
	if len(partIDs) > 0 {
		parts, err = s.repo.GetParts(ctx, tenantID, partIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load parts: %w", err)
		}
	}

	data := *base
	data.Parts = parts

	snap, err := New(&data, s.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to index catalog: %w", err)
	}
	return snap, nil
}

// Schema returns the tenant's categories, templates and rules without parts.
func (s *Source) Schema(ctx context.Context, tenantID string) (*Snapshot, error) {
	return s.Load(ctx, tenantID, nil)
}

// Invalidate drops the cached schema of a tenant.
func (s *Source) Invalidate(ctx context.Context, tenantID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, tenantID, domain.CatalogCacheKey); err != nil {
		return fmt.Errorf("failed to invalidate catalog cache: %w", err)
	}
	slog.Info("catalog cache invalidated", "tenant_id", tenantID)
	return nil
}

func (s *Source) schema(ctx context.Context, tenantID string) (*domain.CatalogData, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCatalog(ctx, tenantID)
		if err != nil {
			slog.Warn("catalog cache read failed", "tenant_id", tenantID, "error", err)
		} else if cached != nil {
			metrics.SnapshotLoads.WithLabelValues("cache").Inc()
			return cached, nil
		}
	}

	var (
		data    domain.CatalogData
		g, gCtx = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		categories, err := s.repo.ListCategories(gCtx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list categories: %w", err)
		}
		data.Categories = categories
		return nil
	})
	g.Go(func() error {
		templates, err := s.repo.ListTemplates(gCtx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list templates: %w", err)
		}
		data.Templates = templates
		return nil
	})
	g.Go(func() error {
		rules, err := s.repo.ListRules(gCtx, tenantID)
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}
		data.Rules = rules
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.SnapshotLoads.WithLabelValues("repository").Inc()

	if s.cache != nil {
		if err := s.cache.SetCatalog(ctx, tenantID, &data, s.ttl); err != nil {
			slog.Warn("catalog cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return &data, nil
}
