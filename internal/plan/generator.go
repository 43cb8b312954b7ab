package plan

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/log"
)

// Provider drafts one plan graph for a goal under a variance setting.
type Provider interface {
	Draft(ctx context.Context, goal string, variance VarianceConfig) (*graph.Graph, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, goal string, variance VarianceConfig) (*graph.Graph, error)

// Draft calls f.
func (f ProviderFunc) Draft(ctx context.Context, goal string, variance VarianceConfig) (*graph.Graph, error) {
	return f(ctx, goal, variance)
}

// Generator asks a provider for several drafts concurrently.
type Generator struct {
	provider    Provider
	parallelism int
	logger      *log.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithParallelism bounds concurrent provider calls. Zero means one call
// per candidate.
func WithParallelism(n int) GeneratorOption {
	return func(g *Generator) { g.parallelism = n }
}

// WithGeneratorLogger sets the logger.
func WithGeneratorLogger(l *log.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a generator for the provider.
func NewGenerator(p Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{provider: p}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = log.OrDiscard(g.logger)
	return g
}

// Generate returns exactly count candidates in variance order. Each draft is
// cloned so candidates share no nodes, then validated. Drafts that fail are
// kept as rejected candidates. Only context cancellation fails the call.
func (g *Generator) Generate(ctx context.Context, goal string, count int, strategy Strategy) ([]Candidate, error) {
	configs, err := VarianceConfigs(strategy, count)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePlanGeneration, "invalid generation request", err)
	}

	candidates := make([]Candidate, count)
	eg, egCtx := errgroup.WithContext(ctx)
	limit := g.parallelism
	if limit <= 0 {
		limit = count
	}
	eg.SetLimit(limit)

	for i, cfg := range configs {
		i, cfg := i, cfg
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			candidates[i] = g.draft(egCtx, goal, i, cfg)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (g *Generator) draft(ctx context.Context, goal string, i int, cfg VarianceConfig) Candidate {
	c := Candidate{ID: candidateID(i), Variance: cfg}
	logger := g.logger.ForCandidate(c.ID)

	draft, err := g.provider.Draft(ctx, goal, cfg)
	if errors.HasCode(err, errors.ErrCodeGraphCycle) {
		logger.Warn("rejecting cyclic draft", "error", err)
		return c.reject(err)
	}
	if err != nil {
		logger.Warn("provider failed to draft plan", "variance", cfg.String(), "error", err)
		return c.reject(errors.Wrap(errors.ErrCodePlanGeneration, fmt.Sprintf("draft %s", c.ID), err))
	}
	if draft == nil {
		return c.reject(errors.New(errors.ErrCodePlanGeneration, fmt.Sprintf("provider returned no graph for %s", c.ID)))
	}

	c.Graph = draft.Clone()
	if err := c.Graph.Validate(); err != nil {
		logger.Warn("rejecting cyclic draft", "error", err)
		return c.reject(err)
	}
	logger.Debug("drafted plan", "variance", cfg.String(), "nodes", c.Graph.Len())
	return c
}
