package patterns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
)

// Store is the persistence surface the engine needs. *PatternStore is the
// production implementation.
type Store interface {
	StorePattern(ctx context.Context, p domain.Pattern, tenancy domain.Tenancy) error
	ActivePatterns(ctx context.Context) ([]domain.StoredPattern, error)
	UpdatePatternConfidence(ctx context.Context, id string, confidence float64, stillValid bool) error
	MarkInvalidated(ctx context.Context, ids []string) error
}

// RunRecorder persists an audit row per engine run. Nil-safe: a nil
// recorder disables auditing.
type RunRecorder interface {
	Record(ctx context.Context, run *domain.DiscoveryRun) error
}

// ValidationReport partitions the stored patterns after a validation pass.
// Strengthened patterns also appear in Validated.
type ValidationReport struct {
	Validated    []domain.StoredPattern
	Invalidated  []domain.StoredPattern
	Strengthened []domain.StoredPattern
}

// Engine runs every detector against the graph, ranks what they find, and
// persists the survivors. Detector failures are isolated: one broken
// detector costs its own patterns, nothing else.
type Engine struct {
	detectors       []Detector
	registry        map[domain.PatternType]Detector
	store           Store
	runs            RunRecorder
	detectorTimeout time.Duration
	log             *logger.Logger
}

// NewEngine wires the full detector set. The five core detectors double as
// the validation routes for their pattern type. A positive detectorTimeout
// bounds each detector's full sub-detection pass; zero disables the bound.
func NewEngine(graph Graph, store Store, runs RunRecorder, detectorTimeout time.Duration, log *logger.Logger) *Engine {
	temporal := NewTemporalDetector(graph, log)
	debugging := NewDebuggingDetector(graph, log)
	learning := NewLearningDetector(graph, log)
	architecture := NewArchitectureDetector(graph, log)
	anti := NewAntiPatternDetector(graph, log)

	return &Engine{
		detectors: []Detector{
			temporal,
			debugging,
			learning,
			architecture,
			anti,
			NewMemoryCodeDetector(graph, log),
			NewMemoryMemoryDetector(graph, log),
			NewSequenceDetector(graph, log),
		},
		registry: map[domain.PatternType]Detector{
			domain.PatternTemporal:     temporal,
			domain.PatternDebugging:    debugging,
			domain.PatternLearning:     learning,
			domain.PatternArchitecture: architecture,
			domain.PatternAnti:         anti,
		},
		store:           store,
		runs:            runs,
		detectorTimeout: detectorTimeout,
		log:             log.With("component", "pattern_engine"),
	}
}

// DiscoverPatterns runs all detectors concurrently, filters by the scope's
// minimum confidence, ranks by confidence times frequency, and persists the
// result. Persistence failures do not stop the remaining upserts, but they
// are joined and returned alongside the ranked slice: a dropped pattern
// must be visible to the caller.
func (e *Engine) DiscoverPatterns(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	start := time.Now()
	e.log.Info("starting pattern discovery",
		"workspace_id", scope.WorkspaceID,
		"project_name", scope.ProjectName,
	)

	var (
		mu      sync.Mutex
		found   []domain.Pattern
		skipped int
		failed  []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(e.detectors))
	for _, det := range e.detectors {
		det := det
		g.Go(func() error {
			dctx := gctx
			if e.detectorTimeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(gctx, e.detectorTimeout)
				defer cancel()
			}
			res, err := det.DetectPatterns(dctx, scope)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Warn("detector failed", "type", det.Type(), "error", err)
				failed = append(failed, string(det.Type()))
				return nil
			}
			found = append(found, res.Patterns...)
			skipped += res.Skipped
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := rankPatterns(filterByConfidence(found, scope.MinConfidence))

	e.log.Info("pattern discovery completed",
		"total_patterns", len(ranked),
		"skipped_sub_detections", skipped,
		"failed_detectors", len(failed),
		"elapsed", time.Since(start),
	)

	tenancy := domain.Tenancy{WorkspaceID: scope.WorkspaceID, UserID: scope.UserID}
	stored := 0
	var storeErrs []error
	for _, p := range ranked {
		if err := ctx.Err(); err != nil {
			return ranked, err
		}
		if err := e.store.StorePattern(ctx, p, tenancy); err != nil {
			e.log.Error("failed to store pattern", "pattern_id", p.ID, "error", err)
			storeErrs = append(storeErrs, fmt.Errorf("store pattern %s: %w", p.ID, err))
			continue
		}
		stored++
	}

	storeErr := errors.Join(storeErrs...)
	e.recordRun(ctx, domain.RunKindDiscovery, scope, start, stored, skipped, failed, storeErr)
	return ranked, storeErr
}

// DiscoverPatternsByType runs the single core detector for the given type.
func (e *Engine) DiscoverPatternsByType(ctx context.Context, t domain.PatternType, scope domain.Scope) ([]domain.Pattern, error) {
	det, ok := e.registry[t]
	if !ok {
		return nil, fmt.Errorf("unknown pattern type: %s", t)
	}
	res, err := det.DetectPatterns(ctx, scope)
	if err != nil {
		return nil, err
	}
	return rankPatterns(filterByConfidence(res.Patterns, scope.MinConfidence)), nil
}

// ValidatePatterns re-checks every active stored pattern with its type's
// detector and updates statuses. A pattern whose type has no validation
// route, or whose store update fails, is left untouched.
func (e *Engine) ValidatePatterns(ctx context.Context) (ValidationReport, error) {
	start := time.Now()
	e.log.Info("validating existing patterns")
	var report ValidationReport

	active, err := e.store.ActivePatterns(ctx)
	if err != nil {
		return report, err
	}

	var invalidatedIDs []string
	for _, sp := range active {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		det, ok := e.registry[sp.Type]
		if !ok {
			continue
		}
		validation, err := det.ValidatePattern(ctx, sp.Pattern)
		if err != nil {
			e.log.Warn("pattern validation failed", "pattern_id", sp.ID, "error", err)
			continue
		}
		if !validation.StillValid {
			report.Invalidated = append(report.Invalidated, sp)
			invalidatedIDs = append(invalidatedIDs, sp.ID)
			continue
		}
		report.Validated = append(report.Validated, sp)
		if validation.ConfidenceDelta > 0 {
			strengthened := sp
			strengthened.Confidence = domain.ClampConfidence(sp.Confidence + validation.ConfidenceDelta)
			if err := e.store.UpdatePatternConfidence(ctx, sp.ID, strengthened.Confidence, true); err != nil {
				e.log.Error("failed to strengthen pattern", "pattern_id", sp.ID, "error", err)
				continue
			}
			report.Strengthened = append(report.Strengthened, strengthened)
		}
	}

	if len(invalidatedIDs) > 0 {
		if err := e.store.MarkInvalidated(ctx, invalidatedIDs); err != nil {
			e.log.Error("failed to mark invalidated patterns", "count", len(invalidatedIDs), "error", err)
		}
	}

	e.log.Info("pattern validation completed",
		"validated", len(report.Validated),
		"invalidated", len(report.Invalidated),
		"strengthened", len(report.Strengthened),
	)
	e.recordRun(ctx, domain.RunKindValidation, domain.Scope{}, start, len(report.Validated), 0, nil, nil)
	return report, nil
}

func (e *Engine) recordRun(ctx context.Context, kind string, scope domain.Scope, started time.Time, patternCount, skipped int, failed []string, runErr error) {
	if e.runs == nil {
		return
	}
	run := &domain.DiscoveryRun{
		Kind:                 kind,
		WorkspaceID:          scope.WorkspaceID,
		ProjectName:          scope.ProjectName,
		StartedAt:            started.UTC(),
		FinishedAt:           time.Now().UTC(),
		PatternCount:         patternCount,
		SkippedSubDetections: skipped,
		FailedDetectors:      strings.Join(failed, ","),
	}
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}
	if err := e.runs.Record(ctx, run); err != nil {
		e.log.Warn("failed to record discovery run", "kind", kind, "error", err)
	}
}

func filterByConfidence(patterns []domain.Pattern, minConfidence float64) []domain.Pattern {
	if minConfidence <= 0 {
		return patterns
	}
	out := make([]domain.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}
	return out
}

// rankPatterns orders by confidence*frequency descending with the pattern
// id as a deterministic tie-break.
func rankPatterns(patterns []domain.Pattern) []domain.Pattern {
	sort.SliceStable(patterns, func(i, j int) bool {
		a := patterns[i].Confidence * float64(patterns[i].Frequency)
		b := patterns[j].Confidence * float64(patterns[j].Frequency)
		if a != b {
			return a > b
		}
		return patterns[i].ID < patterns[j].ID
	})
	return patterns
}
