package patterns

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
)

// Graph is the injected graph-store capability. The production
// implementation is neo4jdb.Client; tests substitute an in-memory fake.
type Graph interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Write(ctx context.Context, cypher string, params map[string]any) error
}

// Result is a detector's output: every pattern whose sub-detection
// succeeded, plus the number of sub-detections that were skipped because
// their query failed.
type Result struct {
	Patterns []domain.Pattern
	Skipped  int
}

// Detector is the contract every detection strategy implements. Both
// methods are safe for concurrent use; DetectPatterns is read-only against
// the graph except for the relationship detectors, which also merge
// relationship edges for their highest-confidence examples.
type Detector interface {
	Type() domain.PatternType
	DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error)
	ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error)
}

// Uniform validation nudge applied when a pattern's proxy signal moved.
const validationNudge = 0.1

type subDetection struct {
	name string
	run  func(ctx context.Context) ([]domain.Pattern, error)
}

// runSubDetections executes a detector's sub-detections sequentially with
// isolated failure domains: one failing query is logged and counted, never
// propagated. Cancellation is the only way out early.
func runSubDetections(ctx context.Context, log *logger.Logger, subs []subDetection) (Result, error) {
	var res Result
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		found, err := sub.run(ctx)
		if err != nil {
			log.Warn("sub-detection skipped", "sub_detection", sub.name, "error", err)
			res.Skipped++
			continue
		}
		res.Patterns = append(res.Patterns, found...)
	}
	return res, nil
}

// frequencyScore maps an occurrence count onto [0,1] on a log scale;
// divisor 3 saturates around 1000 occurrences, divisor 2 around 100.
func frequencyScore(frequency, divisor float64) float64 {
	return math.Min(math.Log10(frequency+1)/divisor, 1)
}

// consistencyScore rewards tight gap distributions: 1/(1+sigma/mu).
func consistencyScore(stdDev, avg float64) float64 {
	if stdDev <= 0 || avg <= 0 {
		return 1
	}
	return 1 / (1 + stdDev/avg)
}

func meanStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	stdDev = math.Sqrt(sq / float64(len(values)-1))
	return mean, stdDev
}

// keywordCondition builds the Cypher OR-chain for content keyword matching.
func keywordCondition(field string, keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		parts = append(parts, fmt.Sprintf("toLower(%s) CONTAINS '%s'", field, kw))
	}
	return strings.Join(parts, " OR ")
}

func containsAnyKeyword(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func formatMinutes(minutes float64) string {
	switch {
	case minutes < 60:
		return fmt.Sprintf("%.0f minutes", minutes)
	case minutes < 1440:
		return fmt.Sprintf("%.1f hours", minutes/60)
	default:
		return fmt.Sprintf("%.1f days", minutes/1440)
	}
}

// scopeFilter appends optional scope predicates for the given node alias.
// Parameters are only referenced when set, so queries stay valid without a
// scope.
func scopeFilter(alias string, scope domain.Scope, params map[string]any) string {
	var b strings.Builder
	if scope.WorkspaceID != "" {
		fmt.Fprintf(&b, " AND %s.workspace_id = $workspaceId", alias)
		params["workspaceId"] = scope.WorkspaceID
	}
	if scope.UserID != "" {
		fmt.Fprintf(&b, " AND %s.user_id = $userId", alias)
		params["userId"] = scope.UserID
	}
	if scope.ProjectName != "" {
		fmt.Fprintf(&b, " AND %s.project_name = $projectName", alias)
		params["projectName"] = scope.ProjectName
	}
	if scope.TimeRange != nil {
		fmt.Fprintf(&b, " AND datetime(%s.created_at) >= datetime($rangeStart) AND datetime(%s.created_at) <= datetime($rangeEnd)", alias, alias)
		params["rangeStart"] = scope.TimeRange.Start.UTC().Format("2006-01-02T15:04:05Z07:00")
		params["rangeEnd"] = scope.TimeRange.End.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return b.String()
}
