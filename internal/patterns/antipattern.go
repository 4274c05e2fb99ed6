package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
	"github.com/substratehq/memograph/internal/platform/neo4jdb"
)

const (
	minCycleHops              = 2
	maxCycleHops              = 5
	cycleConfidence           = 0.9
	godObjectComplexity       = 20
	severeGodComplexity       = 30
	extremeGodComplexity      = 50
	abandonedAgeDays          = 90
	minAbandonedCount         = 5
	queryBurstSize            = 10
	queryBurstSeconds         = 10
	minQueryBurstCount        = 5
	contextSwitchMinutes      = 30
	minContextSwitchCount     = 10
	antiPatternWorseningFloor = 10
)

// AntiPatternDetector discovers problematic structure and behavior:
// circular dependencies, god objects, abandoned code, query bursts, and
// context switching.
type AntiPatternDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewAntiPatternDetector(graph Graph, log *logger.Logger) *AntiPatternDetector {
	return &AntiPatternDetector{graph: graph, log: log.With("detector", "anti_pattern")}
}

func (d *AntiPatternDetector) Type() domain.PatternType { return domain.PatternAnti }

func (d *AntiPatternDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	return runSubDetections(ctx, d.log, []subDetection{
		{"circular_dependencies", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectCircularDependencies(ctx, scope) }},
		{"god_objects", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectGodObjects(ctx, scope) }},
		{"abandoned_code", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectAbandonedCode(ctx, scope) }},
		{"query_bursts", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectQueryBursts(ctx, scope) }},
		{"context_switching", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectContextSwitching(ctx, scope) }},
	})
}

// detectCircularDependencies walks USES_IMPORT cycles of two to five hops.
// Cycle matching has to stay in the graph.
func (d *AntiPatternDetector) detectCircularDependencies(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := codeScopeFilter("c1", scope, params)
	query := fmt.Sprintf(`
MATCH path = (c1:CodeEntity)-[:USES_IMPORT*%d..%d]->(c1)
WHERE c1.type IN ['class', 'module', 'function']`, minCycleHops, maxCycleHops) + filter + `
RETURN c1.name AS startNode, length(path) AS cycleLength
LIMIT 500
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		starts []string
	}
	groups := map[int]*group{}
	for _, row := range rows {
		length := int(neo4jdb.Numeric(row["cycleLength"]))
		g := groups[length]
		if g == nil {
			g = &group{}
			groups[length] = g
		}
		g.starts = append(g.starts, neo4jdb.AsString(row["startNode"]))
	}

	lengths := make([]int, 0, len(groups))
	for l := range groups {
		lengths = append(lengths, l)
	}
	sort.Ints(lengths)

	var out []domain.Pattern
	for _, length := range lengths {
		g := groups[length]
		freq := len(g.starts)
		if freq <= 1 {
			continue
		}
		severity := "medium"
		if length > 3 {
			severity = "high"
		}
		out = append(out, domain.Pattern{
			ID:          fmt.Sprintf("anti-pattern-circular-%d", length),
			Type:        domain.PatternAnti,
			Name:        fmt.Sprintf("Circular Dependency (%d-node cycle)", length),
			Description: fmt.Sprintf("Circular import dependency with %d nodes", length),
			Confidence:  cycleConfidence,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("%d-node dependency cycle", length),
					Weight:      0.8,
					Examples:    capStrings(dedupeStrings(g.starts), 5),
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("Found %d instances", freq),
					Weight:      0.2,
				},
			},
			Metadata: domain.AntiPatternMeta{
				Severity:       severity,
				Impact:         "maintainability",
				Recommendation: "Refactor to break circular dependencies",
				Examples:       capStrings(dedupeStrings(g.starts), 5),
			},
		})
	}
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

// detectGodObjects flags entities whose dependency and method counts sum
// past the complexity threshold.
func (d *AntiPatternDetector) detectGodObjects(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"threshold": godObjectComplexity}
	filter := codeScopeFilter("c", scope, params)
	query := `
MATCH (c:CodeEntity)
WHERE c.type IN ['class', 'function', 'module']` + filter + `
OPTIONAL MATCH (c)-[:CALLS|USES_IMPORT|REFERENCES]->(other)
WITH c, COUNT(DISTINCT other) AS dependencyCount
OPTIONAL MATCH (c)<-[:DEFINED_IN]-(method:CodeEntity {type: 'method'})
WITH c, dependencyCount, COUNT(method) AS methodCount
WITH c, dependencyCount + methodCount AS complexityScore
WHERE complexityScore > $threshold
RETURN c.name AS name, complexityScore
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		scores []float64
		names  []string
	}
	groups := map[string]*group{}
	for _, row := range rows {
		score := neo4jdb.Numeric(row["complexityScore"])
		key := classifyGodObject(score)
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.scores = append(g.scores, score)
		g.names = append(g.names, neo4jdb.AsString(row["name"]))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		avgComplexity, _ := meanStdDev(g.scores)
		severity := "high"
		if strings.Contains(key, "extreme") {
			severity = "critical"
		}
		out = append(out, domain.Pattern{
			ID:          "anti-pattern-" + key,
			Type:        domain.PatternAnti,
			Name:        "God Object: " + key,
			Description: fmt.Sprintf("Entities with excessive responsibilities (avg complexity: %.0f)", avgComplexity),
			Confidence:  0.8,
			Frequency:   len(g.scores),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("Average complexity score: %.0f", avgComplexity),
					Weight:      0.7,
					Examples:    capStrings(g.names, 5),
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("%d god objects found", len(g.scores)),
					Weight:      0.3,
				},
			},
			Metadata: domain.AntiPatternMeta{
				Severity:       severity,
				Impact:         "maintainability, testability",
				Recommendation: "Split responsibilities using Single Responsibility Principle",
				Examples:       capStrings(g.names, 5),
			},
		})
	}
	return out, nil
}

func classifyGodObject(complexity float64) string {
	switch {
	case complexity > extremeGodComplexity:
		return "extreme-god-object"
	case complexity > severeGodComplexity:
		return "severe-god-object"
	default:
		return "god-object"
	}
}

// detectAbandonedCode finds entities older than 90 days with no memory
// references in the same window.
func (d *AntiPatternDetector) detectAbandonedCode(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"ageDays": abandonedAgeDays}
	filter := codeScopeFilter("c", scope, params)
	query := `
MATCH (c:CodeEntity)
WHERE c.created_at IS NOT NULL` + filter + `
OPTIONAL MATCH (m:Memory)-[:REFERENCES_CODE|DISCUSSES]->(c)
WHERE datetime(m.created_at) > datetime() - duration({days: $ageDays})
WITH c, COUNT(m) AS recentReferences
WHERE recentReferences = 0
  AND datetime(c.created_at) < datetime() - duration({days: $ageDays})
RETURN c.type AS entityType, c.name AS name
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	groups := map[string][]string{}
	for _, row := range rows {
		entityType := neo4jdb.AsString(row["entityType"])
		groups[entityType] = append(groups[entityType], neo4jdb.AsString(row["name"]))
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []domain.Pattern
	for _, entityType := range types {
		names := groups[entityType]
		if len(names) <= minAbandonedCount {
			continue
		}
		out = append(out, domain.Pattern{
			ID:          "anti-pattern-abandoned-" + entityType,
			Type:        domain.PatternAnti,
			Name:        "Abandoned Code: " + entityType,
			Description: fmt.Sprintf("%d %s entities with no recent activity", len(names), entityType),
			Confidence:  0.7,
			Frequency:   len(names),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("No references in last %d days", abandonedAgeDays),
					Weight:      0.6,
					Examples:    capStrings(names, 10),
				},
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("%d abandoned entities", len(names)),
					Weight:      0.4,
				},
			},
			Metadata: domain.AntiPatternMeta{
				Severity:       "medium",
				Impact:         "technical debt",
				Recommendation: "Review and consider removing unused code",
				Examples:       capStrings(names, 10),
			},
		})
	}
	return out, nil
}

// detectQueryBursts flags windows of ten memories created within ten
// seconds, a shape that usually means automated or runaway ingestion.
func (d *AntiPatternDetector) detectQueryBursts(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.created_at IS NOT NULL` + filter + `
RETURN m.created_at AS createdAt
ORDER BY m.created_at
LIMIT 2000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	times := timesFromRows(rows, "createdAt")

	var durations []float64
	for i := 0; i+queryBurstSize-1 < len(times); i++ {
		span := times[i+queryBurstSize-1].Sub(times[i])
		if span < time.Duration(queryBurstSeconds)*time.Second {
			durations = append(durations, span.Seconds())
		}
	}
	if len(durations) <= minQueryBurstCount {
		return nil, nil
	}
	avgDuration, _ := meanStdDev(durations)
	return []domain.Pattern{{
		ID:          "anti-pattern-memory-burst",
		Type:        domain.PatternAnti,
		Name:        "Memory Query Burst Pattern",
		Description: fmt.Sprintf("Detected %d burst patterns indicating potential inefficient queries", len(durations)),
		Confidence:  0.6,
		Frequency:   len(durations),
		Evidence: []domain.Evidence{
			{
				Type:        domain.EvidenceTemporal,
				Description: fmt.Sprintf("Average burst duration: %.1fs", avgDuration),
				Weight:      0.7,
			},
			{
				Type:        domain.EvidenceOutcome,
				Description: "May indicate N+1 query problems",
				Weight:      0.3,
			},
		},
		Metadata: domain.AntiPatternMeta{
			Severity:       "medium",
			Impact:         "performance",
			Recommendation: "Review query patterns and consider batching",
		},
	}}, nil
}

// detectContextSwitching counts rapid project changes between consecutive
// memories.
func (d *AntiPatternDetector) detectContextSwitching(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)
WHERE m1.created_at IS NOT NULL` + filter + `
RETURN m1.project_name AS project, m1.created_at AS createdAt
ORDER BY m1.created_at
LIMIT 1000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type event struct {
		project string
		at      time.Time
	}
	events := make([]event, 0, len(rows))
	for _, row := range rows {
		at := neo4jdb.AsTime(row["createdAt"])
		if at.IsZero() {
			continue
		}
		events = append(events, event{project: neo4jdb.AsString(row["project"]), at: at})
	}

	var gaps []float64
	projects := map[string]bool{}
	for i := 1; i < len(events); i++ {
		if events[i].project == events[i-1].project {
			continue
		}
		gap := events[i].at.Sub(events[i-1].at).Minutes()
		if gap >= contextSwitchMinutes {
			continue
		}
		gaps = append(gaps, gap)
		projects[events[i-1].project] = true
	}
	if len(gaps) <= minContextSwitchCount {
		return nil, nil
	}
	avgGap, _ := meanStdDev(gaps)
	names := make([]string, 0, len(projects))
	for p := range projects {
		names = append(names, p)
	}
	sort.Strings(names)
	names = capStrings(names, 5)

	return []domain.Pattern{{
		ID:          "anti-pattern-context-switching",
		Type:        domain.PatternAnti,
		Name:        "Excessive Context Switching",
		Description: fmt.Sprintf("%d rapid project switches (avg %.0fmin)", len(gaps), avgGap),
		Confidence:  0.7,
		Frequency:   len(gaps),
		Evidence: []domain.Evidence{
			{
				Type:        domain.EvidenceTemporal,
				Description: fmt.Sprintf("Average switch time: %.0f minutes", avgGap),
				Weight:      0.5,
			},
			{
				Type:        domain.EvidenceOutcome,
				Description: "Switching between: " + strings.Join(names, ", "),
				Weight:      0.5,
				Examples:    names,
			},
		},
		Metadata: domain.AntiPatternMeta{
			Severity:       "medium",
			Impact:         "productivity",
			Recommendation: "Consider longer focused work sessions per project",
		},
	}}, nil
}

// ValidatePattern inverts the usual reading: an anti-pattern that keeps
// growing gets more confident, one that shrinks is being addressed.
func (d *AntiPatternDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	rows, err := d.graph.Read(ctx, `
MATCH (c:CodeEntity)
WHERE c.type IN ['class', 'interface', 'function', 'module']
RETURN COUNT(c) AS entityCount
`, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	var count float64
	if len(rows) > 0 {
		count = neo4jdb.Numeric(rows[0]["entityCount"])
	}
	delta := -validationNudge
	if p.Frequency > antiPatternWorseningFloor {
		delta = validationNudge
	}
	return domain.Validation{
		StillValid:      count > 0,
		ConfidenceDelta: delta,
	}, nil
}
