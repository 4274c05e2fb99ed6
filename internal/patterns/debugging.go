package patterns

import (
	"context"
	"fmt"
	"sort"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
	"github.com/substratehq/memograph/internal/platform/neo4jdb"
)

const (
	resolutionWindowHours     = 24
	quickResolutionMinutes    = 30
	moderateResolutionMinutes = 120
	extendedResolutionMinutes = 480
	maxInvestigationHops      = 5
	workflowClusterMinutes    = 120
	minResolutionFrequency    = 2
	minDebuggingPerDay        = 5
	minWorkflowClusterSize    = 3
	minWorkflowFrequency      = 5
)

var (
	debugKeywords = []string{
		"error", "bug", "issue", "problem", "fix", "debug", "resolve",
		"crash", "fail", "broken", "exception", "trace", "investigate",
		"solution", "workaround", "patch", "solved", "fixed", "resolved",
	}
	problemKeywords  = []string{"error", "bug", "issue", "problem", "crash", "fail", "broken", "exception"}
	solutionKeywords = []string{"fix", "resolve", "solution", "solved", "fixed", "resolved", "patch", "workaround"}
)

// DebuggingDetector discovers how problems get identified and resolved:
// problem-to-solution timing, investigation chains, per-day intensity, and
// clustered debugging workflows.
type DebuggingDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewDebuggingDetector(graph Graph, log *logger.Logger) *DebuggingDetector {
	return &DebuggingDetector{graph: graph, log: log.With("detector", "debugging")}
}

func (d *DebuggingDetector) Type() domain.PatternType { return domain.PatternDebugging }

func (d *DebuggingDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	return runSubDetections(ctx, d.log, []subDetection{
		{"problem_resolution", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectProblemResolution(ctx, scope) }},
		{"investigation", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectInvestigation(ctx, scope) }},
		{"intensity", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectIntensity(ctx, scope) }},
		{"workflows", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectWorkflows(ctx, scope) }},
	})
}

// detectProblemResolution pairs problem-flavored memories with
// solution-flavored ones in the same project within 24 hours.
func (d *DebuggingDetector) detectProblemResolution(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"windowHours": resolutionWindowHours}
	filter := scopeFilter("problem", scope, params)
	query := `
MATCH (problem:Memory)
WHERE (` + keywordCondition("problem.content", problemKeywords) + `)
  AND problem.created_at IS NOT NULL` + filter + `
WITH problem
LIMIT 100
MATCH (solution:Memory)
WHERE (` + keywordCondition("solution.content", solutionKeywords) + `)
  AND solution.project_name = problem.project_name
  AND datetime(solution.created_at) > datetime(problem.created_at)
  AND datetime(solution.created_at) <= datetime(problem.created_at) + duration({hours: $windowHours})
WITH problem, solution
LIMIT 500
RETURN problem.id AS problemId,
       solution.id AS solutionId,
       duration.between(datetime(problem.created_at), datetime(solution.created_at)).minutes AS resolutionMinutes
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		times     []float64
		problems  []string
		solutions []string
	}
	groups := map[string]*group{}
	for _, row := range rows {
		minutes := neo4jdb.Numeric(row["resolutionMinutes"])
		key := classifyResolution(minutes)
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.times = append(g.times, minutes)
		g.problems = append(g.problems, neo4jdb.AsString(row["problemId"]))
		g.solutions = append(g.solutions, neo4jdb.AsString(row["solutionId"]))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		freq := len(g.times)
		if freq <= minResolutionFrequency {
			continue
		}
		avgTime, stdDev := meanStdDev(g.times)
		out = append(out, domain.Pattern{
			ID:          "debugging-resolution-" + key,
			Type:        domain.PatternDebugging,
			Name:        "Resolution Pattern: " + key,
			Description: fmt.Sprintf("Problems typically resolved in %.0f±%.0f minutes", avgTime, stdDev),
			Confidence:  debuggingConfidence(float64(freq), avgTime, stdDev),
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: "Average resolution time: " + formatMinutes(avgTime),
					Weight:      0.4,
					Examples:    capStrings(g.problems, 10),
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("%d successful resolutions observed", freq),
					Weight:      0.6,
					Examples:    capStrings(g.solutions, 10),
				},
			},
			Metadata: domain.DebuggingMeta{
				ProblemType:              "general",
				SolutionType:             "general",
				AverageResolutionMinutes: avgTime,
				SuccessRate:              1.0,
			},
		})
	}
	return out, nil
}

func classifyResolution(minutes float64) string {
	switch {
	case minutes < quickResolutionMinutes:
		return "quick-resolution"
	case minutes < moderateResolutionMinutes:
		return "moderate-resolution"
	case minutes < extendedResolutionMinutes:
		return "extended-resolution"
	default:
		return "long-resolution"
	}
}

// detectInvestigation walks PRECEDED_BY chains of debugging memories up to
// five hops and classifies them by depth.
func (d *DebuggingDetector) detectInvestigation(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m1", scope, params)
	query := fmt.Sprintf(`
MATCH path = (m1:Memory)-[:PRECEDED_BY*1..%d]->(m2:Memory)
WHERE ALL(m IN nodes(path) WHERE `, maxInvestigationHops) + keywordCondition("m.content", debugKeywords) + `)
  AND m1.created_at IS NOT NULL
  AND m2.created_at IS NOT NULL` + filter + `
RETURN length(path) AS depth,
       [m IN nodes(path) | m.id] AS sequence,
       duration.between(datetime(nodes(path)[-1].created_at), datetime(nodes(path)[0].created_at)).minutes AS totalMinutes
LIMIT 1000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		depths    []float64
		times     []float64
		sequences []string
	}
	groups := map[string]*group{}
	for _, row := range rows {
		depth := neo4jdb.Numeric(row["depth"])
		key := classifyInvestigation(depth)
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.depths = append(g.depths, depth)
		g.times = append(g.times, neo4jdb.Numeric(row["totalMinutes"]))
		seq := neo4jdb.StringSlice(row["sequence"])
		g.sequences = append(g.sequences, capStrings(seq, 3)...)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		freq := len(g.depths)
		if freq <= minResolutionFrequency {
			continue
		}
		avgDepth, _ := meanStdDev(g.depths)
		avgTime, _ := meanStdDev(g.times)
		out = append(out, domain.Pattern{
			ID:          "debugging-investigation-" + key,
			Type:        domain.PatternDebugging,
			Name:        "Investigation Pattern: " + key,
			Description: fmt.Sprintf("Debugging investigations typically involve %.1f steps over %.0f minutes", avgDepth, avgTime),
			Confidence:  0.7,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("Average investigation depth: %.1f steps", avgDepth),
					Weight:      0.5,
					Examples:    capStrings(g.sequences, 15),
				},
				{
					Type:        domain.EvidenceTemporal,
					Description: "Average time: " + formatMinutes(avgTime),
					Weight:      0.5,
				},
			},
			Metadata: domain.DebuggingMeta{
				ProblemType:              "investigation",
				SolutionType:             "discovery",
				AverageResolutionMinutes: avgTime,
				SuccessRate:              0.8,
				CommonSteps:              []string{key},
			},
		})
	}
	return out, nil
}

func classifyInvestigation(depth float64) string {
	switch {
	case depth == 1:
		return "direct-investigation"
	case depth <= 3:
		return "moderate-investigation"
	default:
		return "deep-investigation"
	}
}

// detectIntensity groups debugging memories by day and classifies the days
// by how many distinct hours were active.
func (d *DebuggingDetector) detectIntensity(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE (` + keywordCondition("m.content", debugKeywords) + `)
  AND m.created_at IS NOT NULL` + filter + `
RETURN toString(date(datetime(m.created_at))) AS day,
       datetime(m.created_at).hour AS hour
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type day struct {
		hours map[int]bool
		count int
	}
	days := map[string]*day{}
	for _, row := range rows {
		key := neo4jdb.AsString(row["day"])
		v := days[key]
		if v == nil {
			v = &day{hours: map[int]bool{}}
			days[key] = v
		}
		v.hours[int(neo4jdb.Numeric(row["hour"]))] = true
		v.count++
	}

	type group struct {
		activeHours []float64
		memories    []float64
	}
	groups := map[string]*group{}
	for _, v := range days {
		if v.count <= minDebuggingPerDay {
			continue
		}
		key := classifyIntensity(len(v.hours))
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.activeHours = append(g.activeHours, float64(len(v.hours)))
		g.memories = append(g.memories, float64(v.count))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		freq := len(g.activeHours)
		if freq <= minResolutionFrequency {
			continue
		}
		avgHours, _ := meanStdDev(g.activeHours)
		avgMemories, _ := meanStdDev(g.memories)
		out = append(out, domain.Pattern{
			ID:          "debugging-intensity-" + key,
			Type:        domain.PatternDebugging,
			Name:        "Debugging Intensity: " + key,
			Description: fmt.Sprintf("Debugging sessions typically span %.1f hours with %.0f related memories", avgHours, avgMemories),
			Confidence:  0.6,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average active hours: %.1f", avgHours),
					Weight:      0.5,
				},
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("Average memories per session: %.0f", avgMemories),
					Weight:      0.5,
				},
			},
			Metadata: domain.DebuggingMeta{
				ProblemType:              "various",
				SolutionType:             "various",
				AverageResolutionMinutes: avgHours * 60,
				SuccessRate:              0.7,
			},
		})
	}
	return out, nil
}

func classifyIntensity(activeHours int) string {
	switch {
	case activeHours <= 2:
		return "focused-debugging"
	case activeHours <= 4:
		return "moderate-debugging"
	default:
		return "extended-debugging"
	}
}

// detectWorkflows measures how clustered debugging memories are: each
// debugging memory's neighborhood is the other debugging memories in the
// same project within two hours.
func (d *DebuggingDetector) detectWorkflows(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{
		"clusterMinutes": workflowClusterMinutes,
		"minClusterSize": minWorkflowClusterSize,
	}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE (` + keywordCondition("m.content", debugKeywords) + `)
  AND m.created_at IS NOT NULL` + filter + `
MATCH (related:Memory)
WHERE (` + keywordCondition("related.content", debugKeywords) + `)
  AND related.project_name = m.project_name
  AND related.id <> m.id
  AND abs(duration.between(datetime(m.created_at), datetime(related.created_at)).minutes) < $clusterMinutes
WITH m, COUNT(related) AS clusterSize
WHERE clusterSize > $minClusterSize
RETURN clusterSize
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	sizes := make([]float64, 0, len(rows))
	for _, row := range rows {
		sizes = append(sizes, neo4jdb.Numeric(row["clusterSize"]))
	}
	if len(sizes) <= minWorkflowFrequency {
		return nil, nil
	}
	avgSize, stdDev := meanStdDev(sizes)
	return []domain.Pattern{{
		ID:          "debugging-workflow-cluster",
		Type:        domain.PatternDebugging,
		Name:        "Debugging Workflow: Collaborative Investigation",
		Description: fmt.Sprintf("Debugging typically involves clusters of %.0f±%.0f related memories", avgSize, stdDev),
		Confidence:  0.7,
		Frequency:   len(sizes),
		Evidence: []domain.Evidence{
			{
				Type:        domain.EvidenceStructural,
				Description: fmt.Sprintf("Average cluster size: %.0f memories", avgSize),
				Weight:      1.0,
			},
		},
		Metadata: domain.DebuggingMeta{
			ProblemType:              "complex",
			SolutionType:             "collaborative",
			AverageResolutionMinutes: workflowClusterMinutes,
			SuccessRate:              0.8,
			CommonSteps:              []string{"identify", "investigate", "test", "resolve"},
		},
	}}, nil
}

// ValidatePattern checks that debugging-flavored memories still exist at at
// least half the pattern's recorded frequency.
func (d *DebuggingDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	query := `
MATCH (m:Memory)
WHERE ` + keywordCondition("m.content", debugKeywords) + `
RETURN COUNT(*) AS debuggingMemories
`
	rows, err := d.graph.Read(ctx, query, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	var count float64
	if len(rows) > 0 {
		count = neo4jdb.Numeric(rows[0]["debuggingMemories"])
	}
	delta := -validationNudge
	if count > float64(p.Frequency) {
		delta = validationNudge
	}
	return domain.Validation{
		StillValid:      count > float64(p.Frequency)*0.5,
		ConfidenceDelta: delta,
	}, nil
}

// Debugging confidence weights timing tighter than raw frequency: the
// divisor-2 frequency score saturates near 100 resolutions.
func debuggingConfidence(frequency, avgMinutes, stdDev float64) float64 {
	timeScore := 0.4
	switch {
	case avgMinutes < 60:
		timeScore = 0.8
	case avgMinutes < 240:
		timeScore = 0.6
	}
	return domain.ClampConfidence(frequencyScore(frequency, 2)*0.4 + consistencyScore(stdDev, avgMinutes)*0.3 + timeScore*0.3)
}
