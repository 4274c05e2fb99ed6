package patterns

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
	"github.com/substratehq/memograph/internal/platform/neo4jdb"
)

// Temporal thresholds, in minutes unless noted.
const (
	sequentialWindowMinutes = 30
	immediateGapMinutes     = 5
	quickGapMinutes         = 15
	sessionBreakMinutes     = 120
	rapidWorkMinutes        = 5
	continuousWorkMinutes   = 30
	burstWindowMinutes      = 30
	burstMinEvents          = 5
	minSequentialFrequency  = 3
	minSessionFrequency     = 10
	minRhythmCount          = 50
	minBurstCount           = 3
)

// TemporalDetector discovers how memories flow over time: sequential work,
// session boundaries, time-of-day rhythm, and activity bursts.
type TemporalDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewTemporalDetector(graph Graph, log *logger.Logger) *TemporalDetector {
	return &TemporalDetector{graph: graph, log: log.With("detector", "temporal")}
}

func (d *TemporalDetector) Type() domain.PatternType { return domain.PatternTemporal }

func (d *TemporalDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	return runSubDetections(ctx, d.log, []subDetection{
		{"sequential", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectSequential(ctx, scope) }},
		{"sessions", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectSessions(ctx, scope) }},
		{"rhythm", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectRhythm(ctx, scope) }},
		{"bursts", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectBursts(ctx, scope) }},
	})
}

type memoryPair struct {
	fromID     string
	toID       string
	gapMinutes float64
	sameUser   bool
	project    string
}

// detectSequential finds memory pairs in the same project less than 30
// minutes apart and buckets them by gap tightness and user identity.
func (d *TemporalDetector) detectSequential(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"windowMinutes": sequentialWindowMinutes}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)
WHERE m1.created_at IS NOT NULL` + filter + `
WITH m1
LIMIT 200
MATCH (m2:Memory)
WHERE m2.id <> m1.id
  AND m2.project_name = m1.project_name
  AND m2.created_at IS NOT NULL
  AND datetime(m1.created_at) < datetime(m2.created_at)
  AND duration.between(datetime(m1.created_at), datetime(m2.created_at)).minutes < $windowMinutes
RETURN m1.id AS fromId,
       m2.id AS toId,
       duration.between(datetime(m1.created_at), datetime(m2.created_at)).minutes AS gapMinutes,
       m1.user_id = m2.user_id AS sameUser,
       m1.project_name AS project
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	pairs := make([]memoryPair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, memoryPair{
			fromID:     neo4jdb.AsString(row["fromId"]),
			toID:       neo4jdb.AsString(row["toId"]),
			gapMinutes: neo4jdb.Numeric(row["gapMinutes"]),
			sameUser:   neo4jdb.AsBool(row["sameUser"]),
			project:    neo4jdb.AsString(row["project"]),
		})
	}
	return buildSequentialPatterns(pairs), nil
}

func classifySequence(gapMinutes float64) string {
	switch {
	case gapMinutes < immediateGapMinutes:
		return "immediate-sequence"
	case gapMinutes < quickGapMinutes:
		return "quick-sequence"
	default:
		return "delayed-sequence"
	}
}

func buildSequentialPatterns(pairs []memoryPair) []domain.Pattern {
	type group struct {
		gaps     []float64
		froms    []string
		tos      []string
		projects map[string]bool
	}
	groups := map[string]*group{}
	for _, p := range pairs {
		userPattern := "different-user"
		if p.sameUser {
			userPattern = "same-user"
		}
		key := classifySequence(p.gapMinutes) + "-" + userPattern
		g := groups[key]
		if g == nil {
			g = &group{projects: map[string]bool{}}
			groups[key] = g
		}
		g.gaps = append(g.gaps, p.gapMinutes)
		g.froms = append(g.froms, p.fromID)
		g.tos = append(g.tos, p.toID)
		g.projects[p.project] = true
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		freq := len(g.gaps)
		if freq < minSequentialFrequency {
			continue
		}
		avgGap, stdDev := meanStdDev(g.gaps)
		consistency := consistencyScore(stdDev, avgGap)
		projects := make([]string, 0, len(g.projects))
		for p := range g.projects {
			projects = append(projects, p)
		}
		sort.Strings(projects)
		if len(projects) > 5 {
			projects = projects[:5]
		}
		out = append(out, domain.Pattern{
			ID:          "temporal-sequential-" + key,
			Type:        domain.PatternTemporal,
			Name:        "Sequential Pattern: " + key,
			Description: fmt.Sprintf("Sequential memory pattern with average gap of %.1f±%.1f minutes", avgGap, stdDev),
			Confidence:  temporalConfidence(float64(freq), avgGap, consistency),
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average time gap: %.1f minutes (sigma=%.1f)", avgGap, stdDev),
					Weight:      0.4,
					Examples:    capStrings(g.froms, 10),
				},
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("Pattern consistency: %.0f%%", consistency*100),
					Weight:      0.3,
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("Observed in %d instances across %d projects", freq, len(projects)),
					Weight:      0.3,
					Examples:    capStrings(g.tos, 10),
				},
			},
			Metadata: domain.TemporalMeta{
				AverageGapMinutes: avgGap,
				TimeDistribution:  categorizeGap(avgGap),
				SessionBased:      avgGap < immediateGapMinutes,
				Consistency:       consistency,
				ExampleProjects:   projects,
			},
		})
	}
	return out
}

// detectSessions classifies the gaps between consecutive memories into work
// session shapes.
func (d *TemporalDetector) detectSessions(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.created_at IS NOT NULL` + filter + `
RETURN m.created_at AS createdAt
ORDER BY m.created_at
LIMIT 1000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	times := timesFromRows(rows, "createdAt")
	gaps := adjacentGaps(times)

	buckets := map[string][]float64{}
	for _, gap := range gaps {
		buckets[classifyWorkGap(gap)] = append(buckets[classifyWorkGap(gap)], gap)
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.Pattern
	for _, name := range names {
		bucket := buckets[name]
		if len(bucket) <= minSessionFrequency {
			continue
		}
		avgGap, _ := meanStdDev(bucket)
		out = append(out, domain.Pattern{
			ID:          "temporal-session-" + name,
			Type:        domain.PatternTemporal,
			Name:        "Work Pattern: " + name,
			Description: fmt.Sprintf("%s pattern with average gap of %.1f minutes", name, avgGap),
			Confidence:  0.7,
			Frequency:   len(bucket),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: "Work pattern identified: " + name,
					Weight:      1.0,
				},
			},
			Metadata: domain.TemporalMeta{
				AverageGapMinutes: avgGap,
				TimeDistribution:  name,
				SessionBased:      true,
			},
		})
	}
	return out, nil
}

func classifyWorkGap(gapMinutes float64) string {
	switch {
	case gapMinutes > sessionBreakMinutes:
		return "session_break"
	case gapMinutes < rapidWorkMinutes:
		return "rapid_work"
	case gapMinutes < continuousWorkMinutes:
		return "continuous_work"
	default:
		return "intermittent_work"
	}
}

// detectRhythm buckets activity by time of day.
func (d *TemporalDetector) detectRhythm(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.created_at IS NOT NULL` + filter + `
RETURN datetime(m.created_at).hour AS hour
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, row := range rows {
		counts[timeOfDay(int(neo4jdb.Numeric(row["hour"])))]++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.Pattern
	for _, name := range names {
		total := counts[name]
		if total <= minRhythmCount {
			continue
		}
		out = append(out, domain.Pattern{
			ID:          "temporal-rhythm-" + name,
			Type:        domain.PatternTemporal,
			Name:        "Work Rhythm: " + name,
			Description: fmt.Sprintf("High activity during %s with %d memories", name, total),
			Confidence:  0.6,
			Frequency:   total,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: "Peak work time: " + name,
					Weight:      1.0,
				},
			},
			Metadata: domain.TemporalMeta{
				TimeDistribution: name,
				SessionBased:     false,
			},
		})
	}
	return out, nil
}

func timeOfDay(hour int) string {
	switch {
	case hour < 6:
		return "early_morning"
	case hour < 12:
		return "morning"
	case hour < 17:
		return "afternoon"
	case hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// detectBursts finds 30-minute windows holding five or more memories.
func (d *TemporalDetector) detectBursts(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.created_at IS NOT NULL` + filter + `
RETURN m.project_name AS project, m.created_at AS createdAt
ORDER BY m.created_at
LIMIT 2000
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

	// Sliding window per project: each event anchors a window of everything
	// within the next 30 minutes.
	burstSizes := map[string][]float64{}
	window := time.Duration(burstWindowMinutes) * time.Minute
	for i, anchor := range events {
		size := 0
		for _, other := range events[i:] {
			if other.project != anchor.project {
				continue
			}
			if other.at.Sub(anchor.at) > window {
				break
			}
			size++
		}
		if size >= burstMinEvents {
			burstSizes[anchor.project] = append(burstSizes[anchor.project], float64(size))
		}
	}

	projects := make([]string, 0, len(burstSizes))
	for p := range burstSizes {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	if len(projects) > 10 {
		projects = projects[:10]
	}

	var out []domain.Pattern
	for _, project := range projects {
		sizes := burstSizes[project]
		if len(sizes) <= minBurstCount {
			continue
		}
		avgSize, _ := meanStdDev(sizes)
		out = append(out, domain.Pattern{
			ID:          "temporal-burst-" + project,
			Type:        domain.PatternTemporal,
			Name:        "Burst Pattern in " + project,
			Description: fmt.Sprintf("Intense work bursts averaging %.1f memories per 30-minute period", avgSize),
			Confidence:  0.8,
			Frequency:   len(sizes),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average burst size: %.1f memories", avgSize),
					Weight:      1.0,
				},
			},
			Metadata: domain.TemporalMeta{
				AverageGapMinutes: burstWindowMinutes / avgSize,
				TimeDistribution:  "immediate",
				SessionBased:      true,
			},
		})
	}
	return out, nil
}

// ValidatePattern re-checks the cheap proxy: close-sequence pairs still
// exist at at least half the original frequency.
func (d *TemporalDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	query := `
MATCH (m1:Memory)-[:PRECEDED_BY]->(m2:Memory)
WHERE duration.between(datetime(m1.created_at), datetime(m2.created_at)).minutes < $windowMinutes
RETURN COUNT(*) AS currentFrequency
`
	rows, err := d.graph.Read(ctx, query, map[string]any{"windowMinutes": sequentialWindowMinutes})
	if err != nil {
		return domain.Validation{}, err
	}
	var current float64
	if len(rows) > 0 {
		current = neo4jdb.Numeric(rows[0]["currentFrequency"])
	}
	delta := -validationNudge
	if current > float64(p.Frequency) {
		delta = validationNudge
	}
	return domain.Validation{
		StillValid:      current > float64(p.Frequency)*0.5,
		ConfidenceDelta: delta,
	}, nil
}

func temporalConfidence(frequency, avgGapMinutes, consistency float64) float64 {
	gapScore := 0.4
	switch {
	case avgGapMinutes < quickGapMinutes:
		gapScore = 0.8
	case avgGapMinutes < sequentialWindowMinutes:
		gapScore = 0.6
	}
	return domain.ClampConfidence(frequencyScore(frequency, 3)*0.4 + gapScore*0.3 + consistency*0.3)
}

func categorizeGap(minutes float64) string {
	switch {
	case minutes < immediateGapMinutes:
		return "immediate"
	case minutes < quickGapMinutes:
		return "short"
	case minutes < sequentialWindowMinutes:
		return "medium"
	default:
		return "long"
	}
}

func capStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}

func timesFromRows(rows []map[string]any, key string) []time.Time {
	out := make([]time.Time, 0, len(rows))
	for _, row := range rows {
		t := neo4jdb.AsTime(row[key])
		if !t.IsZero() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func adjacentGaps(times []time.Time) []float64 {
	if len(times) < 2 {
		return nil
	}
	out := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		out = append(out, times[i].Sub(times[i-1]).Minutes())
	}
	return out
}
