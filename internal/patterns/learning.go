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
	progressionWindowHours      = 48
	continuousLearningHours     = 1
	sessionLearningHours        = 8
	dailyLearningHours          = 24
	implementationWindowDays    = 7
	rapidImplementationHours    = 24
	quickImplementationHours    = 72
	standardImplementationHours = 168
	knowledgeSimilarityFloor    = 0.7
	minProgressionFrequency     = 5
	minImplementationFrequency  = 3
	minSkillTimelineDays        = 7
	skillStreakCapDays          = 30
)

var (
	learningContentRegex  = `(?i).*(learn|understand|study|research|explore|discover|tutorial|guide|documentation|example|how to|why|concept|theory|practice|implement|apply|build).*`
	learningCoreRegex     = `(?i).*(learn|understand|study|research|explore|discover).*`
	researchContentRegex  = `(?i).*(research|explore|study|investigate|analyze|understand).*`
	implementContentRegex = `(?i).*(implement|build|create|develop|code|write).*`
)

// LearningDetector discovers how knowledge gets acquired and applied:
// learning cadence, research-to-implementation turnaround, semantic
// knowledge building, and sustained skill development.
type LearningDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewLearningDetector(graph Graph, log *logger.Logger) *LearningDetector {
	return &LearningDetector{graph: graph, log: log.With("detector", "learning")}
}

func (d *LearningDetector) Type() domain.PatternType { return domain.PatternLearning }

func (d *LearningDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	return runSubDetections(ctx, d.log, []subDetection{
		{"progression", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectProgression(ctx, scope) }},
		{"research_to_implementation", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectResearchToImplementation(ctx, scope) }},
		{"knowledge_building", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectKnowledgeBuilding(ctx, scope) }},
		{"skill_development", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectSkillDevelopment(ctx, scope) }},
	})
}

// detectProgression looks at the gaps between consecutive learning memories
// and classifies the learning cadence.
func (d *LearningDetector) detectProgression(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"contentRegex": learningContentRegex}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.content =~ $contentRegex
  AND m.created_at IS NOT NULL
  AND m.embedding IS NOT NULL` + filter + `
RETURN m.created_at AS createdAt
ORDER BY m.created_at
LIMIT 500
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	times := timesFromRows(rows, "createdAt")

	buckets := map[string][]float64{}
	for _, gapMinutes := range adjacentGaps(times) {
		hours := gapMinutes / 60
		if hours >= progressionWindowHours {
			continue
		}
		key := classifyProgression(hours)
		buckets[key] = append(buckets[key], hours)
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.Pattern
	for _, name := range names {
		gaps := buckets[name]
		if len(gaps) <= minProgressionFrequency {
			continue
		}
		avgHours, _ := meanStdDev(gaps)
		out = append(out, domain.Pattern{
			ID:          "learning-progression-" + name,
			Type:        domain.PatternLearning,
			Name:        "Learning Progression: " + name,
			Description: fmt.Sprintf("%s pattern with average %.1f hours between sessions", name, avgHours),
			Confidence:  0.7,
			Frequency:   len(gaps),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average gap: %.1f hours", avgHours),
					Weight:      0.6,
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("Pattern observed %d times", len(gaps)),
					Weight:      0.4,
				},
			},
			Metadata: domain.LearningMeta{
				ProgressionType: name,
				SkillLevel:      "mixed",
			},
		})
	}
	return out, nil
}

func classifyProgression(hoursApart float64) string {
	switch {
	case hoursApart < continuousLearningHours:
		return "continuous-learning"
	case hoursApart < sessionLearningHours:
		return "session-based-learning"
	case hoursApart < dailyLearningHours:
		return "daily-learning"
	default:
		return "spaced-learning"
	}
}

// detectResearchToImplementation pairs research memories with the
// implementation memories that follow within a week.
func (d *LearningDetector) detectResearchToImplementation(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{
		"researchRegex":  researchContentRegex,
		"implementRegex": implementContentRegex,
		"windowDays":     implementationWindowDays,
	}
	filter := scopeFilter("research", scope, params)
	query := `
MATCH (research:Memory)
WHERE research.content =~ $researchRegex
  AND research.created_at IS NOT NULL` + filter + `
WITH research
LIMIT 100
MATCH (implement:Memory)
WHERE implement.content =~ $implementRegex
  AND implement.project_name = research.project_name
  AND datetime(implement.created_at) > datetime(research.created_at)
  AND datetime(implement.created_at) <= datetime(research.created_at) + duration({days: $windowDays})
WITH research, implement,
     duration.between(datetime(research.created_at), datetime(implement.created_at)).hours AS hoursToImplement
LIMIT 200
RETURN research.id AS researchId, implement.id AS implementId, hoursToImplement
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		hours      []float64
		research   []string
		implements []string
	}
	groups := map[string]*group{}
	for _, row := range rows {
		hours := neo4jdb.Numeric(row["hoursToImplement"])
		key := classifyImplementationSpeed(hours)
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.hours = append(g.hours, hours)
		g.research = append(g.research, neo4jdb.AsString(row["researchId"]))
		g.implements = append(g.implements, neo4jdb.AsString(row["implementId"]))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		freq := len(g.hours)
		if freq <= minImplementationFrequency {
			continue
		}
		avgHours, _ := meanStdDev(g.hours)
		out = append(out, domain.Pattern{
			ID:          "learning-research-implement-" + key,
			Type:        domain.PatternLearning,
			Name:        "Research to Implementation: " + key,
			Description: fmt.Sprintf("Research typically leads to implementation within %.0f hours", avgHours),
			Confidence:  0.8,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average time to implement: %.0f hours", avgHours),
					Weight:      0.5,
					Examples:    capStrings(g.research, 5),
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("%d successful implementations", freq),
					Weight:      0.5,
					Examples:    capStrings(g.implements, 5),
				},
			},
			Metadata: domain.LearningMeta{
				ProgressionType: "research-to-implementation",
				SkillLevel:      "intermediate",
				LearningPath:    []string{"research", "understand", "implement"},
			},
		})
	}
	return out, nil
}

func classifyImplementationSpeed(hours float64) string {
	switch {
	case hours < rapidImplementationHours:
		return "rapid-implementation"
	case hours < quickImplementationHours:
		return "quick-implementation"
	case hours < standardImplementationHours:
		return "standard-implementation"
	default:
		return "delayed-implementation"
	}
}

// detectKnowledgeBuilding measures how semantically connected the learning
// memories are. Needs the vector index, so both queries stay in Cypher.
func (d *LearningDetector) detectKnowledgeBuilding(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	sampleRows, err := d.graph.Read(ctx, `
MATCH (m:Memory)
WHERE m.content =~ '(?i).*(learn|understand|study).*'
  AND m.embedding IS NOT NULL
RETURN m.embedding AS embedding
LIMIT 1
`, nil)
	if err != nil {
		return nil, err
	}
	if len(sampleRows) == 0 {
		return nil, nil
	}

	params := map[string]any{
		"sampleEmbedding": sampleRows[0]["embedding"],
		"coreRegex":       learningCoreRegex,
		"minSimilarity":   knowledgeSimilarityFloor,
	}
	filter := scopeFilter("m1", scope, params)
	query := `
CALL db.index.vector.queryNodes('memory_embeddings', 20, $sampleEmbedding)
YIELD node AS m1, score
WHERE m1.content =~ $coreRegex` + filter + `
WITH m1, score
LIMIT 50
CALL db.index.vector.queryNodes('memory_embeddings', 10, m1.embedding)
YIELD node AS m2, score AS similarity
WHERE m2.id <> m1.id
  AND m2.content =~ $coreRegex
  AND similarity > $minSimilarity
RETURN COUNT(*) AS relatedLearningCount, AVG(similarity) AS avgSimilarity
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	count := int(neo4jdb.Numeric(rows[0]["relatedLearningCount"]))
	avgSimilarity := neo4jdb.Numeric(rows[0]["avgSimilarity"])
	if count == 0 {
		return nil, nil
	}
	return []domain.Pattern{{
		ID:          "learning-knowledge-building",
		Type:        domain.PatternLearning,
		Name:        "Knowledge Building Pattern",
		Description: fmt.Sprintf("Connected learning with %.3f average similarity", avgSimilarity),
		Confidence:  domain.ClampConfidence(avgSimilarity),
		Frequency:   count,
		Evidence: []domain.Evidence{
			{
				Type:        domain.EvidenceSemantic,
				Description: "High semantic similarity between learning memories",
				Weight:      1.0,
			},
		},
		Metadata: domain.LearningMeta{
			ProgressionType: "knowledge-building",
			SkillLevel:      "progressive",
		},
	}}, nil
}

// detectSkillDevelopment measures sustained learning: distinct days with
// learning activity, confidence capped at a 30-day streak.
func (d *LearningDetector) detectSkillDevelopment(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"contentRegex": learningContentRegex}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.content =~ $contentRegex
  AND m.created_at IS NOT NULL` + filter + `
RETURN toString(date(datetime(m.created_at))) AS day, COUNT(*) AS activity
ORDER BY day
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) <= minSkillTimelineDays {
		return nil, nil
	}
	days := len(rows)
	total := 0
	for _, row := range rows {
		total += int(neo4jdb.Numeric(row["activity"]))
	}
	return []domain.Pattern{{
		ID:          "learning-skill-development",
		Type:        domain.PatternLearning,
		Name:        "Skill Development Pattern",
		Description: fmt.Sprintf("Sustained learning over %d days with %d learning activities", days, total),
		Confidence:  domain.ClampConfidence(float64(days) / skillStreakCapDays),
		Frequency:   total,
		Evidence: []domain.Evidence{
			{
				Type:        domain.EvidenceTemporal,
				Description: fmt.Sprintf("%d days of learning activity", days),
				Weight:      0.5,
			},
			{
				Type:        domain.EvidenceOutcome,
				Description: fmt.Sprintf("%d total learning memories", total),
				Weight:      0.5,
			},
		},
		Metadata: domain.LearningMeta{
			ProgressionType: "skill-development",
			SkillLevel:      "developing",
		},
	}}, nil
}

// ValidatePattern checks that learning-flavored memories still exist at at
// least half the pattern's recorded frequency.
func (d *LearningDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	rows, err := d.graph.Read(ctx, `
MATCH (m:Memory)
WHERE m.content =~ '(?i).*(learn|understand|study|research|explore|discover).*'
RETURN COUNT(*) AS learningMemories
`, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	var count float64
	if len(rows) > 0 {
		count = neo4jdb.Numeric(rows[0]["learningMemories"])
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
