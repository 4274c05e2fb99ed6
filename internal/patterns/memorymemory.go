package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/platform/logger"
	"github.com/substratehq/memograph/internal/platform/neo4jdb"
)

// Relationship types materialized between memories.
const (
	RelPrecededBy  = "PRECEDED_BY"
	RelRelatedTo   = "RELATED_TO"
	RelEvolvedInto = "EVOLVED_INTO"
	RelContradicts = "CONTRADICTS"
	RelSupports    = "SUPPORTS"
)

const (
	memorySimilarityThreshold = 0.8
	nearDuplicateSimilarity   = 0.95
	verySimilarSimilarity     = 0.9
	immediateRelationHours    = 1
	sameDayRelationHours      = 24
	sameWeekRelationHours     = 168
	evolutionWindowDays       = 7
	minCommonWords            = 10
	contradictionWindowDays   = 30
	minSemanticPairFrequency  = 2
	minSequencePairFrequency  = 5
	minEvolutionFrequency     = 2
	minSupportFrequency       = 3
	maxMemoryEdgesPerPattern  = 3
)

var (
	evolutionKeywords = []string{
		"understand", "realize", "learn", "discover", "now i see", "actually",
		"better way", "improved", "refactor", "optimize", "enhance",
	}
	supportKeywords    = []string{"agree", "confirm", "correct", "yes", "exactly", "true"}
	contradictKeywords = []string{"disagree", "wrong", "incorrect", "no", "actually", "but"}
)

// MemoryMemoryDetector finds relationships between memories: semantic
// near-duplicates, temporal sequences, knowledge evolution, and
// support/contradiction pairs. High-confidence examples become graph edges.
type MemoryMemoryDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewMemoryMemoryDetector(graph Graph, log *logger.Logger) *MemoryMemoryDetector {
	return &MemoryMemoryDetector{graph: graph, log: log.With("detector", "memory_memory")}
}

// Type reports the predominant type of the patterns this detector emits.
func (d *MemoryMemoryDetector) Type() domain.PatternType { return domain.PatternTemporal }

func (d *MemoryMemoryDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	res, err := runSubDetections(ctx, d.log, []subDetection{
		{"semantic", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectSemantic(ctx, scope) }},
		{"temporal", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectTemporal(ctx, scope) }},
		{"evolution", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectEvolution(ctx, scope) }},
		{"support_contradiction", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectSupportContradiction(ctx, scope) }},
	})
	if err != nil {
		return res, err
	}
	d.materializeEdges(ctx, res.Patterns)
	return res, nil
}

type memoryRelation struct {
	fromID        string
	toID          string
	similarity    float64
	timeDiffHours float64
}

// detectSemantic pairs forward-in-time memories of the same project by
// cosine similarity and crosses the similarity level with how far apart
// they are.
func (d *MemoryMemoryDetector) detectSemantic(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	checkRows, err := d.graph.Read(ctx, `
MATCH (m:Memory)
WHERE m.embedding IS NOT NULL
RETURN COUNT(m) AS count
`, nil)
	if err != nil {
		return nil, err
	}
	if len(checkRows) == 0 || neo4jdb.Numeric(checkRows[0]["count"]) == 0 {
		d.log.Warn("no memory embeddings found, skipping semantic memory relationships")
		return nil, nil
	}

	threshold := scope.SimilarityThreshold
	if threshold == 0 {
		threshold = memorySimilarityThreshold
	}
	params := map[string]any{"similarityThreshold": threshold}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)
WHERE m1.embedding IS NOT NULL
  AND m1.project_name IS NOT NULL` + filter + `
WITH m1 LIMIT 100
MATCH (m2:Memory)
WHERE m2.embedding IS NOT NULL
  AND m2.project_name = m1.project_name
  AND m2.id <> m1.id
  AND datetime(m2.created_at) > datetime(m1.created_at)
WITH m1, m2 LIMIT 500
WITH m1, m2,
     gds.similarity.cosine(m1.embedding, m2.embedding) AS similarity,
     duration.between(datetime(m1.created_at), datetime(m2.created_at)).hours AS timeDiff
WHERE similarity > $similarityThreshold
RETURN m1.id AS fromId, m2.id AS toId, similarity, timeDiff
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		relations []memoryRelation
	}
	groups := map[string]*group{}
	for _, row := range rows {
		rel := memoryRelation{
			fromID:        neo4jdb.AsString(row["fromId"]),
			toID:          neo4jdb.AsString(row["toId"]),
			similarity:    neo4jdb.Numeric(row["similarity"]),
			timeDiffHours: neo4jdb.Numeric(row["timeDiff"]),
		}
		key := classifyMemorySimilarity(rel.similarity) + "|" + classifyTimeRelation(rel.timeDiffHours)
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.relations = append(g.relations, rel)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		freq := len(g.relations)
		if freq <= minSemanticPairFrequency {
			continue
		}
		level, timeRelation, _ := strings.Cut(key, "|")
		similarities := make([]float64, 0, freq)
		diffs := make([]float64, 0, freq)
		for _, rel := range g.relations {
			similarities = append(similarities, rel.similarity)
			diffs = append(diffs, rel.timeDiffHours)
		}
		avgSimilarity, _ := meanStdDev(similarities)
		avgTimeDiff, _ := meanStdDev(diffs)
		out = append(out, domain.Pattern{
			ID:          fmt.Sprintf("memory-memory-semantic-%s-%s", level, timeRelation),
			Type:        domain.PatternTemporal,
			Name:        fmt.Sprintf("Memory Similarity: %s (%s)", level, timeRelation),
			Description: fmt.Sprintf("Memories with %.3f similarity, %.1fh apart", avgSimilarity, avgTimeDiff),
			Confidence:  domain.ClampConfidence(avgSimilarity),
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceSemantic,
					Description: fmt.Sprintf("Average similarity: %.3f", avgSimilarity),
					Weight:      0.7,
					Examples:    relationFromIDs(g.relations, 10),
				},
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("%s relationship (avg %.1fh)", timeRelation, avgTimeDiff),
					Weight:      0.3,
					Examples:    relationToIDs(g.relations, 10),
				},
			},
			Metadata: domain.RelationshipMeta{
				RelationshipType:    RelRelatedTo,
				SimilarityLevel:     level,
				TimeRelation:        timeRelation,
				AverageSimilarity:   avgSimilarity,
				AverageTimeGapHours: avgTimeDiff,
				Pairs:               relationPairs(g.relations, 10),
			},
		})
	}
	return out, nil
}

func classifyMemorySimilarity(similarity float64) string {
	switch {
	case similarity > nearDuplicateSimilarity:
		return "near-duplicate"
	case similarity > verySimilarSimilarity:
		return "very-similar"
	default:
		return "similar"
	}
}

func classifyTimeRelation(hours float64) string {
	switch {
	case hours < immediateRelationHours:
		return "immediate"
	case hours < sameDayRelationHours:
		return "same-day"
	case hours < sameWeekRelationHours:
		return "same-week"
	default:
		return "distant"
	}
}

// detectTemporal finds forward pairs within 30 minutes and crosses the
// shared-context signal with user identity.
func (d *MemoryMemoryDetector) detectTemporal(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"windowMinutes": sequentialWindowMinutes}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)
WHERE m1.created_at IS NOT NULL` + filter + `
MATCH (m2:Memory)
WHERE m2.created_at IS NOT NULL
  AND m2.project_name = m1.project_name
  AND m2.id <> m1.id
  AND datetime(m2.created_at) > datetime(m1.created_at)
  AND datetime(m2.created_at) <= datetime(m1.created_at) + duration({minutes: $windowMinutes})
RETURN m1.id AS fromId, m2.id AS toId,
       duration.between(datetime(m1.created_at), datetime(m2.created_at)).minutes AS gapMinutes,
       m1.user_id = m2.user_id AS sameUser,
       CASE
         WHEN m1.chunk_id IS NOT NULL AND m1.chunk_id = m2.chunk_id THEN 'same-chunk'
         WHEN m1.session_id IS NOT NULL AND m1.session_id = m2.session_id THEN 'same-session'
         ELSE 'different-context'
       END AS contextType
LIMIT 2000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		gaps      []float64
		relations []memoryRelation
	}
	groups := map[string]*group{}
	for _, row := range rows {
		userContext := "different-user"
		if neo4jdb.AsBool(row["sameUser"]) {
			userContext = "same-user"
		}
		key := neo4jdb.AsString(row["contextType"]) + "|" + userContext
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		gap := neo4jdb.Numeric(row["gapMinutes"])
		g.gaps = append(g.gaps, gap)
		g.relations = append(g.relations, memoryRelation{
			fromID:        neo4jdb.AsString(row["fromId"]),
			toID:          neo4jdb.AsString(row["toId"]),
			timeDiffHours: gap / 60,
		})
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
		if freq <= minSequencePairFrequency {
			continue
		}
		contextType, userContext, _ := strings.Cut(key, "|")
		avgGap, _ := meanStdDev(g.gaps)
		out = append(out, domain.Pattern{
			ID:          fmt.Sprintf("memory-memory-temporal-%s-%s", contextType, userContext),
			Type:        domain.PatternTemporal,
			Name:        fmt.Sprintf("Temporal Sequence: %s (%s)", contextType, userContext),
			Description: fmt.Sprintf("Sequential memories in %s with %.1fmin gap", contextType, avgGap),
			Confidence:  0.8,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average gap: %.1f minutes", avgGap),
					Weight:      0.6,
					Examples:    relationFromIDs(g.relations, 10),
				},
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("Context: %s, %s", contextType, userContext),
					Weight:      0.4,
					Examples:    relationToIDs(g.relations, 10),
				},
			},
			Metadata: domain.RelationshipMeta{
				RelationshipType:    RelPrecededBy,
				TimeRelation:        contextType,
				AverageTimeGapHours: avgGap / 60,
				Pairs:               relationPairs(g.relations, 10),
			},
		})
	}
	return out, nil
}

// detectEvolution finds later memories that revisit an earlier topic with
// evolution-flavored language. Topic overlap is a plain common-word count,
// usable without embeddings.
func (d *MemoryMemoryDetector) detectEvolution(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{
		"windowDays":     evolutionWindowDays,
		"minCommonWords": minCommonWords,
	}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)
WHERE m1.content IS NOT NULL` + filter + `
MATCH (m2:Memory)
WHERE m2.content IS NOT NULL
  AND m2.project_name = m1.project_name
  AND m2.id <> m1.id
  AND datetime(m2.created_at) > datetime(m1.created_at)
  AND datetime(m2.created_at) <= datetime(m1.created_at) + duration({days: $windowDays})
  AND (` + keywordCondition("m2.content", evolutionKeywords) + `)
WITH m1, m2,
     duration.between(datetime(m1.created_at), datetime(m2.created_at)).hours AS hoursDiff,
     SIZE([word IN split(toLower(m1.content), ' ') WHERE word IN split(toLower(m2.content), ' ')]) AS commonWords
WHERE commonWords > $minCommonWords
RETURN m1.id AS fromId, m2.id AS toId, hoursDiff, commonWords
LIMIT 500
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) <= minEvolutionFrequency {
		return nil, nil
	}

	relations := make([]memoryRelation, 0, len(rows))
	diffs := make([]float64, 0, len(rows))
	words := make([]float64, 0, len(rows))
	for _, row := range rows {
		relations = append(relations, memoryRelation{
			fromID:        neo4jdb.AsString(row["fromId"]),
			toID:          neo4jdb.AsString(row["toId"]),
			timeDiffHours: neo4jdb.Numeric(row["hoursDiff"]),
		})
		diffs = append(diffs, neo4jdb.Numeric(row["hoursDiff"]))
		words = append(words, neo4jdb.Numeric(row["commonWords"]))
	}
	avgHours, _ := meanStdDev(diffs)
	avgWords, _ := meanStdDev(words)

	return []domain.Pattern{{
		ID:          "memory-memory-evolution",
		Type:        domain.PatternLearning,
		Name:        "Knowledge Evolution Pattern",
		Description: fmt.Sprintf("Understanding evolves over %.0fh with %.0f common terms", avgHours, avgWords),
		Confidence:  0.7,
		Frequency:   len(rows),
		Evidence: []domain.Evidence{
			{
				Type:        domain.EvidenceTemporal,
				Description: fmt.Sprintf("Evolution time: %.0f hours", avgHours),
				Weight:      0.4,
				Examples:    relationFromIDs(relations, 5),
			},
			{
				Type:        domain.EvidenceSemantic,
				Description: fmt.Sprintf("Topic overlap: %.0f common words", avgWords),
				Weight:      0.6,
				Examples:    relationToIDs(relations, 5),
			},
		},
		Metadata: domain.RelationshipMeta{
			RelationshipType:    RelEvolvedInto,
			AverageTimeGapHours: avgHours,
			Pairs:               relationPairs(relations, 5),
		},
	}}, nil
}

// detectSupportContradiction classifies month-window memory pairs by
// agreement or disagreement language in the later memory.
func (d *MemoryMemoryDetector) detectSupportContradiction(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"windowDays": contradictionWindowDays}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)
WHERE m1.content IS NOT NULL` + filter + `
MATCH (m2:Memory)
WHERE m2.content IS NOT NULL
  AND m2.project_name = m1.project_name
  AND m2.id <> m1.id
  AND abs(duration.between(datetime(m1.created_at), datetime(m2.created_at)).days) < $windowDays
WITH m1, m2,
     CASE
       WHEN (` + keywordCondition("m2.content", supportKeywords) + `) THEN 'supports'
       WHEN (` + keywordCondition("m2.content", contradictKeywords) + `) THEN 'contradicts'
       ELSE null
     END AS relationKind
WHERE relationKind IS NOT NULL
RETURN m1.id AS fromId, m2.id AS toId, relationKind
LIMIT 1000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	groups := map[string][]memoryRelation{}
	for _, row := range rows {
		kind := neo4jdb.AsString(row["relationKind"])
		groups[kind] = append(groups[kind], memoryRelation{
			fromID: neo4jdb.AsString(row["fromId"]),
			toID:   neo4jdb.AsString(row["toId"]),
		})
	}

	kinds := make([]string, 0, len(groups))
	for k := range groups {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var out []domain.Pattern
	for _, kind := range kinds {
		relations := groups[kind]
		if len(relations) <= minSupportFrequency {
			continue
		}
		name := "Contradiction Pattern"
		relType := RelContradicts
		if kind == "supports" {
			name = "Support Pattern"
			relType = RelSupports
		}
		out = append(out, domain.Pattern{
			ID:          "memory-memory-" + kind,
			Type:        domain.PatternLearning,
			Name:        name,
			Description: fmt.Sprintf("Memories that %s each other", kind),
			Confidence:  0.6,
			Frequency:   len(relations),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceSemantic,
					Description: kind + " relationship detected",
					Weight:      1.0,
					Examples:    relationFromIDs(relations, 5),
				},
			},
			Metadata: domain.RelationshipMeta{
				RelationshipType: relType,
				Pairs:            relationPairs(relations, 5),
			},
		})
	}
	return out, nil
}

// materializeEdges writes memory-to-memory edges for the best examples of
// the high-confidence patterns, a few per pattern.
func (d *MemoryMemoryDetector) materializeEdges(ctx context.Context, found []domain.Pattern) {
	for _, p := range found {
		if p.Confidence <= edgeConfidenceFloor {
			continue
		}
		meta, ok := p.Metadata.(domain.RelationshipMeta)
		if !ok || !validMemoryRelType(meta.RelationshipType) {
			continue
		}
		pairs := meta.Pairs
		if len(pairs) > maxMemoryEdgesPerPattern {
			pairs = pairs[:maxMemoryEdgesPerPattern]
		}
		for _, pair := range pairs {
			query := `
MATCH (m1:Memory {id: $m1})
MATCH (m2:Memory {id: $m2})
MERGE (m1)-[r:` + meta.RelationshipType + `]->(m2)
SET r.confidence = $confidence,
    r.created_at = datetime(),
    r.pattern_id = $patternId,
    r.similarity = $similarity,
    r.time_gap_hours = $timeGap
`
			similarity := pair.Similarity
			if similarity == 0 {
				similarity = meta.AverageSimilarity
			}
			timeGap := pair.TimeDiffHours
			if timeGap == 0 {
				timeGap = meta.AverageTimeGapHours
			}
			err := d.graph.Write(ctx, query, map[string]any{
				"m1":         pair.FromID,
				"m2":         pair.ToID,
				"confidence": p.Confidence,
				"similarity": similarity,
				"timeGap":    timeGap,
				"patternId":  p.ID,
			})
			if err != nil {
				d.log.Error("failed to create memory relationship", "pattern_id", p.ID, "m1", pair.FromID, "m2", pair.ToID, "error", err)
			}
		}
	}
}

func validMemoryRelType(relType string) bool {
	switch relType {
	case RelPrecededBy, RelRelatedTo, RelEvolvedInto, RelContradicts, RelSupports:
		return true
	}
	return false
}

// ValidatePattern checks that memory-to-memory relationships still exist.
func (d *MemoryMemoryDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	rows, err := d.graph.Read(ctx, `
MATCH (m1:Memory)-[r]->(m2:Memory)
WHERE type(r) IN ['PRECEDED_BY', 'RELATED_TO', 'EVOLVED_INTO', 'CONTRADICTS', 'SUPPORTS']
RETURN COUNT(r) AS count
`, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	var count float64
	if len(rows) > 0 {
		count = neo4jdb.Numeric(rows[0]["count"])
	}
	delta := -validationNudge
	if count > float64(p.Frequency) {
		delta = validationNudge
	}
	return domain.Validation{
		StillValid:      count > 0,
		ConfidenceDelta: delta,
	}, nil
}

func relationPairs(relations []memoryRelation, n int) []domain.EntityPair {
	out := make([]domain.EntityPair, 0, len(relations))
	for _, rel := range relations {
		out = append(out, domain.EntityPair{
			FromID:        rel.fromID,
			ToID:          rel.toID,
			Similarity:    rel.similarity,
			TimeDiffHours: rel.timeDiffHours,
		})
	}
	return capPairs(out, n)
}

func relationFromIDs(relations []memoryRelation, n int) []string {
	out := make([]string, 0, len(relations))
	for _, rel := range relations {
		out = append(out, rel.fromID)
	}
	return capStrings(out, n)
}

func relationToIDs(relations []memoryRelation, n int) []string {
	out := make([]string, 0, len(relations))
	for _, rel := range relations {
		out = append(out, rel.toID)
	}
	return capStrings(out, n)
}
