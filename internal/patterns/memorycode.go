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

// Relationship types materialized between memories and code entities.
const (
	RelDiscusses      = "DISCUSSES"
	RelReferencesCode = "REFERENCES_CODE"
	RelDebugs         = "DEBUGS"
	RelDocuments      = "DOCUMENTS"
	RelModifies       = "MODIFIES"
)

const (
	defaultSimilarityThreshold = 0.7
	veryHighSimilarity         = 0.9
	highSimilarity             = 0.8
	temporalCodeWindowHours    = 24
	concurrentWindowHours      = 1
	debugSimilarityFloor       = 0.6
	docSimilarityFloor         = 0.75
	docMinContentLength        = 200
	minSemanticFrequency       = 5
	minTemporalCodeFrequency   = 3
	minRelationFrequency       = 2
	edgeConfidenceFloor        = 0.7
	edgeSimilarityFloor        = 0.8
	maxEdgesPerPattern         = 5
)

var (
	relationDebugKeywords = []string{"error", "bug", "fix", "debug", "issue", "problem", "resolve"}
	docKeywords           = []string{"explain", "describe", "document", "how", "why", "what", "understand", "overview"}
)

// MemoryCodeDetector finds relationships between memories and code entities
// by embedding similarity, temporal proximity, debugging context, and
// documentation shape. After detection it materializes graph edges for the
// highest-confidence examples.
type MemoryCodeDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewMemoryCodeDetector(graph Graph, log *logger.Logger) *MemoryCodeDetector {
	return &MemoryCodeDetector{graph: graph, log: log.With("detector", "memory_code")}
}

// Type reports the predominant type of the patterns this detector emits;
// individual patterns are typed by what the relationship expresses.
func (d *MemoryCodeDetector) Type() domain.PatternType { return domain.PatternArchitecture }

func (d *MemoryCodeDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	res, err := runSubDetections(ctx, d.log, []subDetection{
		{"semantic", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectSemantic(ctx, scope) }},
		{"temporal", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectTemporal(ctx, scope) }},
		{"debugging", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectDebugging(ctx, scope) }},
		{"documentation", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectDocumentation(ctx, scope) }},
	})
	if err != nil {
		return res, err
	}
	d.materializeEdges(ctx, res.Patterns)
	return res, nil
}

// detectSemantic compares memory and code embeddings within the same
// project. Cosine scoring and the summary join stay in Cypher; bucketing by
// similarity level happens over the returned pairs.
func (d *MemoryCodeDetector) detectSemantic(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	checkRows, err := d.graph.Read(ctx, `
MATCH (m:Memory)
WHERE m.embedding IS NOT NULL
RETURN COUNT(m) AS memoryCount
`, nil)
	if err != nil {
		return nil, err
	}
	if len(checkRows) == 0 || neo4jdb.Numeric(checkRows[0]["memoryCount"]) == 0 {
		d.log.Warn("no memory embeddings found, skipping semantic relationship detection")
		return nil, nil
	}

	threshold := scope.SimilarityThreshold
	if threshold == 0 {
		threshold = defaultSimilarityThreshold
	}
	params := map[string]any{"similarityThreshold": threshold}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.embedding IS NOT NULL
  AND m.project_name IS NOT NULL` + filter + `
WITH m LIMIT 100
MATCH (c:CodeEntity)
WHERE c.embedding IS NOT NULL
  AND c.project_name = m.project_name
WITH m, c LIMIT 500
OPTIONAL MATCH (c)-[:HAS_SUMMARY]->(s:EntitySummary)
WITH m, c, gds.similarity.cosine(m.embedding, COALESCE(s.embedding, c.embedding)) AS similarity
WHERE similarity > $similarityThreshold
RETURN m.id AS memoryId, c.id AS codeId, c.type AS codeType, similarity
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		similarities []float64
		pairs        []domain.EntityPair
	}
	groups := map[string]*group{}
	for _, row := range rows {
		similarity := neo4jdb.Numeric(row["similarity"])
		key := classifySimilarity(similarity) + "-" + neo4jdb.AsString(row["codeType"])
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.similarities = append(g.similarities, similarity)
		g.pairs = append(g.pairs, domain.EntityPair{
			FromID:     neo4jdb.AsString(row["memoryId"]),
			ToID:       neo4jdb.AsString(row["codeId"]),
			Similarity: similarity,
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
		freq := len(g.similarities)
		if freq <= minSemanticFrequency {
			continue
		}
		avgSimilarity, _ := meanStdDev(g.similarities)
		level, codeType, _ := strings.Cut(key, "-similarity-")
		level += "-similarity"
		out = append(out, domain.Pattern{
			ID:          "memory-code-semantic-" + key,
			Type:        domain.PatternArchitecture,
			Name:        "Semantic Relationship: Memory-" + codeType,
			Description: fmt.Sprintf("Memories show %s with %s entities (avg similarity: %.3f)", level, codeType, avgSimilarity),
			Confidence:  domain.ClampConfidence(avgSimilarity * 0.8),
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceSemantic,
					Description: fmt.Sprintf("Average cosine similarity: %.3f", avgSimilarity),
					Weight:      0.7,
					Examples:    pairFromIDs(g.pairs, 10),
				},
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("%d memory-code pairs found", freq),
					Weight:      0.3,
					Examples:    pairToIDs(g.pairs, 10),
				},
			},
			Metadata: domain.RelationshipMeta{
				RelationshipType:  RelDiscusses,
				SimilarityLevel:   level,
				AverageSimilarity: avgSimilarity,
				EntityTypes:       []string{codeType},
				Pairs:             capPairs(g.pairs, 10),
			},
		})
	}
	return out, nil
}

func classifySimilarity(similarity float64) string {
	switch {
	case similarity > veryHighSimilarity:
		return "very-high-similarity"
	case similarity > highSimilarity:
		return "high-similarity"
	default:
		return "moderate-similarity"
	}
}

// detectTemporal pairs memories with code entities created within 24 hours
// in the same project and reads the direction of causality off the sign.
func (d *MemoryCodeDetector) detectTemporal(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"windowHours": temporalCodeWindowHours}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE m.created_at IS NOT NULL
  AND m.project_name IS NOT NULL` + filter + `
MATCH (c:CodeEntity)
WHERE c.created_at IS NOT NULL
  AND c.project_name = m.project_name
  AND abs(duration.between(datetime(m.created_at), datetime(c.created_at)).hours) < $windowHours
RETURN m.id AS memoryId, c.id AS codeId, c.type AS codeType,
       duration.between(datetime(m.created_at), datetime(c.created_at)).hours AS timeDiffHours
LIMIT 2000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		absDiffs []float64
		pairs    []domain.EntityPair
	}
	groups := map[string]*group{}
	for _, row := range rows {
		diff := neo4jdb.Numeric(row["timeDiffHours"])
		pattern := classifyTemporalDirection(diff)
		key := pattern + "-" + neo4jdb.AsString(row["codeType"])
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		abs := diff
		if abs < 0 {
			abs = -abs
		}
		g.absDiffs = append(g.absDiffs, abs)
		g.pairs = append(g.pairs, domain.EntityPair{
			FromID:        neo4jdb.AsString(row["memoryId"]),
			ToID:          neo4jdb.AsString(row["codeId"]),
			TimeDiffHours: diff,
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
		freq := len(g.absDiffs)
		if freq <= minTemporalCodeFrequency {
			continue
		}
		avgDiff, _ := meanStdDev(g.absDiffs)
		pattern := key[:strings.LastIndex(key, "-")]
		relType := RelReferencesCode
		switch pattern {
		case "memory-after-code":
			relType = RelDocuments
		case "code-after-memory":
			relType = RelModifies
		}
		out = append(out, domain.Pattern{
			ID:          "memory-code-temporal-" + key,
			Type:        domain.PatternTemporal,
			Name:        "Temporal Relationship: " + pattern,
			Description: fmt.Sprintf("%s pattern observed between memories and code (avg %.1fh apart)", pattern, avgDiff),
			Confidence:  0.6,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average time difference: %.1f hours", avgDiff),
					Weight:      0.8,
					Examples:    pairFromIDs(g.pairs, 10),
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("Pattern observed %d times", freq),
					Weight:      0.2,
					Examples:    pairToIDs(g.pairs, 10),
				},
			},
			Metadata: domain.RelationshipMeta{
				RelationshipType:    relType,
				TimeRelation:        pattern,
				AverageTimeGapHours: avgDiff,
				Pairs:               capPairs(g.pairs, 10),
			},
		})
	}
	return out, nil
}

func classifyTemporalDirection(timeDiffHours float64) string {
	switch {
	case timeDiffHours < concurrentWindowHours && timeDiffHours > -concurrentWindowHours:
		return "concurrent"
	case timeDiffHours > 0:
		return "memory-after-code"
	default:
		return "code-after-memory"
	}
}

// detectDebugging requires both embedding similarity and a literal mention
// of the entity name or file path in the memory content.
func (d *MemoryCodeDetector) detectDebugging(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"minSimilarity": debugSimilarityFloor}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE (` + keywordCondition("m.content", relationDebugKeywords) + `)
  AND m.project_name IS NOT NULL
  AND m.embedding IS NOT NULL` + filter + `
MATCH (c:CodeEntity)
WHERE c.project_name = m.project_name
  AND c.embedding IS NOT NULL
WITH m, c, gds.similarity.cosine(m.embedding, c.embedding) AS similarity
WHERE similarity > $minSimilarity
  AND (toLower(m.content) CONTAINS toLower(c.name)
       OR (c.file_path IS NOT NULL AND toLower(m.content) CONTAINS toLower(c.file_path)))
RETURN m.id AS memoryId, c.id AS codeId, c.type AS codeType, similarity
LIMIT 1000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		similarities []float64
		pairs        []domain.EntityPair
	}
	groups := map[string]*group{}
	for _, row := range rows {
		codeType := neo4jdb.AsString(row["codeType"])
		g := groups[codeType]
		if g == nil {
			g = &group{}
			groups[codeType] = g
		}
		g.similarities = append(g.similarities, neo4jdb.Numeric(row["similarity"]))
		g.pairs = append(g.pairs, domain.EntityPair{
			FromID:     neo4jdb.AsString(row["memoryId"]),
			ToID:       neo4jdb.AsString(row["codeId"]),
			Similarity: neo4jdb.Numeric(row["similarity"]),
		})
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []domain.Pattern
	for _, codeType := range types {
		g := groups[codeType]
		freq := len(g.similarities)
		if freq <= minRelationFrequency {
			continue
		}
		avgSimilarity, _ := meanStdDev(g.similarities)
		out = append(out, domain.Pattern{
			ID:          "memory-code-debugging-" + codeType,
			Type:        domain.PatternDebugging,
			Name:        "Debugging Relationship: " + codeType,
			Description: fmt.Sprintf("Debugging memories frequently reference %s entities", codeType),
			Confidence:  0.8,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceSemantic,
					Description: fmt.Sprintf("Debugging context with %.3f similarity", avgSimilarity),
					Weight:      0.5,
					Examples:    pairFromIDs(g.pairs, 10),
				},
				{
					Type:        domain.EvidenceStructural,
					Description: "Direct code references found",
					Weight:      0.5,
					Examples:    pairToIDs(g.pairs, 10),
				},
			},
			Metadata: domain.RelationshipMeta{
				RelationshipType:  RelDebugs,
				AverageSimilarity: avgSimilarity,
				EntityTypes:       []string{codeType},
				Pairs:             capPairs(g.pairs, 10),
			},
		})
	}
	return out, nil
}

// detectDocumentation looks for long explanatory memories with high
// similarity to the main code structures.
func (d *MemoryCodeDetector) detectDocumentation(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{
		"minSimilarity": docSimilarityFloor,
		"minLength":     docMinContentLength,
	}
	filter := scopeFilter("m", scope, params)
	query := `
MATCH (m:Memory)
WHERE (` + keywordCondition("m.content", docKeywords) + `)
  AND m.project_name IS NOT NULL
  AND m.embedding IS NOT NULL
  AND size(m.content) > $minLength` + filter + `
MATCH (c:CodeEntity)
WHERE c.project_name = m.project_name
  AND c.embedding IS NOT NULL
  AND c.type IN ['class', 'interface', 'function', 'method']
WITH m, c, gds.similarity.cosine(m.embedding, c.embedding) AS similarity
WHERE similarity > $minSimilarity
RETURN m.id AS memoryId, c.id AS codeId, c.type AS codeType, similarity
LIMIT 1000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		similarities []float64
		pairs        []domain.EntityPair
	}
	groups := map[string]*group{}
	for _, row := range rows {
		codeType := neo4jdb.AsString(row["codeType"])
		g := groups[codeType]
		if g == nil {
			g = &group{}
			groups[codeType] = g
		}
		g.similarities = append(g.similarities, neo4jdb.Numeric(row["similarity"]))
		g.pairs = append(g.pairs, domain.EntityPair{
			FromID:     neo4jdb.AsString(row["memoryId"]),
			ToID:       neo4jdb.AsString(row["codeId"]),
			Similarity: neo4jdb.Numeric(row["similarity"]),
		})
	}

	types := make([]string, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Strings(types)

	var out []domain.Pattern
	for _, codeType := range types {
		g := groups[codeType]
		freq := len(g.similarities)
		if freq <= minRelationFrequency {
			continue
		}
		avgSimilarity, _ := meanStdDev(g.similarities)
		out = append(out, domain.Pattern{
			ID:          "memory-code-documentation-" + codeType,
			Type:        domain.PatternArchitecture,
			Name:        "Documentation Relationship: " + codeType,
			Description: fmt.Sprintf("Documentation memories for %s entities", codeType),
			Confidence:  domain.ClampConfidence(avgSimilarity),
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceSemantic,
					Description: fmt.Sprintf("High semantic similarity: %.3f", avgSimilarity),
					Weight:      0.8,
					Examples:    pairFromIDs(g.pairs, 10),
				},
				{
					Type:        domain.EvidenceStructural,
					Description: "Documentation pattern detected",
					Weight:      0.2,
					Examples:    pairToIDs(g.pairs, 10),
				},
			},
			Metadata: domain.RelationshipMeta{
				RelationshipType:  RelDocuments,
				AverageSimilarity: avgSimilarity,
				EntityTypes:       []string{codeType},
				Pairs:             capPairs(g.pairs, 10),
			},
		})
	}
	return out, nil
}

// materializeEdges writes relationship edges for the best examples of the
// high-confidence patterns. Edge failures are logged, never fatal, so one
// bad pair cannot sink a detection run.
func (d *MemoryCodeDetector) materializeEdges(ctx context.Context, found []domain.Pattern) {
	for _, p := range found {
		if p.Confidence <= edgeConfidenceFloor {
			continue
		}
		meta, ok := p.Metadata.(domain.RelationshipMeta)
		if !ok || !validMemoryCodeRelType(meta.RelationshipType) {
			continue
		}
		created := 0
		for _, pair := range meta.Pairs {
			if created >= maxEdgesPerPattern {
				break
			}
			if pair.Similarity <= edgeSimilarityFloor && meta.RelationshipType != RelDebugs {
				continue
			}
			query := `
MATCH (m:Memory {id: $memoryId})
MATCH (c:CodeEntity {id: $codeId})
MERGE (m)-[r:` + meta.RelationshipType + `]->(c)
SET r.confidence = $confidence,
    r.similarity = $similarity,
    r.created_at = datetime(),
    r.pattern_id = $patternId
`
			err := d.graph.Write(ctx, query, map[string]any{
				"memoryId":   pair.FromID,
				"codeId":     pair.ToID,
				"confidence": p.Confidence,
				"similarity": pair.Similarity,
				"patternId":  p.ID,
			})
			if err != nil {
				d.log.Error("failed to create relationship", "pattern_id", p.ID, "memory", pair.FromID, "code", pair.ToID, "error", err)
				continue
			}
			created++
		}
	}
}

func validMemoryCodeRelType(relType string) bool {
	switch relType {
	case RelDiscusses, RelReferencesCode, RelDebugs, RelDocuments, RelModifies:
		return true
	}
	return false
}

// ValidatePattern checks that memory-code relationships of any kind still
// exist in the graph.
func (d *MemoryCodeDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	rows, err := d.graph.Read(ctx, `
MATCH (m:Memory)-[r]->(c:CodeEntity)
WHERE type(r) IN ['DISCUSSES', 'REFERENCES_CODE', 'DEBUGS', 'DOCUMENTS', 'MODIFIES']
RETURN COUNT(r) AS relationshipCount
`, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	var count float64
	if len(rows) > 0 {
		count = neo4jdb.Numeric(rows[0]["relationshipCount"])
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

func capPairs(pairs []domain.EntityPair, n int) []domain.EntityPair {
	if len(pairs) <= n {
		return pairs
	}
	return pairs[:n]
}

func pairFromIDs(pairs []domain.EntityPair, n int) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.FromID)
	}
	return capStrings(out, n)
}

func pairToIDs(pairs []domain.EntityPair, n int) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.ToID)
	}
	return capStrings(out, n)
}
