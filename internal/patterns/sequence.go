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

const (
	crossChunkWindowMinutes  = 30
	crossChunkSimilarity     = 0.7
	maxResolutionHops        = 10
	immediateContextMinutes  = 5
	nearContextMinutes       = 15
	immediateContextSize     = 1
	nearContextSize          = 3
	distantContextSize       = 5
	minConversationChunks    = 2
	minTopicFlowConnections  = 2
	minResolutionSeqFreq     = 2
	minContextPairCount      = 10
	maxSequencePatterns      = 20
	defaultContextWindowSize = 2
	contextSnippetLength     = 200
)

// SequenceDetector respects the fact that memories arrive as chunked
// conversation sequences: it tracks chunk ordering, topic flow across chunk
// boundaries, in-sequence problem resolution, and how far context spreads.
type SequenceDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewSequenceDetector(graph Graph, log *logger.Logger) *SequenceDetector {
	return &SequenceDetector{graph: graph, log: log.With("detector", "sequence")}
}

// Type reports the predominant type of the patterns this detector emits.
func (d *SequenceDetector) Type() domain.PatternType { return domain.PatternTemporal }

func (d *SequenceDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	res, err := runSubDetections(ctx, d.log, []subDetection{
		{"conversations", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectConversations(ctx, scope) }},
		{"topic_flow", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectTopicFlow(ctx, scope) }},
		{"problem_resolution", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectProblemResolution(ctx, scope) }},
		{"context_windows", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectContextWindows(ctx, scope) }},
	})
	if err != nil {
		return res, err
	}
	d.materializeTopicFlow(ctx, res.Patterns)
	return res, nil
}

// detectConversations materializes FOLLOWED_BY_IN_CHUNK ordering inside
// each chunk, then reports per-session sequence shapes.
func (d *SequenceDetector) detectConversations(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("m", scope, params)
	linkQuery := `
MATCH (m:Memory)
WHERE m.chunk_id IS NOT NULL` + filter + `
WITH m.session_id AS sessionId, m.chunk_id AS chunkId, COLLECT(m ORDER BY m.created_at) AS sequence
WHERE SIZE(sequence) > 1
UNWIND RANGE(0, SIZE(sequence)-2) AS i
WITH sequence[i] AS current, sequence[i+1] AS next, sessionId, chunkId
MERGE (current)-[r:FOLLOWED_BY_IN_CHUNK {chunk_id: chunkId, session_id: sessionId, position_diff: 1}]->(next)
`
	if err := d.graph.Write(ctx, linkQuery, params); err != nil {
		return nil, err
	}

	statsParams := map[string]any{}
	statsFilter := scopeFilter("m", scope, statsParams)
	statsQuery := `
MATCH (m:Memory)
WHERE m.chunk_id IS NOT NULL` + statsFilter + `
WITH m.session_id AS sessionId, m.chunk_id AS chunkId, COLLECT(m ORDER BY m.created_at) AS sequence
WHERE SIZE(sequence) > 1
RETURN sessionId, chunkId, SIZE(sequence) AS sequenceLength,
       duration.between(datetime(sequence[0].created_at), datetime(sequence[-1].created_at)).minutes AS durationMinutes
`
	rows, err := d.graph.Read(ctx, statsQuery, statsParams)
	if err != nil {
		return nil, err
	}

	type session struct {
		lengths   []float64
		durations []float64
		chunks    []string
	}
	sessions := map[string]*session{}
	for _, row := range rows {
		id := neo4jdb.AsString(row["sessionId"])
		s := sessions[id]
		if s == nil {
			s = &session{}
			sessions[id] = s
		}
		s.lengths = append(s.lengths, neo4jdb.Numeric(row["sequenceLength"]))
		s.durations = append(s.durations, neo4jdb.Numeric(row["durationMinutes"]))
		s.chunks = append(s.chunks, neo4jdb.AsString(row["chunkId"]))
	}

	ids := make([]string, 0, len(sessions))
	for id, s := range sessions {
		if len(s.chunks) > minConversationChunks {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := sessions[ids[i]], sessions[ids[j]]
		if len(a.chunks) != len(b.chunks) {
			return len(a.chunks) > len(b.chunks)
		}
		return ids[i] < ids[j]
	})
	if len(ids) > maxSequencePatterns {
		ids = ids[:maxSequencePatterns]
	}

	var out []domain.Pattern
	for _, id := range ids {
		s := sessions[id]
		avgLength, _ := meanStdDev(s.lengths)
		avgDuration, _ := meanStdDev(s.durations)
		name := id
		if name == "" {
			name = "unknown"
		}
		out = append(out, domain.Pattern{
			ID:          "sequence-conversation-" + id,
			Type:        domain.PatternTemporal,
			Name:        "Conversation Sequence: " + name,
			Description: fmt.Sprintf("Conversation with %d chunks, avg %.0f memories per chunk", len(s.chunks), avgLength),
			Confidence:  0.9,
			Frequency:   len(s.chunks),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("%d conversation chunks", len(s.chunks)),
					Weight:      0.5,
					Examples:    capStrings(dedupeStrings(s.chunks), 5),
				},
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Average duration: %.0f minutes", avgDuration),
					Weight:      0.5,
				},
			},
			Metadata: domain.SequenceMeta{
				SequenceType:          "conversation",
				AverageSequenceLength: avgLength,
				ContextWindowSize:     nearContextSize,
				SessionID:             id,
			},
		})
	}
	return out, nil
}

// detectTopicFlow finds chunk boundaries where the topic carries across:
// the first memory of the next chunk is semantically close to the last
// memory of the previous one.
func (d *SequenceDetector) detectTopicFlow(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{
		"windowMinutes": crossChunkWindowMinutes,
		"minSimilarity": crossChunkSimilarity,
	}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)-[:FOLLOWED_BY_IN_CHUNK]->(m2:Memory)
WHERE m1.embedding IS NOT NULL
  AND m2.embedding IS NOT NULL` + filter + `
MATCH (m3:Memory)
WHERE m3.chunk_id <> m2.chunk_id
  AND m3.session_id = m2.session_id
  AND m3.created_at > m2.created_at
  AND m3.created_at < datetime(m2.created_at) + duration({minutes: $windowMinutes})
  AND m3.embedding IS NOT NULL
WITH m2, m3, gds.similarity.cosine(m2.embedding, m3.embedding) AS crossChunkSimilarity
WHERE crossChunkSimilarity > $minSimilarity
RETURN m2.chunk_id AS fromChunk, m3.chunk_id AS toChunk, crossChunkSimilarity
LIMIT 2000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type flow struct {
		fromChunk    string
		toChunk      string
		similarities []float64
	}
	flows := map[string]*flow{}
	for _, row := range rows {
		from := neo4jdb.AsString(row["fromChunk"])
		to := neo4jdb.AsString(row["toChunk"])
		key := from + "|" + to
		f := flows[key]
		if f == nil {
			f = &flow{fromChunk: from, toChunk: to}
			flows[key] = f
		}
		f.similarities = append(f.similarities, neo4jdb.Numeric(row["crossChunkSimilarity"]))
	}

	candidates := make([]*flow, 0, len(flows))
	for _, f := range flows {
		if len(f.similarities) > minTopicFlowConnections {
			candidates = append(candidates, f)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, _ := meanStdDev(candidates[i].similarities)
		b, _ := meanStdDev(candidates[j].similarities)
		if a != b {
			return a > b
		}
		return candidates[i].fromChunk < candidates[j].fromChunk
	})
	if len(candidates) > maxSequencePatterns {
		candidates = candidates[:maxSequencePatterns]
	}

	var out []domain.Pattern
	for _, f := range candidates {
		avgSimilarity, _ := meanStdDev(f.similarities)
		out = append(out, domain.Pattern{
			ID:          fmt.Sprintf("sequence-topic-flow-%s-%s", f.fromChunk, f.toChunk),
			Type:        domain.PatternLearning,
			Name:        "Topic Flow Sequence",
			Description: fmt.Sprintf("Topics flow between chunks with %.3f similarity", avgSimilarity),
			Confidence:  domain.ClampConfidence(avgSimilarity),
			Frequency:   len(f.similarities),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceSemantic,
					Description: fmt.Sprintf("Cross-chunk similarity: %.3f", avgSimilarity),
					Weight:      0.8,
					Examples:    []string{f.fromChunk, f.toChunk},
				},
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("%d topic continuations", len(f.similarities)),
					Weight:      0.2,
				},
			},
			Metadata: domain.SequenceMeta{
				SequenceType:          "topic-flow",
				AverageSequenceLength: 2,
				ContextWindowSize:     2,
				FromChunk:             f.fromChunk,
				ToChunk:               f.toChunk,
			},
		})
	}
	return out, nil
}

// detectProblemResolution walks FOLLOWED_BY_IN_CHUNK chains from a problem
// memory to a resolution memory, up to ten hops.
func (d *SequenceDetector) detectProblemResolution(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := scopeFilter("problem", scope, params)
	query := fmt.Sprintf(`
MATCH (problem:Memory)
WHERE (toLower(problem.content) CONTAINS 'error'
   OR toLower(problem.content) CONTAINS 'problem'
   OR toLower(problem.content) CONTAINS 'issue')
  AND problem.chunk_id IS NOT NULL`+filter+`
MATCH path = (problem)-[:FOLLOWED_BY_IN_CHUNK*1..%d]-(resolution:Memory)
WHERE (toLower(resolution.content) CONTAINS 'fixed'
   OR toLower(resolution.content) CONTAINS 'solved'
   OR toLower(resolution.content) CONTAINS 'works')
RETURN problem.id AS problemId,
       resolution.id AS resolutionId,
       problem.chunk_id AS problemChunk,
       length(path) AS stepCount,
       [n IN nodes(path) | n.chunk_id] AS chunkSequence,
       duration.between(datetime(problem.created_at), datetime(resolution.created_at)).minutes AS resolutionMinutes
LIMIT 500
`, maxResolutionHops)
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type group struct {
		steps       []float64
		times       []float64
		problems    []string
		resolutions []string
	}
	groups := map[string]*group{}
	for _, row := range rows {
		chunks := neo4jdb.StringSlice(row["chunkSequence"])
		key := classifyResolutionSpread(neo4jdb.AsString(row["problemChunk"]), chunks)
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
		}
		g.steps = append(g.steps, neo4jdb.Numeric(row["stepCount"]))
		g.times = append(g.times, neo4jdb.Numeric(row["resolutionMinutes"]))
		g.problems = append(g.problems, neo4jdb.AsString(row["problemId"]))
		g.resolutions = append(g.resolutions, neo4jdb.AsString(row["resolutionId"]))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		g := groups[key]
		freq := len(g.steps)
		if freq <= minResolutionSeqFreq {
			continue
		}
		avgSteps, _ := meanStdDev(g.steps)
		avgTime, _ := meanStdDev(g.times)
		windowSize := 2
		if strings.Contains(key, "multi") {
			windowSize = distantContextSize
		}
		out = append(out, domain.Pattern{
			ID:          "sequence-resolution-" + key,
			Type:        domain.PatternDebugging,
			Name:        "Problem Resolution: " + key,
			Description: fmt.Sprintf("Problems resolved in %.1f steps over %.0f minutes", avgSteps, avgTime),
			Confidence:  0.8,
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("Average %.1f steps to resolution", avgSteps),
					Weight:      0.5,
					Examples:    capStrings(g.problems, 5),
				},
				{
					Type:        domain.EvidenceTemporal,
					Description: fmt.Sprintf("Resolution time: %.0f minutes", avgTime),
					Weight:      0.5,
					Examples:    capStrings(g.resolutions, 5),
				},
			},
			Metadata: domain.SequenceMeta{
				SequenceType:          "problem-resolution",
				AverageSequenceLength: avgSteps,
				ContextWindowSize:     windowSize,
				ResolutionPattern:     key,
			},
		})
	}
	return out, nil
}

func classifyResolutionSpread(problemChunk string, chunkSequence []string) string {
	foreign := 0
	for _, chunk := range chunkSequence {
		if chunk != "" && chunk != problemChunk {
			foreign++
		}
	}
	switch {
	case foreign == 0:
		return "same-chunk-resolution"
	case foreign == 1:
		return "next-chunk-resolution"
	default:
		return "multi-chunk-resolution"
	}
}

// detectContextWindows measures how similarity decays with the time
// distance between chunks of the same session, which tells us how wide a
// context window is worth carrying.
func (d *SequenceDetector) detectContextWindows(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{"windowMinutes": crossChunkWindowMinutes}
	filter := scopeFilter("m1", scope, params)
	query := `
MATCH (m1:Memory)
WHERE m1.chunk_id IS NOT NULL
  AND m1.embedding IS NOT NULL` + filter + `
MATCH (m2:Memory)
WHERE m2.session_id = m1.session_id
  AND m2.chunk_id <> m1.chunk_id
  AND m2.embedding IS NOT NULL
  AND abs(duration.between(datetime(m1.created_at), datetime(m2.created_at)).minutes) < $windowMinutes
RETURN gds.similarity.cosine(m1.embedding, m2.embedding) AS similarity,
       abs(duration.between(datetime(m1.created_at), datetime(m2.created_at)).minutes) AS timeDiff,
       CASE WHEN m1.chunk_id < m2.chunk_id THEN 'forward' ELSE 'backward' END AS direction
LIMIT 5000
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	groups := map[string][]float64{}
	for _, row := range rows {
		window := classifyContextWindow(neo4jdb.Numeric(row["timeDiff"]))
		key := window + "|" + neo4jdb.AsString(row["direction"])
		groups[key] = append(groups[key], neo4jdb.Numeric(row["similarity"]))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		similarities := groups[key]
		if len(similarities) <= minContextPairCount {
			continue
		}
		window, direction, _ := strings.Cut(key, "|")
		avgSimilarity, stdDev := meanStdDev(similarities)
		out = append(out, domain.Pattern{
			ID:          fmt.Sprintf("sequence-context-%s-%s", window, direction),
			Type:        domain.PatternArchitecture,
			Name:        "Context Window: " + window,
			Description: fmt.Sprintf("%s context with %.3f similarity", direction, avgSimilarity),
			Confidence:  domain.ClampConfidence(avgSimilarity),
			Frequency:   len(similarities),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceSemantic,
					Description: fmt.Sprintf("Context similarity: %.3f (±%.3f)", avgSimilarity, stdDev),
					Weight:      1.0,
				},
			},
			Metadata: domain.SequenceMeta{
				SequenceType:      "session",
				ContextWindowSize: contextWindowSize(window),
			},
		})
	}
	return out, nil
}

func classifyContextWindow(timeDiffMinutes float64) string {
	switch {
	case timeDiffMinutes < immediateContextMinutes:
		return "immediate-context"
	case timeDiffMinutes < nearContextMinutes:
		return "near-context"
	default:
		return "distant-context"
	}
}

func contextWindowSize(window string) int {
	switch window {
	case "immediate-context":
		return immediateContextSize
	case "near-context":
		return nearContextSize
	default:
		return distantContextSize
	}
}

// materializeTopicFlow links the closing memory of one chunk to the
// opening memory of the next for high-confidence topic-flow patterns.
func (d *SequenceDetector) materializeTopicFlow(ctx context.Context, found []domain.Pattern) {
	for _, p := range found {
		if p.Confidence <= edgeConfidenceFloor {
			continue
		}
		meta, ok := p.Metadata.(domain.SequenceMeta)
		if !ok || meta.SequenceType != "topic-flow" || meta.FromChunk == "" {
			continue
		}
		query := `
MATCH (m1:Memory {chunk_id: $fromChunk})
MATCH (m2:Memory {chunk_id: $toChunk})
WHERE m1.session_id = m2.session_id
  AND m2.created_at > m1.created_at
WITH m1, m2
ORDER BY m1.created_at DESC, m2.created_at ASC
LIMIT 1
MERGE (m1)-[r:TOPIC_CONTINUES_TO]->(m2)
SET r.pattern_id = $patternId,
    r.confidence = $confidence,
    r.created_at = datetime()
`
		err := d.graph.Write(ctx, query, map[string]any{
			"fromChunk":  meta.FromChunk,
			"toChunk":    meta.ToChunk,
			"patternId":  p.ID,
			"confidence": p.Confidence,
		})
		if err != nil {
			d.log.Error("failed to create topic flow relationship", "pattern_id", p.ID, "error", err)
		}
	}
}

// ValidatePattern only checks that sequence edges still exist; sequence
// structure is explicit, so validation never nudges confidence.
func (d *SequenceDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	rows, err := d.graph.Read(ctx, `
MATCH ()-[r:FOLLOWED_BY_IN_CHUNK|TOPIC_CONTINUES_TO]->()
RETURN COUNT(r) AS count
`, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	var count float64
	if len(rows) > 0 {
		count = neo4jdb.Numeric(rows[0]["count"])
	}
	return domain.Validation{StillValid: count > 0, ConfidenceDelta: 0}, nil
}

// ContextMemory is the slice of a memory BuildContextWindow needs.
type ContextMemory struct {
	Content   string
	ChunkID   string
	SessionID string
}

// BuildContextWindow assembles the text of a memory together with up to
// size preceding and following memories from the same session, each
// neighbor trimmed to a short snippet. Callers feed the result to an
// embedding model. Falls back to the bare content when the memory has no
// session context.
func BuildContextWindow(ctx context.Context, graph Graph, memory ContextMemory, size int) (string, error) {
	if memory.ChunkID == "" || memory.SessionID == "" {
		return memory.Content, nil
	}
	if size <= 0 {
		size = defaultContextWindowSize
	}
	query := `
MATCH (target:Memory {chunk_id: $chunkId, session_id: $sessionId})
OPTIONAL MATCH (prev:Memory)
WHERE prev.session_id = $sessionId
  AND prev.created_at < target.created_at
WITH target, prev
ORDER BY prev.created_at DESC
LIMIT $contextSize
OPTIONAL MATCH (next:Memory)
WHERE next.session_id = $sessionId
  AND next.created_at > target.created_at
WITH target, COLLECT(prev.content) AS prevContent, next
ORDER BY next.created_at ASC
LIMIT $contextSize
RETURN prevContent, COLLECT(next.content) AS nextContent
`
	rows, err := graph.Read(ctx, query, map[string]any{
		"chunkId":     memory.ChunkID,
		"sessionId":   memory.SessionID,
		"contextSize": size,
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return memory.Content, nil
	}

	var parts []string
	for _, prev := range neo4jdb.StringSlice(rows[0]["prevContent"]) {
		parts = append(parts, "[PREVIOUS CONTEXT]: "+snippet(prev))
	}
	parts = append(parts, "[CURRENT]: "+memory.Content)
	for _, next := range neo4jdb.StringSlice(rows[0]["nextContent"]) {
		parts = append(parts, "[NEXT CONTEXT]: "+snippet(next))
	}
	return strings.Join(parts, "\n\n"), nil
}

func snippet(content string) string {
	if len(content) <= contextSnippetLength {
		return content
	}
	return content[:contextSnippetLength]
}
