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
	defaultMinStoredConfidence = 0.5
	defaultPatternLimit        = 100
	similarConfidenceFloor     = 0.7
	similarScoreThreshold      = 0.5
	similarNameScore           = 0.3
	similarDescScore           = 0.2
	similarConfidenceScore     = 0.2
	similarFrequencyScore      = 0.3
	similarConfidenceBand      = 0.1
	similarFrequencyBand       = 10
	maxSimilarPatterns         = 10
	maxRelatedPatterns         = 20
	defaultCleanupMaxAgeDays   = 90
	defaultCleanupMinValidated = 3
	defaultCleanupMinConf      = 0.3
	cleanupGraceDays           = 7
	defaultLinkConfidence      = 0.7
)

// PatternFilters narrow a GetPatterns call. Zero values mean "no filter",
// except MinConfidence and Limit which fall back to defaults.
type PatternFilters struct {
	WorkspaceID   string
	TeamID        string
	UserID        string
	Type          domain.PatternType
	MinConfidence float64
	Limit         int
}

// PatternCache is an optional read-through cache for GetPatterns results.
// A nil cache disables caching.
type PatternCache interface {
	Get(ctx context.Context, key string) ([]domain.StoredPattern, bool)
	Set(ctx context.Context, key string, patterns []domain.StoredPattern)
	Invalidate(ctx context.Context)
}

// EvolutionPoint is one snapshot in a pattern's history.
type EvolutionPoint struct {
	Timestamp  string
	Confidence float64
	Frequency  int
}

// Evolution is a pattern plus its recorded history and outgoing links.
type Evolution struct {
	Pattern domain.StoredPattern
	History []EvolutionPoint
	Related []domain.PatternLink
}

// PatternStore persists patterns in the graph with tenancy metadata and
// evidence satellites. All writes are idempotent by pattern id.
type PatternStore struct {
	graph Graph
	cache PatternCache
	log   *logger.Logger
}

func NewPatternStore(graph Graph, cache PatternCache, log *logger.Logger) *PatternStore {
	return &PatternStore{graph: graph, cache: cache, log: log.With("component", "pattern_store")}
}

// StorePattern upserts a pattern node and its evidence. First store sets
// storedAt and discovered_at; every store bumps validationCount and
// refreshes last_seen, so repeated discovery runs converge on one node.
func (s *PatternStore) StorePattern(ctx context.Context, p domain.Pattern, tenancy domain.Tenancy) error {
	metadata, err := domain.EncodeMetadata(p.Metadata)
	if err != nil {
		return fmt.Errorf("store pattern %s: %w", p.ID, err)
	}
	evidence := make([]map[string]any, 0, len(p.Evidence))
	for _, ev := range p.Evidence {
		evidence = append(evidence, map[string]any{
			"type":        string(ev.Type),
			"description": ev.Description,
			"weight":      ev.Weight,
		})
	}

	query := `
MERGE (p:Pattern {id: $id})
ON CREATE SET p.storedAt = datetime(),
              p.discovered_at = datetime()
SET p.type = $type,
    p.name = $name,
    p.description = $description,
    p.confidence = $confidence,
    p.frequency = $frequency,
    p.metadata = $metadata,
    p.last_seen = datetime(),
    p.lastValidated = datetime(),
    p.status = 'active',
    p.validationCount = COALESCE(p.validationCount, 0) + 1,
    p.workspaceId = $workspaceId,
    p.teamId = $teamId,
    p.userId = $userId,
    p.isPublic = $isPublic
WITH p
UNWIND $evidence AS ev
MERGE (e:Evidence {patternId: p.id, type: ev.type, description: ev.description})
SET e.weight = ev.weight
MERGE (p)-[:HAS_EVIDENCE]->(e)
`
	err = s.graph.Write(ctx, query, map[string]any{
		"id":          p.ID,
		"type":        string(p.Type),
		"name":        p.Name,
		"description": p.Description,
		"confidence":  p.Confidence,
		"frequency":   p.Frequency,
		"metadata":    metadata,
		"evidence":    evidence,
		"workspaceId": tenancy.WorkspaceID,
		"teamId":      tenancy.TeamID,
		"userId":      tenancy.UserID,
		"isPublic":    tenancy.IsPublic,
	})
	if err != nil {
		return fmt.Errorf("store pattern %s: %w", p.ID, err)
	}
	s.log.Info("pattern stored", "pattern_id", p.ID, "type", p.Type)
	s.invalidateCache(ctx)
	return nil
}

// GetPatterns retrieves patterns visible to the caller. The visibility
// predicate runs in the query and is re-applied in Go on the decoded rows;
// a row that slips the graph filter never reaches the caller.
func (s *PatternStore) GetPatterns(ctx context.Context, filters PatternFilters) ([]domain.StoredPattern, error) {
	if filters.MinConfidence == 0 {
		filters.MinConfidence = defaultMinStoredConfidence
	}
	if filters.Limit == 0 {
		filters.Limit = defaultPatternLimit
	}

	cacheKey := filterCacheKey(filters)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	query := `
MATCH (p:Pattern)
WHERE ($workspaceId IS NULL OR p.workspaceId = $workspaceId)
  AND ($teamId IS NULL OR p.teamId = $teamId OR p.isPublic = true)
  AND ($userId IS NULL OR p.userId = $userId OR p.teamId IS NOT NULL OR p.isPublic = true)
  AND ($type IS NULL OR p.type = $type)
  AND p.confidence >= $minConfidence
OPTIONAL MATCH (p)-[:HAS_EVIDENCE]->(e:Evidence)
WITH p, collect({type: e.type, description: e.description, weight: e.weight}) AS evidence
RETURN p.id AS id, p.type AS type, p.name AS name, p.description AS description,
       p.confidence AS confidence, p.frequency AS frequency, p.metadata AS metadata,
       p.storedAt AS storedAt, p.lastValidated AS lastValidated,
       p.validationCount AS validationCount, p.status AS status,
       p.workspaceId AS workspaceId, p.teamId AS teamId, p.userId AS userId,
       p.isPublic AS isPublic, evidence
ORDER BY p.confidence DESC
LIMIT $limit
`
	rows, err := s.graph.Read(ctx, query, map[string]any{
		"workspaceId":   nilIfEmpty(filters.WorkspaceID),
		"teamId":        nilIfEmpty(filters.TeamID),
		"userId":        nilIfEmpty(filters.UserID),
		"type":          nilIfEmpty(string(filters.Type)),
		"minConfidence": filters.MinConfidence,
		"limit":         filters.Limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.StoredPattern, 0, len(rows))
	for _, row := range rows {
		sp := rowToStoredPattern(row)
		if !visibleTo(sp, filters) {
			continue
		}
		out = append(out, sp)
	}
	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, out)
	}
	return out, nil
}

// ActivePatterns returns every pattern currently marked active, without
// tenancy filtering; used by the validation pass.
func (s *PatternStore) ActivePatterns(ctx context.Context) ([]domain.StoredPattern, error) {
	query := `
MATCH (p:Pattern)
WHERE p.status = 'active'
OPTIONAL MATCH (p)-[:HAS_EVIDENCE]->(e:Evidence)
WITH p, collect({type: e.type, description: e.description, weight: e.weight}) AS evidence
RETURN p.id AS id, p.type AS type, p.name AS name, p.description AS description,
       p.confidence AS confidence, p.frequency AS frequency, p.metadata AS metadata,
       p.storedAt AS storedAt, p.lastValidated AS lastValidated,
       p.validationCount AS validationCount, p.status AS status,
       p.workspaceId AS workspaceId, p.teamId AS teamId, p.userId AS userId,
       p.isPublic AS isPublic, evidence
`
	rows, err := s.graph.Read(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StoredPattern, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToStoredPattern(row))
	}
	return out, nil
}

// UpdatePatternConfidence records a validation outcome with a new
// confidence value.
func (s *PatternStore) UpdatePatternConfidence(ctx context.Context, id string, confidence float64, stillValid bool) error {
	query := `
MATCH (p:Pattern {id: $patternId})
SET p.confidence = $confidence,
    p.lastValidated = datetime(),
    p.validationCount = COALESCE(p.validationCount, 0) + 1,
    p.isValid = $stillValid
`
	err := s.graph.Write(ctx, query, map[string]any{
		"patternId":  id,
		"confidence": domain.ClampConfidence(confidence),
		"stillValid": stillValid,
	})
	if err != nil {
		return fmt.Errorf("update pattern confidence %s: %w", id, err)
	}
	s.invalidateCache(ctx)
	return nil
}

// MarkInvalidated flips the given patterns out of the active set.
func (s *PatternStore) MarkInvalidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
UNWIND $patternIds AS id
MATCH (p:Pattern {id: id})
SET p.status = 'invalidated',
    p.isValid = false,
    p.invalidated_at = datetime()
`
	if err := s.graph.Write(ctx, query, map[string]any{"patternIds": ids}); err != nil {
		return fmt.Errorf("mark invalidated: %w", err)
	}
	s.invalidateCache(ctx)
	return nil
}

// FindSimilarPatterns looks across workspaces for patterns resembling the
// given one. Candidates are fetched by type and visibility; scoring runs
// in Go over name, description, confidence, and frequency proximity.
func (s *PatternStore) FindSimilarPatterns(ctx context.Context, p domain.Pattern, tenancy domain.Tenancy) ([]domain.StoredPattern, error) {
	query := `
MATCH (p:Pattern)
WHERE p.type = $type
  AND p.id <> $patternId
  AND (p.isPublic = true OR p.teamId = $teamId)
  AND p.confidence > $minConfidence
OPTIONAL MATCH (p)-[:HAS_EVIDENCE]->(e:Evidence)
WITH p, collect({type: e.type, description: e.description, weight: e.weight}) AS evidence
RETURN p.id AS id, p.type AS type, p.name AS name, p.description AS description,
       p.confidence AS confidence, p.frequency AS frequency, p.metadata AS metadata,
       p.storedAt AS storedAt, p.lastValidated AS lastValidated,
       p.validationCount AS validationCount, p.status AS status,
       p.workspaceId AS workspaceId, p.teamId AS teamId, p.userId AS userId,
       p.isPublic AS isPublic, evidence
`
	rows, err := s.graph.Read(ctx, query, map[string]any{
		"type":          string(p.Type),
		"patternId":     p.ID,
		"teamId":        tenancy.TeamID,
		"minConfidence": similarConfidenceFloor,
	})
	if err != nil {
		return nil, err
	}

	nameKeyword := similarityNameKeyword(p.Name)
	descKeyword := similarityDescKeyword(p.Description)

	type scored struct {
		pattern domain.StoredPattern
		score   float64
	}
	var candidates []scored
	for _, row := range rows {
		sp := rowToStoredPattern(row)
		score := similarityScore(sp, p, nameKeyword, descKeyword)
		if score > similarScoreThreshold {
			candidates = append(candidates, scored{pattern: sp, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pattern.ID < candidates[j].pattern.ID
	})
	if len(candidates) > maxSimilarPatterns {
		candidates = candidates[:maxSimilarPatterns]
	}
	out := make([]domain.StoredPattern, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.pattern)
	}
	return out, nil
}

func similarityScore(candidate domain.StoredPattern, p domain.Pattern, nameKeyword, descKeyword string) float64 {
	var score float64
	if nameKeyword != "" && strings.Contains(candidate.Name, nameKeyword) {
		score += similarNameScore
	}
	if descKeyword != "" && strings.Contains(candidate.Description, descKeyword) {
		score += similarDescScore
	}
	diff := candidate.Confidence - p.Confidence
	if diff < 0 {
		diff = -diff
	}
	if diff < similarConfidenceBand {
		score += similarConfidenceScore
	}
	freqDiff := candidate.Frequency - p.Frequency
	if freqDiff < 0 {
		freqDiff = -freqDiff
	}
	if freqDiff < similarFrequencyBand {
		score += similarFrequencyScore
	}
	return score
}

// The name keyword is the variant part after the detector prefix, e.g.
// "quick-resolution" out of "Resolution Pattern: quick-resolution".
func similarityNameKeyword(name string) string {
	if _, after, ok := strings.Cut(name, ":"); ok {
		return strings.TrimSpace(after)
	}
	return name
}

func similarityDescKeyword(description string) string {
	words := strings.Fields(description)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

// LinkPatterns creates or refreshes a typed edge between two patterns.
func (s *PatternStore) LinkPatterns(ctx context.Context, fromID, toID string, relationship domain.RelationshipType, confidence float64) error {
	switch relationship {
	case domain.RelLeadsTo, domain.RelCorrelatesWith, domain.RelContradicts, domain.RelEnables:
	default:
		return fmt.Errorf("link patterns: unknown relationship type %q", relationship)
	}
	if confidence == 0 {
		confidence = defaultLinkConfidence
	}
	query := `
MATCH (p1:Pattern {id: $fromId})
MATCH (p2:Pattern {id: $toId})
MERGE (p1)-[r:` + string(relationship) + `]->(p2)
SET r.confidence = $confidence,
    r.discoveredAt = datetime(),
    r.validationCount = COALESCE(r.validationCount, 0) + 1
`
	err := s.graph.Write(ctx, query, map[string]any{
		"fromId":     fromID,
		"toId":       toID,
		"confidence": confidence,
	})
	if err != nil {
		return fmt.Errorf("link patterns %s -> %s: %w", fromID, toID, err)
	}
	return nil
}

// GetPatternEvolution returns a pattern with its recorded history point
// and the patterns it links to. Callers outside the pattern's workspace
// only see it when it is public.
func (s *PatternStore) GetPatternEvolution(ctx context.Context, patternID, workspaceID string) (Evolution, error) {
	var evo Evolution
	query := `
MATCH (p:Pattern {id: $patternId})
WHERE $workspaceId IS NULL OR p.workspaceId = $workspaceId OR p.isPublic = true
OPTIONAL MATCH (p)-[:HAS_EVIDENCE]->(e:Evidence)
WITH p, collect({type: e.type, description: e.description, weight: e.weight}) AS evidence
RETURN p.id AS id, p.type AS type, p.name AS name, p.description AS description,
       p.confidence AS confidence, p.frequency AS frequency, p.metadata AS metadata,
       p.storedAt AS storedAt, p.lastValidated AS lastValidated,
       p.validationCount AS validationCount, p.status AS status,
       p.workspaceId AS workspaceId, p.teamId AS teamId, p.userId AS userId,
       p.isPublic AS isPublic, evidence
`
	rows, err := s.graph.Read(ctx, query, map[string]any{
		"patternId":   patternID,
		"workspaceId": nilIfEmpty(workspaceID),
	})
	if err != nil {
		return evo, err
	}
	if len(rows) == 0 {
		return evo, fmt.Errorf("pattern %s not found or access denied", patternID)
	}
	evo.Pattern = rowToStoredPattern(rows[0])
	evo.History = []EvolutionPoint{{
		Timestamp:  evo.Pattern.StoredAt.Format("2006-01-02T15:04:05Z07:00"),
		Confidence: evo.Pattern.Confidence,
		Frequency:  evo.Pattern.Frequency,
	}}

	relatedQuery := `
MATCH (p:Pattern {id: $patternId})-[r]->(related:Pattern)
WHERE type(r) IN ['LEADS_TO', 'CORRELATES_WITH', 'CONTRADICTS', 'ENABLES']
  AND ($workspaceId IS NULL OR related.workspaceId = $workspaceId OR related.isPublic = true)
RETURN related.id AS id, related.type AS type, related.name AS name,
       related.description AS description, related.confidence AS confidence,
       related.frequency AS frequency, related.metadata AS metadata,
       related.storedAt AS storedAt, related.lastValidated AS lastValidated,
       related.validationCount AS validationCount, related.status AS status,
       related.workspaceId AS workspaceId, related.teamId AS teamId,
       related.userId AS userId, related.isPublic AS isPublic,
       type(r) AS relationship, r.confidence AS linkConfidence
LIMIT ` + fmt.Sprintf("%d", maxRelatedPatterns) + `
`
	relatedRows, err := s.graph.Read(ctx, relatedQuery, map[string]any{
		"patternId":   patternID,
		"workspaceId": nilIfEmpty(workspaceID),
	})
	if err != nil {
		return evo, err
	}
	for _, row := range relatedRows {
		evo.Related = append(evo.Related, domain.PatternLink{
			Pattern:      rowToStoredPattern(row),
			Relationship: domain.RelationshipType(neo4jdb.AsString(row["relationship"])),
			Confidence:   neo4jdb.Numeric(row["linkConfidence"]),
		})
	}
	return evo, nil
}

// CleanupPatterns hard-deletes stale patterns: not validated within the
// age window, never re-validated past the grace period, or low-confidence
// and already invalid. Evidence satellites go first. Returns the number of
// patterns deleted.
func (s *PatternStore) CleanupPatterns(ctx context.Context, policy domain.CleanupPolicy) (int, error) {
	if policy.MaxAgeDays == 0 {
		policy.MaxAgeDays = defaultCleanupMaxAgeDays
	}
	if policy.MinValidationCount == 0 {
		policy.MinValidationCount = defaultCleanupMinValidated
	}
	if policy.MinConfidence == 0 {
		policy.MinConfidence = defaultCleanupMinConf
	}

	selectQuery := `
MATCH (p:Pattern)
WHERE (p.lastValidated < datetime() - duration({days: $maxAge}))
   OR (p.validationCount < $minValidationCount AND p.storedAt < datetime() - duration({days: $graceDays}))
   OR (p.confidence < $minConfidence AND p.isValid = false)
RETURN p.id AS id
`
	rows, err := s.graph.Read(ctx, selectQuery, map[string]any{
		"maxAge":             policy.MaxAgeDays,
		"minValidationCount": policy.MinValidationCount,
		"minConfidence":      policy.MinConfidence,
		"graceDays":          cleanupGraceDays,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, neo4jdb.AsString(row["id"]))
	}

	deleteQuery := `
UNWIND $patternIds AS id
MATCH (p:Pattern {id: id})
OPTIONAL MATCH (p)-[:HAS_EVIDENCE]->(e:Evidence)
DETACH DELETE e
WITH DISTINCT p
DETACH DELETE p
`
	if err := s.graph.Write(ctx, deleteQuery, map[string]any{"patternIds": ids}); err != nil {
		return 0, fmt.Errorf("cleanup patterns: %w", err)
	}
	s.log.Info("cleaned up patterns", "deleted_count", len(ids))
	s.invalidateCache(ctx)
	return len(ids), nil
}

func (s *PatternStore) invalidateCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func filterCacheKey(f PatternFilters) string {
	return fmt.Sprintf("patterns:%s:%s:%s:%s:%.2f:%d",
		f.WorkspaceID, f.TeamID, f.UserID, f.Type, f.MinConfidence, f.Limit)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// visibleTo re-applies the tenancy predicate on a decoded pattern.
func visibleTo(sp domain.StoredPattern, f PatternFilters) bool {
	if f.WorkspaceID != "" && sp.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.TeamID != "" && sp.TeamID != f.TeamID && !sp.IsPublic {
		return false
	}
	if f.UserID != "" && sp.UserID != f.UserID && sp.TeamID == "" && !sp.IsPublic {
		return false
	}
	if f.Type != "" && sp.Type != f.Type {
		return false
	}
	return sp.Confidence >= f.MinConfidence
}

func rowToStoredPattern(row map[string]any) domain.StoredPattern {
	sp := domain.StoredPattern{
		Pattern: domain.Pattern{
			ID:          neo4jdb.AsString(row["id"]),
			Type:        domain.PatternType(neo4jdb.AsString(row["type"])),
			Name:        neo4jdb.AsString(row["name"]),
			Description: neo4jdb.AsString(row["description"]),
			Confidence:  neo4jdb.Numeric(row["confidence"]),
			Frequency:   int(neo4jdb.Numeric(row["frequency"])),
			Status:      domain.PatternStatus(neo4jdb.AsString(row["status"])),
		},
		StoredAt:        neo4jdb.AsTime(row["storedAt"]),
		LastValidated:   neo4jdb.AsTime(row["lastValidated"]),
		ValidationCount: int(neo4jdb.Numeric(row["validationCount"])),
		WorkspaceID:     neo4jdb.AsString(row["workspaceId"]),
		TeamID:          neo4jdb.AsString(row["teamId"]),
		UserID:          neo4jdb.AsString(row["userId"]),
		IsPublic:        neo4jdb.AsBool(row["isPublic"]),
	}
	if meta, err := domain.DecodeMetadata(neo4jdb.AsString(row["metadata"])); err == nil {
		sp.Metadata = meta
	}
	for _, ev := range neo4jdb.MapSlice(row["evidence"]) {
		evType := neo4jdb.AsString(ev["type"])
		if evType == "" {
			continue
		}
		sp.Evidence = append(sp.Evidence, domain.Evidence{
			Type:        domain.EvidenceType(evType),
			Description: neo4jdb.AsString(ev["description"]),
			Weight:      neo4jdb.Numeric(ev["weight"]),
		})
	}
	return sp
}
