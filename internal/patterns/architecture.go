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
	minDependencyFrequency  = 5
	minLayerCount           = 2
	layerConfidenceCap      = 4
	dependencyConfidenceCap = 50
	minDesignPatternUsage   = 2
	designPatternConfidence = 0.8
)

// ArchitectureDetector discovers structure in the code-entity graph: module
// dependency shapes, layering, named design patterns, and file organization.
type ArchitectureDetector struct {
	graph Graph
	log   *logger.Logger
}

func NewArchitectureDetector(graph Graph, log *logger.Logger) *ArchitectureDetector {
	return &ArchitectureDetector{graph: graph, log: log.With("detector", "architecture")}
}

func (d *ArchitectureDetector) Type() domain.PatternType { return domain.PatternArchitecture }

func (d *ArchitectureDetector) DetectPatterns(ctx context.Context, scope domain.Scope) (Result, error) {
	return runSubDetections(ctx, d.log, []subDetection{
		{"module_dependencies", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectModuleDependencies(ctx, scope) }},
		{"layering", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectLayering(ctx, scope) }},
		{"design_patterns", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectDesignPatterns(ctx, scope) }},
		{"organization", func(ctx context.Context) ([]domain.Pattern, error) { return d.detectOrganization(ctx, scope) }},
	})
}

// Code entities carry workspace and project but no per-user attribution, so
// the scope filter here is narrower than the memory one.
func codeScopeFilter(alias string, scope domain.Scope, params map[string]any) string {
	var b strings.Builder
	if scope.WorkspaceID != "" {
		fmt.Fprintf(&b, " AND %s.workspace_id = $workspaceId", alias)
		params["workspaceId"] = scope.WorkspaceID
	}
	if scope.ProjectName != "" {
		fmt.Fprintf(&b, " AND %s.project_name = $projectName", alias)
		params["projectName"] = scope.ProjectName
	}
	return b.String()
}

func (d *ArchitectureDetector) detectModuleDependencies(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := codeScopeFilter("importer", scope, params)
	query := `
MATCH (importer:CodeEntity)-[:USES_IMPORT]->(imported:CodeEntity)
WHERE importer.type IN ['class', 'function', 'module']` + filter + `
WITH importer.file_path AS importerPath, imported.file_path AS importedPath, COUNT(*) AS importCount
RETURN importerPath, importedPath, importCount
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	groups := map[string][]float64{}
	for _, row := range rows {
		key := classifyDependency(neo4jdb.AsString(row["importerPath"]), neo4jdb.AsString(row["importedPath"]))
		groups[key] = append(groups[key], neo4jdb.Numeric(row["importCount"]))
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		counts := groups[key]
		freq := len(counts)
		if freq <= minDependencyFrequency {
			continue
		}
		avgImports, _ := meanStdDev(counts)
		out = append(out, domain.Pattern{
			ID:          "architecture-dependency-" + key,
			Type:        domain.PatternArchitecture,
			Name:        "Module Dependency: " + key,
			Description: fmt.Sprintf("%s with average %.1f imports per module", key, avgImports),
			Confidence:  domain.ClampConfidence(float64(freq) / dependencyConfidenceCap),
			Frequency:   freq,
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceStructural,
					Description: fmt.Sprintf("Average imports: %.1f", avgImports),
					Weight:      0.5,
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: fmt.Sprintf("Pattern found %d times", freq),
					Weight:      0.5,
				},
			},
			Metadata: domain.ArchitectureMeta{
				PatternName: key,
			},
		})
	}
	return out, nil
}

func classifyDependency(importerPath, importedPath string) string {
	switch {
	case strings.Contains(importedPath, "/utils/") || strings.Contains(importedPath, "/helpers/"):
		return "utility-pattern"
	case strings.Contains(importedPath, "/services/") || strings.Contains(importedPath, "/api/"):
		return "service-pattern"
	case strings.Contains(importedPath, "/components/") || strings.Contains(importedPath, "/views/"):
		return "ui-pattern"
	case strings.Contains(importedPath, "/models/") || strings.Contains(importedPath, "/entities/"):
		return "data-pattern"
	case strings.Contains(importerPath, importedPath) || strings.Contains(importedPath, importerPath):
		return "cohesive-pattern"
	default:
		return "cross-module-pattern"
	}
}

// detectLayering reads file paths and recognizes the conventional layers. A
// pattern needs at least two distinct layers.
func (d *ArchitectureDetector) detectLayering(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := codeScopeFilter("c", scope, params)
	query := `
MATCH (c:CodeEntity)
WHERE c.file_path IS NOT NULL` + filter + `
RETURN c.file_path AS filePath
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	type layerStats struct {
		files    map[string]bool
		entities int
	}
	layers := map[string]*layerStats{}
	for _, row := range rows {
		path := neo4jdb.AsString(row["filePath"])
		layer := classifyLayer(path)
		if layer == "" {
			continue
		}
		s := layers[layer]
		if s == nil {
			s = &layerStats{files: map[string]bool{}}
			layers[layer] = s
		}
		s.files[path] = true
		s.entities++
	}
	if len(layers) < minLayerCount {
		return nil, nil
	}

	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)

	totalFiles := 0
	evidence := make([]domain.Evidence, 0, len(names))
	for _, name := range names {
		s := layers[name]
		totalFiles += len(s.files)
		evidence = append(evidence, domain.Evidence{
			Type:        domain.EvidenceStructural,
			Description: fmt.Sprintf("%s layer: %d files, %d entities", name, len(s.files), s.entities),
			Weight:      1.0 / float64(len(names)),
		})
	}

	return []domain.Pattern{{
		ID:          "architecture-layered-structure",
		Type:        domain.PatternArchitecture,
		Name:        "Layered Architecture Pattern",
		Description: fmt.Sprintf("%d-layer architecture with %d files", len(names), totalFiles),
		Confidence:  domain.ClampConfidence(float64(len(names)) / layerConfidenceCap),
		Frequency:   totalFiles,
		Evidence:    evidence,
		Metadata: domain.ArchitectureMeta{
			PatternName: "layered-architecture",
			Components:  names,
		},
	}}, nil
}

func classifyLayer(path string) string {
	switch {
	case strings.Contains(path, "/controllers/") || strings.Contains(path, "/routes/"):
		return "presentation"
	case strings.Contains(path, "/services/") || strings.Contains(path, "/business/"):
		return "business"
	case strings.Contains(path, "/repositories/") || strings.Contains(path, "/dao/"):
		return "data"
	case strings.Contains(path, "/models/") || strings.Contains(path, "/entities/"):
		return "domain"
	case strings.Contains(path, "/utils/") || strings.Contains(path, "/helpers/"):
		return "cross-cutting"
	default:
		return ""
	}
}

// detectDesignPatterns recognizes design pattern usage from class and
// interface naming conventions.
func (d *ArchitectureDetector) detectDesignPatterns(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := codeScopeFilter("c", scope, params)
	query := `
MATCH (c:CodeEntity)
WHERE c.type IN ['class', 'interface']` + filter + `
RETURN c.name AS name
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}

	groups := map[string][]string{}
	for _, row := range rows {
		name := neo4jdb.AsString(row["name"])
		pattern := classifyDesignPattern(name)
		if pattern == "" {
			continue
		}
		groups[pattern] = append(groups[pattern], name)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.Pattern
	for _, key := range keys {
		names := groups[key]
		if len(names) <= minDesignPatternUsage {
			continue
		}
		examples := capStrings(dedupeStrings(names), 5)
		out = append(out, domain.Pattern{
			ID:          "architecture-design-pattern-" + key,
			Type:        domain.PatternArchitecture,
			Name:        "Design Pattern: " + key,
			Description: fmt.Sprintf("%s pattern used %d times", key, len(names)),
			Confidence:  designPatternConfidence,
			Frequency:   len(names),
			Evidence: []domain.Evidence{
				{
					Type:        domain.EvidenceStructural,
					Description: "Found in class/interface names",
					Weight:      0.7,
					Examples:    examples,
				},
				{
					Type:        domain.EvidenceOutcome,
					Description: "Consistent naming convention",
					Weight:      0.3,
				},
			},
			Metadata: domain.ArchitectureMeta{
				PatternName: key,
				Components:  examples,
			},
		})
	}
	return out, nil
}

func classifyDesignPattern(name string) string {
	switch {
	case strings.Contains(name, "Factory"):
		return "factory"
	case strings.Contains(name, "Builder"):
		return "builder"
	case strings.Contains(name, "Singleton"):
		return "singleton"
	case strings.HasSuffix(name, "Observer") || strings.HasSuffix(name, "Listener"):
		return "observer"
	case strings.Contains(name, "Strategy"):
		return "strategy"
	case strings.HasSuffix(name, "Adapter") || strings.HasSuffix(name, "Wrapper"):
		return "adapter"
	case strings.HasSuffix(name, "Repository") || strings.HasSuffix(name, "Repo"):
		return "repository"
	case strings.HasSuffix(name, "Service") || strings.HasSuffix(name, "Manager"):
		return "service"
	case strings.HasSuffix(name, "Controller") || strings.HasSuffix(name, "Handler"):
		return "controller"
	default:
		return ""
	}
}

// detectOrganization measures directory depth across the codebase and
// classifies the overall file layout.
func (d *ArchitectureDetector) detectOrganization(ctx context.Context, scope domain.Scope) ([]domain.Pattern, error) {
	params := map[string]any{}
	filter := codeScopeFilter("c", scope, params)
	query := `
MATCH (c:CodeEntity)
WHERE c.file_path IS NOT NULL` + filter + `
WITH c.file_path AS filePath, COUNT(*) AS entityCount
RETURN filePath, entityCount
`
	rows, err := d.graph.Read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	depths := make([]float64, 0, len(rows))
	totalEntities := 0
	for _, row := range rows {
		path := neo4jdb.AsString(row["filePath"])
		depths = append(depths, float64(strings.Count(path, "/")))
		totalEntities += int(neo4jdb.Numeric(row["entityCount"]))
	}
	avgDepth, stdDevDepth := meanStdDev(depths)
	pattern := classifyOrganization(avgDepth, stdDevDepth)
	confidence := 0.6
	if pattern == "balanced-structure" {
		confidence = 0.9
	}

	return []domain.Pattern{{
		ID:          "architecture-organization-" + pattern,
		Type:        domain.PatternArchitecture,
		Name:        "Code Organization: " + pattern,
		Description: fmt.Sprintf("%s with average depth %.1f (±%.1f)", pattern, avgDepth, stdDevDepth),
		Confidence:  confidence,
		Frequency:   len(rows),
		Evidence: []domain.Evidence{
			{
				Type:        domain.EvidenceStructural,
				Description: fmt.Sprintf("%d files, %d entities", len(rows), totalEntities),
				Weight:      0.5,
			},
			{
				Type:        domain.EvidenceOutcome,
				Description: fmt.Sprintf("Average nesting depth: %.1f", avgDepth),
				Weight:      0.5,
			},
		},
		Metadata: domain.ArchitectureMeta{
			PatternName: pattern,
			Metrics: map[string]float64{
				"avg_depth":     avgDepth,
				"std_dev_depth": stdDevDepth,
				"file_count":    float64(len(rows)),
				"entity_count":  float64(totalEntities),
			},
		},
	}}, nil
}

func classifyOrganization(avgDepth, stdDevDepth float64) string {
	switch {
	case avgDepth < 3 && stdDevDepth < 1:
		return "flat-structure"
	case avgDepth > 5 && stdDevDepth > 2:
		return "deep-nesting"
	case avgDepth >= 3 && avgDepth <= 5 && stdDevDepth < 1.5:
		return "balanced-structure"
	default:
		return "mixed-structure"
	}
}

// ValidatePattern checks that code entities still exist at at least half
// the pattern's recorded frequency.
func (d *ArchitectureDetector) ValidatePattern(ctx context.Context, p domain.Pattern) (domain.Validation, error) {
	rows, err := d.graph.Read(ctx, `
MATCH (c:CodeEntity)
WHERE c.type IN ['class', 'interface', 'function', 'module']
RETURN COUNT(c) AS codeEntityCount
`, nil)
	if err != nil {
		return domain.Validation{}, err
	}
	var count float64
	if len(rows) > 0 {
		count = neo4jdb.Numeric(rows[0]["codeEntityCount"])
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

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
