package patterns

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/substratehq/memograph/internal/domain"
)

type fakeDetector struct {
	patternType domain.PatternType
	result      Result
	detectErr   error
	detect      func(ctx context.Context) (Result, error)
	validation  domain.Validation
	validateErr error
}

func (d *fakeDetector) Type() domain.PatternType { return d.patternType }

func (d *fakeDetector) DetectPatterns(ctx context.Context, _ domain.Scope) (Result, error) {
	if d.detect != nil {
		return d.detect(ctx)
	}
	return d.result, d.detectErr
}

func (d *fakeDetector) ValidatePattern(context.Context, domain.Pattern) (domain.Validation, error) {
	return d.validation, d.validateErr
}

type fakeStore struct {
	mu          sync.Mutex
	stored      []domain.Pattern
	tenancies   []domain.Tenancy
	storeErr    error
	active      []domain.StoredPattern
	activeErr   error
	updated     map[string]float64
	updateErr   error
	invalidated []string
}

func (s *fakeStore) StorePattern(_ context.Context, p domain.Pattern, tenancy domain.Tenancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	s.stored = append(s.stored, p)
	s.tenancies = append(s.tenancies, tenancy)
	return nil
}

func (s *fakeStore) ActivePatterns(context.Context) ([]domain.StoredPattern, error) {
	return s.active, s.activeErr
}

func (s *fakeStore) UpdatePatternConfidence(_ context.Context, id string, confidence float64, _ bool) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.updated == nil {
		s.updated = map[string]float64{}
	}
	s.updated[id] = confidence
	return nil
}

func (s *fakeStore) MarkInvalidated(_ context.Context, ids []string) error {
	s.invalidated = append(s.invalidated, ids...)
	return nil
}

func newTestEngine(t *testing.T, store Store, detectors ...Detector) *Engine {
	t.Helper()
	registry := map[domain.PatternType]Detector{}
	for _, det := range detectors {
		if _, ok := registry[det.Type()]; !ok {
			registry[det.Type()] = det
		}
	}
	return &Engine{
		detectors: detectors,
		registry:  registry,
		store:     store,
		log:       testLogger(t),
	}
}

func TestDiscoverPatternsRanksAndStores(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(t, store,
		&fakeDetector{
			patternType: domain.PatternTemporal,
			result: Result{Patterns: []domain.Pattern{
				{ID: "low", Type: domain.PatternTemporal, Confidence: 0.6, Frequency: 2},
				{ID: "high", Type: domain.PatternTemporal, Confidence: 0.9, Frequency: 10},
			}},
		},
		&fakeDetector{
			patternType: domain.PatternDebugging,
			result: Result{Patterns: []domain.Pattern{
				{ID: "mid", Type: domain.PatternDebugging, Confidence: 0.8, Frequency: 5},
				{ID: "filtered", Type: domain.PatternDebugging, Confidence: 0.3, Frequency: 100},
			}},
		},
	)

	scope := domain.Scope{WorkspaceID: "ws1", UserID: "u1", MinConfidence: 0.5}
	found, err := engine.DiscoverPatterns(context.Background(), scope)
	if err != nil {
		t.Fatalf("DiscoverPatterns: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("got %d patterns, want 3", len(found))
	}
	if found[0].ID != "high" || found[1].ID != "mid" || found[2].ID != "low" {
		t.Fatalf("ranking wrong: %s, %s, %s", found[0].ID, found[1].ID, found[2].ID)
	}
	if len(store.stored) != 3 {
		t.Fatalf("stored %d patterns, want 3", len(store.stored))
	}
	if store.tenancies[0].WorkspaceID != "ws1" || store.tenancies[0].UserID != "u1" {
		t.Fatalf("tenancy = %+v", store.tenancies[0])
	}
}

func TestDiscoverPatternsIsolatesDetectorFailure(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(t, store,
		&fakeDetector{patternType: domain.PatternTemporal, detectErr: errors.New("neo4j down")},
		&fakeDetector{
			patternType: domain.PatternDebugging,
			result: Result{Patterns: []domain.Pattern{
				{ID: "survivor", Type: domain.PatternDebugging, Confidence: 0.8, Frequency: 3},
			}},
		},
	)

	found, err := engine.DiscoverPatterns(context.Background(), domain.Scope{})
	if err != nil {
		t.Fatalf("one broken detector must not fail the run: %v", err)
	}
	if len(found) != 1 || found[0].ID != "survivor" {
		t.Fatalf("found = %+v", found)
	}
}

func TestDiscoverPatternsCancelled(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{},
		&fakeDetector{patternType: domain.PatternTemporal},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.DiscoverPatterns(ctx, domain.Scope{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDiscoverPatternsSurfacesStoreFailure(t *testing.T) {
	store := &fakeStore{storeErr: errors.New("write refused")}
	engine := newTestEngine(t, store,
		&fakeDetector{
			patternType: domain.PatternTemporal,
			result: Result{Patterns: []domain.Pattern{
				{ID: "p1", Type: domain.PatternTemporal, Confidence: 0.9, Frequency: 3},
			}},
		},
	)
	found, err := engine.DiscoverPatterns(context.Background(), domain.Scope{})
	if err == nil {
		t.Fatal("a dropped pattern must surface as an error")
	}
	if !strings.Contains(err.Error(), "write refused") {
		t.Fatalf("error must carry the store failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "p1") {
		t.Fatalf("error must name the dropped pattern, got %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("ranked set must still be returned, found = %+v", found)
	}
}

func TestDiscoverPatternsDetectorTimeout(t *testing.T) {
	store := &fakeStore{}
	stuck := &fakeDetector{
		patternType: domain.PatternTemporal,
		detect: func(ctx context.Context) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}
	engine := newTestEngine(t, store,
		stuck,
		&fakeDetector{
			patternType: domain.PatternDebugging,
			result: Result{Patterns: []domain.Pattern{
				{ID: "survivor", Type: domain.PatternDebugging, Confidence: 0.8, Frequency: 3},
			}},
		},
	)
	engine.detectorTimeout = 10 * time.Millisecond

	found, err := engine.DiscoverPatterns(context.Background(), domain.Scope{})
	if err != nil {
		t.Fatalf("a timed-out detector must not fail the run: %v", err)
	}
	if len(found) != 1 || found[0].ID != "survivor" {
		t.Fatalf("found = %+v", found)
	}
}

func TestDiscoverPatternsByType(t *testing.T) {
	det := &fakeDetector{
		patternType: domain.PatternLearning,
		result: Result{Patterns: []domain.Pattern{
			{ID: "lp", Type: domain.PatternLearning, Confidence: 0.7, Frequency: 6},
		}},
	}
	engine := newTestEngine(t, &fakeStore{}, det)

	found, err := engine.DiscoverPatternsByType(context.Background(), domain.PatternLearning, domain.Scope{})
	if err != nil {
		t.Fatalf("DiscoverPatternsByType: %v", err)
	}
	if len(found) != 1 || found[0].ID != "lp" {
		t.Fatalf("found = %+v", found)
	}

	if _, err := engine.DiscoverPatternsByType(context.Background(), domain.PatternType("bogus"), domain.Scope{}); err == nil {
		t.Fatal("expected error for unknown pattern type")
	}
}

func TestValidatePatterns(t *testing.T) {
	stillGood := domain.StoredPattern{
		Pattern: domain.Pattern{ID: "good", Type: domain.PatternTemporal, Confidence: 0.7, Frequency: 5},
	}
	gone := domain.StoredPattern{
		Pattern: domain.Pattern{ID: "gone", Type: domain.PatternDebugging, Confidence: 0.6, Frequency: 9},
	}
	unrouted := domain.StoredPattern{
		Pattern: domain.Pattern{ID: "other", Type: domain.PatternType("relationship"), Confidence: 0.8},
	}

	store := &fakeStore{active: []domain.StoredPattern{stillGood, gone, unrouted}}
	engine := newTestEngine(t, store,
		&fakeDetector{
			patternType: domain.PatternTemporal,
			validation:  domain.Validation{StillValid: true, ConfidenceDelta: validationNudge},
		},
		&fakeDetector{
			patternType: domain.PatternDebugging,
			validation:  domain.Validation{StillValid: false, ConfidenceDelta: -validationNudge},
		},
	)

	report, err := engine.ValidatePatterns(context.Background())
	if err != nil {
		t.Fatalf("ValidatePatterns: %v", err)
	}
	if len(report.Validated) != 1 || report.Validated[0].ID != "good" {
		t.Fatalf("Validated = %+v", report.Validated)
	}
	if len(report.Invalidated) != 1 || report.Invalidated[0].ID != "gone" {
		t.Fatalf("Invalidated = %+v", report.Invalidated)
	}
	if len(report.Strengthened) != 1 {
		t.Fatalf("Strengthened = %+v", report.Strengthened)
	}
	if got := report.Strengthened[0].Confidence; got != 0.7+validationNudge {
		t.Fatalf("strengthened confidence = %v", got)
	}
	if store.updated["good"] != 0.7+validationNudge {
		t.Fatalf("store update = %v", store.updated)
	}
	if len(store.invalidated) != 1 || store.invalidated[0] != "gone" {
		t.Fatalf("invalidated ids = %v", store.invalidated)
	}
}

func TestValidatePatternsSkipsStrengthenOnUpdateFailure(t *testing.T) {
	store := &fakeStore{
		active: []domain.StoredPattern{
			{Pattern: domain.Pattern{ID: "p", Type: domain.PatternTemporal, Confidence: 0.7}},
		},
		updateErr: errors.New("write refused"),
	}
	engine := newTestEngine(t, store,
		&fakeDetector{
			patternType: domain.PatternTemporal,
			validation:  domain.Validation{StillValid: true, ConfidenceDelta: validationNudge},
		},
	)
	report, err := engine.ValidatePatterns(context.Background())
	if err != nil {
		t.Fatalf("ValidatePatterns: %v", err)
	}
	if len(report.Validated) != 1 {
		t.Fatalf("Validated = %+v", report.Validated)
	}
	if len(report.Strengthened) != 0 {
		t.Fatalf("a failed update must not report as strengthened: %+v", report.Strengthened)
	}
}

func TestFilterByConfidence(t *testing.T) {
	in := []domain.Pattern{
		{ID: "a", Confidence: 0.9},
		{ID: "b", Confidence: 0.4},
	}
	if got := filterByConfidence(in, 0); len(got) != 2 {
		t.Fatalf("zero floor should keep everything, got %d", len(got))
	}
	got := filterByConfidence(in, 0.5)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("filterByConfidence = %+v", got)
	}
}

func TestRankPatternsTieBreak(t *testing.T) {
	in := []domain.Pattern{
		{ID: "zeta", Confidence: 0.5, Frequency: 4},
		{ID: "alpha", Confidence: 0.4, Frequency: 5},
		{ID: "omega", Confidence: 1.0, Frequency: 1},
	}
	got := rankPatterns(in)
	// All three score 2.0; the id breaks the tie deterministically.
	if got[0].ID != "alpha" || got[1].ID != "omega" || got[2].ID != "zeta" {
		t.Fatalf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
}
