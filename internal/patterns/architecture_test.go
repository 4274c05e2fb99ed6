package patterns

import (
	"testing"

	"github.com/substratehq/memograph/internal/domain"
)

func TestClassifyDependency(t *testing.T) {
	cases := []struct {
		importer string
		imported string
		want     string
	}{
		{"src/app/main.ts", "src/utils/format.ts", "utility-pattern"},
		{"src/app/main.ts", "src/services/auth.ts", "service-pattern"},
		{"src/app/page.ts", "src/components/button.ts", "ui-pattern"},
		{"src/app/page.ts", "src/models/user.ts", "data-pattern"},
		{"src/auth/login.ts", "src/auth", "cohesive-pattern"},
		{"src/auth/login.ts", "src/billing/invoice.ts", "cross-module-pattern"},
	}
	for _, tc := range cases {
		if got := classifyDependency(tc.importer, tc.imported); got != tc.want {
			t.Fatalf("classifyDependency(%q, %q) = %q, want %q", tc.importer, tc.imported, got, tc.want)
		}
	}
}

func TestClassifyLayer(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"src/controllers/user.ts", "presentation"},
		{"src/routes/index.ts", "presentation"},
		{"src/services/auth.ts", "business"},
		{"src/repositories/user.ts", "data"},
		{"src/models/user.ts", "domain"},
		{"src/utils/format.ts", "cross-cutting"},
		{"src/random/thing.ts", ""},
	}
	for _, tc := range cases {
		if got := classifyLayer(tc.path); got != tc.want {
			t.Fatalf("classifyLayer(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestClassifyDesignPattern(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"UserFactory", "factory"},
		{"QueryBuilder", "builder"},
		{"ConfigSingleton", "singleton"},
		{"ClickListener", "observer"},
		{"RetryStrategy", "strategy"},
		{"LegacyAdapter", "adapter"},
		{"UserRepo", "repository"},
		{"AuthService", "service"},
		{"SessionManager", "service"},
		{"UserController", "controller"},
		{"plainFunction", ""},
	}
	for _, tc := range cases {
		if got := classifyDesignPattern(tc.name); got != tc.want {
			t.Fatalf("classifyDesignPattern(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyOrganization(t *testing.T) {
	cases := []struct {
		avg    float64
		stdDev float64
		want   string
	}{
		{2, 0.5, "flat-structure"},
		{6, 2.5, "deep-nesting"},
		{4, 1.0, "balanced-structure"},
		{4, 3.0, "mixed-structure"},
	}
	for _, tc := range cases {
		if got := classifyOrganization(tc.avg, tc.stdDev); got != tc.want {
			t.Fatalf("classifyOrganization(%v, %v) = %q, want %q", tc.avg, tc.stdDev, got, tc.want)
		}
	}
}

func TestCodeScopeFilter(t *testing.T) {
	params := map[string]any{}
	got := codeScopeFilter("c", domain.Scope{WorkspaceID: "ws1", ProjectName: "api", UserID: "u1"}, params)
	if got == "" {
		t.Fatal("expected predicates")
	}
	if params["workspaceId"] != "ws1" || params["projectName"] != "api" {
		t.Fatalf("params = %v", params)
	}
	// Code entities carry no per-user attribution.
	if _, ok := params["userId"]; ok {
		t.Fatal("code scope must not filter by user")
	}
}

func TestDedupeStrings(t *testing.T) {
	got := dedupeStrings([]string{"a", "b", "a", "c", "b"})
	if len(got) != 3 {
		t.Fatalf("dedupeStrings = %v", got)
	}
}
