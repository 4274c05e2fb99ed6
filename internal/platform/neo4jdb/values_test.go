package neo4jdb

import (
	"testing"
	"time"
)

func TestNumeric(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{nil, 0},
		{int64(7), 7},
		{int(3), 3},
		{float64(2.5), 2.5},
		{"4.25", 4.25},
		{"not a number", 0},
		{true, 0},
	}
	for _, tc := range cases {
		if got := Numeric(tc.in); got != tc.want {
			t.Fatalf("Numeric(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAsString(t *testing.T) {
	if got := AsString("hello"); got != "hello" {
		t.Fatalf("AsString(string) = %q", got)
	}
	if got := AsString([]byte("bytes")); got != "bytes" {
		t.Fatalf("AsString([]byte) = %q", got)
	}
	if got := AsString(nil); got != "" {
		t.Fatalf("AsString(nil) = %q, want empty", got)
	}
	if got := AsString(42); got != "" {
		t.Fatalf("AsString(int) = %q, want empty", got)
	}
}

func TestAsTime(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	if got := AsTime(now); !got.Equal(now) {
		t.Fatalf("AsTime(time.Time) = %v, want %v", got, now)
	}
	if got := AsTime("2025-03-14T09:26:53Z"); !got.Equal(now) {
		t.Fatalf("AsTime(RFC3339) = %v, want %v", got, now)
	}
	if got := AsTime("garbage"); !got.IsZero() {
		t.Fatalf("AsTime(garbage) = %v, want zero", got)
	}
	if got := AsTime(nil); !got.IsZero() {
		t.Fatalf("AsTime(nil) = %v, want zero", got)
	}
}

func TestStringSlice(t *testing.T) {
	in := []any{"a", "", 7, "b"}
	got := StringSlice(in)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("StringSlice = %v, want [a b]", got)
	}
	if got := StringSlice("not a slice"); got != nil {
		t.Fatalf("StringSlice(non-slice) = %v, want nil", got)
	}
}

func TestMapSlice(t *testing.T) {
	in := []any{
		map[string]any{"id": "x"},
		"skipped",
		map[string]any{"id": "y"},
	}
	got := MapSlice(in)
	if len(got) != 2 {
		t.Fatalf("MapSlice returned %d maps, want 2", len(got))
	}
	if got[0]["id"] != "x" || got[1]["id"] != "y" {
		t.Fatalf("MapSlice = %v", got)
	}
}
