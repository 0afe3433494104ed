package passport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLookupSet_Contains(t *testing.T) {
	s := NewLookupSet("F", "M", 11, 13)

	tests := []struct {
		v    any
		want bool
	}{
		{"F", true},
		{"f", false},
		{float64(11), true},
		{11, true},
		{json.Number("13"), true},
		{"11", false},
		{float64(12), false},
		{nil, false},
		{true, false},
		{[]any{"F"}, false},
	}
	for _, tt := range tests {
		if got := s.Contains(tt.v); got != tt.want {
			t.Errorf("Contains(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestLookupSet_String(t *testing.T) {
	tests := []struct {
		set  LookupSet
		want string
	}{
		{NewLookupSet("M", "F", "U", "I"), "['F', 'I', 'M', 'U']"},
		{NewLookupSet(13, 1, 11), "[1, 11, 13]"},
		{NewLookupSet("b", 2, "a", 1), "[1, 2, 'a', 'b']"},
		{NewLookupSet(1.5, 1), "[1, 1.5]"},
		{NewLookupSet(), "[]"},
	}
	for _, tt := range tests {
		if got := tt.set.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestLoadLookups_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lookups.yaml")
	content := `sex: [F, M, U, I]
prescription_type: [1, 2, 3, 4]
drug_status: [1, 2, 3]
event_type: [1, 2, 5, 11, 13]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lookups, err := LoadLookups(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lookups) != 4 {
		t.Fatalf("expected 4 lookup sets, got %d", len(lookups))
	}
	if got := lookups[LookupSex].String(); got != "['F', 'I', 'M', 'U']" {
		t.Errorf("unexpected sex set %s", got)
	}
	if !lookups[LookupEventType].Contains(float64(13)) {
		t.Error("expected event_type to contain 13")
	}
	if lookups[LookupEventType].Contains("13") {
		t.Error("numeric lookup must not match a string")
	}
}

func TestLoadLookups_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lookups.json")
	if err := os.WriteFile(path, []byte(`{"drug_status":[1,2,3]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	lookups, err := LoadLookups(path)
	if err != nil {
		t.Fatal(err)
	}
	if !lookups[LookupDrugStatus].Contains(2) {
		t.Error("expected drug_status to contain 2")
	}
	if _, ok := lookups[LookupSex]; ok {
		t.Error("expected no sex lookup")
	}
}

func TestLoadLookups_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadLookups(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	scalar := filepath.Join(dir, "scalar.yaml")
	if err := os.WriteFile(scalar, []byte("sex: F\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLookups(scalar); err == nil {
		t.Error("expected error for non-list lookup")
	}
}
