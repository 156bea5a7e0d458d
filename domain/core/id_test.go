package core

import (
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

func TestParseRunID(t *testing.T) {
	id := NewRunID()
	parsed, err := ParseRunID(id.String())
	if err != nil {
		t.Fatalf("ParseRunID(%q): %v", id, err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}

	if _, err := ParseRunID("   "); err == nil {
		t.Error("Expected error for blank run ID")
	}
	if _, err := ParseRunID("not-a-uuid"); err == nil {
		t.Error("Expected error for non-UUID run ID")
	}
}

func TestParseSubjectIDTrims(t *testing.T) {
	id, err := ParseSubjectID("  P017 ")
	if err != nil {
		t.Fatalf("ParseSubjectID: %v", err)
	}
	if id != "P017" {
		t.Errorf("Expected P017, got %q", id)
	}
}

func TestCohortHashIgnoresOrder(t *testing.T) {
	filters := map[string]interface{}{"exclude_sex": "Other"}
	a := ComputeCohortHash([]string{"s1", "s2", "s3"}, filters)
	b := ComputeCohortHash([]string{"s3", "s1", "s2"}, filters)
	if a != b {
		t.Errorf("Cohort hash depends on subject order: %s vs %s", a, b)
	}

	c := ComputeCohortHash([]string{"s1", "s2", "s3"}, nil)
	if a == c {
		t.Error("Cohort hash ignores filters")
	}
}

func TestIsFitError(t *testing.T) {
	if !IsFitError(ErrNotConverged) {
		t.Error("ErrNotConverged should be a fit error")
	}
	if IsFitError(ErrMissingLevel) {
		t.Error("ErrMissingLevel should not be a fit error")
	}
	if !IsDataError(NewMissingLevelError("position", "wrist")) {
		t.Error("wrapped missing level should be a data error")
	}
}
