package assert

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// JSONEqual compares two JSON documents, ignoring formatting and key order.
func JSONEqual(t *testing.T, expected, actual string) {
	t.Helper()
	var want, got any
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		t.Fatalf("expected is no JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		t.Fatalf("actual is no JSON: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JSON differs (-expected +actual):\n%s", diff)
	}
}
