// Package assert compares evaluation results in tests.
package assert

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

func FHIRPathEqual(t *testing.T, expected, actual fhirpath.Collection) {
	t.Helper()
	// use equivalence to have empty results { } ~ { } result in true
	if !expected.Equivalent(actual) {
		t.Errorf("collections differ (-expected +actual):\n%s", cmp.Diff(expected.String(), actual.String()))
	}
}
