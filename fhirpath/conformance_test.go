package fhirpath_test

import (
	"context"
	"io/fs"
	"path"
	"testing"

	"github.com/damedic/fhirpath-engine/fhirpath"
	"github.com/damedic/fhirpath-engine/testdata"
	"github.com/damedic/fhirpath-engine/testdata/assert"
)

func TestFHIRPathConformance(t *testing.T) {
	tests := testdata.GetFHIRPathTests()

	for _, group := range tests.Groups {
		t.Run(group.Name, func(t *testing.T) {
			for _, test := range group.Tests {
				t.Run(test.Name, func(t *testing.T) {
					runConformanceTest(t, test)
				})
			}
		})
	}
}

func runConformanceTest(t *testing.T, test testdata.FHIRPathTest) {
	t.Helper()

	var opts []fhirpath.Option
	for name, value := range test.VariableCollections() {
		opts = append(opts, fhirpath.WithVariable(name, value))
	}
	cfg := fhirpath.NewConfiguration(opts...)

	var input fhirpath.Element
	if test.InputResource != nil {
		input = test.InputResource
	}

	result, err := fhirpath.Evaluate(context.Background(), test.Expression, input, cfg)
	if test.Invalid != "" {
		if err == nil {
			t.Fatalf("expected %s error for %q, got %v", test.Invalid, test.Expression, result)
		}
		if got := fhirpath.Classify(err).String(); got != test.Invalid {
			t.Fatalf("expected %s error, got %s: %v", test.Invalid, got, err)
		}
		return
	}
	if err != nil {
		t.Fatalf("unexpected error evaluating %q: %v", test.Expression, err)
	}

	if test.Predicate {
		result = fhirpath.Collection{fhirpath.Boolean(len(result) > 0)}
	}
	assert.FHIRPathEqual(t, test.OutputCollection(), result)
}

func TestConformanceInputsRoundTrip(t *testing.T) {
	tests := testdata.GetFHIRPathTests()

	seen := map[string]bool{}
	for _, group := range tests.Groups {
		for _, test := range group.Tests {
			if test.InputResource == nil || seen[test.InputFile] {
				continue
			}
			seen[test.InputFile] = true

			t.Run(test.InputFile, func(t *testing.T) {
				raw, err := fs.ReadFile(testdata.Suite(), path.Join("fhirpath/input", test.InputFile))
				if err != nil {
					t.Fatal(err)
				}
				out, err := test.InputResource.MarshalJSON()
				if err != nil {
					t.Fatal(err)
				}
				assert.JSONEqual(t, string(raw), string(out))
			})
		}
	}
	if len(seen) == 0 {
		t.Fatal("suite references no input files")
	}
}
