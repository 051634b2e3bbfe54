package fhirpath

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var collectionCmp = cmp.Options{
	cmp.Comparer(func(a, b Decimal) bool { return a.Value.Cmp(b.Value) == 0 }),
	cmp.Comparer(func(a, b *Object) bool { return a == b }),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

func mustDecimal(s string) Decimal {
	d, err := NewDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

const patientJSON = `{
	"resourceType": "Patient",
	"id": "p1",
	"active": true,
	"gender": "female",
	"birthDate": "1974-12-25",
	"name": [
		{"use": "official", "family": "Chalmers", "given": ["Peter", "James"]},
		{"use": "usual", "given": ["Jim"]},
		{"use": "maiden", "family": "Windsor", "given": ["Peter", "James"]}
	],
	"telecom": [{"system": "phone", "value": "(03) 5555 6473", "use": "work", "rank": 1}],
	"contained": [{"resourceType": "Practitioner", "id": "pr1", "name": [{"family": "Careful"}]}],
	"generalPractitioner": [{"reference": "#pr1"}],
	"link": [{"other": {"reference": "Patient/p2"}, "type": "seealso"}],
	"extension": [{"url": "http://example.org/ext/rating", "valueInteger": 4}]
}`

func TestEvaluate(t *testing.T) {
	patient := MustParseJSON(patientJSON)
	clock := func() time.Time { return time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC) }

	tests := []struct {
		name string
		expr string
		want Collection
	}{
		{"arithmetic", "1 + 1", Collection{Integer(2)}},
		{"precedence", "2 + 3 * 4", Collection{Integer(14)}},
		{"decimal sum", "1.0 + 2.50", Collection{mustDecimal("3.5")}},
		{"exponent literal", "1e3 = 1000", Collection{Boolean(true)}},
		{"negative exponent", "2e-1 + 1 = 1.2", Collection{Boolean(true)}},
		{"fraction with exponent", "1.5E3 = 1500", Collection{Boolean(true)}},
		{"div and mod", "(5 div 2) | (5 mod 2)", Collection{Integer(2), Integer(1)}},
		{"division by zero is empty", "1 / 0", nil},
		{"member count", "name.count()", Collection{Integer(3)}},
		{"nested members", "name.given.count()", Collection{Integer(5)}},
		{"where", "name.where(use = 'official').family", Collection{String("Chalmers")}},
		{"type filter on root", "Patient.name.first().given.first()", Collection{String("Peter")}},
		{"other type filter on root", "Observation.status", nil},
		{"indexer", "name[1].given", Collection{String("Jim")}},
		{"indexer out of range", "name[5]", nil},
		{"exists with criteria", "name.given.exists($this = 'Jim')", Collection{Boolean(true)}},
		{"union removes duplicates", "(1 | 2 | 2 | 3).count()", Collection{Integer(3)}},
		{"combine keeps duplicates", "(1 | 2).combine(2 | 3).count()", Collection{Integer(4)}},
		{"distinct keeps order", "name.given.distinct()", Collection{String("Peter"), String("James"), String("Jim")}},
		{"skip and take", "name.given.skip(1).take(2)", Collection{String("James"), String("Jim")}},
		{"select flattens", "name.select(given.first())", Collection{String("Peter"), String("Jim"), String("Peter")}},
		{"index inside select", "(1 | 2 | 3).where($this > 1).select($index)", Collection{Integer(0), Integer(1)}},
		{"all", "(1 | 2 | 3).all($this > 0)", Collection{Boolean(true)}},
		{"aggregate", "(1 | 2 | 3).aggregate($this + $total, 0)", Collection{Integer(6)}},
		{"iif", "iif(active, 'yes', 'no')", Collection{String("yes")}},
		{"iif without otherwise", "iif(false, 'yes')", nil},
		{"string concatenation", "'abc'.upper() & 'd' & {}", Collection{String("ABCd")}},
		{"substring", "'abc'.substring(1, 1)", Collection{String("b")}},
		{"split and join", "'a,b,c'.split(',').join('-')", Collection{String("a-b-c")}},
		{"matches", "'2024-03-05'.matches('\\\\d{4}')", Collection{Boolean(true)}},
		{"matchesFull", "'2024-03-05'.matchesFull('\\\\d{4}')", Collection{Boolean(false)}},
		{"string compared to date", "birthDate < @2000-01-01", Collection{Boolean(true)}},
		{"number from document", "telecom.rank + 1", Collection{Integer(2)}},
		{"quantity equality", "1 'g' = 1000 'mg'", Collection{Boolean(true)}},
		{"incomparable quantities", "1 'g' = 1 'm'", nil},
		{"round half up", "(2.5).round()", Collection{mustDecimal("3")}},
		{"abs", "(-5).abs()", Collection{Integer(5)}},
		{"power", "2.power(10)", Collection{Integer(1024)}},
		{"empty and false", "{} and false", Collection{Boolean(false)}},
		{"empty or true", "{} or true", Collection{Boolean(true)}},
		{"empty and true", "{} and true", nil},
		{"implies", "false implies {}", Collection{Boolean(true)}},
		{"xor", "true xor false", Collection{Boolean(true)}},
		{"not", "active.not()", Collection{Boolean(false)}},
		{"type of literal", "true.type().name", Collection{String("Boolean")}},
		{"type namespace", "true.type().namespace", Collection{String("System")}},
		{"is system type", "gender is System.String", Collection{Boolean(true)}},
		{"is function", "1.is(Integer)", Collection{Boolean(true)}},
		{"as", "(1 as String)", nil},
		{"ofType", "(1 | 'a' | 2).ofType(Integer)", Collection{Integer(1), Integer(2)}},
		{"define variable", "defineVariable('x', 5).select(%x + 1)", Collection{Integer(6)}},
		{"configured variable", "%threshold * 2", Collection{Integer(10)}},
		{"ucum", "%ucum", Collection{String("http://unitsofmeasure.org")}},
		{"value set shorthand", "%`vs-administrative-gender`", Collection{String("http://hl7.org/fhir/ValueSet/administrative-gender")}},
		{"resolve contained", "generalPractitioner.resolve().name.family", Collection{String("Careful")}},
		{"extension", "extension('http://example.org/ext/rating').value", Collection{Integer(4)}},
		{"today", "today() = @2024-03-05", Collection{Boolean(true)}},
		{"now", "now().hourOf()", Collection{Integer(10)}},
		{"date component precision", "@2024-03.dayOf()", nil},
		{"low boundary", "@2024.lowBoundary(6)", Collection{Date{Value: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), Precision: PrecisionMonth}}},
		{"trace passes focus", "name.given.trace('given').count()", Collection{Integer(5)}},
		{"to integer", "'42'.toInteger() + 1", Collection{Integer(43)}},
		{"converts to", "'x'.convertsToInteger()", Collection{Boolean(false)}},
		{"children", "telecom.children().count()", Collection{Integer(4)}},
		{"repeat", "contained.repeat(name).family", Collection{String("Careful")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfiguration(
				WithClock(clock),
				WithVariable("threshold", Collection{Integer(5)}),
			)
			got, err := Evaluate(context.Background(), tt.expr, patient, cfg)
			if err != nil {
				t.Fatalf("Evaluate(%q) returned error: %v", tt.expr, err)
			}
			if diff := cmp.Diff(tt.want, got, collectionCmp); diff != "" {
				t.Errorf("Evaluate(%q) mismatch (-want +got):\n%s", tt.expr, diff)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	patient := MustParseJSON(patientJSON)

	tests := []struct {
		name string
		expr string
		want ErrorClass
	}{
		{"lex error", "'unterminated", ClassLex},
		{"parse error", "1 +", ClassParse},
		{"unknown function", "foo()", ClassUnknownOperation},
		{"argument count", "'abc'.substring()", ClassArgumentCount},
		{"single with many", "(1 | 2).single()", ClassType},
		{"index outside lambda", "$index", ClassType},
		{"undefined variable", "%undefined", ClassType},
		{"redefine system variable", "defineVariable('context', 1)", ClassType},
		{"redefine variable", "defineVariable('a', 1).defineVariable('a', 2)", ClassType},
		{"is on many", "name is HumanName", ClassType},
		{"invalid regex", "'a'.matches('(')", ClassType},
		{"regex closing its group", "'b'.matchesFull('a)|(b')", ClassType},
		{"regex closing its group in replace", "'b'.replaceMatches('a)|(b', 'x')", ClassType},
		{"type without provider", "name.type()", ClassMissingCapability},
		{"resolve without provider", "link.other.resolve()", ClassMissingCapability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(context.Background(), tt.expr, patient, Configuration{})
			if err == nil {
				t.Fatalf("Evaluate(%q) succeeded, want %s error", tt.expr, tt.want)
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
}

func TestShortCircuit(t *testing.T) {
	// the right operands fail when evaluated
	tests := []string{
		"false and $total.exists()",
		"true or $index = 0",
		"false implies %missing",
		"iif(true, 1, %missing)",
		"iif(false, %missing, 2)",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			got, err := Evaluate(context.Background(), expr, nil, Configuration{})
			if err != nil {
				t.Fatalf("Evaluate(%q) returned error: %v", expr, err)
			}
			if len(got) != 1 {
				t.Errorf("Evaluate(%q) = %v, want one element", expr, got)
			}
		})
	}
}

func TestEmptyPropagation(t *testing.T) {
	for _, expr := range []string{
		"{} + 1", "1 - {}", "{} * {}", "{} < 1", "{}.substring(0)",
		"{}.upper()", "{}.toInteger()", "{}.abs()", "{} = 1", "-{}",
		// more than one item on either side
		"(1 | 2) + 1", "1 * (2 | 3)", "1 < (1 | 2)", "(1 | 2) >= 0",
		"(1 | 2) div 1", "(1 | 2).substring(0)", "'abc'.substring(0 | 1)",
		"(1 | 2).abs()", "('a' | 'b').upper()", "(1 | 2).toInteger()", "-(1 | 2)",
	} {
		t.Run(expr, func(t *testing.T) {
			got, err := Evaluate(context.Background(), expr, nil, Configuration{})
			if err != nil {
				t.Fatalf("Evaluate(%q) returned error: %v", expr, err)
			}
			if len(got) != 0 {
				t.Errorf("Evaluate(%q) = %v, want empty", expr, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, expr := range []string{
		"Patient.name.where(use = 'official').given.first()",
		"(1 + 2) * 3",
		"a implies b implies c",
		"x is FHIR.Patient",
		"%`vs-a` | %ucum",
		"@2024-03-05T10:30:00Z > now()",
		"10 'mg' + 2 days",
	} {
		t.Run(expr, func(t *testing.T) {
			first := MustParse(expr)
			second, err := Parse(first.String())
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", first.String(), err)
			}
			if !first.Equal(second) {
				t.Errorf("round trip changed %q into %q", first.String(), second.String())
			}
		})
	}
}

func TestEvaluateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, "1 + 1", nil, Configuration{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Evaluate with canceled context = %v, want context.Canceled", err)
	}
}

func TestLambdaDoesNotLeakScope(t *testing.T) {
	got, err := Evaluate(context.Background(),
		"(1 | 2).select(defineVariable('v', $this).select(%v)) | 1.defineVariable('v', 9).select(%v)",
		nil, Configuration{})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	want := Collection{Integer(1), Integer(2), Integer(9)}
	if diff := cmp.Diff(want, got, collectionCmp); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
