// Package testdata holds the FHIRPath conformance suite: YAML test groups
// plus the JSON resources they evaluate against.
package testdata

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"gopkg.in/yaml.v3"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

//go:embed fhirpath
var suite embed.FS

const (
	testsDir = "fhirpath"
	inputDir = "fhirpath/input"
)

type FHIRPathTests struct {
	Groups []*FHIRPathTestGroup
}

type FHIRPathTestGroup struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Tests       []FHIRPathTest `yaml:"tests"`
}

type FHIRPathTest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	InputFile   string `yaml:"inputfile"`
	// InputResource is decoded from InputFile.
	InputResource *fhirpath.Object `yaml:"-"`
	Predicate     bool             `yaml:"predicate"`
	// Invalid names the error class a failing expression must report,
	// e.g. `parse` or `type`.
	Invalid    string               `yaml:"invalid"`
	Expression string               `yaml:"expression"`
	Variables  map[string]any       `yaml:"variables"`
	Output     []FHIRPathTestOutput `yaml:"output"`
}

// OutputCollection returns the expected result.
func (t FHIRPathTest) OutputCollection() fhirpath.Collection {
	var c fhirpath.Collection
	for _, o := range t.Output {
		c = append(c, o.Element())
	}
	return c
}

// VariableCollections converts Variables for fhirpath.WithVariable.
func (t FHIRPathTest) VariableCollections() map[string]fhirpath.Collection {
	if len(t.Variables) == 0 {
		return nil
	}
	vars := make(map[string]fhirpath.Collection, len(t.Variables))
	for name, v := range t.Variables {
		vars[name] = fhirpath.FromJSONValue(v)
	}
	return vars
}

type FHIRPathTestOutput struct {
	Type   string `yaml:"type"`
	Output string `yaml:"value"`
}

// UnmarshalYAML accepts scalars next to `- {type: string, value: text}`.
// Quoted scalars are strings unless they start with `@`.
func (o *FHIRPathTestOutput) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		o.Output = node.Value
		quoted := node.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) != 0
		if quoted && !strings.HasPrefix(node.Value, "@") {
			o.Type = "string"
		}
		return nil
	}
	type plain FHIRPathTestOutput
	return node.Decode((*plain)(o))
}

// Suite returns the embedded suite files.
func Suite() fs.FS {
	return suite
}

// GetFHIRPathTests loads every group of the suite, in file name order.
func GetFHIRPathTests() FHIRPathTests {
	tests, err := LoadFHIRPathTests(suite)
	if err != nil {
		log.Fatal(err)
	}
	return tests
}

// LoadFHIRPathTests reads the suite from fsys, laid out like the embedded
// one: groups as fhirpath/*.yaml, inputs in fhirpath/input.
func LoadFHIRPathTests(fsys fs.FS) (FHIRPathTests, error) {
	files, err := fs.Glob(fsys, path.Join(testsDir, "*.yaml"))
	if err != nil {
		return FHIRPathTests{}, err
	}
	slices.Sort(files)

	inputs := map[string]*fhirpath.Object{}
	var tests FHIRPathTests
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return FHIRPathTests{}, err
		}
		var group FHIRPathTestGroup
		if err := yaml.Unmarshal(data, &group); err != nil {
			return FHIRPathTests{}, fmt.Errorf("decode %s: %w", file, err)
		}
		if group.Name == "" {
			group.Name = strings.TrimSuffix(path.Base(file), ".yaml")
		}

		for i, t := range group.Tests {
			for k := range t.Output {
				if err := t.Output[k].inferTypeFromValue(); err != nil {
					return FHIRPathTests{}, fmt.Errorf("%s: test %s: %w", file, t.Name, err)
				}
			}
			if strings.TrimSpace(t.InputFile) != "" {
				input, ok := inputs[t.InputFile]
				if !ok {
					input, err = decodeInputResource(fsys, t.InputFile)
					if err != nil {
						return FHIRPathTests{}, err
					}
					inputs[t.InputFile] = input
				}
				t.InputResource = input
			}
			group.Tests[i] = t
		}
		tests.Groups = append(tests.Groups, &group)
	}
	return tests, nil
}

func decodeInputResource(fsys fs.FS, filename string) (*fhirpath.Object, error) {
	data, err := fs.ReadFile(fsys, path.Join(inputDir, filename))
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", filename, err)
	}
	resource, err := fhirpath.ParseJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode input %s: %w", filename, err)
	}
	return resource, nil
}

func (o *FHIRPathTestOutput) inferTypeFromValue() error {
	if o.Type != "" {
		return o.check()
	}
	value := strings.TrimSpace(o.Output)

	switch {
	case strings.HasPrefix(value, "@T"):
		o.Type = "time"
	case strings.HasPrefix(value, "@") && strings.Contains(value, "T"):
		o.Type = "dateTime"
	case strings.HasPrefix(value, "@"):
		o.Type = "date"
	case value == "true" || value == "false":
		o.Type = "boolean"
	case strings.Contains(value, " "):
		o.Type = "Quantity"
	case strings.ContainsAny(value, ".eE"):
		o.Type = "decimal"
	default:
		if _, err := strconv.ParseInt(value, 10, 32); err == nil {
			o.Type = "integer"
		} else if _, err := strconv.ParseInt(value, 10, 64); err == nil {
			o.Type = "long"
		} else {
			// Fallback to string if no other type matches
			o.Type = "string"
		}
	}
	o.Output = strings.TrimPrefix(value, "@")
	return o.check()
}

func (o FHIRPathTestOutput) check() error {
	if _, err := o.toElement(); err != nil {
		return fmt.Errorf("invalid %s output %q: %w", o.Type, o.Output, err)
	}
	return nil
}

// Element returns the expected value.
func (o FHIRPathTestOutput) Element() fhirpath.Element {
	e, err := o.toElement()
	if err != nil {
		panic(err)
	}
	return e
}

func (o FHIRPathTestOutput) toElement() (fhirpath.Element, error) {
	switch o.Type {
	case "boolean":
		b, err := strconv.ParseBool(o.Output)
		return fhirpath.Boolean(b), err
	case "string", "code", "id":
		return fhirpath.String(o.Output), nil
	case "integer":
		i, err := strconv.ParseInt(o.Output, 10, 32)
		return fhirpath.Integer(i), err
	case "long":
		i, err := strconv.ParseInt(strings.TrimSuffix(o.Output, "L"), 10, 64)
		return fhirpath.Long(i), err
	case "decimal":
		d, _, err := apd.NewFromString(o.Output)
		return fhirpath.Decimal{Value: d}, err
	case "date":
		return fhirpath.ParseDate(strings.TrimPrefix(o.Output, "@"))
	case "time":
		return fhirpath.ParseTime(strings.TrimPrefix(o.Output, "@"))
	case "dateTime":
		return fhirpath.ParseDateTime(strings.TrimPrefix(o.Output, "@"))
	case "Quantity":
		return fhirpath.ParseQuantity(o.Output)
	}
	return nil, fmt.Errorf("unknown output type %q", o.Type)
}
