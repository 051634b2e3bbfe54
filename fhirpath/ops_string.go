package fhirpath

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

func stringOperations() []Operation {
	return []Operation{
		stringFunction("indexOf", 1, func(inv *Invocation, s string) (Collection, error) {
			sub, _ := stringArg(inv, 0)
			i := strings.Index(s, sub)
			if i < 0 {
				return Collection{Integer(-1)}, nil
			}
			return Collection{Integer(utf8.RuneCountInString(s[:i]))}, nil
		}),
		stringFunction("lastIndexOf", 1, func(inv *Invocation, s string) (Collection, error) {
			sub, _ := stringArg(inv, 0)
			i := strings.LastIndex(s, sub)
			if i < 0 {
				return Collection{Integer(-1)}, nil
			}
			return Collection{Integer(utf8.RuneCountInString(s[:i]))}, nil
		}),
		NewSyncOperation(function("substring", 1, 2).singleton(), substring),
		stringFunction("startsWith", 1, func(inv *Invocation, s string) (Collection, error) {
			prefix, _ := stringArg(inv, 0)
			return boolResult(strings.HasPrefix(s, prefix)), nil
		}),
		stringFunction("endsWith", 1, func(inv *Invocation, s string) (Collection, error) {
			suffix, _ := stringArg(inv, 0)
			return boolResult(strings.HasSuffix(s, suffix)), nil
		}),
		stringFunction("contains", 1, func(inv *Invocation, s string) (Collection, error) {
			sub, _ := stringArg(inv, 0)
			return boolResult(strings.Contains(s, sub)), nil
		}),
		stringFunction("upper", 0, func(inv *Invocation, s string) (Collection, error) {
			return Collection{String(upperCaser.String(s))}, nil
		}),
		stringFunction("lower", 0, func(inv *Invocation, s string) (Collection, error) {
			return Collection{String(lowerCaser.String(s))}, nil
		}),
		stringFunction("replace", 2, func(inv *Invocation, s string) (Collection, error) {
			pattern, _ := stringArg(inv, 0)
			substitution, _ := stringArg(inv, 1)
			return Collection{String(strings.ReplaceAll(s, pattern, substitution))}, nil
		}),
		stringFunction("matches", 1, func(inv *Invocation, s string) (Collection, error) {
			re, err := compileRegex(inv, "(?s)(?:%s)")
			if err != nil {
				return nil, err
			}
			return boolResult(re.MatchString(s)), nil
		}),
		stringFunction("matchesFull", 1, func(inv *Invocation, s string) (Collection, error) {
			re, err := compileRegex(inv, "(?s)^(?:%s)$")
			if err != nil {
				return nil, err
			}
			return boolResult(re.MatchString(s)), nil
		}),
		stringFunction("replaceMatches", 2, func(inv *Invocation, s string) (Collection, error) {
			re, err := compileRegex(inv, "(?s)(?:%s)")
			if err != nil {
				return nil, err
			}
			substitution, _ := stringArg(inv, 1)
			return Collection{String(re.ReplaceAllString(s, substitution))}, nil
		}),
		stringFunction("length", 0, func(inv *Invocation, s string) (Collection, error) {
			return Collection{Integer(utf8.RuneCountInString(s))}, nil
		}),
		stringFunction("toChars", 0, func(inv *Invocation, s string) (Collection, error) {
			var out Collection
			for _, r := range s {
				out = append(out, String(r))
			}
			return out, nil
		}),
		stringFunction("trim", 0, func(inv *Invocation, s string) (Collection, error) {
			return Collection{String(strings.TrimSpace(s))}, nil
		}),
		stringFunction("split", 1, func(inv *Invocation, s string) (Collection, error) {
			sep, _ := stringArg(inv, 0)
			var out Collection
			for _, part := range strings.Split(s, sep) {
				out = append(out, String(part))
			}
			return out, nil
		}),
		NewSyncOperation(function("join", 0, 1), join),
		stringFunction("encode", 1, func(inv *Invocation, s string) (Collection, error) {
			format, _ := stringArg(inv, 0)
			switch format {
			case "base64":
				return Collection{String(base64.StdEncoding.EncodeToString([]byte(s)))}, nil
			case "urlbase64":
				return Collection{String(base64.URLEncoding.EncodeToString([]byte(s)))}, nil
			case "hex":
				return Collection{String(hex.EncodeToString([]byte(s)))}, nil
			}
			return nil, nil
		}),
		stringFunction("decode", 1, func(inv *Invocation, s string) (Collection, error) {
			format, _ := stringArg(inv, 0)
			var (
				b   []byte
				err error
			)
			switch format {
			case "base64":
				b, err = base64.StdEncoding.DecodeString(s)
			case "urlbase64":
				b, err = base64.URLEncoding.DecodeString(s)
			case "hex":
				b, err = hex.DecodeString(s)
			default:
				return nil, nil
			}
			if err != nil {
				return nil, nil
			}
			return Collection{String(b)}, nil
		}),
		stringFunction("escape", 1, func(inv *Invocation, s string) (Collection, error) {
			target, _ := stringArg(inv, 0)
			switch target {
			case "html":
				return Collection{String(html.EscapeString(s))}, nil
			case "json":
				b, err := json.Marshal(s)
				if err != nil {
					return nil, err
				}
				return Collection{String(b[1 : len(b)-1])}, nil
			}
			return nil, nil
		}),
		stringFunction("unescape", 1, func(inv *Invocation, s string) (Collection, error) {
			target, _ := stringArg(inv, 0)
			switch target {
			case "html":
				return Collection{String(html.UnescapeString(s))}, nil
			case "json":
				var out string
				if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
					return nil, nil
				}
				return Collection{String(out)}, nil
			}
			return nil, nil
		}),
	}
}

// stringFunction is a singleton function on a String focus taking args
// String arguments. Other focus types yield empty.
func stringFunction(name string, args int, fn func(inv *Invocation, s string) (Collection, error)) Operation {
	return NewSyncOperation(function(name, args, args).singleton(), func(inv *Invocation) (Collection, error) {
		s, ok, err := Singleton[String](inv.Input)
		if err != nil || !ok {
			return nil, err
		}
		for i := range args {
			if _, ok := stringArg(inv, i); !ok {
				return nil, nil
			}
		}
		return fn(inv, string(s))
	})
}

func substring(inv *Invocation) (Collection, error) {
	s, ok, err := Singleton[String](inv.Input)
	if err != nil || !ok {
		return nil, err
	}
	runes := []rune(string(s))
	start, ok, err := integerArg(inv, 0)
	if err != nil || !ok || start < 0 || start >= len(runes) {
		return nil, err
	}
	end := len(runes)
	if inv.HasArg(1) {
		length, ok, err := integerArg(inv, 1)
		if err != nil || !ok {
			return nil, err
		}
		end = min(start+max(length, 0), len(runes))
	}
	return Collection{String(runes[start:end])}, nil
}

func join(inv *Invocation) (Collection, error) {
	sep := ""
	if inv.HasArg(0) {
		s, ok := stringArg(inv, 0)
		if !ok {
			return nil, nil
		}
		sep = s
	}
	parts := make([]string, 0, len(inv.Input))
	for _, e := range inv.Input {
		s, ok, err := elementTo[String](e, false)
		if err != nil || !ok {
			return nil, incompatible("join", e, String(sep))
		}
		parts = append(parts, string(s))
	}
	return Collection{String(strings.Join(parts, sep))}, nil
}

// compileRegex compiles argument 0 wrapped in layout. The pattern must be
// valid on its own, so it cannot close the wrapping group.
func compileRegex(inv *Invocation, layout string) (*regexp.Regexp, error) {
	pattern, _ := stringArg(inv, 0)
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, typeErrorf(inv.Pos, "%s: invalid regular expression %q: %s", inv.Name, pattern, err)
	}
	re, err := regexp.Compile(strings.Replace(layout, "%s", pattern, 1))
	if err != nil {
		return nil, typeErrorf(inv.Pos, "%s: invalid regular expression %q: %s", inv.Name, pattern, err)
	}
	return re, nil
}
