package fhirpath

import (
	"context"
	"errors"
	"strings"
)

func reflectionOperations() []Operation {
	return []Operation{
		NewHybridOperation(function("type", 0, 0),
			func(inv *Invocation) (Collection, bool, error) {
				env := inv.Env.lookupEnv()
				env.syncOnly = true
				r, err := typeOfEach(inv.Context(), inv.Env.Reflector, env, inv.Input)
				if errors.Is(err, errNotCached) {
					return nil, false, nil
				}
				return r, true, err
			},
			func(ctx context.Context, inv *Invocation) (Collection, error) {
				return typeOfEach(ctx, inv.Env.Reflector, inv.Env.lookupEnv(), inv.Input)
			},
		),
		typeOperation(function("is", 1, 1).lambdas(0), isOperation),
		typeOperation(function("as", 1, 1).lambdas(0), asOperation),
		typeOperation(function("ofType", 1, 1).lambdas(0), ofTypeOperation),
	}
}

func typeOfEach(ctx context.Context, r *TypeReflector, env lookupEnv, c Collection) (Collection, error) {
	out := make(Collection, 0, len(c))
	for _, e := range c {
		t, err := r.typeOfElement(ctx, env, e)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func fhirOperations() []Operation {
	return []Operation{
		NewOperation(function("resolve", 0, 0), resolve),
		NewSyncOperation(function("extension", 1, 1), func(inv *Invocation) (Collection, error) {
			url, ok := stringArg(inv, 0)
			if !ok {
				return nil, typeErrorf(inv.Pos, "extension: url must be a string")
			}
			var out Collection
			for _, e := range inv.Input {
				for _, ext := range e.Children("extension") {
					if u, ok, _ := Singleton[String](ext.Children("url")); ok && string(u) == url {
						out = append(out, ext)
					}
				}
			}
			return out, nil
		}),
		NewSyncOperation(function("hasValue", 0, 0), func(inv *Invocation) (Collection, error) {
			if len(inv.Input) != 1 {
				return boolResult(false), nil
			}
			_, isObj := inv.Input[0].(*Object)
			return boolResult(!isObj), nil
		}),
		NewSyncOperation(function("getValue", 0, 0), func(inv *Invocation) (Collection, error) {
			if len(inv.Input) != 1 {
				return nil, nil
			}
			if _, isObj := inv.Input[0].(*Object); isObj {
				return nil, nil
			}
			return inv.Input, nil
		}),
	}
}

// resolve follows references. Contained (`#id`) and bundle local
// references are answered from the evaluation root, anything else by the
// model provider.
func resolve(ctx context.Context, inv *Invocation) (Collection, error) {
	env := inv.Env.lookupEnv()
	var out Collection
	for _, e := range inv.Input {
		ref, ok := referenceOf(e)
		if !ok {
			continue
		}
		if local, found := resolveLocal(inv.Env.Root, ref); found {
			out = append(out, local)
			continue
		}
		if env.provider == nil {
			return nil, &MissingCapabilityError{Operation: "resolve " + ref, Capability: "model provider"}
		}
		env.logger.Debug().Str("reference", ref).Msg("resolving reference")
		target, found, err := callProvider(ctx, env, "ResolveReference", ref, func(ctx context.Context) (Element, bool, error) {
			return env.provider.ResolveReference(ctx, ref)
		})
		if err != nil {
			return nil, err
		}
		if found && target != nil {
			out = append(out, target)
		}
	}
	return out, nil
}

// referenceOf reads a Reference object or a canonical/uri string.
func referenceOf(e Element) (string, bool) {
	switch v := e.(type) {
	case String:
		return string(v), v != ""
	case *Object:
		if s, ok := v.fields["reference"].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func resolveLocal(root Collection, ref string) (Element, bool) {
	for _, r := range root {
		if id, ok := strings.CutPrefix(ref, "#"); ok {
			for _, c := range r.Children("contained") {
				if matchesID(c, "", id) {
					return c, true
				}
			}
			continue
		}
		for _, entry := range r.Children("entry") {
			if u, ok, _ := Singleton[String](entry.Children("fullUrl")); ok && string(u) == ref {
				if res := entry.Children("resource"); len(res) == 1 {
					return res[0], true
				}
			}
			typ, id, ok := strings.Cut(ref, "/")
			if !ok || strings.Contains(id, "/") {
				continue
			}
			for _, res := range entry.Children("resource") {
				if matchesID(res, typ, id) {
					return res, true
				}
			}
		}
	}
	return nil, false
}

func matchesID(e Element, typeName, id string) bool {
	o, ok := e.(*Object)
	if !ok || (typeName != "" && o.typeName != typeName) {
		return false
	}
	got, _ := o.fields["id"].(string)
	return got == id
}
