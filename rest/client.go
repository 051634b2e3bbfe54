// Package rest resolves FHIR references against a FHIR REST server.
//
// A Client is a fhirpath.ReferenceResolver:
//
//	base, _ := url.Parse("https://server.example/fhir")
//	provider := fhirpath.CombineProviders(types, &rest.Client{BaseURL: base})
package rest

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

// Format is a FHIR media type.
type Format string

const (
	FormatJSON Format = "application/fhir+json"

	defaultClientFormat = FormatJSON
)

var alternateFormatsJSON = []string{"application/json", "text/json", "json"}

// Client reads resources from a FHIR REST server.
//
// The zero value is not usable, BaseURL is required. Safe for concurrent
// use.
type Client struct {
	BaseURL *url.URL
	// Client defaults to http.DefaultClient.
	Client *http.Client
	Format Format
}

var _ fhirpath.ReferenceResolver = (*Client)(nil)

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		return http.DefaultClient
	}
	return c.Client
}

// Read retrieves a resource by type and ID.
//
// A missing or deleted resource is reported as an *Error with status 404
// or 410.
func (c *Client) Read(ctx context.Context, resourceType, id string) (fhirpath.Element, error) {
	if c.BaseURL == nil {
		return nil, fmt.Errorf("base URL is nil")
	}
	return c.get(ctx, c.BaseURL.JoinPath(resourceType, id))
}

// ResolveReference resolves a relative reference like `Patient/123` or an
// absolute URL under BaseURL. References the server does not know are not
// found, not errors.
func (c *Client) ResolveReference(ctx context.Context, ref string) (fhirpath.Element, bool, error) {
	if c.BaseURL == nil {
		return nil, false, fmt.Errorf("base URL is nil")
	}
	u, err := c.referenceURL(ref)
	if err != nil {
		return nil, false, err
	}
	if u == nil {
		return nil, false, nil
	}

	zerolog.Ctx(ctx).Debug().Str("reference", ref).Str("url", u.String()).Msg("reading referenced resource")
	res, err := c.get(ctx, u)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.NotFound() {
			return nil, false, nil
		}
		return nil, false, err
	}
	return res, true, nil
}

// referenceURL returns nil for references outside the server.
func (c *Client) referenceURL(ref string) (*url.URL, error) {
	ref, _, _ = strings.Cut(ref, "#")
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse reference %q: %w", ref, err)
	}
	if r.IsAbs() {
		base := strings.TrimSuffix(c.BaseURL.String(), "/") + "/"
		if !strings.HasPrefix(r.String(), base) {
			return nil, nil
		}
		return r, nil
	}

	segments := strings.Split(strings.Trim(r.Path, "/"), "/")
	// Type/id or Type/id/_history/vid
	switch {
	case len(segments) == 2:
	case len(segments) == 4 && segments[2] == "_history":
	default:
		return nil, nil
	}
	return c.BaseURL.JoinPath(segments...), nil
}

func (c *Client) get(ctx context.Context, u *url.URL) (fhirpath.Element, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Set Accept header, using configured format or default
	requestFormat := cmp.Or(c.Format, defaultClientFormat)
	req.Header.Set("Accept", string(requestFormat))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}
	if f := detectResponseFormat(resp); f != FormatJSON {
		return nil, fmt.Errorf("unsupported response format %q", resp.Header.Get("Content-Type"))
	}

	res, err := fhirpath.ParseJSON(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return res, nil
}

// handleErrorResponse attempts to read an error response as an
// OperationOutcome. Unreadable bodies still yield an *Error carrying the
// status code.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{StatusCode: resp.StatusCode, Body: fmt.Sprintf("(failed to read response body: %s)", err)}
	}
	e := &Error{StatusCode: resp.StatusCode, Body: string(body)}
	if detectResponseFormat(resp) != FormatJSON {
		return e
	}
	if oo, err := fhirpath.ParseJSON(bytes.NewReader(body)); err == nil && oo.TypeName() == "OperationOutcome" {
		e.Issues = issuesOf(oo)
	}
	return e
}

// detectResponseFormat reads the Content-Type header, defaulting to JSON
// when it is missing.
func detectResponseFormat(resp *http.Response) Format {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return FormatJSON
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if mediaType == string(FormatJSON) || slices.Contains(alternateFormatsJSON, mediaType) {
		return FormatJSON
	}
	return Format(mediaType)
}
