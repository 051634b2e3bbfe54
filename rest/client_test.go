package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	base, err := url.Parse(server.URL + "/fhir")
	require.NoError(t, err)
	return &Client{BaseURL: base, Client: server.Client()}
}

func TestClientRead(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/fhir/Patient/123", r.URL.Path)
		assert.Equal(t, "application/fhir+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/fhir+json; charset=utf-8")
		_, _ = w.Write([]byte(`{"resourceType":"Patient","id":"123","active":true}`))
	})

	res, err := client.Read(context.Background(), "Patient", "123")
	require.NoError(t, err)

	patient, ok := res.(*fhirpath.Object)
	require.True(t, ok)
	assert.Equal(t, "Patient", patient.TypeName())
	assert.Equal(t, fhirpath.Collection{fhirpath.String("123")}, patient.Children("id"))
}

func TestClientReadOperationOutcome(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{
			"resourceType": "OperationOutcome",
			"issue": [
				{"severity": "warning", "code": "incomplete"},
				{"severity": "fatal", "code": "transient", "diagnostics": "database restarting"}
			]
		}`))
	})

	_, err := client.Read(context.Background(), "Patient", "123")
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusServiceUnavailable, e.StatusCode)
	require.Len(t, e.Issues, 2)

	worst, ok := e.MostSevere()
	require.True(t, ok)
	assert.Equal(t, Issue{Severity: "fatal", Code: "transient", Diagnostics: "database restarting"}, worst)
	assert.True(t, e.Transient())
	assert.False(t, e.NotFound())
	assert.Contains(t, e.Error(), "database restarting")
}

func TestClientReadPlainError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := client.Read(context.Background(), "Patient", "123")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Empty(t, e.Issues)
	assert.Equal(t, "boom", e.Body)
	assert.False(t, e.Transient())
}

func TestClientResolveReference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fhir/Practitioner/p1", "/fhir/Practitioner/p1/_history/2":
			_, _ = w.Write([]byte(`{"resourceType":"Practitioner","id":"p1"}`))
		case "/fhir/Practitioner/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	tests := []struct {
		name  string
		ref   string
		found bool
	}{
		{"relative", "Practitioner/p1", true},
		{"versioned", "Practitioner/p1/_history/2", true},
		{"absolute under base", client.BaseURL.String() + "/Practitioner/p1", true},
		{"absolute elsewhere", "https://other.example/fhir/Practitioner/p1", false},
		{"unknown", "Practitioner/p2", false},
		{"deleted", "Practitioner/gone", false},
		{"not a reference", "urn:uuid:8c2b3f5e", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, found, err := client.ResolveReference(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, "Practitioner", res.(*fhirpath.Object).TypeName())
			}
		})
	}
}

func TestClientResolveInExpression(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resourceType":"Practitioner","id":"p1","name":[{"family":"Welby"}]}`))
	})
	patient := fhirpath.MustParseJSON(`{
		"resourceType": "Patient",
		"generalPractitioner": [{"reference": "Practitioner/p1"}]
	}`)

	cfg := fhirpath.Configuration{ModelProvider: fhirpath.CombineProviders(nil, client)}
	result, err := fhirpath.Evaluate(context.Background(), "generalPractitioner.resolve().name.family", patient, cfg)
	require.NoError(t, err)
	assert.Equal(t, fhirpath.Collection{fhirpath.String("Welby")}, result)
}

func TestClientResolveTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	patient := fhirpath.MustParseJSON(`{"resourceType":"Patient","link":[{"other":{"reference":"Patient/2"}}]}`)
	cfg := fhirpath.Configuration{
		ModelProvider: fhirpath.CombineProviders(nil, client),
		Timeout:       50 * time.Millisecond,
	}
	_, err := fhirpath.Evaluate(context.Background(), "link.other.resolve()", patient, cfg)
	require.ErrorIs(t, err, fhirpath.ErrTimeout)
}
