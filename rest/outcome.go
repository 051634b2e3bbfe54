package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

// Issue is one OperationOutcome issue.
type Issue struct {
	Severity    string
	Code        string
	Diagnostics string
}

// Error is a non-success response of the server.
type Error struct {
	StatusCode int
	// Issues is empty unless the body was an OperationOutcome.
	Issues []Issue
	Body   string
}

func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("unexpected status code: %d, response: %s", e.StatusCode, e.Body)
	}
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		s := i.Severity + " " + i.Code
		if i.Diagnostics != "" {
			s += ": " + i.Diagnostics
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, strings.Join(parts, "; "))
}

// NotFound reports whether the resource is missing or deleted, by status
// or by the most severe issue.
func (e *Error) NotFound() bool {
	switch e.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return true
	}
	if i, ok := e.MostSevere(); ok {
		return i.Code == "not-found" || i.Code == "deleted"
	}
	return false
}

// Transient reports whether retrying may succeed.
func (e *Error) Transient() bool {
	switch e.StatusCode {
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	i, ok := e.MostSevere()
	if !ok {
		return false
	}
	switch issueCodeToHTTPStatus[i.Code] {
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

var issueCodeToHTTPStatus = map[string]int{
	"invalid":          http.StatusBadRequest,
	"structure":        http.StatusBadRequest,
	"required":         http.StatusBadRequest,
	"value":            http.StatusBadRequest,
	"invariant":        http.StatusBadRequest,
	"security":         http.StatusForbidden,
	"login":            http.StatusUnauthorized,
	"unknown":          http.StatusUnauthorized,
	"expired":          http.StatusUnauthorized,
	"forbidden":        http.StatusForbidden,
	"suppressed":       http.StatusForbidden,
	"processing":       http.StatusBadRequest,
	"not-supported":    http.StatusNotImplemented,
	"duplicate":        http.StatusConflict,
	"multiple-matches": http.StatusBadRequest,
	"not-found":        http.StatusNotFound,
	"deleted":          http.StatusGone,
	"too-long":         http.StatusRequestEntityTooLarge,
	"code-invalid":     http.StatusBadRequest,
	"extension":        http.StatusBadRequest,
	"too-costly":       http.StatusForbidden,
	"business-rule":    http.StatusBadRequest,
	"conflict":         http.StatusConflict,
	"transient":        http.StatusServiceUnavailable,
	"lock-error":       http.StatusServiceUnavailable,
	"no-store":         http.StatusServiceUnavailable,
	"exception":        http.StatusInternalServerError,
	"timeout":          http.StatusGatewayTimeout,
	"incomplete":       http.StatusServiceUnavailable,
	"throttled":        http.StatusTooManyRequests,
}

var severityRank = map[string]int{
	"fatal":       3,
	"error":       2,
	"warning":     1,
	"information": 0,
}

// MostSevere returns the first issue of the highest known severity.
func (e *Error) MostSevere() (Issue, bool) {
	best, found := Issue{}, false
	for _, i := range e.Issues {
		rank, ok := severityRank[i.Severity]
		if !ok {
			continue
		}
		if !found || rank > severityRank[best.Severity] {
			best, found = i, true
		}
	}
	return best, found
}

func issuesOf(outcome fhirpath.Element) []Issue {
	var issues []Issue
	for _, issue := range outcome.Children("issue") {
		severity, ok, err := fhirpath.Singleton[fhirpath.String](issue.Children("severity"))
		if err != nil || !ok {
			// skip issues without severity or code
			continue
		}
		code, ok, err := fhirpath.Singleton[fhirpath.String](issue.Children("code"))
		if err != nil || !ok {
			continue
		}
		diagnostics, _, _ := fhirpath.Singleton[fhirpath.String](issue.Children("diagnostics"))
		issues = append(issues, Issue{
			Severity:    string(severity),
			Code:        string(code),
			Diagnostics: string(diagnostics),
		})
	}
	return issues
}
