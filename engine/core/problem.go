package core

import (
	"errors"
	"net/http"
)

// Problem captures the information returned in an RFC 7807 error response.
type Problem struct {
	Type     string
	Title    string
	Status   int
	Detail   string
	Instance string
	Extras   map[string]any
}

// NormalizeProblem ensures the provided problem includes canonical defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	if problem.Type == "" {
		problem.Type = "about:blank"
	}
	return problem
}

// BuildProblemBody assembles the serialized representation of the problem.
func BuildProblemBody(problem *Problem) map[string]any {
	body := map[string]any{
		"status": problem.Status,
		"error":  problem.Title,
		"type":   problem.Type,
	}
	if problem.Detail != "" {
		body["details"] = problem.Detail
	}
	if problem.Instance != "" {
		body["instance"] = problem.Instance
	}
	for key, value := range problem.Extras {
		if _, reserved := body[key]; !reserved {
			body[key] = value
		}
	}
	return body
}

// ProblemFromError maps the typed errors of this module onto HTTP problems.
// Anything unrecognized becomes a 500.
func ProblemFromError(err error) *Problem {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrNoRollbackAvailable):
		status, code = http.StatusConflict, "NO_ROLLBACK_AVAILABLE"
	case errors.Is(err, ErrInvalidInput):
		status, code = http.StatusBadRequest, "BAD_REQUEST"
	}
	p := &Problem{Status: status, Extras: map[string]any{"code": code}}
	if err != nil {
		p.Detail = RedactError(err)
	}
	return NormalizeProblem(p)
}
