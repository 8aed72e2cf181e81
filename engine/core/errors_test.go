package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrors(t *testing.T) {
	t.Run("Should match sentinels through wrapping", func(t *testing.T) {
		err := fmt.Errorf("rollback: %w", NewNotFound("migration", "001_create_companies_table"))
		assert.ErrorIs(t, err, ErrNotFound)
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
		assert.Equal(t, "migration", nf.Kind)
		assert.ErrorIs(t, &NoRollbackAvailableError{Name: "x"}, ErrNoRollbackAvailable)
		assert.ErrorIs(t, NewInvalidInput("table", "unknown"), ErrInvalidInput)
	})
}

func TestProblemFromError(t *testing.T) {
	t.Run("Should map typed errors to statuses", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, ProblemFromError(NewNotFound("deal", "d1")).Status)
		assert.Equal(t, http.StatusConflict, ProblemFromError(&NoRollbackAvailableError{Name: "m"}).Status)
		assert.Equal(t, http.StatusBadRequest, ProblemFromError(NewInvalidInput("page", "nan")).Status)
		p := ProblemFromError(errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, p.Status)
		assert.Equal(t, "Internal Server Error", p.Title)
	})

	t.Run("Should keep reserved keys out of extras", func(t *testing.T) {
		body := BuildProblemBody(NormalizeProblem(&Problem{
			Status: http.StatusNotFound,
			Detail: "missing",
			Extras: map[string]any{"status": 999, "code": "NOT_FOUND"},
		}))
		assert.Equal(t, http.StatusNotFound, body["status"])
		assert.Equal(t, "NOT_FOUND", body["code"])
		assert.Equal(t, "missing", body["details"])
	})
}
