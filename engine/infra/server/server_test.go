package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rapidcrm/crmstore/engine/dataaccess"
	"github.com/rapidcrm/crmstore/engine/infra/migrate"
	"github.com/rapidcrm/crmstore/engine/infra/monitoring"
	"github.com/rapidcrm/crmstore/test"
)

func newTestRouter(t *testing.T, opts RouterOptions) (*gin.Engine, *test.MockSetup) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	setup := test.NewMockSetup(t)
	m, err := dataaccess.NewWithExecutor(setup.Executor, test.ConnectionID,
		dataaccess.WithFs(afero.NewMemMapFs()),
		dataaccess.WithMigrations([]migrate.Migration{{Name: "create_companies_table", Version: "1.0.0"}}),
	)
	require.NoError(t, err)
	return NewRouter(test.Context(t), m, opts), setup
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	t.Run("Should report healthy while the primary connection answers", func(t *testing.T) {
		r, _ := newTestRouter(t, RouterOptions{})
		rec := serve(r, http.MethodGet, "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)
		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, true, data["healthy"])
	})

	t.Run("Should answer 503 when every connection is down", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{})
		setup.Registry.CloseConnection(test.Context(t), test.ConnectionID)
		rec := serve(r, http.MethodGet, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestTables(t *testing.T) {
	t.Run("Should page through an entity table", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{})
		setup.Mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS count FROM deals")).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(25)))
		rows := pgxmock.NewRows([]string{"id", "title"})
		for i := range 10 {
			rows.AddRow(fmt.Sprintf("d%d", 10+i), "Fleet renewal")
		}
		setup.Mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM deals ORDER BY title ASC LIMIT $1 OFFSET $2")).
			WithArgs(10, 10).
			WillReturnRows(rows)

		rec := serve(r, http.MethodGet, "/tables/deals?page=2&limit=10&orderBy=title&direction=asc")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		page := decode(t, rec)["data"].(map[string]any)
		assert.Len(t, page["data"], 10)
		assert.InDelta(t, 25, page["total"], 0)
		assert.InDelta(t, 3, page["totalPages"], 0)
		setup.ExpectationsWereMet()
	})

	t.Run("Should cap the page size", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{MaxPageSize: 50})
		setup.Mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS count FROM tasks")).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
		setup.Mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2")).
			WithArgs(50, 0).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		rec := serve(r, http.MethodGet, "/tables/tasks?limit=100000")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		setup.ExpectationsWereMet()
	})

	t.Run("Should reject unknown tables as a bad request problem", func(t *testing.T) {
		r, _ := newTestRouter(t, RouterOptions{})
		rec := serve(r, http.MethodGet, "/tables/pg_shadow")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		body := decode(t, rec)
		assert.Equal(t, "BAD_REQUEST", body["code"])
		assert.Contains(t, body["details"], "unknown table pg_shadow")
	})

	t.Run("Should reject a non-numeric page", func(t *testing.T) {
		r, _ := newTestRouter(t, RouterOptions{})
		rec := serve(r, http.MethodGet, "/tables/deals?page=two")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Should reject a page whose offset would overflow", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{})
		target := fmt.Sprintf("/tables/deals?limit=10&page=%d", math.MaxInt64/10+2)
		rec := serve(r, http.MethodGet, target)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "BAD_REQUEST", body["code"])
		assert.Contains(t, body["details"], "invalid page")
		assert.NoError(t, setup.Mock.ExpectationsWereMet())
	})
}

func TestMigrations(t *testing.T) {
	lookup := regexp.QuoteMeta("SELECT COALESCE(rollback_sql, '') AS rollback_sql FROM migrations WHERE name = $1")

	t.Run("Should list bound migrations with their state", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{})
		setup.Mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS migrations")).
			WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		setup.Mock.ExpectQuery(regexp.QuoteMeta("FROM migrations ORDER BY applied_at ASC")).
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "version", "applied_at", "rollback_sql"}).
				AddRow(1, "create_companies_table", "1.0.0", &test.FixedTime, "DROP TABLE companies"))

		rec := serve(r, http.MethodGet, "/migrations")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data := decode(t, rec)["data"].([]any)
		require.Len(t, data, 1)
		assert.Equal(t, true, data[0].(map[string]any)["applied"])
		setup.ExpectationsWereMet()
	})

	t.Run("Should map an unknown migration to 404", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{})
		setup.Mock.ExpectQuery(lookup).WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{"rollback_sql"}))
		rec := serve(r, http.MethodPost, "/migrations/missing/rollback")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
	})

	t.Run("Should map a migration without rollback SQL to 409", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{})
		setup.Mock.ExpectQuery(lookup).WithArgs("seed_reference_data").
			WillReturnRows(pgxmock.NewRows([]string{"rollback_sql"}).AddRow(""))
		rec := serve(r, http.MethodPost, "/migrations/seed_reference_data/rollback")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Should map a failing rollback statement to 500", func(t *testing.T) {
		r, setup := newTestRouter(t, RouterOptions{})
		setup.Mock.ExpectQuery(lookup).WithArgs("create_companies_table").
			WillReturnRows(pgxmock.NewRows([]string{"rollback_sql"}).AddRow("DROP TABLE companies"))
		setup.Mock.ExpectExec(regexp.QuoteMeta("DROP TABLE companies")).
			WillReturnError(errors.New(`cannot drop table companies because other objects depend on it`))
		rec := serve(r, http.MethodPost, "/migrations/create_companies_table/rollback")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decode(t, rec)["details"], "other objects depend on it")
	})
}

func TestMetrics(t *testing.T) {
	t.Run("Should expose the prometheus registry when enabled", func(t *testing.T) {
		mon, err := monitoring.NewService(test.Context(t), true)
		require.NoError(t, err)
		r, _ := newTestRouter(t, RouterOptions{Metrics: mon.ExporterHandler()})
		rec := serve(r, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Should record request durations by route template", func(t *testing.T) {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		r, _ := newTestRouter(t, RouterOptions{Meter: provider.Meter("test")})
		serve(r, http.MethodGet, "/healthz")
		serve(r, http.MethodGet, "/nowhere")

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(t.Context(), &rm))
		routes := map[string]uint64{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "crmstore_http_request_duration_seconds" {
					continue
				}
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					route, _ := dp.Attributes.Value("route")
					routes[route.AsString()] += dp.Count
				}
			}
		}
		assert.Equal(t, map[string]uint64{"/healthz": 1, "unmatched": 1}, routes)
	})

	t.Run("Should not route metrics when disabled", func(t *testing.T) {
		r, _ := newTestRouter(t, RouterOptions{})
		rec := serve(r, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
