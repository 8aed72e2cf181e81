package deal

import (
	"math/bits"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
	"github.com/rapidcrm/crmstore/test"
)

const ownerID = "0c9b8f4e-2d6a-4b8e-9f3c-7a1d2e3f4a5b"

var columns = []string{"id", "title", "value", "stage", "status", "tags", "custom_fields", "created_at"}

func dealRow(rows *pgxmock.Rows, id, stage string, tags []string, fields map[string]any) *pgxmock.Rows {
	return rows.AddRow(id, "Fleet renewal", "12500.00", stage, StatusActive, tags, fields, test.FixedTime)
}

func newRepository(t *testing.T) (*Repository, *test.MockSetup) {
	t.Helper()
	setup := test.NewMockSetup(t)
	repo, err := NewRepository(setup.Executor, test.ConnectionID)
	require.NoError(t, err)
	return repo, setup
}

func exact(sql string) string {
	return "^" + regexp.QuoteMeta(sql) + "$"
}

func TestInput_Values(t *testing.T) {
	t.Run("Should map set fields to columns and skip nil ones", func(t *testing.T) {
		value := decimal.RequireFromString("12500.00")
		in := Input{
			Title:        test.Ptr("Fleet renewal"),
			Value:        &value,
			Stage:        test.Ptr(StageProposal),
			Probability:  test.Ptr(60),
			OwnerID:      test.Ptr(ownerID),
			Tags:         []string{"fleet"},
			CustomFields: map[string]any{"region": "south"},
		}
		assert.Equal(t, repository.Values{
			"title":         "Fleet renewal",
			"value":         value,
			"stage":         StageProposal,
			"probability":   60,
			"owner_id":      ownerID,
			"tags":          []string{"fleet"},
			"custom_fields": map[string]any{"region": "south"},
		}, in.Values())
		assert.Empty(t, Input{}.Values())
	})

	t.Run("Should reject a probability above one hundred", func(t *testing.T) {
		repo, _ := newRepository(t)
		_, err := repo.UpdateProbability(test.Context(t), "d1", 140)
		var invalid *core.InvalidInputError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "probability", invalid.Field)
	})
}

func TestRepository_Scan(t *testing.T) {
	t.Run("Should scan decimals, arrays and json into the entity", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact("SELECT * FROM deals WHERE id = $1")).
			WithArgs("d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageProposal, []string{"fleet", "hot"}, map[string]any{"region": "south"}))
		d, err := repo.FindByID(test.Context(t), "d1")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.True(t, decimal.RequireFromString("12500").Equal(d.Value))
		assert.Equal(t, []string{"fleet", "hot"}, d.Tags)
		assert.Equal(t, "south", d.CustomFields["region"])
		setup.ExpectationsWereMet()
	})
}

func TestRepository_UpdateStage(t *testing.T) {
	t.Run("Should stamp the close date when a deal is won", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact(
			"UPDATE deals SET actual_close_date = CURRENT_DATE, stage = $1, updated_at = NOW() WHERE id = $2 RETURNING *",
		)).
			WithArgs(StageClosedWon, "d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageClosedWon, nil, nil))
		d, err := repo.UpdateStage(test.Context(t), "d1", StageClosedWon)
		require.NoError(t, err)
		assert.Equal(t, StageClosedWon, d.Stage)
		setup.ExpectationsWereMet()
	})

	t.Run("Should leave the close date alone for open stages", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact("UPDATE deals SET stage = $1, updated_at = NOW() WHERE id = $2 RETURNING *")).
			WithArgs(StageNegotiation, "d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageNegotiation, nil, nil))
		_, err := repo.UpdateStage(test.Context(t), "d1", StageNegotiation)
		require.NoError(t, err)
		setup.ExpectationsWereMet()
	})

	t.Run("Should reject an unknown stage before touching the database", func(t *testing.T) {
		repo, _ := newRepository(t)
		_, err := repo.UpdateStage(test.Context(t), "d1", "won-ish")
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestRepository_Tags(t *testing.T) {
	t.Run("Should append a new tag", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact("SELECT * FROM deals WHERE id = $1")).
			WithArgs("d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageProposal, []string{"fleet"}, nil))
		setup.Mock.ExpectQuery(exact("UPDATE deals SET tags = $1, updated_at = NOW() WHERE id = $2 RETURNING *")).
			WithArgs([]string{"fleet", "hot"}, "d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageProposal, []string{"fleet", "hot"}, nil))
		d, err := repo.AddTag(test.Context(t), "d1", "hot")
		require.NoError(t, err)
		assert.Equal(t, []string{"fleet", "hot"}, d.Tags)
		setup.ExpectationsWereMet()
	})

	t.Run("Should not write when the tag is already present", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact("SELECT * FROM deals WHERE id = $1")).
			WithArgs("d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageProposal, []string{"fleet"}, nil))
		d, err := repo.AddTag(test.Context(t), "d1", "fleet")
		require.NoError(t, err)
		assert.Equal(t, []string{"fleet"}, d.Tags)
		setup.ExpectationsWereMet()
	})

	t.Run("Should remove a tag", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact("SELECT * FROM deals WHERE id = $1")).
			WithArgs("d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageProposal, []string{"fleet", "hot"}, nil))
		setup.Mock.ExpectQuery(exact("UPDATE deals SET tags = $1, updated_at = NOW() WHERE id = $2 RETURNING *")).
			WithArgs([]string{"hot"}, "d1").
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageProposal, []string{"hot"}, nil))
		_, err := repo.RemoveTag(test.Context(t), "d1", "fleet")
		require.NoError(t, err)
		setup.ExpectationsWereMet()
	})

	t.Run("Should yield nil for a missing deal", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact("SELECT * FROM deals WHERE id = $1")).
			WithArgs("nope").
			WillReturnRows(pgxmock.NewRows(columns))
		d, err := repo.SetCustomField(test.Context(t), "nope", "region", "north")
		require.NoError(t, err)
		assert.Nil(t, d)
		setup.ExpectationsWereMet()
	})
}

func TestFilters(t *testing.T) {
	minValue := decimal.NewFromInt(1000)
	when := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	setters := []func(*Filters){
		func(f *Filters) { f.Stage = test.Ptr(StageProposal) },
		func(f *Filters) { f.OwnerID = test.Ptr(ownerID) },
		func(f *Filters) { f.CompanyID = test.Ptr("c1") },
		func(f *Filters) { f.Status = test.Ptr(StatusActive) },
		func(f *Filters) { f.Priority = test.Ptr("high") },
		func(f *Filters) { f.Source = test.Ptr("referral") },
		func(f *Filters) { f.MinValue = &minValue },
		func(f *Filters) { f.MaxValue = &minValue },
		func(f *Filters) { f.ExpectedCloseAfter = &when },
		func(f *Filters) { f.ExpectedCloseBefore = &when },
		func(f *Filters) { f.Tags = []string{"fleet", "hot"} },
	}

	t.Run("Should yield exactly k predicates and k parameters", func(t *testing.T) {
		for mask := range 1 << len(setters) {
			var f Filters
			for i, set := range setters {
				if mask&(1<<i) != 0 {
					set(&f)
				}
			}
			k := bits.OnesCount(uint(mask))
			filter := f.Filter()
			_, args, err := filter.Apply(repository.Builder().Select("*").From(Table)).ToSql()
			require.NoError(t, err)
			require.Equal(t, k, filter.Len(), "mask=%b", mask)
			require.Len(t, args, k, "mask=%b", mask)
		}
	})

	t.Run("Should bind the tag list as one array parameter", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.ExpectQuery(exact("SELECT * FROM deals WHERE stage = $1 AND tags && $2 ORDER BY created_at DESC")).
			WithArgs(StageProposal, []string{"fleet", "hot"}).
			WillReturnRows(dealRow(pgxmock.NewRows(columns), "d1", StageProposal, []string{"hot"}, nil))
		rows, err := repo.List(test.Context(t), Filters{Stage: test.Ptr(StageProposal), Tags: []string{"fleet", "hot"}})
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		setup.ExpectationsWereMet()
	})
}

func TestRepository_Stats(t *testing.T) {
	t.Run("Should derive conversion, average size and velocity", func(t *testing.T) {
		repo, setup := newRepository(t)
		setup.Mock.MatchExpectationsInOrder(false)
		groups := func() *pgxmock.Rows { return pgxmock.NewRows([]string{"key", "count", "value"}) }
		setup.Mock.ExpectQuery(regexp.QuoteMeta("AS total_count")).
			WillReturnRows(pgxmock.NewRows([]string{
				"total_count", "total_value", "won_count", "won_value",
				"lost_count", "lost_value", "active_count", "active_value",
			}).AddRow(int64(10), "100000.00", int64(3), "45000.00", int64(1), "5000.00", int64(6), "50000.00"))
		setup.Mock.ExpectQuery(regexp.QuoteMeta("GROUP BY stage")).
			WillReturnRows(groups().
				AddRow(StageClosedWon, int64(3), "45000.00").
				AddRow(StageProposal, int64(6), "50000.00").
				AddRow(StageClosedLost, int64(1), "5000.00"))
		setup.Mock.ExpectQuery(regexp.QuoteMeta("GROUP BY source")).
			WillReturnRows(groups().AddRow("referral", int64(10), "100000.00"))
		setup.Mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN users u ON u.id = d.owner_id GROUP BY u.name")).
			WillReturnRows(groups().AddRow("Dana Reyes", int64(7), "70000.00").AddRow("Unknown", int64(3), "30000.00"))

		stats, err := repo.Stats(test.Context(t))
		require.NoError(t, err)
		assert.Equal(t, int64(10), stats.Total.Count)
		assert.Equal(t, int64(3), stats.Won.Count)
		assert.InDelta(t, 75.0, stats.ConversionRate, 1e-9)
		assert.True(t, decimal.NewFromInt(10000).Equal(stats.AverageDealSize), stats.AverageDealSize.String())
		assert.True(t, decimal.NewFromInt(15000).Equal(stats.SalesVelocity), stats.SalesVelocity.String())
		assert.Equal(t, int64(6), stats.ByStage[StageProposal].Count)
		assert.Equal(t, int64(3), stats.ByOwner["Unknown"].Count)
		assert.Equal(t, int64(10), stats.BySource["referral"].Count)
		setup.ExpectationsWereMet()
	})

	t.Run("Should report zero ratios when nothing closed", func(t *testing.T) {
		var s Stats
		s.derive()
		assert.Zero(t, s.ConversionRate)
		assert.True(t, s.AverageDealSize.IsZero())
		assert.True(t, s.SalesVelocity.IsZero())
	})
}
