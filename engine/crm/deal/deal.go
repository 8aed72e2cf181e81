package deal

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const Table = "deals"

const (
	StageProspect      = "prospect"
	StageQualification = "qualification"
	StageProposal      = "proposal"
	StageNegotiation   = "negotiation"
	StageClosedWon     = "closed_won"
	StageClosedLost    = "closed_lost"
)

const (
	StatusActive    = "active"
	StatusOnHold    = "on_hold"
	StatusCancelled = "cancelled"
)

// IsClosed reports whether stage ends the deal.
func IsClosed(stage string) bool {
	return stage == StageClosedWon || stage == StageClosedLost
}

type Deal struct {
	ID                string          `db:"id"                  json:"id"`
	Title             string          `db:"title"               json:"title"`
	Description       *string         `db:"description"         json:"description,omitempty"`
	Value             decimal.Decimal `db:"value"               json:"value"`
	Currency          string          `db:"currency"            json:"currency"`
	Stage             string          `db:"stage"               json:"stage"`
	Probability       int             `db:"probability"         json:"probability"`
	ExpectedCloseDate *time.Time      `db:"expected_close_date" json:"expectedCloseDate,omitempty"`
	ActualCloseDate   *time.Time      `db:"actual_close_date"   json:"actualCloseDate,omitempty"`
	CompanyID         *string         `db:"company_id"          json:"companyId,omitempty"`
	ContactID         *string         `db:"contact_id"          json:"contactId,omitempty"`
	OwnerID           *string         `db:"owner_id"            json:"ownerId,omitempty"`
	Source            *string         `db:"source"              json:"source,omitempty"`
	Priority          string          `db:"priority"            json:"priority"`
	Status            string          `db:"status"              json:"status"`
	Tags              []string        `db:"tags"                json:"tags"`
	CustomFields      map[string]any  `db:"custom_fields"       json:"customFields"`
	CreatedAt         time.Time       `db:"created_at"          json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at"          json:"updatedAt"`
	CreatedBy         *string         `db:"created_by"          json:"createdBy,omitempty"`
	UpdatedBy         *string         `db:"updated_by"          json:"updatedBy,omitempty"`
}

// HasTag reports whether the deal carries tag.
func (d *Deal) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// Input carries the fields of a create or update. Nil fields, including a
// nil Tags slice or CustomFields map, are not written.
type Input struct {
	Title             *string          `json:"title"             validate:"omitempty,min=1,max=255"`
	Description       *string          `json:"description"`
	Value             *decimal.Decimal `json:"value"`
	Currency          *string          `json:"currency"          validate:"omitempty,len=3"`
	Stage             *string          `json:"stage"             validate:"omitempty,oneof=prospect qualification proposal negotiation closed_won closed_lost"`
	Probability       *int             `json:"probability"       validate:"omitempty,min=0,max=100"`
	ExpectedCloseDate *time.Time       `json:"expectedCloseDate"`
	ActualCloseDate   *time.Time       `json:"actualCloseDate"`
	CompanyID         *string          `json:"companyId"         validate:"omitempty,uuid"`
	ContactID         *string          `json:"contactId"         validate:"omitempty,uuid"`
	OwnerID           *string          `json:"ownerId"           validate:"omitempty,uuid"`
	Source            *string          `json:"source"`
	Priority          *string          `json:"priority"          validate:"omitempty,oneof=low medium high urgent"`
	Status            *string          `json:"status"            validate:"omitempty,oneof=active on_hold cancelled"`
	Tags              []string         `json:"tags"`
	CustomFields      map[string]any   `json:"customFields"`
	CreatedBy         *string          `json:"createdBy"         validate:"omitempty,uuid"`
	UpdatedBy         *string          `json:"updatedBy"         validate:"omitempty,uuid"`
}

func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "title", in.Title)
	repository.SetPresent(v, "description", in.Description)
	repository.SetPresent(v, "value", in.Value)
	repository.SetPresent(v, "currency", in.Currency)
	repository.SetPresent(v, "stage", in.Stage)
	repository.SetPresent(v, "probability", in.Probability)
	repository.SetPresent(v, "expected_close_date", in.ExpectedCloseDate)
	repository.SetPresent(v, "actual_close_date", in.ActualCloseDate)
	repository.SetPresent(v, "company_id", in.CompanyID)
	repository.SetPresent(v, "contact_id", in.ContactID)
	repository.SetPresent(v, "owner_id", in.OwnerID)
	repository.SetPresent(v, "source", in.Source)
	repository.SetPresent(v, "priority", in.Priority)
	repository.SetPresent(v, "status", in.Status)
	if in.Tags != nil {
		v["tags"] = in.Tags
	}
	if in.CustomFields != nil {
		v["custom_fields"] = in.CustomFields
	}
	repository.SetPresent(v, "created_by", in.CreatedBy)
	repository.SetPresent(v, "updated_by", in.UpdatedBy)
	return v
}

type Filters struct {
	Stage               *string          `json:"stage"               form:"stage"`
	OwnerID             *string          `json:"ownerId"             form:"ownerId"`
	CompanyID           *string          `json:"companyId"           form:"companyId"`
	Status              *string          `json:"status"              form:"status"`
	Priority            *string          `json:"priority"            form:"priority"`
	Source              *string          `json:"source"              form:"source"`
	MinValue            *decimal.Decimal `json:"minValue"            form:"minValue"`
	MaxValue            *decimal.Decimal `json:"maxValue"            form:"maxValue"`
	ExpectedCloseAfter  *time.Time       `json:"expectedCloseAfter"  form:"expectedCloseAfter"`
	ExpectedCloseBefore *time.Time       `json:"expectedCloseBefore" form:"expectedCloseBefore"`
	// Tags matches deals carrying at least one of the listed tags.
	Tags []string `json:"tags" form:"tags"`
}

func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Stage != nil {
		out.Add(repository.Equal("stage", *f.Stage))
	}
	if f.OwnerID != nil {
		out.Add(repository.Equal("owner_id", *f.OwnerID))
	}
	if f.CompanyID != nil {
		out.Add(repository.Equal("company_id", *f.CompanyID))
	}
	if f.Status != nil {
		out.Add(repository.Equal("status", *f.Status))
	}
	if f.Priority != nil {
		out.Add(repository.Equal("priority", *f.Priority))
	}
	if f.Source != nil {
		out.Add(repository.Equal("source", *f.Source))
	}
	if f.MinValue != nil {
		out.Add(repository.AtLeast("value", *f.MinValue))
	}
	if f.MaxValue != nil {
		out.Add(repository.AtMost("value", *f.MaxValue))
	}
	if f.ExpectedCloseAfter != nil {
		out.Add(repository.AtLeast("expected_close_date", *f.ExpectedCloseAfter))
	}
	if f.ExpectedCloseBefore != nil {
		out.Add(repository.AtMost("expected_close_date", *f.ExpectedCloseBefore))
	}
	if len(f.Tags) > 0 {
		out.Add(repository.Overlaps("tags", f.Tags))
	}
	return out
}

// Bucket is a deal count with the summed value of those deals.
type Bucket struct {
	Count int64           `db:"count" json:"count"`
	Value decimal.Decimal `db:"value" json:"value"`
}

type Stats struct {
	Total    Bucket            `json:"total"`
	Won      Bucket            `json:"won"`
	Lost     Bucket            `json:"lost"`
	Active   Bucket            `json:"active"`
	ByStage  map[string]Bucket `json:"byStage"`
	ByOwner  map[string]Bucket `json:"byOwner"`
	BySource map[string]Bucket `json:"bySource"`
	// ConversionRate is won / (won + lost) as a percentage.
	ConversionRate  float64         `json:"conversionRate"`
	AverageDealSize decimal.Decimal `json:"averageDealSize"`
	// SalesVelocity is the mean value of a won deal.
	SalesVelocity decimal.Decimal `json:"salesVelocity"`
}

func (s *Stats) derive() {
	closed := s.Won.Count + s.Lost.Count
	if closed > 0 {
		s.ConversionRate = float64(s.Won.Count) / float64(closed) * 100
	}
	s.AverageDealSize = mean(s.Total)
	s.SalesVelocity = mean(s.Won)
}

func mean(b Bucket) decimal.Decimal {
	if b.Count == 0 {
		return decimal.Zero
	}
	return b.Value.Div(decimal.NewFromInt(b.Count))
}
