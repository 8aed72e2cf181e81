package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const (
	Table           = "services"
	DefaultCategory = "General"
)

// Service is an offering in the compliance catalog.
type Service struct {
	ID                string          `db:"id"                 json:"id"`
	Name              string          `db:"name"               json:"name"`
	Description       *string         `db:"description"        json:"description,omitempty"`
	Category          string          `db:"category"           json:"category"`
	BasePrice         decimal.Decimal `db:"base_price"         json:"basePrice"`
	EstimatedDuration *string         `db:"estimated_duration" json:"estimatedDuration,omitempty"`
	Requirements      []string        `db:"requirements"       json:"requirements"`
	Deliverables      []string        `db:"deliverables"       json:"deliverables"`
	IsActive          bool            `db:"is_active"          json:"isActive"`
	CreatedAt         time.Time       `db:"created_at"         json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at"         json:"updatedAt"`
}

type Input struct {
	Name              *string          `json:"name"      validate:"omitempty,min=1,max=255"`
	Description       *string          `json:"description"`
	Category          *string          `json:"category"  validate:"omitempty,min=1,max=100"`
	BasePrice         *decimal.Decimal `json:"basePrice"`
	EstimatedDuration *string          `json:"estimatedDuration"`
	Requirements      []string         `json:"requirements"`
	Deliverables      []string         `json:"deliverables"`
	IsActive          *bool            `json:"isActive"`
}

func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "name", in.Name)
	repository.SetPresent(v, "description", in.Description)
	repository.SetPresent(v, "category", in.Category)
	repository.SetPresent(v, "base_price", in.BasePrice)
	repository.SetPresent(v, "estimated_duration", in.EstimatedDuration)
	if in.Requirements != nil {
		v["requirements"] = in.Requirements
	}
	if in.Deliverables != nil {
		v["deliverables"] = in.Deliverables
	}
	repository.SetPresent(v, "is_active", in.IsActive)
	return v
}

type Filters struct {
	Search   *string          `json:"search"   form:"search"`
	Category *string          `json:"category" form:"category"`
	IsActive *bool            `json:"isActive" form:"isActive"`
	MinPrice *decimal.Decimal `json:"minPrice" form:"minPrice"`
	MaxPrice *decimal.Decimal `json:"maxPrice" form:"maxPrice"`
}

func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Search != nil {
		out.Add(repository.ContainsAny(*f.Search, "name", "description", "category"))
	}
	if f.Category != nil {
		out.Add(repository.Equal("category", *f.Category))
	}
	if f.IsActive != nil {
		out.Add(repository.Equal("is_active", *f.IsActive))
	}
	if f.MinPrice != nil {
		out.Add(repository.AtLeast("base_price", *f.MinPrice))
	}
	if f.MaxPrice != nil {
		out.Add(repository.AtMost("base_price", *f.MaxPrice))
	}
	return out
}

// Stats prices cover active services only.
type Stats struct {
	Total        int64            `json:"total"`
	Active       int64            `json:"active"`
	AveragePrice decimal.Decimal  `json:"averagePrice"`
	TotalValue   decimal.Decimal  `json:"totalValue"`
	ByCategory   map[string]int64 `json:"byCategory"`
}
