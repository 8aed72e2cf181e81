package company

import (
	"time"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const Table = "companies"

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusProspect = "prospect"
	StatusCustomer = "customer"
)

// hasUSDOT is true for companies carrying a non-empty USDOT number.
const hasUSDOT = "usdot_number IS NOT NULL AND usdot_number <> ''"

type Company struct {
	ID          string    `db:"id"           json:"id"`
	Name        string    `db:"name"         json:"name"`
	Email       *string   `db:"email"        json:"email,omitempty"`
	Phone       *string   `db:"phone"        json:"phone,omitempty"`
	Address     *string   `db:"address"      json:"address,omitempty"`
	City        *string   `db:"city"         json:"city,omitempty"`
	State       *string   `db:"state"        json:"state,omitempty"`
	ZipCode     *string   `db:"zip_code"     json:"zipCode,omitempty"`
	Country     *string   `db:"country"      json:"country,omitempty"`
	Website     *string   `db:"website"      json:"website,omitempty"`
	Industry    *string   `db:"industry"     json:"industry,omitempty"`
	Size        *string   `db:"size"         json:"size,omitempty"`
	Status      string    `db:"status"       json:"status"`
	USDOTNumber *string   `db:"usdot_number" json:"usdotNumber,omitempty"`
	MCNumber    *string   `db:"mc_number"    json:"mcNumber,omitempty"`
	CreatedAt   time.Time `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updatedAt"`
	CreatedBy   *string   `db:"created_by"   json:"createdBy,omitempty"`
	UpdatedBy   *string   `db:"updated_by"   json:"updatedBy,omitempty"`
}

// Input carries the fields of a create or update. Nil fields are not written.
type Input struct {
	Name        *string `json:"name"        validate:"omitempty,min=1,max=255"`
	Email       *string `json:"email"       validate:"omitempty,email"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	ZipCode     *string `json:"zipCode"`
	Country     *string `json:"country"`
	Website     *string `json:"website"`
	Industry    *string `json:"industry"`
	Size        *string `json:"size"        validate:"omitempty,oneof=small medium large enterprise"`
	Status      *string `json:"status"      validate:"omitempty,oneof=active inactive prospect customer"`
	USDOTNumber *string `json:"usdotNumber"`
	MCNumber    *string `json:"mcNumber"`
	CreatedBy   *string `json:"createdBy"   validate:"omitempty,uuid"`
	UpdatedBy   *string `json:"updatedBy"   validate:"omitempty,uuid"`
}

// Values maps the set fields to their columns.
func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "name", in.Name)
	repository.SetPresent(v, "email", in.Email)
	repository.SetPresent(v, "phone", in.Phone)
	repository.SetPresent(v, "address", in.Address)
	repository.SetPresent(v, "city", in.City)
	repository.SetPresent(v, "state", in.State)
	repository.SetPresent(v, "zip_code", in.ZipCode)
	repository.SetPresent(v, "country", in.Country)
	repository.SetPresent(v, "website", in.Website)
	repository.SetPresent(v, "industry", in.Industry)
	repository.SetPresent(v, "size", in.Size)
	repository.SetPresent(v, "status", in.Status)
	repository.SetPresent(v, "usdot_number", in.USDOTNumber)
	repository.SetPresent(v, "mc_number", in.MCNumber)
	repository.SetPresent(v, "created_by", in.CreatedBy)
	repository.SetPresent(v, "updated_by", in.UpdatedBy)
	return v
}

type Filters struct {
	Status        *string    `json:"status"        form:"status"`
	Industry      *string    `json:"industry"      form:"industry"`
	Size          *string    `json:"size"          form:"size"`
	State         *string    `json:"state"         form:"state"`
	HasUSDOT      *bool      `json:"hasUsdot"      form:"hasUsdot"`
	CreatedAfter  *time.Time `json:"createdAfter"  form:"createdAfter"`
	CreatedBefore *time.Time `json:"createdBefore" form:"createdBefore"`
}

// Filter returns one predicate per set field, in field order.
func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Status != nil {
		out.Add(repository.Equal("status", *f.Status))
	}
	if f.Industry != nil {
		out.Add(repository.Equal("industry", *f.Industry))
	}
	if f.Size != nil {
		out.Add(repository.Equal("size", *f.Size))
	}
	if f.State != nil {
		out.Add(repository.Equal("state", *f.State))
	}
	if f.HasUSDOT != nil {
		out.Add(repository.Is(hasUSDOT, *f.HasUSDOT))
	}
	if f.CreatedAfter != nil {
		out.Add(repository.AtLeast("created_at", *f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		out.Add(repository.AtMost("created_at", *f.CreatedBefore))
	}
	return out
}

type Stats struct {
	Total      int64            `json:"total"`
	Active     int64            `json:"active"`
	Prospects  int64            `json:"prospects"`
	Customers  int64            `json:"customers"`
	WithUSDOT  int64            `json:"withUsdot"`
	ByIndustry map[string]int64 `json:"byIndustry"`
	ByState    map[string]int64 `json:"byState"`
	ByStatus   map[string]int64 `json:"byStatus"`
}
