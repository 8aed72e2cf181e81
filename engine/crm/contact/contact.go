package contact

import (
	"time"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const Table = "contacts"

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Contact is a person at a customer company.
type Contact struct {
	ID         string    `db:"id"         json:"id"`
	FirstName  string    `db:"first_name" json:"firstName"`
	LastName   string    `db:"last_name"  json:"lastName"`
	Email      *string   `db:"email"      json:"email,omitempty"`
	Phone      *string   `db:"phone"      json:"phone,omitempty"`
	Mobile     *string   `db:"mobile"     json:"mobile,omitempty"`
	Title      *string   `db:"title"      json:"title,omitempty"`
	Department *string   `db:"department" json:"department,omitempty"`
	CompanyID  *string   `db:"company_id" json:"companyId,omitempty"`
	IsPrimary  bool      `db:"is_primary" json:"isPrimary"`
	Status     string    `db:"status"     json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
	CreatedBy  *string   `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy  *string   `db:"updated_by" json:"updatedBy,omitempty"`

	CompanyName *string `db:"company_name" json:"companyName,omitempty"`
}

func (c *Contact) FullName() string {
	return c.FirstName + " " + c.LastName
}

type Input struct {
	FirstName  *string `json:"firstName"  validate:"omitempty,min=1,max=100"`
	LastName   *string `json:"lastName"   validate:"omitempty,min=1,max=100"`
	Email      *string `json:"email"      validate:"omitempty,email"`
	Phone      *string `json:"phone"      validate:"omitempty,max=50"`
	Mobile     *string `json:"mobile"     validate:"omitempty,max=50"`
	Title      *string `json:"title"      validate:"omitempty,max=100"`
	Department *string `json:"department" validate:"omitempty,max=100"`
	CompanyID  *string `json:"companyId"  validate:"omitempty,uuid"`
	IsPrimary  *bool   `json:"isPrimary"`
	Status     *string `json:"status"     validate:"omitempty,oneof=active inactive"`
	CreatedBy  *string `json:"createdBy"  validate:"omitempty,uuid"`
	UpdatedBy  *string `json:"updatedBy"  validate:"omitempty,uuid"`
}

func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "first_name", in.FirstName)
	repository.SetPresent(v, "last_name", in.LastName)
	repository.SetPresent(v, "email", in.Email)
	repository.SetPresent(v, "phone", in.Phone)
	repository.SetPresent(v, "mobile", in.Mobile)
	repository.SetPresent(v, "title", in.Title)
	repository.SetPresent(v, "department", in.Department)
	repository.SetPresent(v, "company_id", in.CompanyID)
	repository.SetPresent(v, "is_primary", in.IsPrimary)
	repository.SetPresent(v, "status", in.Status)
	repository.SetPresent(v, "created_by", in.CreatedBy)
	repository.SetPresent(v, "updated_by", in.UpdatedBy)
	return v
}

type Filters struct {
	Search     *string `json:"search"     form:"search"`
	CompanyID  *string `json:"companyId"  form:"companyId"`
	Status     *string `json:"status"     form:"status"`
	Department *string `json:"department" form:"department"`
	IsPrimary  *bool   `json:"isPrimary"  form:"isPrimary"`
}

var searchColumns = []string{"ct.first_name", "ct.last_name", "ct.email", "ct.phone", "ct.title", "c.name"}

func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Search != nil {
		out.Add(repository.ContainsAny(*f.Search, searchColumns...))
	}
	if f.CompanyID != nil {
		out.Add(repository.Equal("ct.company_id", *f.CompanyID))
	}
	if f.Status != nil {
		out.Add(repository.Equal("ct.status", *f.Status))
	}
	if f.Department != nil {
		out.Add(repository.Equal("ct.department", *f.Department))
	}
	if f.IsPrimary != nil {
		out.Add(repository.Equal("ct.is_primary", *f.IsPrimary))
	}
	return out
}

type Stats struct {
	Total        int64            `json:"total"`
	Primary      int64            `json:"primary"`
	ByCompany    map[string]int64 `json:"byCompany"`
	ByStatus     map[string]int64 `json:"byStatus"`
	ByDepartment map[string]int64 `json:"byDepartment"`
}
