package driver

import (
	"time"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const Table = "drivers"

const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Conditions evaluated against the drivers row aliased as d.
const (
	validLicense = "COALESCE(d.license_expiry > CURRENT_DATE, FALSE)"
	validMedical = "COALESCE(d.medical_certificate_expiry > CURRENT_DATE, FALSE)"
	hazmat       = "COALESCE(d.endorsements LIKE '%H%', FALSE)"
)

// Driver is a drivers row plus the fields detail reads join in: the
// company name, the vehicle currently assigned, and document validity.
type Driver struct {
	ID                       string     `db:"id"                         json:"id"`
	CompanyID                *string    `db:"company_id"                 json:"companyId,omitempty"`
	FirstName                string     `db:"first_name"                 json:"firstName"`
	LastName                 string     `db:"last_name"                  json:"lastName"`
	Email                    *string    `db:"email"                      json:"email,omitempty"`
	Phone                    *string    `db:"phone"                      json:"phone,omitempty"`
	LicenseNumber            *string    `db:"license_number"             json:"licenseNumber,omitempty"`
	LicenseState             *string    `db:"license_state"              json:"licenseState,omitempty"`
	LicenseExpiry            *time.Time `db:"license_expiry"             json:"licenseExpiry,omitempty"`
	CDLClass                 *string    `db:"cdl_class"                  json:"cdlClass,omitempty"`
	Endorsements             *string    `db:"endorsements"               json:"endorsements,omitempty"`
	MedicalCertificateExpiry *time.Time `db:"medical_certificate_expiry" json:"medicalCertificateExpiry,omitempty"`
	HireDate                 *time.Time `db:"hire_date"                  json:"hireDate,omitempty"`
	Status                   string     `db:"status"                     json:"employmentStatus"`
	CreatedAt                time.Time  `db:"created_at"                 json:"createdAt"`
	UpdatedAt                time.Time  `db:"updated_at"                 json:"updatedAt"`
	CreatedBy                *string    `db:"created_by"                 json:"createdBy,omitempty"`
	UpdatedBy                *string    `db:"updated_by"                 json:"updatedBy,omitempty"`

	CompanyName         *string `db:"company_name"          json:"companyName,omitempty"`
	CurrentVehicleID    *string `db:"current_vehicle_id"    json:"currentVehicleId,omitempty"`
	CurrentVehiclePlate *string `db:"current_vehicle_plate" json:"currentVehiclePlate,omitempty"`
	HasValidLicense     bool    `db:"has_valid_license"     json:"hasValidLicense"`
	HasValidMedical     bool    `db:"has_valid_medical"     json:"hasValidMedical"`
	HasHazmat           bool    `db:"has_hazmat"            json:"hasHazmat"`
}

func (d *Driver) FullName() string {
	return d.FirstName + " " + d.LastName
}

type Input struct {
	CompanyID                *string    `json:"companyId"        validate:"omitempty,uuid"`
	FirstName                *string    `json:"firstName"        validate:"omitempty,min=1,max=100"`
	LastName                 *string    `json:"lastName"         validate:"omitempty,min=1,max=100"`
	Email                    *string    `json:"email"            validate:"omitempty,email"`
	Phone                    *string    `json:"phone"`
	LicenseNumber            *string    `json:"licenseNumber"`
	LicenseState             *string    `json:"licenseState"     validate:"omitempty,len=2"`
	LicenseExpiry            *time.Time `json:"licenseExpiry"`
	CDLClass                 *string    `json:"cdlClass"         validate:"omitempty,oneof=A B C"`
	Endorsements             *string    `json:"endorsements"`
	MedicalCertificateExpiry *time.Time `json:"medicalCertificateExpiry"`
	HireDate                 *time.Time `json:"hireDate"`
	Status                   *string    `json:"employmentStatus" validate:"omitempty,oneof=active inactive suspended"`
	CreatedBy                *string    `json:"createdBy"        validate:"omitempty,uuid"`
	UpdatedBy                *string    `json:"updatedBy"        validate:"omitempty,uuid"`
}

func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "company_id", in.CompanyID)
	repository.SetPresent(v, "first_name", in.FirstName)
	repository.SetPresent(v, "last_name", in.LastName)
	repository.SetPresent(v, "email", in.Email)
	repository.SetPresent(v, "phone", in.Phone)
	repository.SetPresent(v, "license_number", in.LicenseNumber)
	repository.SetPresent(v, "license_state", in.LicenseState)
	repository.SetPresent(v, "license_expiry", in.LicenseExpiry)
	repository.SetPresent(v, "cdl_class", in.CDLClass)
	repository.SetPresent(v, "endorsements", in.Endorsements)
	repository.SetPresent(v, "medical_certificate_expiry", in.MedicalCertificateExpiry)
	repository.SetPresent(v, "hire_date", in.HireDate)
	repository.SetPresent(v, "status", in.Status)
	repository.SetPresent(v, "created_by", in.CreatedBy)
	repository.SetPresent(v, "updated_by", in.UpdatedBy)
	return v
}

// Filters narrow detail reads. Search matches names, license number,
// contact details and the company name.
type Filters struct {
	Search           *string `json:"search"           form:"search"`
	CompanyID        *string `json:"companyId"        form:"companyId"`
	EmploymentStatus *string `json:"employmentStatus" form:"employmentStatus"`
	HasValidLicense  *bool   `json:"hasValidLicense"  form:"hasValidLicense"`
	HasValidMedical  *bool   `json:"hasValidMedical"  form:"hasValidMedical"`
}

var searchColumns = []string{"d.first_name", "d.last_name", "d.license_number", "d.email", "d.phone", "c.name"}

func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Search != nil {
		out.Add(repository.ContainsAny(*f.Search, searchColumns...))
	}
	if f.CompanyID != nil {
		out.Add(repository.Equal("d.company_id", *f.CompanyID))
	}
	if f.EmploymentStatus != nil {
		out.Add(repository.Equal("d.status", *f.EmploymentStatus))
	}
	if f.HasValidLicense != nil {
		out.Add(repository.Is(validLicense, *f.HasValidLicense))
	}
	if f.HasValidMedical != nil {
		out.Add(repository.Is(validMedical, *f.HasValidMedical))
	}
	return out
}

type Stats struct {
	Total            int64            `json:"total"`
	Active           int64            `json:"active"`
	WithValidLicense int64            `json:"withValidLicense"`
	WithValidMedical int64            `json:"withValidMedical"`
	WithHazmat       int64            `json:"withHazmat"`
	ByStatus         map[string]int64 `json:"byStatus"`
	ByCompany        map[string]int64 `json:"byCompany"`
}
