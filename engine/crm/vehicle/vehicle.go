package vehicle

import (
	"time"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const Table = "vehicles"

const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusMaintenance = "maintenance"
)

type Vehicle struct {
	ID              string    `db:"id"                json:"id"`
	CompanyID       *string   `db:"company_id"        json:"companyId,omitempty"`
	Make            *string   `db:"make"              json:"make,omitempty"`
	Model           *string   `db:"model"             json:"model,omitempty"`
	Year            *int      `db:"year"              json:"year,omitempty"`
	VIN             *string   `db:"vin"               json:"vin,omitempty"`
	LicensePlate    *string   `db:"license_plate"     json:"licensePlate,omitempty"`
	VehicleType     *string   `db:"vehicle_type"      json:"vehicleType,omitempty"`
	FuelType        *string   `db:"fuel_type"         json:"fuelType,omitempty"`
	HasHazmat       bool      `db:"has_hazmat"        json:"hasHazmat"`
	CurrentDriverID *string   `db:"current_driver_id" json:"currentDriverId,omitempty"`
	Status          string    `db:"status"            json:"status"`
	CreatedAt       time.Time `db:"created_at"        json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at"        json:"updatedAt"`
	CreatedBy       *string   `db:"created_by"        json:"createdBy,omitempty"`
	UpdatedBy       *string   `db:"updated_by"        json:"updatedBy,omitempty"`

	CompanyName *string `db:"company_name" json:"companyName,omitempty"`
	DriverName  *string `db:"driver_name"  json:"driverName,omitempty"`
}

type Input struct {
	CompanyID    *string `json:"companyId"    validate:"omitempty,uuid"`
	Make         *string `json:"make"`
	Model        *string `json:"model"`
	Year         *int    `json:"year"         validate:"omitempty,min=1900,max=2100"`
	VIN          *string `json:"vin"          validate:"omitempty,len=17,alphanum"`
	LicensePlate *string `json:"licensePlate" validate:"omitempty,max=20"`
	VehicleType  *string `json:"vehicleType"`
	FuelType     *string `json:"fuelType"`
	HasHazmat    *bool   `json:"hasHazmat"`
	Status       *string `json:"status"       validate:"omitempty,oneof=active inactive maintenance"`
	CreatedBy    *string `json:"createdBy"    validate:"omitempty,uuid"`
	UpdatedBy    *string `json:"updatedBy"    validate:"omitempty,uuid"`
}

func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "company_id", in.CompanyID)
	repository.SetPresent(v, "make", in.Make)
	repository.SetPresent(v, "model", in.Model)
	repository.SetPresent(v, "year", in.Year)
	repository.SetPresent(v, "vin", in.VIN)
	repository.SetPresent(v, "license_plate", in.LicensePlate)
	repository.SetPresent(v, "vehicle_type", in.VehicleType)
	repository.SetPresent(v, "fuel_type", in.FuelType)
	repository.SetPresent(v, "has_hazmat", in.HasHazmat)
	repository.SetPresent(v, "status", in.Status)
	repository.SetPresent(v, "created_by", in.CreatedBy)
	repository.SetPresent(v, "updated_by", in.UpdatedBy)
	return v
}

type Filters struct {
	Search      *string `json:"search"      form:"search"`
	CompanyID   *string `json:"companyId"   form:"companyId"`
	VehicleType *string `json:"vehicleType" form:"vehicleType"`
	Status      *string `json:"status"      form:"status"`
	HasHazmat   *bool   `json:"hasHazmat"   form:"hasHazmat"`
}

var searchColumns = []string{"v.make", "v.model", "v.vin", "v.license_plate", "c.name"}

func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Search != nil {
		out.Add(repository.ContainsAny(*f.Search, searchColumns...))
	}
	if f.CompanyID != nil {
		out.Add(repository.Equal("v.company_id", *f.CompanyID))
	}
	if f.VehicleType != nil {
		out.Add(repository.Equal("v.vehicle_type", *f.VehicleType))
	}
	if f.Status != nil {
		out.Add(repository.Equal("v.status", *f.Status))
	}
	if f.HasHazmat != nil {
		out.Add(repository.Equal("v.has_hazmat", *f.HasHazmat))
	}
	return out
}

type Stats struct {
	Total     int64            `json:"total"`
	Active    int64            `json:"active"`
	Hazmat    int64            `json:"hazmat"`
	ByType    map[string]int64 `json:"byType"`
	ByStatus  map[string]int64 `json:"byStatus"`
	ByCompany map[string]int64 `json:"byCompany"`
}
