package user

import (
	"time"

	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

const Table = "users"

const (
	RoleAdmin             = "admin"
	RoleManager           = "manager"
	RoleUser              = "user"
	RoleComplianceOfficer = "compliance_officer"
	RoleSalesRep          = "sales_rep"
)

const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

const (
	// MaxLoginAttempts failed logins lock the account for LockoutMinutes.
	MaxLoginAttempts = 5
	LockoutMinutes   = 30
	// RecentLoginDays bounds the RecentLogins stat.
	RecentLoginDays = 7
)

// User is an account row. Secrets never leave the process as JSON.
type User struct {
	ID                     string     `db:"id"                       json:"id"`
	Name                   string     `db:"name"                     json:"name"`
	Email                  string     `db:"email"                    json:"email"`
	PasswordHash           string     `db:"password_hash"            json:"-"`
	Role                   string     `db:"role"                     json:"role"`
	Department             *string    `db:"department"               json:"department,omitempty"`
	Status                 string     `db:"status"                   json:"status"`
	TwoFactorEnabled       bool       `db:"two_factor_enabled"       json:"twoFactorEnabled"`
	TwoFactorSecret        *string    `db:"two_factor_secret"        json:"-"`
	LastLogin              *time.Time `db:"last_login"               json:"lastLogin,omitempty"`
	LoginAttempts          int        `db:"login_attempts"           json:"loginAttempts"`
	LockedUntil            *time.Time `db:"locked_until"             json:"lockedUntil,omitempty"`
	PasswordResetToken     *string    `db:"password_reset_token"     json:"-"`
	PasswordResetExpires   *time.Time `db:"password_reset_expires"   json:"-"`
	EmailVerified          bool       `db:"email_verified"           json:"emailVerified"`
	EmailVerificationToken *string    `db:"email_verification_token" json:"-"`
	CreatedAt              time.Time  `db:"created_at"               json:"createdAt"`
	UpdatedAt              time.Time  `db:"updated_at"               json:"updatedAt"`
	CreatedBy              *string    `db:"created_by"               json:"createdBy,omitempty"`
	UpdatedBy              *string    `db:"updated_by"               json:"updatedBy,omitempty"`
}

// IsLocked reports whether the lockout window is still open at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

type Input struct {
	Name                   *string `json:"name"         validate:"omitempty,min=1,max=255"`
	Email                  *string `json:"email"        validate:"omitempty,email"`
	PasswordHash           *string `json:"passwordHash" validate:"omitempty,min=1"`
	Role                   *string `json:"role"         validate:"omitempty,oneof=admin manager user compliance_officer sales_rep"`
	Department             *string `json:"department"`
	Status                 *string `json:"status"       validate:"omitempty,oneof=active inactive suspended"`
	TwoFactorEnabled       *bool   `json:"twoFactorEnabled"`
	EmailVerified          *bool   `json:"emailVerified"`
	EmailVerificationToken *string `json:"emailVerificationToken"`
	CreatedBy              *string `json:"createdBy"    validate:"omitempty,uuid"`
	UpdatedBy              *string `json:"updatedBy"    validate:"omitempty,uuid"`
}

func (in Input) Values() repository.Values {
	v := repository.Values{}
	repository.SetPresent(v, "name", in.Name)
	repository.SetPresent(v, "email", in.Email)
	repository.SetPresent(v, "password_hash", in.PasswordHash)
	repository.SetPresent(v, "role", in.Role)
	repository.SetPresent(v, "department", in.Department)
	repository.SetPresent(v, "status", in.Status)
	repository.SetPresent(v, "two_factor_enabled", in.TwoFactorEnabled)
	repository.SetPresent(v, "email_verified", in.EmailVerified)
	repository.SetPresent(v, "email_verification_token", in.EmailVerificationToken)
	repository.SetPresent(v, "created_by", in.CreatedBy)
	repository.SetPresent(v, "updated_by", in.UpdatedBy)
	return v
}

type Filters struct {
	Role             *string    `json:"role"             form:"role"`
	Department       *string    `json:"department"       form:"department"`
	Status           *string    `json:"status"           form:"status"`
	EmailVerified    *bool      `json:"emailVerified"    form:"emailVerified"`
	TwoFactorEnabled *bool      `json:"twoFactorEnabled" form:"twoFactorEnabled"`
	CreatedAfter     *time.Time `json:"createdAfter"     form:"createdAfter"`
	CreatedBefore    *time.Time `json:"createdBefore"    form:"createdBefore"`
}

func (f Filters) Filter() *repository.Filter {
	out := &repository.Filter{}
	if f.Role != nil {
		out.Add(repository.Equal("role", *f.Role))
	}
	if f.Department != nil {
		out.Add(repository.Equal("department", *f.Department))
	}
	if f.Status != nil {
		out.Add(repository.Equal("status", *f.Status))
	}
	if f.EmailVerified != nil {
		out.Add(repository.Equal("email_verified", *f.EmailVerified))
	}
	if f.TwoFactorEnabled != nil {
		out.Add(repository.Equal("two_factor_enabled", *f.TwoFactorEnabled))
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
	Total        int64            `json:"total"`
	Active       int64            `json:"active"`
	Verified     int64            `json:"verified"`
	TwoFactor    int64            `json:"twoFactor"`
	RecentLogins int64            `json:"recentLogins"`
	ByRole       map[string]int64 `json:"byRole"`
	ByDepartment map[string]int64 `json:"byDepartment"`
	ByStatus     map[string]int64 `json:"byStatus"`
}
