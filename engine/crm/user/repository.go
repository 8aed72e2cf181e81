package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/rapidcrm/crmstore/engine/core"
	"github.com/rapidcrm/crmstore/engine/infra/executor"
	"github.com/rapidcrm/crmstore/engine/infra/repository"
)

type Repository struct {
	*repository.Repository[User]
}

func NewRepository(exec *executor.Executor, connectionID string) (*Repository, error) {
	base, err := repository.New[User](exec, connectionID, Table)
	if err != nil {
		return nil, err
	}
	return &Repository{Repository: base}, nil
}

func (r *Repository) CreateUser(ctx context.Context, in Input) (*User, error) {
	switch {
	case in.Name == nil:
		return nil, core.NewInvalidInput("name", "is required")
	case in.Email == nil:
		return nil, core.NewInvalidInput("email", "is required")
	case in.PasswordHash == nil:
		return nil, core.NewInvalidInput("passwordHash", "is required")
	}
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Create(ctx, in.Values())
}

func (r *Repository) UpdateUser(ctx context.Context, id string, in Input) (*User, error) {
	if err := repository.Validate(in); err != nil {
		return nil, err
	}
	return r.Update(ctx, id, in.Values())
}

func (r *Repository) List(ctx context.Context, f Filters) ([]User, error) {
	return r.Query(ctx, f.Filter().Apply(r.Select()).OrderBy("name ASC"))
}

func (r *Repository) Paginate(ctx context.Context, req repository.PageRequest, f Filters) (*repository.Page[User], error) {
	return r.Repository.Paginate(ctx, req, f.Filter().Predicates()...)
}

// FindByEmail matches case insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.Get(ctx, r.Select().Where(squirrel.Expr("LOWER(email) = ?", strings.ToLower(email))))
}

// RecordLogin stamps a successful login and clears any lockout.
func (r *Repository) RecordLogin(ctx context.Context, id string) (*User, error) {
	return r.Update(ctx, id, repository.Values{
		"last_login":     squirrel.Expr("NOW()"),
		"login_attempts": 0,
		"locked_until":   nil,
	})
}

// IncrementLoginAttempts counts a failed login. Reaching MaxLoginAttempts
// locks the account for LockoutMinutes.
func (r *Repository) IncrementLoginAttempts(ctx context.Context, id string) (*User, error) {
	return r.Update(ctx, id, repository.Values{
		"login_attempts": squirrel.Expr("login_attempts + 1"),
		"locked_until": squirrel.Expr(
			"CASE WHEN login_attempts + 1 >= ? THEN NOW() + make_interval(mins => ?) ELSE locked_until END",
			MaxLoginAttempts, LockoutMinutes,
		),
	})
}

func (r *Repository) Lock(ctx context.Context, id string, until time.Time) (*User, error) {
	return r.Update(ctx, id, repository.Values{"locked_until": until})
}

func (r *Repository) Unlock(ctx context.Context, id string) (*User, error) {
	return r.Update(ctx, id, repository.Values{"locked_until": nil, "login_attempts": 0})
}

// IsLocked reports whether the account is inside its lockout window.
func (r *Repository) IsLocked(ctx context.Context, id string) (bool, error) {
	u, err := r.MustGet(ctx, r.Select().Where(squirrel.Eq{"id": id}), id)
	if err != nil {
		return false, err
	}
	return u.IsLocked(time.Now()), nil
}

func (r *Repository) VerifyEmail(ctx context.Context, id string) (*User, error) {
	return r.Update(ctx, id, repository.Values{"email_verified": true, "email_verification_token": nil})
}

func (r *Repository) EnableTwoFactor(ctx context.Context, id, secret string) (*User, error) {
	if secret == "" {
		return nil, core.NewInvalidInput("secret", "is required")
	}
	return r.Update(ctx, id, repository.Values{"two_factor_enabled": true, "two_factor_secret": secret})
}

func (r *Repository) DisableTwoFactor(ctx context.Context, id string) (*User, error) {
	return r.Update(ctx, id, repository.Values{"two_factor_enabled": false, "two_factor_secret": nil})
}

func (r *Repository) UpdateStatus(ctx context.Context, id, status string) (*User, error) {
	return r.UpdateUser(ctx, id, Input{Status: &status})
}

// UpdatePasswordHash replaces the hash and invalidates any reset token.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id, hash string) (*User, error) {
	return r.Update(ctx, id, repository.Values{
		"password_hash":          hash,
		"password_reset_token":   nil,
		"password_reset_expires": nil,
	})
}

func (r *Repository) SetPasswordResetToken(ctx context.Context, id, token string, expires time.Time) (*User, error) {
	return r.Update(ctx, id, repository.Values{"password_reset_token": token, "password_reset_expires": expires})
}

var recentLogin = squirrel.Expr(fmt.Sprintf("last_login >= NOW() - INTERVAL '%d days'", RecentLoginDays))

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	g, gc := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Total, err = r.Count(gc)
		return err
	})
	g.Go(func() (err error) {
		s.ByStatus, err = r.CountBy(gc, "status")
		return err
	})
	g.Go(func() (err error) {
		s.Verified, err = r.CountWhere(gc, squirrel.Eq{"email_verified": true})
		return err
	})
	g.Go(func() (err error) {
		s.TwoFactor, err = r.CountWhere(gc, squirrel.Eq{"two_factor_enabled": true})
		return err
	})
	g.Go(func() (err error) {
		s.RecentLogins, err = r.CountWhere(gc, recentLogin)
		return err
	})
	g.Go(func() (err error) {
		s.ByRole, err = r.CountBy(gc, "role")
		return err
	})
	g.Go(func() (err error) {
		s.ByDepartment, err = r.CountBy(gc, "department")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	s.Active = s.ByStatus[StatusActive]
	return &s, nil
}
