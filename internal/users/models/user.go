package models

import (
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"labtrail/internal/ownership"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
)

const minPasswordLength = 6

// User is a directory entry. PasswordHash never leaves the process.
type User struct {
	ID           domain.UserID `json:"id"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Role         domain.Role   `json:"role"`
	Phone        string        `json:"phone,omitempty"`
	Active       bool          `json:"active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Owner implements ownership.Owned: a user owns only their own entry.
func (u *User) Owner(f ownership.Field) (domain.UserID, bool) {
	if f == ownership.FieldSelf {
		return u.ID, true
	}
	return domain.UserID{}, false
}

// Identity is the caller identity a token for u carries.
func (u *User) Identity() *domain.Identity {
	return &domain.Identity{ID: u.ID, Role: u.Role}
}

// Profile is the input for creating a user.
type Profile struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	Phone     string
}

// NewUser validates p and hashes the password.
func NewUser(id domain.UserID, p Profile, now time.Time) (*User, error) {
	email, err := NormalizeEmail(p.Email)
	if err != nil {
		return nil, err
	}
	role, err := domain.ParseRole(p.Role)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "role must be one of clinician, lab, patient")
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, err
	}
	first := strings.TrimSpace(p.FirstName)
	last := strings.TrimSpace(p.LastName)
	if first == "" || last == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "first_name and last_name are required")
	}
	return &User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         role,
		Phone:        strings.TrimSpace(p.Phone),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Changes is a partial update. Nil fields are left alone.
type Changes struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
	Role      *string
	Phone     *string
	Active    *bool
}

// Apply validates c against u and mutates u only when every field is valid.
func (u *User) Apply(c Changes, now time.Time) error {
	next := *u
	if c.Email != nil {
		email, err := NormalizeEmail(*c.Email)
		if err != nil {
			return err
		}
		next.Email = email
	}
	if c.Password != nil {
		hash, err := HashPassword(*c.Password)
		if err != nil {
			return err
		}
		next.PasswordHash = hash
	}
	if c.FirstName != nil {
		if next.FirstName = strings.TrimSpace(*c.FirstName); next.FirstName == "" {
			return dErrors.New(dErrors.CodeValidation, "first_name cannot be empty")
		}
	}
	if c.LastName != nil {
		if next.LastName = strings.TrimSpace(*c.LastName); next.LastName == "" {
			return dErrors.New(dErrors.CodeValidation, "last_name cannot be empty")
		}
	}
	if c.Role != nil {
		role, err := domain.ParseRole(*c.Role)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, "role must be one of clinician, lab, patient")
		}
		next.Role = role
	}
	if c.Phone != nil {
		next.Phone = strings.TrimSpace(*c.Phone)
	}
	if c.Active != nil {
		next.Active = *c.Active
	}
	next.UpdatedAt = now
	*u = next
	return nil
}

// NormalizeEmail lowercases and validates an address.
func NormalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email is required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	return s, nil
}

func HashPassword(plain string) (string, error) {
	if len(plain) < minPasswordLength {
		return "", dErrors.New(dErrors.CodeValidation, "password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	return string(hash), nil
}

// PasswordMatches compares plain with the stored hash in constant time.
func (u *User) PasswordMatches(plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plain)) == nil
}
