package models

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleCustomer Role = "Customer"
	RoleAdmin    Role = "Admin"
)

// ParseRole is case-insensitive
func ParseRole(raw string) (Role, error) {
	switch {
	case strings.EqualFold(raw, string(RoleCustomer)):
		return RoleCustomer, nil
	case strings.EqualFold(raw, string(RoleAdmin)):
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// User is an account. RefreshTokenHash and RefreshTokenExpiresAt are either both set or both nil.
type User struct {
	ID                     int64      `db:"id" json:"id"`
	Username               string     `db:"username" json:"username"`
	Email                  string     `db:"email" json:"email"`
	PasswordHash           string     `db:"password_hash" json:"-"`
	Role                   Role       `db:"role" json:"role"`
	FirstName              string     `db:"first_name" json:"first_name"`
	LastName               string     `db:"last_name" json:"last_name"`
	Address                string     `db:"address" json:"address"`
	City                   string     `db:"city" json:"city"`
	Country                string     `db:"country" json:"country"`
	ZipCode                string     `db:"zip_code" json:"zip_code"`
	Phone                  string     `db:"phone" json:"phone"`
	IsDeleted              bool       `db:"is_deleted" json:"-"`
	EmailConfirmed         bool       `db:"email_confirmed" json:"email_confirmed"`
	EmailConfirmationToken *string    `db:"email_confirmation_token" json:"-"`
	RefreshTokenHash       *string    `db:"refresh_token_hash" json:"-"`
	RefreshTokenExpiresAt  *time.Time `db:"refresh_token_expires_at" json:"-"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
