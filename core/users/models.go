package users

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role gates access to admin-only routes.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrExists   = errors.New("profile already exists")
)

// ParseRole normalizes r; an empty role is a plain user.
func ParseRole(r string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(r))) {
	case "", RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", r)
	}
}

// Profile is the application-side record for an authenticated user.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate is a partial update; nil fields are left unchanged.
type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Role      *Role   `json:"role,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.Name == nil && u.AvatarURL == nil && u.Role == nil
}

func (u ProfileUpdate) apply(p *Profile) error {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	if u.Role != nil {
		role, err := ParseRole(string(*u.Role))
		if err != nil {
			return err
		}
		p.Role = role
	}
	return nil
}

func prepareCreate(p *Profile, now time.Time) error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return errors.New("profile id required")
	}
	role, err := ParseRole(string(p.Role))
	if err != nil {
		return err
	}
	p.Role = role
	p.Email = strings.TrimSpace(p.Email)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return nil
}
