package models

import "time"

// AuthProvider records how an account was created.
type AuthProvider string

const (
	AuthProviderEmail  AuthProvider = "email"
	AuthProviderGoogle AuthProvider = "google"
)

// User represents an account on the recap platform as reported by the backend.
type User struct {
	ID               string       `json:"id" yaml:"id"`
	Email            string       `json:"email" yaml:"email"`
	Name             string       `json:"name" yaml:"name"`
	AvatarURL        string       `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Phone            string       `json:"phone,omitempty" yaml:"phone,omitempty"`
	IsActive         bool         `json:"is_active" yaml:"is_active"`
	IsVerified       bool         `json:"is_verified" yaml:"is_verified"`
	IsAdmin          bool         `json:"is_admin" yaml:"is_admin"`
	IsPro            bool         `json:"is_pro" yaml:"is_pro"`
	Credits          int          `json:"credits" yaml:"credits"`
	PurchasedCredits int          `json:"purchased_credits" yaml:"purchased_credits"`
	AuthProvider     AuthProvider `json:"auth_provider,omitempty" yaml:"auth_provider,omitempty"`
	HasPassword      bool         `json:"has_password" yaml:"has_password"`
	GoogleLinked     bool         `json:"google_linked" yaml:"google_linked"`
	ReferralCode     string       `json:"referral_code,omitempty" yaml:"referral_code,omitempty"`
	CreatedAt        time.Time    `json:"created_at" yaml:"created_at"`
}

// UserPatch carries a partial update merged into a locally held user.
// Nil fields are left untouched.
type UserPatch struct {
	Name             *string
	AvatarURL        *string
	Phone            *string
	Credits          *int
	PurchasedCredits *int
	IsPro            *bool
	IsVerified       *bool
	HasPassword      *bool
	GoogleLinked     *bool
}

// Apply returns a copy of u with the non-nil patch fields applied.
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Credits != nil {
		u.Credits = *p.Credits
	}
	if p.PurchasedCredits != nil {
		u.PurchasedCredits = *p.PurchasedCredits
	}
	if p.IsPro != nil {
		u.IsPro = *p.IsPro
	}
	if p.IsVerified != nil {
		u.IsVerified = *p.IsVerified
	}
	if p.HasPassword != nil {
		u.HasPassword = *p.HasPassword
	}
	if p.GoogleLinked != nil {
		u.GoogleLinked = *p.GoogleLinked
	}
	return u
}

// TokenPair groups the bearer credentials issued to authenticated users.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Empty reports whether neither token is present.
func (t TokenPair) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// AuthResponse is returned by login, signup and OAuth exchanges. Signup may
// return only a message when email verification is still pending.
type AuthResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         *User  `json:"user,omitempty"`
	Message      string `json:"message,omitempty"`
}

// HasTokens reports whether the response carries a complete token pair.
func (r AuthResponse) HasTokens() bool {
	return r.AccessToken != "" && r.RefreshToken != ""
}

// Tokens returns the response credentials as a TokenPair.
func (r AuthResponse) Tokens() TokenPair {
	return TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceID   string `json:"device_id,omitempty"`
	RememberMe bool   `json:"remember_me,omitempty"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	DeviceID     string `json:"device_id,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// GoogleExchangeRequest is the body of POST /auth/google.
type GoogleExchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
	DeviceID    string `json:"device_id,omitempty"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is returned by POST /auth/refresh. The refresh token is
// only present when the backend rotates it.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// UserPage is a paginated list of accounts returned to administrators.
type UserPage struct {
	Users      []User `json:"users" yaml:"users"`
	Total      int    `json:"total" yaml:"total"`
	Page       int    `json:"page" yaml:"page"`
	PageSize   int    `json:"page_size" yaml:"page_size"`
	TotalPages int    `json:"total_pages" yaml:"total_pages"`
}
