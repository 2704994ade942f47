package domain

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

// protectedProfileFields can never be set from a request body.
var protectedProfileFields = map[string]bool{
	"userId":    true,
	"email":     true,
	"createdAt": true,
	"updatedAt": true,
}

// Profile is a user's display profile. Attributes holds any extra
// fields a client stored; they are flattened into the JSON object.
type Profile struct {
	UserID     string
	Email      string
	Username   *string
	Attributes map[string]json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DefaultProfile is the view returned for a user who never saved a profile.
func DefaultProfile(id Identity, now time.Time) *Profile {
	return &Profile{
		UserID:    id.UserID,
		Email:     id.Email,
		CreatedAt: now,
	}
}

// MarshalJSON flattens attributes next to the fixed fields.
func (p Profile) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Attributes)+5)
	for k, v := range p.Attributes {
		out[k] = v
	}
	out["userId"] = p.UserID
	out["email"] = p.Email
	out["username"] = p.Username
	out["createdAt"] = p.CreatedAt
	if !p.UpdatedAt.IsZero() {
		out["updatedAt"] = p.UpdatedAt
	}
	return json.Marshal(out)
}

// Public returns the fields other users may see.
func (p *Profile) Public() PublicProfile {
	email := p.Email
	pub := PublicProfile{UserID: p.UserID, Username: p.Username}
	if email != "" {
		pub.Email = &email
	}
	return pub
}

// PublicProfile is the leaderboard-facing view of a user.
type PublicProfile struct {
	UserID   string  `json:"userId"`
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

// ProfileUpdate is a validated create-or-merge request.
type ProfileUpdate struct {
	Username   *string
	Attributes map[string]json.RawMessage
}

// ParseProfileUpdate validates a profile body. Null values are ignored and
// identity fields are dropped.
func ParseProfileUpdate(raw json.RawMessage) (ProfileUpdate, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return ProfileUpdate{}, Invalid("Profile data must be an object")
	}

	upd := ProfileUpdate{Attributes: make(map[string]json.RawMessage)}
	if v, ok := fields["username"]; ok && Present(v) {
		var name string
		if err := json.Unmarshal(v, &name); err != nil {
			return ProfileUpdate{}, Invalid("Username must be a string")
		}
		name, err := ValidateUsername(name)
		if err != nil {
			return ProfileUpdate{}, err
		}
		upd.Username = &name
	}

	for k, v := range fields {
		if k == "username" || protectedProfileFields[k] || !Present(v) {
			continue
		}
		upd.Attributes[k] = v
	}
	return upd, nil
}

// ValidateUsername trims the name and checks its length and characters.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength {
		return "", Invalid("Username must be at least 3 characters long")
	}
	if n > MaxUsernameLength {
		return "", Invalid("Username must be no more than 20 characters long")
	}
	stripped := strings.NewReplacer("_", "", "-", "").Replace(name)
	if stripped == "" {
		return "", Invalid("Username can only contain letters, numbers, hyphens, and underscores")
	}
	for _, r := range stripped {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", Invalid("Username can only contain letters, numbers, hyphens, and underscores")
		}
	}
	return name, nil
}
