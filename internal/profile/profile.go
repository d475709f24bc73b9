// Package profile stores users, their dating profiles, match preferences and
// block lists in PostgreSQL, and supplies candidate pools to the matcher.
package profile

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxGalleryImages is the number of photos a profile may carry.
const MaxGalleryImages = 6

var (
	ErrNotFound  = errors.New("profile: not found")
	ErrDuplicate = errors.New("profile: email or phone already registered")
)

// validBuilds mirrors the choices offered on the onboarding screen.
var validBuilds = map[string]bool{
	"":         true,
	"slim":     true,
	"athletic": true,
	"chubby":   true,
}

type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	PasswordHash  string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

type Profile struct {
	UserID     string    `json:"user_id"`
	FirstName  string    `json:"first_name"`
	Age        *int      `json:"age"`
	Height     *int      `json:"height"`
	Build      string    `json:"build"`
	Occupation string    `json:"occupation"`
	State      string    `json:"state"`
	Gender     string    `json:"gender"`
	About      string    `json:"about"`
	Gallery    []string  `json:"gallery"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ValidationError reports a profile field that cannot be saved.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("profile: invalid %s: %s", e.Field, e.Reason)
}

// Normalize trims free-text fields and lower-cases the enumerations.
func (p *Profile) Normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.Build = strings.ToLower(strings.TrimSpace(p.Build))
	p.Occupation = strings.TrimSpace(p.Occupation)
	p.State = strings.ToLower(strings.TrimSpace(p.State))
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	p.About = strings.TrimSpace(p.About)
}

// ValidateProfile checks the fields the onboarding flow requires.
func ValidateProfile(p Profile) error {
	switch {
	case p.Age == nil:
		return &ValidationError{Field: "age", Reason: "required"}
	case *p.Age < 18 || *p.Age > 120:
		return &ValidationError{Field: "age", Reason: "must be between 18 and 120"}
	case p.Height == nil:
		return &ValidationError{Field: "height", Reason: "required"}
	case *p.Height < 50 || *p.Height > 272:
		return &ValidationError{Field: "height", Reason: "must be between 50 and 272 cm"}
	case strings.TrimSpace(p.Occupation) == "":
		return &ValidationError{Field: "occupation", Reason: "required"}
	case strings.TrimSpace(p.State) == "":
		return &ValidationError{Field: "state", Reason: "required"}
	case !validBuilds[p.Build]:
		return &ValidationError{Field: "build", Reason: "must be slim, athletic or chubby"}
	}
	return nil
}

// ValidateGallery checks a list of image URLs.
func ValidateGallery(images []string) error {
	if len(images) > MaxGalleryImages {
		return &ValidationError{Field: "gallery", Reason: fmt.Sprintf("at most %d images", MaxGalleryImages)}
	}
	for _, img := range images {
		u, err := url.Parse(img)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return &ValidationError{Field: "gallery", Reason: fmt.Sprintf("%q is not an http(s) URL", img)}
		}
	}
	return nil
}
