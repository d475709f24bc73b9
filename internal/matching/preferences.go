package matching

import (
	"fmt"
	"strings"
)

// Preferences are the seeking user's search criteria after boundary
// coercion. A nil bound leaves that side of the range open.
type Preferences struct {
	MinAge    *float64
	MaxAge    *float64
	MinHeight *float64
	MaxHeight *float64
	Gender    string
	About     string
}

// RawPreferences is the wire form of Preferences as clients and the profile
// store exchange it.
type RawPreferences struct {
	MinAge    *Text  `json:"pMinAge,omitempty"`
	MaxAge    *Text  `json:"pMaxAge,omitempty"`
	MinHeight *Text  `json:"pMinHeight,omitempty"`
	MaxHeight *Text  `json:"pMaxHeight,omitempty"`
	Gender    string `json:"pGender,omitempty"`
	About     string `json:"pAbout,omitempty"`
}

// ValidationError reports a preference field that failed coercion.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("matching: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("matching: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Bound returns a pointer to v, for building Preferences literals.
func Bound(v float64) *float64 {
	return &v
}

// ParsePreferences converts raw, text-typed preferences into Preferences.
// Missing or blank bounds are left open; anything else that is not a
// non-negative number is rejected, as is an inverted range.
func ParsePreferences(raw RawPreferences) (Preferences, error) {
	var (
		p   Preferences
		err error
	)
	if p.MinAge, err = parseBound("pMinAge", raw.MinAge); err != nil {
		return Preferences{}, err
	}
	if p.MaxAge, err = parseBound("pMaxAge", raw.MaxAge); err != nil {
		return Preferences{}, err
	}
	if p.MinHeight, err = parseBound("pMinHeight", raw.MinHeight); err != nil {
		return Preferences{}, err
	}
	if p.MaxHeight, err = parseBound("pMaxHeight", raw.MaxHeight); err != nil {
		return Preferences{}, err
	}
	if p.MinAge != nil && p.MaxAge != nil && *p.MinAge > *p.MaxAge {
		return Preferences{}, &ValidationError{Field: "pMaxAge", Value: string(*raw.MaxAge), Reason: "below pMinAge"}
	}
	if p.MinHeight != nil && p.MaxHeight != nil && *p.MinHeight > *p.MaxHeight {
		return Preferences{}, &ValidationError{Field: "pMaxHeight", Value: string(*raw.MaxHeight), Reason: "below pMinHeight"}
	}
	// Profiles store gender lower-cased; the filter compares exactly.
	p.Gender = strings.ToLower(strings.TrimSpace(raw.Gender))
	p.About = strings.TrimSpace(raw.About)
	return p, nil
}

func parseBound(field string, t *Text) (*float64, error) {
	if t == nil || strings.TrimSpace(string(*t)) == "" {
		return nil, nil
	}
	v, ok := t.Float()
	if !ok {
		return nil, &ValidationError{Field: field, Value: string(*t), Reason: "not a number"}
	}
	if v < 0 {
		return nil, &ValidationError{Field: field, Value: string(*t), Reason: "negative"}
	}
	return &v, nil
}

// Raw renders the preferences back into wire form.
func (p Preferences) Raw() RawPreferences {
	return RawPreferences{
		MinAge:    textPtr(p.MinAge),
		MaxAge:    textPtr(p.MaxAge),
		MinHeight: textPtr(p.MinHeight),
		MaxHeight: textPtr(p.MaxHeight),
		Gender:    p.Gender,
		About:     p.About,
	}
}

func textPtr(v *float64) *Text {
	if v == nil {
		return nil
	}
	t := TextOf(*v)
	return &t
}
