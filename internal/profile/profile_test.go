package profile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int) *int { return &v }

func validProfile() Profile {
	return Profile{
		UserID:     "u1",
		FirstName:  "Ada",
		Age:        ptr(29),
		Height:     ptr(170),
		Build:      "athletic",
		Occupation: "engineer",
		State:      "lagos",
		Gender:     "female",
		About:      "hiking and jazz",
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Profile)
		field  string
	}{
		{"valid", func(p *Profile) {}, ""},
		{"missing age", func(p *Profile) { p.Age = nil }, "age"},
		{"under 18", func(p *Profile) { p.Age = ptr(17) }, "age"},
		{"exactly 18", func(p *Profile) { p.Age = ptr(18) }, ""},
		{"missing height", func(p *Profile) { p.Height = nil }, "height"},
		{"absurd height", func(p *Profile) { p.Height = ptr(400) }, "height"},
		{"no occupation", func(p *Profile) { p.Occupation = "  " }, "occupation"},
		{"no state", func(p *Profile) { p.State = "" }, "state"},
		{"unknown build", func(p *Profile) { p.Build = "tall" }, "build"},
		{"empty build", func(p *Profile) { p.Build = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(&p)
			err := ValidateProfile(p)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestNormalize(t *testing.T) {
	p := Profile{FirstName: " Ada ", Build: " Slim", Gender: "FEMALE ", State: " Lagos", About: " hi "}
	p.Normalize()
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, "slim", p.Build)
	assert.Equal(t, "female", p.Gender)
	assert.Equal(t, "lagos", p.State)
	assert.Equal(t, "hi", p.About)
}

func TestValidateGallery(t *testing.T) {
	assert.NoError(t, ValidateGallery(nil))
	assert.NoError(t, ValidateGallery([]string{"https://cdn.example.com/a.jpg"}))

	tooMany := make([]string, MaxGalleryImages+1)
	for i := range tooMany {
		tooMany[i] = "https://cdn.example.com/x.jpg"
	}
	assert.Error(t, ValidateGallery(tooMany))
	assert.Error(t, ValidateGallery([]string{"ftp://cdn.example.com/a.jpg"}))
	assert.Error(t, ValidateGallery([]string{"not a url"}))
}
