package validation

import (
	"errors"
	"testing"

	"github.com/hitoshi/creatorlink/internal/model"
)

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	if err == nil {
		return nil
	}
	var vErr *model.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *model.ValidationError, got %T (%v)", err, err)
	}
	return vErr.Fields
}

func TestSignUpInput(t *testing.T) {
	v := New()

	tests := []struct {
		name       string
		input      SignUpInput
		wantFields []string
	}{
		{"valid", SignUpInput{Email: "a@b.com", Password: "password1"}, nil},
		{"valid with username", SignUpInput{Email: "a@b.com", Password: "password1", Username: "new_user"}, nil},
		{"short password", SignUpInput{Email: "a@b.com", Password: "short"}, []string{"password"}},
		{"bad email", SignUpInput{Email: "nope", Password: "password1"}, []string{"email"}},
		{"short username", SignUpInput{Email: "a@b.com", Password: "password1", Username: "ab"}, []string{"username"}},
		{"username with space", SignUpInput{Email: "a@b.com", Password: "password1", Username: "new user"}, []string{"username"}},
		{"empty", SignUpInput{}, []string{"email", "password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := fieldsOf(t, v.Struct(tt.input))
			if len(fields) != len(tt.wantFields) {
				t.Fatalf("fields = %v, want %v", fields, tt.wantFields)
			}
			for _, f := range tt.wantFields {
				if _, ok := fields[f]; !ok {
					t.Errorf("missing field error %q in %v", f, fields)
				}
			}
		})
	}
}

func TestCompleteProfileInput_Messages(t *testing.T) {
	v := New()

	fields := fieldsOf(t, v.Struct(CompleteProfileInput{Username: "ab"}))
	if got := fields["username"]; got != "Username must be at least 3 characters" {
		t.Errorf("message = %q", got)
	}

	fields = fieldsOf(t, v.Struct(CompleteProfileInput{}))
	if got := fields["username"]; got != "Username is required" {
		t.Errorf("message = %q", got)
	}
}

func validCreator() CreatorInput {
	return CreatorInput{
		Description:  "Travel creator",
		InstagramURL: "https://www.instagram.com/someone",
		TikTokURL:    "https://www.tiktok.com/@someone",
		Location:     "Tokyo",
		Languages:    []string{"English"},
	}
}

func TestCreatorInput(t *testing.T) {
	v := New()

	tests := []struct {
		name      string
		mutate    func(*CreatorInput)
		wantField string
	}{
		{"valid", func(*CreatorInput) {}, ""},
		{"youtube.com", func(c *CreatorInput) { c.YouTubeURL = "https://www.youtube.com/@someone" }, ""},
		{"youtu.be", func(c *CreatorInput) { c.YouTubeURL = "https://youtu.be/abc" }, ""},
		{"instagram wrong host", func(c *CreatorInput) { c.InstagramURL = "https://example.com/instagram.com" }, "instagram_url"},
		{"tiktok missing", func(c *CreatorInput) { c.TikTokURL = "" }, "tiktok_url"},
		{"youtube wrong host", func(c *CreatorInput) { c.YouTubeURL = "https://vimeo.com/1" }, "youtube_url"},
		{"no languages", func(c *CreatorInput) { c.Languages = nil }, "languages"},
		{"empty language", func(c *CreatorInput) { c.Languages = []string{""} }, "languages[0]"},
		{"location missing", func(c *CreatorInput) { c.Location = "" }, "location"},
		{"description missing", func(c *CreatorInput) { c.Description = "" }, "description"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validCreator()
			tt.mutate(&in)
			fields := fieldsOf(t, v.Struct(in))
			if tt.wantField == "" {
				if len(fields) != 0 {
					t.Errorf("unexpected errors: %v", fields)
				}
				return
			}
			if _, ok := fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want error on %q", fields, tt.wantField)
			}
		})
	}
}

func TestCreatorInput_LanguageMessage(t *testing.T) {
	in := validCreator()
	in.Languages = []string{}

	fields := fieldsOf(t, New().Struct(in))
	if got := fields["languages"]; got != "Select at least 1 Languages" {
		t.Errorf("message = %q", got)
	}
}

func TestBusinessInput(t *testing.T) {
	v := New()

	valid := BusinessInput{
		Name:         "Cafe",
		Address:      "1-2-3 Shibuya",
		Description:  "Coffee",
		Email:        "hello@cafe.example",
		Location:     "Tokyo",
		InstagramURL: "https://instagram.com/cafe",
	}
	if err := v.Struct(valid); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	fields := fieldsOf(t, v.Struct(BusinessInput{Email: "bad"}))
	for _, f := range []string{"name", "address", "description", "email", "location", "instagram_url"} {
		if _, ok := fields[f]; !ok {
			t.Errorf("missing field error %q in %v", f, fields)
		}
	}
	if fields["email"] != "Invalid email address" {
		t.Errorf("email message = %q", fields["email"])
	}
}
