// Package validation はフォーム入力の検証を行い、model.ValidationErrorに変換する。
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/creatorlink/internal/model"
)

// SignInInput はサインインフォームの入力。
type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUpInput はサインアップフォームの入力。ユーザー名は任意。
type SignUpInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Username string `json:"username" validate:"omitempty,min=3,max=50,username"`
}

// ResendConfirmationInput は確認メール再送の入力。
type ResendConfirmationInput struct {
	Email string `json:"email" validate:"required,email"`
}

// CompleteProfileInput はプロフィール登録フォームの入力。
type CompleteProfileInput struct {
	Username string `json:"username" validate:"required,min=3,max=50,username"`
}

// CreatorInput はクリエイター掲載フォームの入力。
type CreatorInput struct {
	Name         string   `json:"name" validate:"max=100"`
	Description  string   `json:"description" validate:"required,max=2000"`
	InstagramURL string   `json:"instagram_url" validate:"required,url,hostsuffix=instagram.com"`
	TikTokURL    string   `json:"tiktok_url" validate:"required,url,hostsuffix=tiktok.com"`
	YouTubeURL   string   `json:"youtube_url" validate:"omitempty,url,youtube"`
	Location     string   `json:"location" validate:"required,max=100"`
	Languages    []string `json:"languages" validate:"min=1,dive,required"`
}

// BusinessInput はビジネス掲載フォームの入力。
type BusinessInput struct {
	Name         string `json:"name" validate:"required,max=100"`
	Address      string `json:"address" validate:"required,max=200"`
	Description  string `json:"description" validate:"required,max=2000"`
	Email        string `json:"email" validate:"required,email"`
	Location     string `json:"location" validate:"required,max=100"`
	InstagramURL string `json:"instagram_url" validate:"required,url,hostsuffix=instagram.com"`
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validator はgo-playground/validatorのラッパー。並行利用できる。
type Validator struct {
	v *validator.Validate
}

// New はカスタムルールを登録したValidatorを生成する。
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// エラーのフィールド名はJSON名で返す
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "hostsuffix", func(fl validator.FieldLevel) bool {
		return hostHasSuffix(fl.Field().String(), fl.Param())
	})
	mustRegister(v, "youtube", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return hostHasSuffix(s, "youtube.com") || hostHasSuffix(s, "youtu.be")
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("failed to register validation %q: %v", tag, err))
	}
}

func hostHasSuffix(raw, suffix string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

// Struct は入力を検証する。違反があれば*model.ValidationErrorを返す。
func (val *Validator) Struct(input any) error {
	err := val.v.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}

	out := &model.ValidationError{}
	for _, fe := range verrs {
		field := fe.Field()
		if _, exists := out.Fields[field]; exists {
			continue
		}
		out.Add(field, message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", label(fe.Field()))
	case "email":
		return "Invalid email address"
	case "url":
		return "Invalid URL"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("Select at least %s %s", fe.Param(), label(fe.Field()))
		}
		return fmt.Sprintf("%s must be at least %s characters", label(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label(fe.Field()), fe.Param())
	case "username":
		return "Username may only contain letters, numbers and underscores"
	case "hostsuffix":
		return fmt.Sprintf("Must be a valid %s URL", fe.Param())
	case "youtube":
		return "Must be a valid YouTube URL"
	default:
		return fmt.Sprintf("%s is invalid", label(fe.Field()))
	}
}

// label はJSONフィールド名を表示用に変換する（instagram_url → Instagram url）。
func label(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
