package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, profile, validation, listing, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // 入力検証エラーのフィールド別メッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeEmailNotConfirmed   = "EMAIL_NOT_CONFIRMED"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeNoSession           = "NO_SESSION"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeOAuthFailed         = "OAUTH_FAILED"
	ErrCodeIdentityUnavailable = "IDENTITY_UNAVAILABLE"
	ErrCodeProfileUnavailable  = "PROFILE_UNAVAILABLE"
	ErrCodeProfileExists       = "PROFILE_EXISTS"
	ErrCodeProfileRequired     = "PROFILE_REQUIRED"
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodeUsernameTaken       = "USERNAME_TAKEN"
	ErrCodeUploadFailed        = "UPLOAD_FAILED"
	ErrCodeListingNotFound     = "LISTING_NOT_FOUND"
	ErrCodeListingExists       = "LISTING_EXISTS"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
)

// ErrNotFound はリポジトリ層以外で「対象なし」を表すセンチネル。
var ErrNotFound = errors.New("not found")

// ErrUsernameTaken はユーザー名の一意制約違反を表す。
var ErrUsernameTaken = errors.New("username already taken")

// ErrEmailTaken はメールアドレスの一意制約違反を表す。
var ErrEmailTaken = errors.New("email already registered")

// ErrAlreadyExists は1ユーザー1件の制約違反を表す。
var ErrAlreadyExists = errors.New("already exists")

// AuthError は認証基盤（Identity Service）の失敗を表す。
// フォームのインラインメッセージとして表示される。
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("auth error [%s]: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError はAuthErrorを生成する。
func NewAuthError(code, message string, err error) *AuthError {
	return &AuthError{Code: code, Message: message, Err: err}
}

// ResolverError はプロフィール参照の失敗（未作成を除く）を表す。
// 画面遷移をブロックするエラー画面として表示される。
type ResolverError struct {
	UserID string
	Err    error
}

func (e *ResolverError) Error() string {
	return fmt.Sprintf("failed to resolve profile for user %s: %v", e.UserID, e.Err)
}

func (e *ResolverError) Unwrap() error { return e.Err }

// ValidationError はフィールド単位の入力検証エラーを表す。
// ローカルで生成され、外部サービスへの書き込みは発生しない。
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError は単一フィールドのValidationErrorを生成する。
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Add はフィールドエラーを追加する。
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// ToAPIError は任意のドメインエラーを統一フォーマットに変換する。
// 変換できない場合はnilを返す。
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return NewValidationAPIError(vErr)
	}

	var aErr *AuthError
	if errors.As(err, &aErr) {
		return NewAuthAPIError(aErr)
	}

	var rErr *ResolverError
	if errors.As(err, &rErr) {
		return NewProfileUnavailableError()
	}

	return nil
}

// NewAuthAPIError はAuthErrorをフォーム表示用のAPIErrorに変換する。
func NewAuthAPIError(e *AuthError) *APIError {
	action := "入力内容を確認して再度お試しください。"
	switch e.Code {
	case ErrCodeEmailNotConfirmed:
		action = "確認メールのリンクを開いてから再度サインインしてください。"
	case ErrCodeNoSession, ErrCodeInvalidToken:
		action = "サインインし直してください。"
	case ErrCodeIdentityUnavailable:
		action = "しばらく待ってから再度お試しください。"
	}
	return &APIError{
		Code:     e.Code,
		Message:  e.Message,
		Category: "auth",
		Action:   action,
	}
}

// NewProfileUnavailableError はプロフィール参照失敗時のブロッキングエラーを生成する。
func NewProfileUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileUnavailable,
		Message:  "プロフィール情報を取得できませんでした。",
		Category: "profile",
		Action:   "/auth/signin",
	}
}

// NewValidationAPIError はValidationErrorをAPIErrorに変換する。
func NewValidationAPIError(e *ValidationError) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "各項目のメッセージを確認して修正してください。",
		Fields:   e.Fields,
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "validation",
		Action:   "別のユーザー名を入力してください。",
		Fields:   map[string]string{"username": "Username is already taken"},
	}
}

// NewProfileExistsError はプロフィール作成済みエラーを生成する。
func NewProfileExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileExists,
		Message:  "プロフィールは既に作成されています。",
		Category: "profile",
		Action:   "ダッシュボードに移動してください。",
	}
}

// NewProfileRequiredError はプロフィール未作成で保護APIにアクセスした場合のエラーを生成する。
func NewProfileRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileRequired,
		Message:  "プロフィールの登録が必要です。",
		Category: "profile",
		Action:   "/auth/complete-profile",
	}
}

// NewUploadFailedError は画像アップロード失敗エラーを生成する。
func NewUploadFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  fmt.Sprintf("画像のアップロードに失敗しました: %s", reason),
		Category: "profile",
		Action:   "5MB以下の画像ファイルを選択して再度お試しください。",
	}
}

// NewListingNotFoundError は掲載情報未登録エラーを生成する。
func NewListingNotFoundError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeListingNotFound,
		Message:  fmt.Sprintf("%sの掲載情報が見つかりません。", kind),
		Category: "listing",
		Action:   "掲載情報を登録してください。",
	}
}

// NewListingExistsError は掲載情報の重複登録エラーを生成する。
func NewListingExistsError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeListingExists,
		Message:  fmt.Sprintf("%sの掲載情報は既に登録されています。", kind),
		Category: "listing",
		Action:   "既存の掲載情報を編集してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
