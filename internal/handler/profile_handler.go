package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/creatorlink/internal/gate"
	"github.com/hitoshi/creatorlink/internal/metrics"
	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/profile"
)

// UsernameChecker はユーザー名の形式と空き状況を検証する。
type UsernameChecker interface {
	CheckUsername(ctx context.Context, username string) error
}

// ProfileService はプロフィール登録ハンドラーが必要とするサービスインターフェース。
// profile.Serviceがこれを満たす。
type ProfileService interface {
	UsernameChecker
	CompleteProfile(ctx context.Context, token string, req profile.CreateRequest) (*model.Profile, error)
}

// DashboardService はダッシュボード情報の取得を行う。
type DashboardService interface {
	Load(ctx context.Context, userID string) (*profile.Dashboard, error)
}

// ProfileHandler はプロフィール登録とダッシュボードのHTTPハンドラー。
type ProfileHandler struct {
	profiles     ProfileService
	dashboard    DashboardService
	metrics      metrics.MetricsCollector
	photoMaxSize int64
}

// NewProfileHandler はProfileHandlerを生成する。collectorはnil可。
func NewProfileHandler(profiles ProfileService, dashboard DashboardService, collector metrics.MetricsCollector, photoMaxSize int64) *ProfileHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &ProfileHandler{
		profiles:     profiles,
		dashboard:    dashboard,
		metrics:      collector,
		photoMaxSize: photoMaxSize,
	}
}

type completeProfilePage struct {
	Email             string `json:"email"`
	SuggestedUsername string `json:"suggested_username,omitempty"`
	AvatarURL         string `json:"avatar_url,omitempty"`
}

// CompleteProfilePage はプロフィール登録画面の初期値を返す。
// 登録済みならダッシュボード、未認証ならサインイン画面へ遷移する。
// GET /auth/complete-profile
func (h *ProfileHandler) CompleteProfilePage(w http.ResponseWriter, r *http.Request) {
	snap, _ := gate.FromContext(r.Context())
	switch snap.State {
	case gate.AuthenticatedComplete:
		http.Redirect(w, r, gate.DashboardPath, http.StatusFound)
		return
	case gate.Unauthenticated:
		http.Redirect(w, r, gate.SignInURL("", snap.ErrorMessage()), http.StatusFound)
		return
	}

	var page completeProfilePage
	if user := snap.Session.User; user != nil {
		page.Email = user.Email
		page.AvatarURL = user.MetadataString(model.MetaAvatarURL)
		page.SuggestedUsername = profile.SuggestUsername(user.MetadataString(model.MetaFullName), user.Email)
	}
	writeJSON(w, http.StatusOK, page)
}

// CompleteProfile はユーザー名と画像を受け取りプロフィールを登録する。
// ユーザー名が使用済みの場合は書き込みを行わずにエラーを返す。
// POST /auth/complete-profile (multipart/form-data)
func (h *ProfileHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	snap, _ := gate.FromContext(r.Context())
	if snap.Session == nil {
		middleware.WriteError(w, model.NewAuthError(model.ErrCodeNoSession, "Auth session missing", nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.photoMaxSize+multipartFormExtras)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		middleware.WriteError(w, model.NewValidationError("body", "Invalid form data"))
		return
	}

	req := profile.CreateRequest{
		UserID:   snap.Session.UserID,
		Username: strings.TrimSpace(r.FormValue("username")),
	}
	if snap.Session.User != nil {
		req.PhotoURL = snap.Session.User.MetadataString(model.MetaAvatarURL)
	}
	if file, _, err := r.FormFile("profile_photo"); err == nil {
		defer file.Close()
		req.Photo = file
	}

	if _, err := h.profiles.CompleteProfile(r.Context(), middleware.TokenFromContext(r.Context()), req); err != nil {
		h.metrics.RecordProfileCompletion(completionResult(err))
		middleware.WriteError(w, err)
		return
	}

	h.metrics.RecordProfileCompletion(metrics.ProfileResultCreated)
	writeRedirect(w, gate.DashboardPath)
}

type usernameAvailability struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

// UsernameAvailable はユーザー名の形式と空き状況を返す。
// GET /api/username-available?username=xxx
func (h *ProfileHandler) UsernameAvailable(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	result, err := checkUsername(r.Context(), h.profiles, username)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.metrics.RecordUsernameCheck(result.Available)
	writeJSON(w, http.StatusOK, result)
}

// Dashboard はプロフィールと掲載情報のスナップショットを返す。
// GET /dashboard
func (h *ProfileHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}

	d, err := h.dashboard.Load(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// checkUsername は空き確認の結果を返す。形式不正・使用済みは結果として返し、エラーにはしない。
func checkUsername(ctx context.Context, checker UsernameChecker, username string) (usernameAvailability, error) {
	result := usernameAvailability{Username: username}

	err := checker.CheckUsername(ctx, username)
	if err == nil {
		result.Available = true
		return result, nil
	}

	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		result.Message = vErr.Fields["username"]
		return result, nil
	}
	return result, err
}

func completionResult(err error) string {
	apiErr := model.ToAPIError(err)
	if apiErr == nil {
		return metrics.ProfileResultFailed
	}
	if middleware.StatusForAPIError(apiErr) < http.StatusInternalServerError {
		return metrics.ProfileResultRejected
	}
	return metrics.ProfileResultFailed
}
