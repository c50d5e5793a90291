// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	maxJSONBodySize = 1 << 20
)

// CookieConfig はハンドラーが発行するCookieの設定。
type CookieConfig struct {
	Domain        string
	Secure        bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// redirectResponse はフォーム送信後の遷移先を返すレスポンス。
type redirectResponse struct {
	RedirectTo string `json:"redirect_to"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeRedirect(w http.ResponseWriter, to string) {
	writeJSON(w, http.StatusOK, redirectResponse{RedirectTo: to})
}

// decodeJSON はリクエストボディをvに読み込む。形式不正は入力検証エラーとして返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.NewValidationError("body", "Request body is too large")
		}
		return model.NewValidationError("body", "Invalid request body")
	}
	return nil
}

// userIDOrUnauthorized はコンテキストのユーザーIDを返す。未設定なら401を書き込んでfalseを返す。
func userIDOrUnauthorized(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewAuthError(model.ErrCodeNoSession, "Auth session missing", nil))
		return "", false
	}
	return userID, true
}

func setSessionCookie(w http.ResponseWriter, session *model.Session, c CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   c.SessionMaxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, c CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func setStateCookie(w http.ResponseWriter, state string, c CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter, c CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
