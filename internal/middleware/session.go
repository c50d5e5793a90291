// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/creatorlink/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	tokenContextKey  = contextKey("session_token")
)

// SessionLookup はセッションの検索に必要なインターフェース。
// auth.Serviceがこれを満たす。
type SessionLookup interface {
	GetSession(ctx context.Context, token string) (*model.Session, error)
}

// SessionToken はHTTP Only Cookieからセッショントークンを取得する。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewSessionMiddleware はCookieのセッションを検証し、
// ユーザーIDとトークンをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証リクエストには401を統一エラーフォーマットで返す。
func NewSessionMiddleware(lookup SessionLookup) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				writeNoSession(w)
				return
			}

			session, err := lookup.GetSession(r.Context(), token)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				apiErr := model.ToAPIError(err)
				if apiErr == nil {
					apiErr = model.NewAuthAPIError(model.NewAuthError(model.ErrCodeIdentityUnavailable, "Authentication service is unavailable", err))
				}
				WriteErrorResponse(w, http.StatusServiceUnavailable, apiErr)
				return
			}
			if session == nil {
				writeNoSession(w)
				return
			}

			ctx := ContextWithUserID(r.Context(), session.UserID)
			ctx = ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeNoSession(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthAPIError(
		model.NewAuthError(model.ErrCodeNoSession, "Auth session missing", nil),
	))
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアかゲートを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// ログミドルウェアの内側で呼ばれた場合はリクエストログにも記録される。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	recordUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithToken はコンテキストにセッショントークンを注入する。
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// TokenFromContext はセッションミドルウェアが注入したトークンを返す。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}
