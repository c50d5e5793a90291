package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/creatorlink/internal/auth"
	"github.com/hitoshi/creatorlink/internal/gate"
	"github.com/hitoshi/creatorlink/internal/middleware"
	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/profile"
	"github.com/hitoshi/creatorlink/internal/security"
	"github.com/hitoshi/creatorlink/internal/session"
	"github.com/hitoshi/creatorlink/internal/validation"
)

const (
	googleProvider   = "google"
	checkEmailPath   = "/auth/check-email"
	oauthCallbackURI = "/auth/oauth-callback"

	msgAuthFailed   = "Authentication failed"
	msgGoogleSignIn = "Google sign in failed"
	msgAuthError    = "Authentication error"

	multipartMemory     = 1 << 20
	multipartFormExtras = 1 << 20
)

// IdentityService は認証ハンドラーが必要とする認証基盤の操作。
// auth.Serviceがこれを満たす。
type IdentityService interface {
	session.IdentityService
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.SignUpResult, error)
	ResendConfirmation(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, token string) (*model.Session, error)
	SignInWithOAuth(provider, redirectURL string) (*auth.OAuthStart, error)
	ExchangeOAuthCode(ctx context.Context, provider, code, redirectURL string) (*model.Session, error)
	SignOutEverywhere(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error
}

// SignUpProfiles はサインアップ時のプロフィール作成に必要な操作。
// profile.Serviceがこれを満たす。
type SignUpProfiles interface {
	CheckUsername(ctx context.Context, username string) error
	Create(ctx context.Context, req profile.CreateRequest) (*model.Profile, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL        string
	Cookie         CookieConfig
	PhotoMaxSize   int64
	OnSignOutError func(error) // リモートのサインアウト失敗時に呼ばれる（nil可）
}

// AuthHandler はサインイン・サインアップ・OAuth・メール確認のHTTPハンドラー。
// 結果を受けて遷移先を決めるだけで、状態の判定はゲートに委ねる。
type AuthHandler struct {
	identity IdentityService
	profiles SignUpProfiles
	resolver *gate.Resolver
	guard    security.URLGuard
	validate *validation.Validator
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	identity IdentityService,
	profiles SignUpProfiles,
	resolver *gate.Resolver,
	guard security.URLGuard,
	validate *validation.Validator,
	config AuthHandlerConfig,
) *AuthHandler {
	return &AuthHandler{
		identity: identity,
		profiles: profiles,
		resolver: resolver,
		guard:    guard,
		validate: validate,
		config:   config,
	}
}

// authPage は認証画面の表示に必要な情報。
type authPage struct {
	Error      string `json:"error,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Page は認証画面（ランディング、サインイン、サインアップ）の表示情報を返す。
// GET /auth, /auth/signin, /auth/signup
func (h *AuthHandler) Page(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := authPage{Error: q.Get("error")}
	if to, ok := h.guard.LocalRedirect(q.Get("redirectTo")); ok {
		page.RedirectTo = to
	}
	writeJSON(w, http.StatusOK, page)
}

type signInRequest struct {
	validation.SignInInput
	RedirectTo string `json:"redirect_to"`
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req.SignInInput); err != nil {
		middleware.WriteError(w, err)
		return
	}

	sess, err := h.identity.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	setSessionCookie(w, sess, h.config.Cookie)

	snap := h.resolver.ResolveSession(r.Context(), sess)
	if snap.Err != nil {
		middleware.WriteError(w, snap.Err)
		return
	}
	writeRedirect(w, h.destination(snap, req.RedirectTo))
}

// SignUp はアカウントを作成する。ユーザー名（と画像）が指定された場合はプロフィールも作成する。
// メール確認が必要な場合はセッションを発行せず確認待ち画面へ誘導する。
// POST /auth/signup (multipart/form-data)
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.PhotoMaxSize+multipartFormExtras)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		middleware.WriteError(w, model.NewValidationError("body", "Invalid form data"))
		return
	}

	input := validation.SignUpInput{
		Email:    strings.TrimSpace(r.FormValue("email")),
		Password: r.FormValue("password"),
		Username: strings.TrimSpace(r.FormValue("username")),
	}
	if err := h.validate.Struct(input); err != nil {
		middleware.WriteError(w, err)
		return
	}

	// ユーザー名が使用済みならアカウントも作らない
	if input.Username != "" {
		if err := h.profiles.CheckUsername(r.Context(), input.Username); err != nil {
			middleware.WriteError(w, err)
			return
		}
	}

	metadata := map[string]any{}
	if input.Username != "" {
		metadata[model.MetaUsername] = input.Username
	}

	result, err := h.identity.SignUp(r.Context(), input.Email, input.Password, metadata)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if input.Username != "" {
		req := profile.CreateRequest{UserID: result.User.ID, Username: input.Username}
		if file, _, err := r.FormFile("profile_photo"); err == nil {
			defer file.Close()
			req.Photo = file
		}
		if _, err := h.profiles.Create(r.Context(), req); err != nil {
			slog.Error("failed to create profile at sign up",
				slog.String("user_id", result.User.ID),
				slog.String("error", err.Error()),
			)
			// 作成したアカウントを戻し、同じメールアドレスで再登録できるようにする
			if delErr := h.identity.DeleteUser(r.Context(), result.User.ID); delErr != nil {
				slog.Error("failed to roll back sign up",
					slog.String("user_id", result.User.ID),
					slog.String("error", delErr.Error()),
				)
			}
			middleware.WriteError(w, err)
			return
		}
	}

	if result.Session == nil {
		writeRedirect(w, checkEmailPath+"?email="+url.QueryEscape(input.Email))
		return
	}

	setSessionCookie(w, result.Session, h.config.Cookie)
	snap := h.resolver.ResolveSession(r.Context(), result.Session)
	if snap.Err != nil {
		middleware.WriteError(w, snap.Err)
		return
	}
	writeRedirect(w, h.destination(snap, ""))
}

// CheckEmail は確認メール送信後の待機画面の情報を返す。
// GET /auth/check-email?email=xxx
func (h *AuthHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, authPage{Email: r.URL.Query().Get("email")})
}

type confirmStatus struct {
	Confirmed  bool   `json:"confirmed"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// ConfirmCheck はセッションを取得し直し、確認が済んでいれば遷移先を返す。
// POST /auth/check-email/confirm
func (h *AuthHandler) ConfirmCheck(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(r)
	if snap.Err != nil {
		middleware.WriteError(w, snap.Err)
		return
	}
	if snap.State == gate.Unauthenticated {
		writeJSON(w, http.StatusOK, confirmStatus{})
		return
	}
	writeJSON(w, http.StatusOK, confirmStatus{Confirmed: true, RedirectTo: h.destination(snap, "")})
}

// ResendConfirmation は確認メールを再送する。
// POST /auth/check-email/resend
func (h *AuthHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	var input validation.ResendConfirmationInput
	if err := decodeJSON(w, r, &input); err != nil {
		middleware.WriteError(w, err)
		return
	}
	input.Email = strings.TrimSpace(input.Email)
	if err := h.validate.Struct(input); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.identity.ResendConfirmation(r.Context(), input.Email); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GoogleSignIn はGoogle OAuthフローを開始する。
// GET /auth/google-signin
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	start, err := h.identity.SignInWithOAuth(googleProvider, h.oauthRedirectURL())
	if err != nil {
		slog.Error("failed to start google sign in", slog.String("error", err.Error()))
		http.Redirect(w, r, gate.SignInURL("", msgGoogleSignIn), http.StatusFound)
		return
	}

	// stateをCookieに保存（CSRF対策）
	setStateCookie(w, start.State, h.config.Cookie)
	http.Redirect(w, r, start.URL, http.StatusTemporaryRedirect)
}

// OAuthCallback はOAuthプロバイダーからのリダイレクトを処理する。
// GET /auth/oauth-callback?code=xxx&state=yyy
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stateCookie, cookieErr := r.Cookie(oauthStateCookie)
	clearStateCookie(w, h.config.Cookie)

	// 1. プロバイダーが返したエラー
	if msg := firstNonEmpty(q.Get("error_description"), q.Get("error")); msg != "" {
		slog.Warn("oauth provider returned error", slog.String("error", msg))
		h.redirectToSignIn(w, r, msg)
		return
	}

	// 2. stateの検証（CSRF対策）
	if cookieErr != nil || stateCookie.Value == "" || stateCookie.Value != q.Get("state") {
		slog.Warn("oauth state mismatch", slog.String("query_state", q.Get("state")))
		h.redirectToSignIn(w, r, msgAuthFailed)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectToSignIn(w, r, msgAuthFailed)
		return
	}

	// 3. 認可コードをセッションに交換
	sess, err := h.identity.ExchangeOAuthCode(r.Context(), googleProvider, code, h.oauthRedirectURL())
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.redirectToSignIn(w, r, msgAuthFailed)
		return
	}
	setSessionCookie(w, sess, h.config.Cookie)

	// 4. プロフィールの有無で遷移先を決める
	h.navigate(w, r, sess)
}

// Callback はメール確認リンクからの遷移を処理する。
// GET /auth/callback?access_token=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("error") != "" || q.Get("error_description") != "" {
		h.redirectToSignIn(w, r, firstNonEmpty(q.Get("error_description"), msgAuthError))
		return
	}

	token := q.Get("access_token")
	if token == "" {
		http.Redirect(w, r, gate.SignInPath, http.StatusFound)
		return
	}

	sess, err := h.identity.VerifyEmail(r.Context(), token)
	if err != nil {
		slog.Warn("email confirmation failed", slog.String("error", err.Error()))
		h.redirectToSignIn(w, r, authErrorMessage(err))
		return
	}
	setSessionCookie(w, sess, h.config.Cookie)

	h.navigate(w, r, sess)
}

// SignOut はセッションを破棄する。リモートの失敗に関わらずCookieはクリアする。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	var opts []session.Option
	if h.config.OnSignOutError != nil {
		opts = append(opts, session.WithSignOutErrorHandler(h.config.OnSignOutError))
	}
	store := session.NewStore(h.identity, middleware.SessionToken(r), opts...)
	defer store.Close()

	store.SignOut(r.Context())
	clearSessionCookie(w, h.config.Cookie)
	writeRedirect(w, "/auth")
}

// SignOutEverywhere はユーザーの全セッションを破棄する。他の端末にはSIGNED_OUTが届く。
// POST /auth/signout/all
func (h *AuthHandler) SignOutEverywhere(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	if err := h.identity.SignOutEverywhere(r.Context(), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	clearSessionCookie(w, h.config.Cookie)
	writeRedirect(w, "/auth")
}

// DeleteAccount はアカウントを削除する。プロフィールと掲載情報も削除される。
// DELETE /account
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrUnauthorized(w, r)
	if !ok {
		return
	}
	if err := h.identity.DeleteUser(r.Context(), userID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	clearSessionCookie(w, h.config.Cookie)
	writeRedirect(w, "/auth")
}

// meResponse はナビゲーションバーの表示情報。
type meResponse struct {
	SignedIn bool       `json:"signed_in"`
	State    gate.State `json:"state"`
	UserID   string     `json:"user_id,omitempty"`
	Email    string     `json:"email,omitempty"`
	Initial  string     `json:"initial,omitempty"`
	Username string     `json:"username,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Me は現在のサインイン状態を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshot(r)
	resp := meResponse{State: snap.State, Error: snap.ErrorMessage()}

	if snap.Session != nil {
		resp.SignedIn = true
		resp.UserID = snap.Session.UserID
		if u := snap.Session.User; u != nil {
			resp.Email = u.Email
			resp.Initial = initial(u.Email)
		}
	}
	if snap.Profile != nil {
		resp.Username = snap.Profile.Username
	}
	writeJSON(w, http.StatusOK, resp)
}

// snapshot はゲートが解決した状態を返す。ゲートを経由していない場合はここで解決する。
func (h *AuthHandler) snapshot(r *http.Request) gate.Snapshot {
	if snap, ok := gate.FromContext(r.Context()); ok {
		return snap
	}
	store := session.NewStore(h.identity, middleware.SessionToken(r))
	defer store.Close()
	return h.resolver.Resolve(r.Context(), store)
}

// navigate はセッション取得後にプロフィールを解決して遷移する。
func (h *AuthHandler) navigate(w http.ResponseWriter, r *http.Request, sess *model.Session) {
	snap := h.resolver.ResolveSession(r.Context(), sess)
	if snap.Err != nil {
		h.redirectToSignIn(w, r, snap.ErrorMessage())
		return
	}
	http.Redirect(w, r, h.destination(snap, ""), http.StatusFound)
}

// destination は解決済みの状態と希望の遷移先から実際の遷移先を決める。
func (h *AuthHandler) destination(snap gate.Snapshot, redirectTo string) string {
	switch snap.State {
	case gate.Unauthenticated:
		return gate.SignInURL("", snap.ErrorMessage())
	case gate.AuthenticatedNoProfile:
		return gate.CompleteProfilePath
	}

	target := gate.DashboardPath
	if to, ok := h.guard.LocalRedirect(redirectTo); ok {
		target = to
	}
	if d := snap.Decide(target); !d.Allow {
		return d.Redirect
	}
	return target
}

func (h *AuthHandler) redirectToSignIn(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, gate.SignInURL("", msg), http.StatusFound)
}

func (h *AuthHandler) oauthRedirectURL() string {
	return strings.TrimRight(h.config.BaseURL, "/") + oauthCallbackURI
}

func authErrorMessage(err error) string {
	var aErr *model.AuthError
	if errors.As(err, &aErr) {
		return aErr.Message
	}
	return msgAuthError
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// initial はアバター表示用の頭文字（大文字）を返す。
func initial(email string) string {
	for _, r := range email {
		return strings.ToUpper(string(r))
	}
	return ""
}
