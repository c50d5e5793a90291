package gate

import (
	"net/url"
	"strings"
)

// 遷移先のパス
const (
	SignInPath          = "/auth/signin"
	CompleteProfilePath = "/auth/complete-profile"
	DashboardPath       = "/dashboard"
)

// RouteKind はルートの分類。
type RouteKind int

const (
	RoutePublic RouteKind = iota
	RouteAuth
	RouteExempt // 認証ルートのうちプロフィール登録前後を問わず表示できるもの
	RouteSignOut
	RouteProtected
)

var (
	protectedPrefixes = []string{"/dashboard", "/account", "/profile"}
	exemptRoutes      = []string{CompleteProfilePath, "/auth/callback", "/auth/oauth-callback"}
)

// Classify はパスを分類する。前方一致はパスのセグメント単位で行う。
func Classify(path string) RouteKind {
	if path == "" {
		path = "/"
	}
	if hasSegmentPrefix(path, "/auth/signout") {
		return RouteSignOut
	}
	for _, p := range exemptRoutes {
		if hasSegmentPrefix(path, p) {
			return RouteExempt
		}
	}
	if hasSegmentPrefix(path, "/auth") {
		return RouteAuth
	}
	for _, p := range protectedPrefixes {
		if hasSegmentPrefix(path, p) {
			return RouteProtected
		}
	}
	return RoutePublic
}

// hasSegmentPrefix は"/authx"を"/auth"配下とみなさない前方一致。
func hasSegmentPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}

// Decision はゲートの判定結果。Allowがfalseの場合はRedirectへ遷移する。
type Decision struct {
	Allow    bool
	Redirect string
}

func allow() Decision { return Decision{Allow: true} }

func redirect(to string) Decision { return Decision{Redirect: to} }

// Decide は状態と要求されたURL（パスとクエリ）から遷移を判定する。
func Decide(state State, target string) Decision {
	return decide(state, target, "")
}

func decide(state State, target, errMsg string) Decision {
	path := target
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	kind := Classify(path)

	switch kind {
	case RoutePublic, RouteSignOut:
		return allow()
	}

	switch state {
	case AuthenticatedComplete:
		if kind == RouteAuth {
			return redirect(DashboardPath)
		}
		return allow()

	case AuthenticatedNoProfile:
		if kind == RouteExempt {
			return allow()
		}
		return redirect(CompleteProfilePath)

	default:
		if kind == RouteProtected {
			return redirect(SignInURL(target, errMsg))
		}
		return allow()
	}
}

// SignInURL はサインイン画面のURLを組み立てる。
// 元の遷移先はredirectTo、表示するエラーはerrorに入れる。
func SignInURL(redirectTo, errMsg string) string {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirectTo", redirectTo)
	}
	if errMsg != "" {
		q.Set("error", errMsg)
	}
	if len(q) == 0 {
		return SignInPath
	}
	return SignInPath + "?" + q.Encode()
}
