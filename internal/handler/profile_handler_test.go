package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/hitoshi/creatorlink/internal/gate"
	"github.com/hitoshi/creatorlink/internal/metrics"
	"github.com/hitoshi/creatorlink/internal/model"
	"github.com/hitoshi/creatorlink/internal/profile"
)

func noProfileSnapshot() gate.Snapshot {
	return gate.Snapshot{State: gate.AuthenticatedNoProfile, Session: newSession("tok-new", noProfileUser)}
}

func TestProfileHandler_CompleteProfilePage(t *testing.T) {
	h := NewProfileHandler(&mockProfiles{}, &mockDashboard{}, nil, 1<<20)

	t.Run("未登録は候補とアバターを返す", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.CompleteProfilePage(w, withSnapshot(httptest.NewRequest(http.MethodGet, "/auth/complete-profile", nil), noProfileSnapshot()))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		got := decodeBody[completeProfilePage](t, w)
		if got.SuggestedUsername != "janedoe" {
			t.Errorf("suggested_username = %q, want janedoe", got.SuggestedUsername)
		}
		if got.AvatarURL != "https://lh3.googleusercontent.com/a/jane" {
			t.Errorf("avatar_url = %q", got.AvatarURL)
		}
		if got.Email != "new@example.com" {
			t.Errorf("email = %q", got.Email)
		}
	})

	t.Run("登録済みはダッシュボードへ", func(t *testing.T) {
		snap := gate.Snapshot{State: gate.AuthenticatedComplete, Session: newSession("tok-1", completeUser), Profile: completeRecord}
		w := httptest.NewRecorder()
		h.CompleteProfilePage(w, withSnapshot(httptest.NewRequest(http.MethodGet, "/auth/complete-profile", nil), snap))

		if w.Code != http.StatusFound || w.Header().Get("Location") != "/dashboard" {
			t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
		}
	})

	t.Run("未認証はサインインへ", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.CompleteProfilePage(w, httptest.NewRequest(http.MethodGet, "/auth/complete-profile", nil))

		if w.Code != http.StatusFound || w.Header().Get("Location") != "/auth/signin" {
			t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
		}
	})
}

func TestProfileHandler_CompleteProfile_Success(t *testing.T) {
	collector := &recordingMetrics{}

	var gotToken string
	var gotReq profile.CreateRequest
	profiles := &mockProfiles{
		completeProfileFn: func(_ context.Context, token string, req profile.CreateRequest) (*model.Profile, error) {
			gotToken, gotReq = token, req
			return &model.Profile{ID: req.UserID, Username: req.Username}, nil
		},
	}
	h := NewProfileHandler(profiles, &mockDashboard{}, collector, 1<<20)

	req := withSnapshot(formRequest("/auth/complete-profile", url.Values{"username": {" newuser "}}), noProfileSnapshot())
	w := httptest.NewRecorder()
	h.CompleteProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decodeBody[redirectResponse](t, w).RedirectTo; got != "/dashboard" {
		t.Errorf("redirect_to = %q, want /dashboard", got)
	}
	if gotToken != "tok-new" {
		t.Errorf("token = %q, want tok-new", gotToken)
	}
	if gotReq.UserID != noProfileUser.ID || gotReq.Username != "newuser" {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.PhotoURL != "https://lh3.googleusercontent.com/a/jane" || gotReq.Photo != nil {
		t.Errorf("photo = %v, photo_url = %q, want provider avatar", gotReq.Photo, gotReq.PhotoURL)
	}
	if got := collector.completions(); len(got) != 1 || got[0] != metrics.ProfileResultCreated {
		t.Errorf("completions = %v, want [created]", got)
	}
}

func TestProfileHandler_CompleteProfile_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantResult string
	}{
		{"使用済みユーザー名", model.NewValidationError("username", "Username is already taken"), http.StatusBadRequest, metrics.ProfileResultRejected},
		{"登録済み", model.NewProfileExistsError(), http.StatusConflict, metrics.ProfileResultRejected},
		{"アップロード失敗", model.NewUploadFailedError("storage unavailable"), http.StatusBadGateway, metrics.ProfileResultFailed},
		{"予期しないエラー", errors.New("boom"), http.StatusInternalServerError, metrics.ProfileResultFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := &recordingMetrics{}
			profiles := &mockProfiles{
				completeProfileFn: func(context.Context, string, profile.CreateRequest) (*model.Profile, error) {
					return nil, tt.err
				},
			}
			h := NewProfileHandler(profiles, &mockDashboard{}, collector, 1<<20)

			w := httptest.NewRecorder()
			h.CompleteProfile(w, withSnapshot(formRequest("/auth/complete-profile", url.Values{"username": {"newuser"}}), noProfileSnapshot()))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := collector.completions(); len(got) != 1 || got[0] != tt.wantResult {
				t.Errorf("completions = %v, want [%s]", got, tt.wantResult)
			}
		})
	}
}

func TestProfileHandler_CompleteProfile_RequiresSession(t *testing.T) {
	called := false
	profiles := &mockProfiles{
		completeProfileFn: func(context.Context, string, profile.CreateRequest) (*model.Profile, error) {
			called = true
			return nil, nil
		},
	}
	h := NewProfileHandler(profiles, &mockDashboard{}, nil, 1<<20)

	w := httptest.NewRecorder()
	h.CompleteProfile(w, formRequest("/auth/complete-profile", url.Values{"username": {"newuser"}}))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if called {
		t.Error("service must not be called without a session")
	}
}

func TestProfileHandler_UsernameAvailable(t *testing.T) {
	taken := map[string]bool{"taken": true}
	profiles := &mockProfiles{
		checkUsernameFn: func(_ context.Context, username string) error {
			if len(username) < 3 {
				return model.NewValidationError("username", "Username must be at least 3 characters")
			}
			if taken[username] {
				return model.NewValidationError("username", "Username is already taken")
			}
			return nil
		},
	}
	h := NewProfileHandler(profiles, &mockDashboard{}, nil, 1<<20)

	tests := []struct {
		username  string
		available bool
		message   string
	}{
		{"freshname", true, ""},
		{"taken", false, "Username is already taken"},
		{"ab", false, "Username must be at least 3 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.UsernameAvailable(w, httptest.NewRequest(http.MethodGet, "/api/username-available?username="+tt.username, nil))

			got := decodeBody[usernameAvailability](t, w)
			if got.Available != tt.available || got.Message != tt.message {
				t.Errorf("got %+v, want available=%v message=%q", got, tt.available, tt.message)
			}
		})
	}
}

func TestProfileHandler_UsernameAvailable_BackendError(t *testing.T) {
	profiles := &mockProfiles{
		checkUsernameFn: func(context.Context, string) error {
			return &model.ResolverError{Err: errors.New("db down")}
		},
	}
	h := NewProfileHandler(profiles, &mockDashboard{}, nil, 1<<20)

	w := httptest.NewRecorder()
	h.UsernameAvailable(w, httptest.NewRequest(http.MethodGet, "/api/username-available?username=someone", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestProfileHandler_Dashboard(t *testing.T) {
	var gotUserID string
	dashboard := &mockDashboard{
		loadFn: func(_ context.Context, userID string) (*profile.Dashboard, error) {
			gotUserID = userID
			return &profile.Dashboard{
				Profile:           completeRecord,
				Creator:           &model.CreatorProfile{ID: userID},
				HasCreatorProfile: true,
			}, nil
		},
	}
	h := NewProfileHandler(&mockProfiles{}, dashboard, nil, 1<<20)

	snap := gate.Snapshot{State: gate.AuthenticatedComplete, Session: newSession("tok-1", completeUser), Profile: completeRecord}
	w := httptest.NewRecorder()
	h.Dashboard(w, withSnapshot(httptest.NewRequest(http.MethodGet, "/dashboard", nil), snap))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != completeUser.ID {
		t.Errorf("user id = %q, want %q", gotUserID, completeUser.ID)
	}
	got := decodeBody[map[string]any](t, w)
	if got["has_creator_profile"] != true || got["has_business_profile"] != false {
		t.Errorf("got %v", got)
	}
}

func TestProfileHandler_Dashboard_Unauthorized(t *testing.T) {
	h := NewProfileHandler(&mockProfiles{}, &mockDashboard{}, nil, 1<<20)

	w := httptest.NewRecorder()
	h.Dashboard(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
