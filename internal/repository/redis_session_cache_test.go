package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/creatorlink/internal/model"
)

// fakeCacheClient はメモリ上でRedisコマンドを模倣するテスト用クライアント。
type fakeCacheClient struct {
	mu      sync.Mutex
	values  map[string]string
	sets    map[string]map[string]struct{}
	ttls     map[string]time.Duration
	failGet  bool
	failSAdd bool
}

func newFakeCacheClient() *fakeCacheClient {
	return &fakeCacheClient{
		values: map[string]string{},
		sets:   map[string]map[string]struct{}{},
		ttls:   map[string]time.Duration{},
	}
}

func (f *fakeCacheClient) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCacheClient) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCacheClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
		if _, ok := f.sets[k]; ok {
			delete(f.sets, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeCacheClient) SAdd(_ context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSAdd {
		return redis.NewIntResult(0, errors.New("connection reset"))
	}
	if f.sets[key] == nil {
		f.sets[key] = map[string]struct{}{}
	}
	for _, m := range members {
		f.sets[key][m.(string)] = struct{}{}
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeCacheClient) SMembers(_ context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return redis.NewStringSliceResult(out, nil)
}

// ExpireNX はTTL未設定のキーにだけTTLを設定する。
func (f *fakeCacheClient) ExpireNX(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ttls[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

// ExpireGT は現在より長い場合だけTTLを更新する。TTL未設定のキーは無期限扱い。
func (f *fakeCacheClient) ExpireGT(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.ttls[key]
	if !ok || expiration <= cur {
		return redis.NewBoolResult(false, nil)
	}
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

// mockSessionRepo はSessionRepositoryのテスト用モック。
type mockSessionRepo struct {
	sessions  map[string]*model.Session
	findCalls int
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: map[string]*model.Session{}}
}

func (m *mockSessionRepo) Create(_ context.Context, s *model.Session) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.findCalls++
	return m.sessions[id], nil
}

func (m *mockSessionRepo) Extend(_ context.Context, id string, expiresAt time.Time) error {
	if s, ok := m.sessions[id]; ok {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

func TestRedisSessionCache_FindByID_CachesAfterFirstLookup(t *testing.T) {
	inner := newMockSessionRepo()
	client := newFakeCacheClient()
	cache := NewRedisSessionCache(inner, client)
	ctx := context.Background()

	s := &model.Session{ID: "sess-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	inner.sessions[s.ID] = s

	for i := 0; i < 3; i++ {
		got, err := cache.FindByID(ctx, "sess-1")
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got == nil || got.UserID != "user-1" {
			t.Fatalf("FindByID() = %+v", got)
		}
	}

	if inner.findCalls != 1 {
		t.Errorf("inner FindByID calls = %d, want 1", inner.findCalls)
	}
	if ttl := client.ttls["session:sess-1"]; ttl <= 0 || ttl > time.Hour {
		t.Errorf("cache TTL = %v, want (0, 1h]", ttl)
	}
}

func TestRedisSessionCache_FindByID_FallsBackOnRedisError(t *testing.T) {
	inner := newMockSessionRepo()
	client := newFakeCacheClient()
	client.failGet = true
	cache := NewRedisSessionCache(inner, client)

	inner.sessions["sess-1"] = &model.Session{ID: "sess-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}

	got, err := cache.FindByID(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("expected session from inner repository")
	}
}

func TestRedisSessionCache_FindByID_MissingSession(t *testing.T) {
	cache := NewRedisSessionCache(newMockSessionRepo(), newFakeCacheClient())

	got, err := cache.FindByID(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("FindByID() = %+v, %v; want nil, nil", got, err)
	}
}

func TestRedisSessionCache_DeleteByID_Invalidates(t *testing.T) {
	inner := newMockSessionRepo()
	client := newFakeCacheClient()
	cache := NewRedisSessionCache(inner, client)
	ctx := context.Background()

	s := &model.Session{ID: "sess-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := cache.Create(ctx, s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := client.values["session:sess-1"]; !ok {
		t.Fatal("expected session to be cached on create")
	}

	if err := cache.DeleteByID(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteByID() error = %v", err)
	}
	if _, ok := client.values["session:sess-1"]; ok {
		t.Error("expected cache entry to be removed")
	}

	got, _ := cache.FindByID(ctx, "sess-1")
	if got != nil {
		t.Error("deleted session must not be returned")
	}
}

func TestRedisSessionCache_DeleteByUserID_InvalidatesAllSessions(t *testing.T) {
	inner := newMockSessionRepo()
	client := newFakeCacheClient()
	cache := NewRedisSessionCache(inner, client)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		cache.Create(ctx, &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)})
	}

	if err := cache.DeleteByUserID(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteByUserID() error = %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, ok := client.values["session:"+id]; ok {
			t.Errorf("session %s still cached", id)
		}
	}
	if _, ok := client.sets["user_sessions:user-1"]; ok {
		t.Error("user session index still present")
	}
}

func TestRedisSessionCache_IndexTTLNeverShrinks(t *testing.T) {
	inner := newMockSessionRepo()
	client := newFakeCacheClient()
	cache := NewRedisSessionCache(inner, client)
	ctx := context.Background()
	now := time.Now()

	if err := cache.Create(ctx, &model.Session{ID: "long", UserID: "user-1", ExpiresAt: now.Add(24 * time.Hour)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	inner.sessions["short"] = &model.Session{ID: "short", UserID: "user-1", ExpiresAt: now.Add(5 * time.Minute)}
	if _, err := cache.FindByID(ctx, "short"); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}

	indexTTL := client.ttls["user_sessions:user-1"]
	if longTTL := client.ttls["session:long"]; indexTTL < longTTL {
		t.Errorf("index TTL = %v, shorter than cached session TTL %v", indexTTL, longTTL)
	}

	if err := cache.DeleteByUserID(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteByUserID() error = %v", err)
	}
	for _, id := range []string{"long", "short"} {
		if _, ok := client.values["session:"+id]; ok {
			t.Errorf("session %s still cached after DeleteByUserID", id)
		}
		if got, _ := cache.FindByID(ctx, id); got != nil {
			t.Errorf("revoked session %s returned: %+v", id, got)
		}
	}
}

func TestRedisSessionCache_IndexWriteFailureSkipsCache(t *testing.T) {
	inner := newMockSessionRepo()
	client := newFakeCacheClient()
	client.failSAdd = true
	cache := NewRedisSessionCache(inner, client)
	ctx := context.Background()

	if err := cache.Create(ctx, &model.Session{ID: "sess-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := client.values["session:sess-1"]; ok {
		t.Error("session cached without being indexed")
	}
	if inner.sessions["sess-1"] == nil {
		t.Error("session should still be stored in the repository")
	}
}
