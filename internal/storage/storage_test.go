package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// 1x1の透過PNG
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// --- モック定義 ---

type mockUploader struct {
	uploadFn func(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error)
}

func (m *mockUploader) Upload(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, bucket, key, contentType, r)
	}
	return "https://cdn.example.com/" + bucket + "/" + key, nil
}

// allowAllGuard はテストサーバー（ループバック）への接続を許可するURLGuard。
type allowAllGuard struct {
	validateErr error
}

func (g allowAllGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (g allowAllGuard) ValidateURL(string) error { return g.validateErr }

func (g allowAllGuard) LocalRedirect(string) (string, bool) { return "", false }

// --- テスト ---

func TestReadImage_PNG(t *testing.T) {
	img, err := ReadImage(bytes.NewReader(pngBytes), 1024)
	if err != nil {
		t.Fatalf("ReadImage() error = %v", err)
	}
	if img.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", img.ContentType)
	}
	if img.Ext != ".png" {
		t.Errorf("Ext = %q, want .png", img.Ext)
	}
}

func TestReadImage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		maxSize int64
		want    error
	}{
		{"テキスト", []byte("hello, world"), 1024, ErrNotImage},
		{"空", nil, 1024, ErrNotImage},
		{"サイズ超過", pngBytes, 10, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadImage(bytes.NewReader(tt.data), tt.maxSize)
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadImage() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	a := ObjectKey("user-1", ".png")
	b := ObjectKey("user-1", ".png")

	if !strings.HasPrefix(a, "user-1-") || !strings.HasSuffix(a, ".png") {
		t.Errorf("ObjectKey() = %q", a)
	}
	if a == b {
		t.Error("ObjectKey() should be unique per call")
	}
}

func TestDisabledUploader(t *testing.T) {
	_, err := DisabledUploader{}.Upload(context.Background(), "b", "k", "image/png", bytes.NewReader(pngBytes))
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("error = %v, want ErrDisabled", err)
	}
}

func TestAvatarImporter_Import(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pngBytes)
	}))
	defer ts.Close()

	var gotBucket, gotKey, gotType string
	up := &mockUploader{uploadFn: func(_ context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
		gotBucket, gotKey, gotType = bucket, key, contentType
		data, _ := io.ReadAll(r)
		if !bytes.Equal(data, pngBytes) {
			t.Error("uploaded bytes differ from fetched image")
		}
		return "https://cdn.example.com/avatar.png", nil
	}}

	imp := NewAvatarImporter(allowAllGuard{}, up, "profile-photos", 1024)
	got, err := imp.Import(context.Background(), "user-1", ts.URL+"/photo")
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if got != "https://cdn.example.com/avatar.png" {
		t.Errorf("Import() = %q", got)
	}
	if gotBucket != "profile-photos" || gotType != "image/png" {
		t.Errorf("bucket = %q, type = %q", gotBucket, gotType)
	}
	if !strings.HasPrefix(gotKey, "user-1-") || !strings.HasSuffix(gotKey, ".png") {
		t.Errorf("key = %q", gotKey)
	}
}

func TestAvatarImporter_RefusedURL(t *testing.T) {
	up := &mockUploader{uploadFn: func(context.Context, string, string, string, io.Reader) (string, error) {
		t.Error("upload must not be called")
		return "", nil
	}}

	imp := NewAvatarImporter(allowAllGuard{validateErr: errors.New("blocked")}, up, "b", 1024)
	if _, err := imp.Import(context.Background(), "user-1", "http://169.254.169.254/"); err == nil {
		t.Error("expected error")
	}
}

func TestAvatarImporter_NonImageResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer ts.Close()

	imp := NewAvatarImporter(allowAllGuard{}, &mockUploader{}, "b", 1024)
	_, err := imp.Import(context.Background(), "user-1", ts.URL)
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("error = %v, want ErrNotImage", err)
	}
}

func TestAvatarImporter_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	imp := NewAvatarImporter(allowAllGuard{}, &mockUploader{}, "b", 1024)
	if _, err := imp.Import(context.Background(), "user-1", ts.URL); err == nil {
		t.Error("expected error for 404")
	}
}

func TestInstrument_ReportsResult(t *testing.T) {
	uploadErr := errors.New("quota exceeded")
	tests := []struct {
		name string
		err  error
	}{
		{"成功", nil},
		{"失敗", uploadErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBackend string
			var gotErr error
			calls := 0
			inner := &mockUploader{
				uploadFn: func(context.Context, string, string, string, io.Reader) (string, error) {
					if tt.err != nil {
						return "", tt.err
					}
					return "https://cdn.example.com/x.png", nil
				},
			}
			u := Instrument(inner, "gcs", func(backend string, err error, d time.Duration) {
				calls++
				gotBackend, gotErr = backend, err
				if d < 0 {
					t.Errorf("duration = %v", d)
				}
			})

			_, err := u.Upload(context.Background(), "bucket", "x.png", "image/png", bytes.NewReader(pngBytes))
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			if calls != 1 || gotBackend != "gcs" || !errors.Is(gotErr, tt.err) {
				t.Errorf("observer: calls=%d backend=%q err=%v", calls, gotBackend, gotErr)
			}
		})
	}
}

func TestInstrument_NilObserverReturnsUploader(t *testing.T) {
	inner := &mockUploader{}
	if got := Instrument(inner, "gcs", nil); got != Uploader(inner) {
		t.Error("nil observer should return the original uploader")
	}
}
