package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/creatorlink/internal/security"
)

const avatarFetchTimeout = 10 * time.Second

// AvatarImporter はOAuthプロバイダーのアバター画像を取得し、自前のBlob Storageへ複製する。
type AvatarImporter struct {
	guard    security.URLGuard
	client   *http.Client
	uploader Uploader
	bucket   string
	maxSize  int64
}

// NewAvatarImporter はAvatarImporterを生成する。
func NewAvatarImporter(guard security.URLGuard, uploader Uploader, bucket string, maxSize int64) *AvatarImporter {
	return &AvatarImporter{
		guard:    guard,
		client:   guard.NewSafeClient(avatarFetchTimeout),
		uploader: uploader,
		bucket:   bucket,
		maxSize:  maxSize,
	}
}

// Import はavatarURLの画像を取得して保存し、保存先の公開URLを返す。
func (a *AvatarImporter) Import(ctx context.Context, userID, avatarURL string) (string, error) {
	if err := a.guard.ValidateURL(avatarURL); err != nil {
		return "", fmt.Errorf("refused avatar URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create avatar request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("avatar fetch returned status %d", resp.StatusCode)
	}

	img, err := ReadImage(resp.Body, a.maxSize)
	if err != nil {
		return "", err
	}

	return a.uploader.Upload(ctx, a.bucket, ObjectKey(userID, img.Ext), img.ContentType, img.Reader())
}
