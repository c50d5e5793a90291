package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSUploader はGoogle Cloud Storageに画像を保存する。
type GCSUploader struct {
	client *gcs.Client
	// bucketOverride が空でなければ、呼び出し側のバケット名の代わりに使う
	bucketOverride string
}

// NewGCSUploader はGCSUploaderを生成する。
// credentialsFileが空の場合はApplication Default Credentialsを使う。
func NewGCSUploader(ctx context.Context, bucketOverride, credentialsFile string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSUploader{client: c, bucketOverride: bucketOverride}, nil
}

// Close はクライアントを閉じる。
func (u *GCSUploader) Close() error { return u.client.Close() }

// Upload はオブジェクトを書き込み、全ユーザーに読み取りを許可して公開URLを返す。
func (u *GCSUploader) Upload(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
	if u.bucketOverride != "" {
		bucket = u.bucketOverride
	}
	obj := u.client.Bucket(bucket).Object(key)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	if err := obj.ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
		return "", fmt.Errorf("failed to make object public: %w", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key), nil
}

// compile-time interface check
var _ Uploader = (*GCSUploader)(nil)
