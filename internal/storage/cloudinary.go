package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryUploader はCloudinaryに画像を保存する。
// バケットはフォルダとして扱う。
type CloudinaryUploader struct {
	cld *cloudinary.Cloudinary
}

// NewCloudinaryUploader はCloudinaryUploaderを生成する。
func NewCloudinaryUploader(cloudName, apiKey, apiSecret string) (*CloudinaryUploader, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}
	return &CloudinaryUploader{cld: cld}, nil
}

// Upload は画像をアップロードし、HTTPSの公開URLを返す。
func (u *CloudinaryUploader) Upload(ctx context.Context, bucket, key, _ string, r io.Reader) (string, error) {
	res, err := u.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       bucket,
		PublicID:     strings.TrimSuffix(key, path.Ext(key)),
		ResourceType: "image",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}
	if res.Error.Message != "" {
		return "", fmt.Errorf("failed to upload to Cloudinary: %s", res.Error.Message)
	}
	return res.SecureURL, nil
}

// compile-time interface check
var _ Uploader = (*CloudinaryUploader)(nil)
