// Package storage は画像ファイルの保存先（Blob Storage）を提供する。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Uploader はBlob Storageへのアップロードを行い、公開URLを返す。
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error)
}

var (
	// ErrDisabled は保存先が設定されていない場合に返される。
	ErrDisabled = errors.New("blob storage is disabled")
	// ErrTooLarge はファイルサイズが上限を超えた場合に返される。
	ErrTooLarge = errors.New("file too large")
	// ErrNotImage は画像以外のファイルが渡された場合に返される。
	ErrNotImage = errors.New("file is not an image")
)

// DisabledUploader は常にErrDisabledを返すUploader。
type DisabledUploader struct{}

func (DisabledUploader) Upload(context.Context, string, string, string, io.Reader) (string, error) {
	return "", ErrDisabled
}

// Image は検証済みの画像データ。
type Image struct {
	Data        []byte
	ContentType string
	Ext         string // ".png" 等
}

// ReadImage はrから最大maxSizeバイトを読み込み、内容から画像形式を判定する。
// 拡張子やContent-Typeヘッダーは信用しない。
func ReadImage(r io.Reader, maxSize int64) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrNotImage
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, ErrNotImage
	}

	return &Image{Data: data, ContentType: mt.String(), Ext: mt.Extension()}, nil
}

// Reader は画像データのReaderを返す。
func (img *Image) Reader() io.Reader {
	return bytes.NewReader(img.Data)
}

// ObjectKey はユーザーごとに衝突しないオブジェクトキーを生成する。
func ObjectKey(userID, ext string) string {
	return fmt.Sprintf("%s-%s%s", userID, strings.ReplaceAll(uuid.NewString(), "-", "")[:12], ext)
}

// UploadObserver はアップロード1回ごとの結果と所要時間を受け取る。
type UploadObserver func(backend string, err error, d time.Duration)

type instrumentedUploader struct {
	next    Uploader
	backend string
	observe UploadObserver
}

// Instrument はuploaderの各呼び出しをobserveに通知するUploaderを返す。
func Instrument(uploader Uploader, backend string, observe UploadObserver) Uploader {
	if observe == nil {
		return uploader
	}
	return &instrumentedUploader{next: uploader, backend: backend, observe: observe}
}

func (u *instrumentedUploader) Upload(ctx context.Context, bucket, key, contentType string, r io.Reader) (string, error) {
	start := time.Now()
	url, err := u.next.Upload(ctx, bucket, key, contentType, r)
	u.observe(u.backend, err, time.Since(start))
	return url, err
}

// compile-time interface check
var (
	_ Uploader = DisabledUploader{}
	_ Uploader = (*instrumentedUploader)(nil)
)
