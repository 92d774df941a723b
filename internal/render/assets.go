package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/webp"

	apperrors "certifica/issuance-backend/pkg/errors"
	"certifica/issuance-backend/pkg/storage"
)

// Asset is a decoded-enough image: its bytes in a format both backends can
// embed plus its pixel dimensions.
type Asset struct {
	Key    string
	Format string // png, jpeg or gif
	Data   []byte
	Width  int
	Height int
}

// AssetLoader loads template and signature images by storage key.
type AssetLoader interface {
	Load(ctx context.Context, key string) (*Asset, error)
}

// StorageLoader loads assets from object storage.
type StorageLoader struct {
	client storage.Client
}

// NewStorageLoader creates an AssetLoader over client.
func NewStorageLoader(client storage.Client) *StorageLoader {
	return &StorageLoader{client: client}
}

// Load downloads and inspects the image at key. A missing object yields an
// ASSET_MISSING error, an undecodable one TEMPLATE_INVALID and any other
// storage failure RENDER_FAILURE.
func (l *StorageLoader) Load(ctx context.Context, key string) (*Asset, error) {
	rc, err := l.client.Download(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeAssetMissing, err, "asset %s not found", key)
		}
		return nil, apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to download asset %s", key)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to read asset %s", key)
	}
	return DecodeAsset(key, data)
}

// DecodeAsset reads the dimensions of data. WebP images are transcoded to PNG
// because the PDF backend only embeds PNG, JPEG and GIF.
func DecodeAsset(key string, data []byte) (*Asset, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTemplateInvalid, err, "asset %s is not a supported image", key)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperrors.New(apperrors.CodeTemplateInvalid, "asset %s has dimensions %dx%d", key, cfg.Width, cfg.Height)
	}

	if format == "webp" {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeTemplateInvalid, err, "failed to decode asset %s", key)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to transcode asset %s: %w", key, err)
		}
		data, format = buf.Bytes(), "png"
	}

	return &Asset{Key: key, Format: format, Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}
