package render

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"

	apperrors "certifica/issuance-backend/pkg/errors"
	"certifica/issuance-backend/pkg/storage"
)

// Output is one rendered document.
type Output struct {
	Data        []byte
	Format      string
	ContentType string
	Plan        *Plan
}

// Renderer loads a document's assets, lays it out and draws it.
type Renderer struct {
	assets  AssetLoader
	backend Backend
	logger  *zap.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(assets AssetLoader, backend Backend, logger *zap.Logger) *Renderer {
	return &Renderer{
		assets:  assets,
		backend: backend,
		logger:  logger,
	}
}

// Format returns the extension of rendered documents.
func (r *Renderer) Format() string {
	return r.backend.Format()
}

// Render produces one document. A missing background fails with
// TEMPLATE_MISSING, a corrupt one with TEMPLATE_INVALID. Missing or
// undecodable logos and signature images are logged and left out; any other
// load failure aborts the render with RENDER_FAILURE.
func (r *Renderer) Render(ctx context.Context, doc Document) (*Output, error) {
	assets, err := r.loadAssets(ctx, doc)
	if err != nil {
		return nil, err
	}

	plan, err := BuildPlan(doc, assets)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := r.backend.Draw(plan, &buf); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to draw certificate %s", doc.Code)
	}

	return &Output{
		Data:        buf.Bytes(),
		Format:      r.backend.Format(),
		ContentType: storage.ContentType(r.backend.Format()),
		Plan:        plan,
	}, nil
}

// Refresh drops the background and logos of tpl from the asset cache, if the
// loader caches, so the next render reads them from storage again.
func (r *Renderer) Refresh(tpl Template) {
	inv, ok := r.assets.(Invalidator)
	if !ok {
		return
	}
	if bg := strings.TrimSpace(tpl.BackgroundPath); bg != "" {
		inv.Invalidate(bg)
	}
	for _, logo := range EffectiveLogos(tpl) {
		inv.Invalidate(logo.Path)
	}
}

func (r *Renderer) loadAssets(ctx context.Context, doc Document) (Assets, error) {
	var assets Assets

	bgPath := strings.TrimSpace(doc.Template.BackgroundPath)
	if bgPath == "" {
		return assets, apperrors.New(apperrors.CodeTemplateMissing, "no background configured")
	}
	bg, err := r.assets.Load(ctx, bgPath)
	if err != nil {
		switch {
		case apperrors.Is(err, apperrors.CodeAssetMissing):
			return assets, apperrors.Wrap(apperrors.CodeTemplateMissing, err, "background %s unavailable", bgPath)
		case apperrors.Is(err, apperrors.CodeTemplateInvalid):
			return assets, apperrors.Wrap(apperrors.CodeTemplateInvalid, err, "background %s unusable", bgPath)
		default:
			return assets, apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to load background %s", bgPath)
		}
	}
	assets.Background = bg

	for _, logo := range EffectiveLogos(doc.Template) {
		a, err := r.assets.Load(ctx, logo.Path)
		if err != nil {
			if !omittable(err) {
				return assets, apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to load logo %s", logo.Path)
			}
			r.logger.Warn("Logo missing, omitting",
				zap.String("code", doc.Code),
				zap.String("path", logo.Path),
				zap.Error(err),
			)
			continue
		}
		assets.Logos = append(assets.Logos, PlacedLogo{Logo: logo, Asset: a})
	}

	assets.Signatures = make([]*Asset, len(doc.Signatures))
	for i, sig := range doc.Signatures {
		if strings.TrimSpace(sig.ImagePath) == "" {
			continue
		}
		a, err := r.assets.Load(ctx, sig.ImagePath)
		if err != nil {
			if !omittable(err) {
				return assets, apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to load signature image %s", sig.ImagePath)
			}
			r.logger.Warn("Signature image missing, omitting",
				zap.String("code", doc.Code),
				zap.String("path", sig.ImagePath),
				zap.Error(err),
			)
			continue
		}
		assets.Signatures[i] = a
	}

	if len(doc.ScannableCode) > 0 {
		qr, err := DecodeAsset("qr:"+doc.Code, doc.ScannableCode)
		if err != nil {
			return assets, apperrors.Wrap(apperrors.CodeRenderFailure, err, "invalid scannable code image")
		}
		assets.QR = qr
	}

	return assets, nil
}

// omittable reports whether a decoration can be left out instead of failing
// the render. Transient storage errors are not.
func omittable(err error) bool {
	return apperrors.Is(err, apperrors.CodeAssetMissing) || apperrors.Is(err, apperrors.CodeTemplateInvalid)
}
