package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "certifica/issuance-backend/pkg/errors"
)

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 240, G: 236, B: 220, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type memoryLoader struct {
	files map[string][]byte
	calls map[string]int
}

func newMemoryLoader() *memoryLoader {
	return &memoryLoader{files: map[string][]byte{}, calls: map[string]int{}}
}

func (l *memoryLoader) Load(ctx context.Context, key string) (*Asset, error) {
	l.calls[key]++
	data, ok := l.files[key]
	if !ok {
		return nil, apperrors.New(apperrors.CodeAssetMissing, "asset %s not found", key)
	}
	return DecodeAsset(key, data)
}

func sampleDocument() Document {
	return Document{
		Template: Template{
			BackgroundPath: "bg.png",
			Logos: []Logo{
				{Path: "logo-a.png", Position: LogoLeading},
				{Path: "logo-b.png", Position: LogoTrailing},
			},
		},
		Title:         "Certificate of Completion",
		RecipientName: "José Pérez",
		BodyText:      "For completing the advanced welding safety program.",
		CourseName:    "Welding Safety",
		FormattedDate: "March 3, 2025",
		Hours:         "40 hours",
		Code:          "CERT-7-1717171717171-ABC123",
		Signatures: []SignatureBlock{
			{Name: "Ana Ruiz", Role: "Director", ImagePath: "sig-1.png"},
			{Name: "Luis Gómez", Role: "Instructor", ImagePath: "sig-missing.png"},
		},
	}
}

func sampleLoader(t *testing.T) *memoryLoader {
	l := newMemoryLoader()
	l.files["bg.png"] = pngFixture(t, 384, 216)
	l.files["logo-a.png"] = pngFixture(t, 40, 20)
	l.files["logo-b.png"] = pngFixture(t, 20, 20)
	l.files["sig-1.png"] = pngFixture(t, 60, 20)
	return l
}

func TestRenderPDF(t *testing.T) {
	doc := sampleDocument()
	qr, err := EncodeQR(VerificationURL("https://verify.example.com/", doc.Code), 64)
	require.NoError(t, err)
	doc.ScannableCode = qr

	r := NewRenderer(sampleLoader(t), NewPDFBackend(DefaultPDFOptions()), zap.NewNop())
	out, err := r.Render(context.Background(), doc)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out.Data, []byte("%PDF")))
	assert.Equal(t, "pdf", out.Format)
	assert.Equal(t, "application/pdf", out.ContentType)
	assert.Equal(t, 384, out.Plan.Width)
}

func TestRenderPDFEmbedsUnicodeFont(t *testing.T) {
	doc := sampleDocument()
	doc.RecipientName = "Łukasz Żółć Ψυχή Дмитрий"

	r := NewRenderer(sampleLoader(t), NewPDFBackend(DefaultPDFOptions()), zap.NewNop())
	out, err := r.Render(context.Background(), doc)
	require.NoError(t, err)

	assert.Contains(t, string(out.Data), "/Subtype /Type0")
	assert.Contains(t, string(out.Data), "/Encoding /Identity-H")
}

func TestRenderPDFWithCoreFont(t *testing.T) {
	opts := DefaultPDFOptions()
	opts.FontFamily = "Helvetica"

	r := NewRenderer(sampleLoader(t), NewPDFBackend(opts), zap.NewNop())
	out, err := r.Render(context.Background(), sampleDocument())
	require.NoError(t, err)

	assert.Contains(t, string(out.Data), "/BaseFont /Helvetica")
	assert.NotContains(t, string(out.Data), "/Subtype /Type0")
}

func TestRenderPNG(t *testing.T) {
	backend, err := NewPNGBackend()
	require.NoError(t, err)
	defer backend.Close()

	r := NewRenderer(sampleLoader(t), backend, zap.NewNop())
	out, err := r.Render(context.Background(), sampleDocument())
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 384, cfg.Width)
	assert.Equal(t, 216, cfg.Height)
}

func TestRenderOmitsMissingAssets(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	doc := sampleDocument()
	doc.Template.Logos = append(doc.Template.Logos, Logo{Path: "gone.png", Position: LogoCenteredTop})

	r := NewRenderer(sampleLoader(t), NewPDFBackend(DefaultPDFOptions()), zap.New(core))
	out, err := r.Render(context.Background(), doc)
	require.NoError(t, err)

	logos, signatures := 0, 0
	for _, img := range out.Plan.Images {
		switch img.Element {
		case "logo":
			logos++
		case "signature":
			signatures++
		}
	}
	assert.Equal(t, 2, logos)
	assert.Equal(t, 1, signatures)
	// both signers still get a line
	assert.Len(t, out.Plan.Lines, 2)
	assert.Equal(t, 2, logs.Len())
}

func TestRenderBackgroundFailures(t *testing.T) {
	loader := sampleLoader(t)
	loader.files["corrupt.png"] = []byte("not an image")
	r := NewRenderer(loader, NewPDFBackend(DefaultPDFOptions()), zap.NewNop())

	tests := []struct {
		name       string
		background string
		code       apperrors.Code
	}{
		{"not configured", "", apperrors.CodeTemplateMissing},
		{"object missing", "nowhere.png", apperrors.CodeTemplateMissing},
		{"corrupt", "corrupt.png", apperrors.CodeTemplateInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDocument()
			doc.Template.BackgroundPath = tt.background
			_, err := r.Render(context.Background(), doc)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code), err.Error())
		})
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewRenderer(sampleLoader(t), NewPDFBackend(DefaultPDFOptions()), zap.NewNop())

	first, err := r.Render(context.Background(), sampleDocument())
	require.NoError(t, err)
	second, err := r.Render(context.Background(), sampleDocument())
	require.NoError(t, err)

	assert.Equal(t, first.Plan, second.Plan)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, "7/individual/CERT-7-1-ABCDEF.pdf", OutputPath(7, nil, "CERT-7-1-ABCDEF", "pdf"))

	doc := sampleDocument()
	lot := mustUUID(t, "9f0c3a8e-8d5b-4c0e-9a57-2f7d4f1f5b11")
	assert.Equal(t, "7/9f0c3a8e-8d5b-4c0e-9a57-2f7d4f1f5b11/"+doc.Code+".png", OutputPath(7, &lot, doc.Code, ".png"))
}

func TestEncodeQR(t *testing.T) {
	data, err := EncodeQR("https://verify.example.com/CERT-7-1-ABCDEF", 128)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 128, cfg.Width)
}

func TestVerificationURL(t *testing.T) {
	assert.Equal(t, "https://x.test/verify/C", VerificationURL("https://x.test/verify/", "C"))
	assert.False(t, strings.Contains(VerificationURL("https://x.test//", "C"), "//C"))
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("")
	require.NoError(t, err)
	assert.Equal(t, "pdf", b.Format())

	b, err = NewBackend("PNG")
	require.NoError(t, err)
	assert.Equal(t, "png", b.Format())

	_, err = NewBackend("svg")
	assert.Error(t, err)
}
