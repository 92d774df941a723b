package render

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certifica/issuance-backend/internal/layout"
	apperrors "certifica/issuance-backend/pkg/errors"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func asset(key string, w, h int) *Asset {
	return &Asset{Key: key, Format: "png", Width: w, Height: h}
}

func TestPrepareBody(t *testing.T) {
	short := strings.Repeat("a", 200)
	b := PrepareBody(short)
	assert.Equal(t, short, b.Text)
	assert.Equal(t, BodyStandard, b.Style)
	assert.False(t, b.Truncated)

	b = PrepareBody(strings.Repeat("a", 201))
	assert.Equal(t, BodyLong, b.Style)

	exact := strings.Repeat("b", 300)
	b = PrepareBody(exact)
	assert.Equal(t, exact, b.Text)
	assert.Equal(t, BodyLong, b.Style)
}

func TestPrepareBodyTruncatesAt300(t *testing.T) {
	input := strings.Repeat("x", 300) + "y"

	b := PrepareBody(input)
	assert.Equal(t, input[:300]+"...", b.Text)
	assert.Len(t, b.Text, 303)
	assert.True(t, b.Truncated)
	assert.Equal(t, BodyLong, b.Style)
}

func TestPrepareBodyCountsCharacters(t *testing.T) {
	// 250 two-byte characters are 500 bytes but only 250 characters
	input := strings.Repeat("é", 250)
	b := PrepareBody(input)
	assert.Equal(t, input, b.Text)
	assert.False(t, b.Truncated)

	b = PrepareBody(strings.Repeat("ñ", 310))
	assert.Equal(t, strings.Repeat("ñ", 300)+"...", b.Text)
}

func TestBodyStyleFont(t *testing.T) {
	assert.Equal(t, 22.0, BodyStandard.FontSize(22))
	assert.Equal(t, 19.0, BodyLong.FontSize(22))
	assert.Equal(t, float64(layout.MinFontSize), BodyLong.FontSize(10))
	assert.Less(t, BodyLong.LineSpacing(), BodyStandard.LineSpacing())
}

func TestEffectiveLogos(t *testing.T) {
	tpl := Template{
		LegacyLogoPath: "legacy.png",
		Logos:          []Logo{{Path: "a.png", Position: LogoTrailing}},
	}
	assert.Equal(t, []Logo{
		{Path: "legacy.png", Position: LogoLeading},
		{Path: "a.png", Position: LogoTrailing},
	}, EffectiveLogos(tpl))

	// legacy path already among the logos is not drawn twice
	tpl.Logos = append(tpl.Logos, Logo{Path: "legacy.png", Position: LogoCenteredTop})
	logos := EffectiveLogos(tpl)
	assert.Len(t, logos, 2)
	assert.Equal(t, LogoCenteredTop, logos[1].Position)

	tpl = Template{
		LegacyLogoPath: "legacy.png",
		Logos: []Logo{
			{Path: "a.png", Position: "sideways"},
			{Path: "b.png", Position: LogoTrailing},
			{Path: "c.png", Position: LogoTrailing},
		},
	}
	logos = EffectiveLogos(tpl)
	require.Len(t, logos, MaxLogos)
	assert.Equal(t, "legacy.png", logos[0].Path)
	assert.Equal(t, LogoLeading, logos[1].Position)
}

func TestBuildPlanSignatureRow(t *testing.T) {
	bg := asset("bg", 1920, 1080)

	for n := 1; n <= MaxSignatures; n++ {
		doc := Document{RecipientName: "A"}
		for i := 0; i < n; i++ {
			doc.Signatures = append(doc.Signatures, SignatureBlock{Name: "Signer", Role: "Role"})
		}

		plan, err := BuildPlan(doc, Assets{Background: bg})
		require.NoError(t, err)
		require.Len(t, plan.Lines, n)

		sum := 0.0
		for i, line := range plan.Lines {
			assert.Equal(t, 896.0, line.Y1, "row must not move with the signer count")
			center := (line.X1 + line.X2) / 2
			sum += center
			if i > 0 {
				prev := (plan.Lines[i-1].X1 + plan.Lines[i-1].X2) / 2
				assert.InDelta(t, 480.0, center-prev, 1e-9)
			}
		}
		assert.InDelta(t, 960.0, sum/float64(n), 1e-9)
	}
}

func TestBuildPlanRejectsTooManySignatures(t *testing.T) {
	doc := Document{Signatures: make([]SignatureBlock, 4)}
	_, err := BuildPlan(doc, Assets{Background: asset("bg", 100, 100)})
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
}

func TestBuildPlanTemplateErrors(t *testing.T) {
	_, err := BuildPlan(Document{}, Assets{})
	assert.True(t, apperrors.Is(err, apperrors.CodeTemplateMissing))

	_, err = BuildPlan(Document{}, Assets{Background: asset("bg", 0, 100)})
	assert.True(t, apperrors.Is(err, apperrors.CodeTemplateInvalid))
}

func TestBuildPlanScalesWithTemplate(t *testing.T) {
	doc := Document{Title: "Title", RecipientName: "Ana", BodyText: strings.Repeat("w ", 150) + "end"}

	small, err := BuildPlan(doc, Assets{Background: asset("bg", 960, 540)})
	require.NoError(t, err)
	large, err := BuildPlan(doc, Assets{Background: asset("bg", 1920, 1080)})
	require.NoError(t, err)

	st, _ := small.TextByElement(ElementTitle)
	lt, _ := large.TextByElement(ElementTitle)
	assert.Equal(t, 32.0, st.FontSize)
	assert.Equal(t, 64.0, lt.FontSize)
	assert.Equal(t, 480.0, st.X)
	assert.Equal(t, 960.0, lt.X)

	body, ok := large.TextByElement(ElementBody)
	require.True(t, ok)
	assert.Equal(t, BodyLong, large.Body.Style)
	assert.Equal(t, 19.0, body.FontSize)
	assert.InDelta(t, 1344.0, body.MaxWidth, 1e-6)
}

func TestBuildPlanUsesTemplatePlacements(t *testing.T) {
	doc := Document{
		RecipientName: "Ana",
		Template: Template{Placements: map[string]layout.Placement{
			ElementRecipient: {X: 0.25, Y: 0.5, BaseFontSize: 40, ReferenceWidth: 1000},
		}},
	}
	plan, err := BuildPlan(doc, Assets{Background: asset("bg", 2000, 1000)})
	require.NoError(t, err)

	op, ok := plan.TextByElement(ElementRecipient)
	require.True(t, ok)
	assert.Equal(t, 500.0, op.X)
	assert.Equal(t, 500.0, op.Y)
	assert.Equal(t, 80.0, op.FontSize)
}

func TestBuildPlanTitleFallsBackToTemplate(t *testing.T) {
	doc := Document{Template: Template{Title: "Certificate of Attendance"}}
	plan, err := BuildPlan(doc, Assets{Background: asset("bg", 1920, 1080)})
	require.NoError(t, err)

	op, ok := plan.TextByElement(ElementTitle)
	require.True(t, ok)
	assert.Equal(t, "Certificate of Attendance", op.Text)

	doc.Title = "Diploma"
	plan, err = BuildPlan(doc, Assets{Background: asset("bg", 1920, 1080)})
	require.NoError(t, err)
	op, _ = plan.TextByElement(ElementTitle)
	assert.Equal(t, "Diploma", op.Text)
}

func TestBuildPlanLogoPositions(t *testing.T) {
	bg := asset("bg", 1920, 1080)
	plan, err := BuildPlan(Document{}, Assets{
		Background: bg,
		Logos: []PlacedLogo{
			{Logo: Logo{Position: LogoLeading}, Asset: asset("l", 200, 100)},
			{Logo: Logo{Position: LogoTrailing}, Asset: asset("t", 100, 100)},
			{Logo: Logo{Position: LogoCenteredTop}, Asset: asset("c", 300, 100)},
		},
	})
	require.NoError(t, err)
	require.Len(t, plan.Images, 3)

	lead, trail, center := plan.Images[0], plan.Images[1], plan.Images[2]
	assert.Equal(t, 60.0, lead.X)
	assert.Equal(t, 240.0, lead.Width)
	assert.Equal(t, 1920.0-60-120, trail.X)
	assert.InDelta(t, 960.0, center.X+center.Width/2, 1e-9)
	for _, img := range plan.Images {
		assert.Equal(t, 60.0, img.Y)
		assert.Equal(t, 120.0, img.Height)
	}
}

func TestParseColor(t *testing.T) {
	assert.Equal(t, Color{R: 0xff, G: 0x00, B: 0x88}, ParseColor("#ff0088", DefaultTextColor))
	assert.Equal(t, Color{R: 0xaa, G: 0xbb, B: 0xcc}, ParseColor("abc", DefaultTextColor))
	assert.Equal(t, DefaultTextColor, ParseColor("nope", DefaultTextColor))
}
