package templates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"certifica/issuance-backend/internal/render"
	apperrors "certifica/issuance-backend/pkg/errors"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	return db
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRepository(setupDB(t))
	resolver := NewResolver(repo)

	require.NoError(t, repo.Save(ctx, &Template{
		CompanyID:      7,
		BackgroundPath: "templates/7/bg.png",
		LegacyLogoPath: "templates/7/logo.png",
		Logos:          datatypes.JSON(`[{"path":"templates/7/partner.png","position":"trailing"}]`),
		Placements:     datatypes.JSON(`{"recipient":{"x":0.5,"y":0.45,"base_font_size":60,"reference_width":1920}}`),
		Title:          "Certificate of Completion",
		TitleColor:     "#112233",
		Available:      true,
	}))

	tpl, err := resolver.Resolve(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "templates/7/bg.png", tpl.BackgroundPath)
	assert.Equal(t, "Certificate of Completion", tpl.Title)
	require.Len(t, tpl.Logos, 1)
	assert.Equal(t, render.LogoTrailing, tpl.Logos[0].Position)
	assert.Equal(t, 60.0, tpl.Placements[render.ElementRecipient].BaseFontSize)

	// legacy logo is still drawn alongside the tagged one
	assert.Len(t, render.EffectiveLogos(tpl), 2)
}

func TestResolveMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRepository(setupDB(t))
	resolver := NewResolver(repo)

	_, err := resolver.Resolve(ctx, 1)
	assert.True(t, apperrors.Is(err, apperrors.CodeTemplateMissing))

	require.NoError(t, repo.Save(ctx, &Template{CompanyID: 2, Available: true}))
	_, err = resolver.Resolve(ctx, 2)
	assert.True(t, apperrors.Is(err, apperrors.CodeTemplateMissing), "no background")

	require.NoError(t, repo.Save(ctx, &Template{CompanyID: 3, BackgroundPath: "bg.png"}))
	_, err = resolver.Resolve(ctx, 3)
	assert.True(t, apperrors.Is(err, apperrors.CodeTemplateMissing), "not available")
}

func TestResolveInvalidJSON(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRepository(setupDB(t))

	require.NoError(t, repo.Save(ctx, &Template{
		CompanyID:      4,
		BackgroundPath: "bg.png",
		Placements:     datatypes.JSON(`["not","a","map"]`),
		Available:      true,
	}))

	_, err := NewResolver(repo).Resolve(ctx, 4)
	assert.True(t, apperrors.Is(err, apperrors.CodeTemplateInvalid))
}

func TestSaveReplacesExisting(t *testing.T) {
	ctx := context.Background()
	repo := NewGormRepository(setupDB(t))

	require.NoError(t, repo.Save(ctx, &Template{CompanyID: 5, BackgroundPath: "old.png", Available: true}))
	require.NoError(t, repo.Save(ctx, &Template{CompanyID: 5, BackgroundPath: "new.png", Available: true}))

	got, err := repo.GetByCompany(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "new.png", got.BackgroundPath)
}
