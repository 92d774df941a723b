package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"certifica/issuance-backend/internal/layout"
	"certifica/issuance-backend/internal/render"
	apperrors "certifica/issuance-backend/pkg/errors"
)

// Repository loads and saves templates.
type Repository interface {
	GetByCompany(ctx context.Context, companyID int64) (*Template, error)
	Save(ctx context.Context, t *Template) error
}

// GormRepository implements Repository with gorm.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new template repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// GetByCompany returns the company's template or a NOT_FOUND error.
func (r *GormRepository) GetByCompany(ctx context.Context, companyID int64) (*Template, error) {
	var t Template
	err := r.db.WithContext(ctx).Where("company_id = ?", companyID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, "no template for company %d", companyID)
		}
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	return &t, nil
}

// Save inserts or replaces the company's template.
func (r *GormRepository) Save(ctx context.Context, t *Template) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "company_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"background_path", "legacy_logo_path", "logos", "placements",
			"title", "title_color", "text_color", "available", "updated_at",
		}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

// =====================================================
// Resolver
// =====================================================

// Resolver turns stored templates into render templates.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver over repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the company's render template. A company without a usable
// background gets TEMPLATE_MISSING; undecodable logo or placement data gets
// TEMPLATE_INVALID.
func (r *Resolver) Resolve(ctx context.Context, companyID int64) (render.Template, error) {
	stored, err := r.repo.GetByCompany(ctx, companyID)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return render.Template{}, apperrors.New(apperrors.CodeTemplateMissing, "company %d has no template", companyID)
		}
		return render.Template{}, err
	}
	if !stored.Available || strings.TrimSpace(stored.BackgroundPath) == "" {
		return render.Template{}, apperrors.New(apperrors.CodeTemplateMissing, "company %d has no template background", companyID)
	}

	t := render.Template{
		BackgroundPath: stored.BackgroundPath,
		LegacyLogoPath: stored.LegacyLogoPath,
		Title:          stored.Title,
		TitleColor:     stored.TitleColor,
		TextColor:      stored.TextColor,
	}

	if len(stored.Logos) > 0 {
		if err := json.Unmarshal(stored.Logos, &t.Logos); err != nil {
			return render.Template{}, apperrors.Wrap(apperrors.CodeTemplateInvalid, err, "logos of company %d", companyID)
		}
	}
	if len(stored.Placements) > 0 {
		placements := map[string]layout.Placement{}
		if err := json.Unmarshal(stored.Placements, &placements); err != nil {
			return render.Template{}, apperrors.Wrap(apperrors.CodeTemplateInvalid, err, "placements of company %d", companyID)
		}
		t.Placements = placements
	}

	return t, nil
}
