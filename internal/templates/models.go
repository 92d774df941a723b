// Package templates stores each company's certificate template and resolves it
// into the form the renderer consumes.
package templates

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Template is the stored visual configuration of one company.
type Template struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	CompanyID      int64          `json:"company_id" gorm:"not null;uniqueIndex"`
	BackgroundPath string         `json:"background_path"`
	LegacyLogoPath string         `json:"legacy_logo_path"`
	Logos          datatypes.JSON `json:"logos"`
	Placements     datatypes.JSON `json:"placements"`
	Title          string         `json:"title"`
	TitleColor     string         `json:"title_color" gorm:"size:16"`
	TextColor      string         `json:"text_color" gorm:"size:16"`
	Available      bool           `json:"available" gorm:"not null"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName specifies the table name
func (Template) TableName() string {
	return "certificate_templates"
}

func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Migrate creates or updates the template table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Template{})
}
