package certificates

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the lifecycle state of an issued certificate.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// FailurePolicy decides what a lot regeneration does after one certificate fails.
type FailurePolicy string

const (
	PolicyContinue FailurePolicy = "continue"
	PolicyStop     FailurePolicy = "stop"
)

// Participant is a person certificates are issued to. At most one participant
// exists per (company, document number); participants without a document
// number are never deduplicated.
type Participant struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID      int64     `gorm:"not null;uniqueIndex:idx_participants_company_document,priority:1" json:"company_id"`
	DocumentType   string    `gorm:"size:20" json:"document_type"`
	DocumentNumber *string   `gorm:"size:64;uniqueIndex:idx_participants_company_document,priority:2" json:"document_number,omitempty"`
	GivenNames     string    `gorm:"size:255" json:"given_names"`
	FamilyNames    string    `gorm:"size:255" json:"family_names"`
	Email          string    `gorm:"size:255" json:"email,omitempty"`
	Phone          string    `gorm:"size:50" json:"phone,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Course is unique per (company, name).
type Course struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID int64     `gorm:"not null;uniqueIndex:idx_courses_company_name,priority:1" json:"company_id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_courses_company_name,priority:2" json:"name"`
	Hours     string    `gorm:"size:20" json:"hours,omitempty"`
	Modality  string    `gorm:"size:50" json:"modality,omitempty"`
	StartDate string    `gorm:"size:30" json:"start_date,omitempty"`
	EndDate   string    `gorm:"size:30" json:"end_date,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lot groups the certificates generated by one batch.
type Lot struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID      int64     `gorm:"not null;index" json:"company_id"`
	Name           string    `gorm:"size:255" json:"name"`
	Title          string    `gorm:"size:255" json:"title"`
	StaticBodyText string    `gorm:"type:text" json:"static_body_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Signature is a signer configured by a company.
type Signature struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID int64     `gorm:"not null;index" json:"company_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Role      string    `gorm:"size:255" json:"role"`
	ImagePath string    `gorm:"size:500" json:"image_path"`
	CreatedAt time.Time `json:"created_at"`
}

// Certificate is one issued document. Code is assigned once and never changes.
type Certificate struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Code          string     `gorm:"size:64;not null;uniqueIndex" json:"code"`
	CompanyID     int64      `gorm:"not null;index" json:"company_id"`
	ParticipantID *uuid.UUID `gorm:"type:uuid;index" json:"participant_id"`
	CourseID      *uuid.UUID `gorm:"type:uuid;index" json:"course_id"`
	LotID         *uuid.UUID `gorm:"type:uuid;index" json:"lot_id"`
	FileKey       string     `gorm:"size:500;not null" json:"file_key"`
	FileURL       string     `gorm:"size:1000" json:"file_url"`
	// DisplayNameOverride, when set, is printed instead of the name computed
	// from the field snapshot, on every regeneration until cleared.
	DisplayNameOverride *string   `gorm:"size:255" json:"display_name_override,omitempty"`
	Status              Status    `gorm:"size:20;not null;default:'active'" json:"status"`
	IssuedAt            time.Time `gorm:"not null" json:"issued_at"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Participant *Participant           `gorm:"foreignKey:ParticipantID" json:"participant,omitempty"`
	Course      *Course                `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Fields      []CertificateField     `gorm:"foreignKey:CertificateID" json:"fields,omitempty"`
	Signatures  []CertificateSignature `gorm:"foreignKey:CertificateID" json:"signatures,omitempty"`
}

// CertificateField is one value of the raw mapped row a certificate was issued from.
type CertificateField struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	CertificateID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_certificate_fields_name,priority:1" json:"-"`
	FieldName     string    `gorm:"size:64;not null;uniqueIndex:idx_certificate_fields_name,priority:2" json:"field_name"`
	FieldValue    string    `gorm:"type:text" json:"field_value"`
}

// CertificateSignature places a signature on a certificate at a 1-based position.
type CertificateSignature struct {
	CertificateID uuid.UUID  `gorm:"type:uuid;primaryKey" json:"-"`
	Order         int        `gorm:"column:sort_order;primaryKey;autoIncrement:false" json:"order"`
	SignatureID   uuid.UUID  `gorm:"type:uuid;not null" json:"signature_id"`
	Signature     *Signature `gorm:"foreignKey:SignatureID" json:"signature,omitempty"`
}

// RegenerationJob is a queued lot regeneration processed by the worker.
type RegenerationJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CompanyID   int64          `gorm:"not null;index" json:"company_id"`
	LotID       uuid.UUID      `gorm:"type:uuid;not null" json:"lot_id"`
	Status      string         `gorm:"size:20;not null;index" json:"status"`
	Succeeded   int            `json:"succeeded"`
	Total       int            `json:"total"`
	Failures    datatypes.JSON `json:"failures,omitempty"`
	LastError   string         `gorm:"type:text" json:"error,omitempty"`
	RequestedAt time.Time      `gorm:"not null" json:"requested_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (l *Lot) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

func (s *Signature) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	return nil
}

func (f *CertificateField) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

func (j *RegenerationJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// FieldMap returns the field snapshot keyed by field name.
func (c *Certificate) FieldMap() map[string]string {
	fields := make(map[string]string, len(c.Fields))
	for _, f := range c.Fields {
		fields[f.FieldName] = f.FieldValue
	}
	return fields
}

// Migrate creates or updates the tables of this package.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Participant{},
		&Course{},
		&Lot{},
		&Signature{},
		&Certificate{},
		&CertificateField{},
		&CertificateSignature{},
		&RegenerationJob{},
	)
}

// =====================================================
// Requests and responses
// =====================================================

// BatchRequest issues one certificate per row into a new lot.
type BatchRequest struct {
	CompanyID int64  `json:"-"`
	LotName   string `json:"lot_name"`
	Title     string `json:"title"`
	// BodyText is the lot's static body text, reused on regeneration.
	BodyText string `json:"body_text"`
	// Rows are already-parsed rows keyed by original column header.
	Rows []map[string]any `json:"rows" binding:"required"`
	// Mapping maps destination fields to source column headers.
	Mapping      map[string]string `json:"mapping" binding:"required"`
	SignatureIDs []uuid.UUID       `json:"signature_ids"`
}

// BatchResult reports an issued lot.
type BatchResult struct {
	Lot          *Lot          `json:"lot"`
	Certificates []Certificate `json:"certificates"`
}

// SingleRequest issues one certificate outside any lot.
type SingleRequest struct {
	CompanyID    int64             `json:"-"`
	Title        string            `json:"title"`
	Fields       map[string]string `json:"fields" binding:"required"`
	SignatureIDs []uuid.UUID       `json:"signature_ids"`
}

// RegenerationFailure records one certificate that could not be regenerated.
type RegenerationFailure struct {
	CertificateID uuid.UUID `json:"certificate_id"`
	Code          string    `json:"code"`
	Error         string    `json:"error"`
}

// RegenerationSummary reports a lot regeneration.
type RegenerationSummary struct {
	LotID     uuid.UUID             `json:"lot_id"`
	Succeeded int                   `json:"succeeded"`
	Total     int                   `json:"total"`
	Failures  []RegenerationFailure `json:"failures"`
	Stopped   bool                  `json:"stopped,omitempty"`
}

// Verification is the public view of a certificate resolved from its code.
type Verification struct {
	Code          string            `json:"code"`
	CompanyID     int64             `json:"company_id"`
	Status        Status            `json:"status"`
	RecipientName string            `json:"recipient_name"`
	CourseName    string            `json:"course_name,omitempty"`
	IssuedAt      time.Time         `json:"issued_at"`
	FileURL       string            `json:"file_url"`
	Fields        map[string]string `json:"fields"`
}
