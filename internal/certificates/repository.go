package certificates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "certifica/issuance-backend/pkg/errors"
	"certifica/issuance-backend/pkg/workflows"
)

// Repository defines the interface for certificate data access
type Repository interface {
	// Participants and courses
	FindParticipant(ctx context.Context, companyID int64, documentNumber string) (*Participant, error)
	FindOrCreateParticipant(ctx context.Context, p *Participant) (*Participant, error)
	FindOrCreateCourse(ctx context.Context, c *Course) (*Course, error)

	// Lots and signatures
	CreateLot(ctx context.Context, lot *Lot) error
	GetLot(ctx context.Context, companyID int64, id uuid.UUID) (*Lot, error)
	GetSignatures(ctx context.Context, companyID int64, ids []uuid.UUID) ([]Signature, error)

	// Certificates
	CreateCertificate(ctx context.Context, cert *Certificate, fields []CertificateField, signatures []CertificateSignature) error
	GetCertificate(ctx context.Context, companyID int64, id uuid.UUID) (*Certificate, error)
	GetCertificateByCode(ctx context.Context, code string) (*Certificate, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListLotCertificates(ctx context.Context, companyID int64, lotID uuid.UUID) ([]Certificate, error)
	UpdateCertificateFile(ctx context.Context, id uuid.UUID, key, url string) error
	SetDisplayNameOverride(ctx context.Context, companyID int64, id uuid.UUID, name *string) error
	UpsertFields(ctx context.Context, certificateID uuid.UUID, fields []CertificateField) error
	ReplaceSignatures(ctx context.Context, certificateID uuid.UUID, signatures []CertificateSignature) error
	UpdateStatus(ctx context.Context, companyID int64, id uuid.UUID, status Status) error

	// Regeneration jobs
	CreateJob(ctx context.Context, job *RegenerationJob) error
	GetJob(ctx context.Context, companyID int64, id uuid.UUID) (*RegenerationJob, error)
	ClaimPendingJobs(ctx context.Context, limit int) ([]RegenerationJob, error)
	UpdateJob(ctx context.Context, job *RegenerationJob) error
}

// GormRepository implements Repository with gorm.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.CodeNotFound, format, args...)
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}

// isUniqueViolation recognizes duplicate key errors from postgres and sqlite,
// whether or not gorm translated them.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =====================================================
// Participants and courses
// =====================================================

func (r *GormRepository) FindParticipant(ctx context.Context, companyID int64, documentNumber string) (*Participant, error) {
	var p Participant
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND document_number = ?", companyID, documentNumber).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}
	return &p, nil
}

// FindOrCreateParticipant inserts p unless a participant with the same
// document number exists, and returns the stored row either way. The insert
// uses ON CONFLICT DO NOTHING so concurrent batches cannot create duplicates.
func (r *GormRepository) FindOrCreateParticipant(ctx context.Context, p *Participant) (*Participant, error) {
	db := r.db.WithContext(ctx)
	if p.DocumentNumber == nil || *p.DocumentNumber == "" {
		p.DocumentNumber = nil
		if err := db.Create(p).Error; err != nil {
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
		return p, nil
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "document_number"}},
		DoNothing: true,
	}).Create(p).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert participant: %w", err)
	}

	stored, err := r.FindParticipant(ctx, p.CompanyID, *p.DocumentNumber)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("participant %s vanished after upsert", *p.DocumentNumber)
	}
	return stored, nil
}

func (r *GormRepository) FindOrCreateCourse(ctx context.Context, c *Course) (*Course, error) {
	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "name"}},
		DoNothing: true,
	}).Create(c).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert course: %w", err)
	}

	var stored Course
	if err := db.Where("company_id = ? AND name = ?", c.CompanyID, c.Name).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to load course %q: %w", c.Name, err)
	}
	return &stored, nil
}

// =====================================================
// Lots and signatures
// =====================================================

func (r *GormRepository) CreateLot(ctx context.Context, lot *Lot) error {
	if err := r.db.WithContext(ctx).Create(lot).Error; err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	return nil
}

func (r *GormRepository) GetLot(ctx context.Context, companyID int64, id uuid.UUID) (*Lot, error) {
	var lot Lot
	err := r.db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&lot).Error
	if err != nil {
		return nil, notFound(err, "lot %s", id)
	}
	return &lot, nil
}

// GetSignatures returns the company's signatures with the given ids, in the
// order of ids. Unknown or foreign ids are simply absent from the result.
func (r *GormRepository) GetSignatures(ctx context.Context, companyID int64, ids []uuid.UUID) ([]Signature, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []Signature
	err := r.db.WithContext(ctx).Where("company_id = ? AND id IN ?", companyID, ids).Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load signatures: %w", err)
	}

	byID := make(map[uuid.UUID]Signature, len(found))
	for _, s := range found {
		byID[s.ID] = s
	}
	ordered := make([]Signature, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}

// =====================================================
// Certificates
// =====================================================

// CreateCertificate stores the certificate, its field snapshot and signature
// positions in one transaction. A duplicate code yields CODE_COLLISION.
func (r *GormRepository) CreateCertificate(ctx context.Context, cert *Certificate, fields []CertificateField, signatures []CertificateSignature) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(cert).Error; err != nil {
			if isUniqueViolation(err) {
				return apperrors.Wrap(apperrors.CodeCodeCollision, err, "certificate code %s already exists", cert.Code)
			}
			return fmt.Errorf("failed to insert certificate: %w", err)
		}

		for i := range fields {
			fields[i].CertificateID = cert.ID
		}
		if len(fields) > 0 {
			if err := tx.Create(&fields).Error; err != nil {
				return fmt.Errorf("failed to insert certificate fields: %w", err)
			}
		}

		for i := range signatures {
			signatures[i].CertificateID = cert.ID
		}
		if len(signatures) > 0 {
			if err := tx.Omit(clause.Associations).Create(&signatures).Error; err != nil {
				return fmt.Errorf("failed to insert certificate signatures: %w", err)
			}
		}

		cert.Fields = fields
		cert.Signatures = signatures
		return nil
	})
}

func (r *GormRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Participant").
		Preload("Course").
		Preload("Fields", func(db *gorm.DB) *gorm.DB { return db.Order("field_name") }).
		Preload("Signatures", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order") }).
		Preload("Signatures.Signature")
}

func (r *GormRepository) GetCertificate(ctx context.Context, companyID int64, id uuid.UUID) (*Certificate, error) {
	var cert Certificate
	err := r.preloaded(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&cert).Error
	if err != nil {
		return nil, notFound(err, "certificate %s", id)
	}
	return &cert, nil
}

func (r *GormRepository) GetCertificateByCode(ctx context.Context, code string) (*Certificate, error) {
	var cert Certificate
	err := r.preloaded(ctx).Where("code = ?", code).First(&cert).Error
	if err != nil {
		return nil, notFound(err, "certificate %s", code)
	}
	return &cert, nil
}

func (r *GormRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Certificate{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check certificate code: %w", err)
	}
	return count > 0, nil
}

func (r *GormRepository) ListLotCertificates(ctx context.Context, companyID int64, lotID uuid.UUID) ([]Certificate, error) {
	var certs []Certificate
	err := r.preloaded(ctx).
		Where("company_id = ? AND lot_id = ?", companyID, lotID).
		Order("issued_at, code").
		Find(&certs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list lot certificates: %w", err)
	}
	return certs, nil
}

func (r *GormRepository) UpdateCertificateFile(ctx context.Context, id uuid.UUID, key, url string) error {
	err := r.db.WithContext(ctx).Model(&Certificate{}).Where("id = ?", id).
		Updates(map[string]any{"file_key": key, "file_url": url, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update certificate file: %w", err)
	}
	return nil
}

func (r *GormRepository) SetDisplayNameOverride(ctx context.Context, companyID int64, id uuid.UUID, name *string) error {
	res := r.db.WithContext(ctx).Model(&Certificate{}).
		Where("company_id = ? AND id = ?", companyID, id).
		Updates(map[string]any{"display_name_override": name, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to set display name override: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, "certificate %s", id)
	}
	return nil
}

func (r *GormRepository) UpsertFields(ctx context.Context, certificateID uuid.UUID, fields []CertificateField) error {
	if len(fields) == 0 {
		return nil
	}
	for i := range fields {
		fields[i].CertificateID = certificateID
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "certificate_id"}, {Name: "field_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"field_value"}),
	}).Create(&fields).Error
	if err != nil {
		return fmt.Errorf("failed to upsert certificate fields: %w", err)
	}
	return nil
}

func (r *GormRepository) ReplaceSignatures(ctx context.Context, certificateID uuid.UUID, signatures []CertificateSignature) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("certificate_id = ?", certificateID).Delete(&CertificateSignature{}).Error; err != nil {
			return fmt.Errorf("failed to clear certificate signatures: %w", err)
		}
		for i := range signatures {
			signatures[i].CertificateID = certificateID
		}
		if len(signatures) == 0 {
			return nil
		}
		if err := tx.Omit(clause.Associations).Create(&signatures).Error; err != nil {
			return fmt.Errorf("failed to insert certificate signatures: %w", err)
		}
		return nil
	})
}

func (r *GormRepository) UpdateStatus(ctx context.Context, companyID int64, id uuid.UUID, status Status) error {
	res := r.db.WithContext(ctx).Model(&Certificate{}).
		Where("company_id = ? AND id = ?", companyID, id).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update certificate status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, "certificate %s", id)
	}
	return nil
}

// =====================================================
// Regeneration jobs
// =====================================================

func (r *GormRepository) CreateJob(ctx context.Context, job *RegenerationJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create regeneration job: %w", err)
	}
	return nil
}

func (r *GormRepository) GetJob(ctx context.Context, companyID int64, id uuid.UUID) (*RegenerationJob, error) {
	var job RegenerationJob
	err := r.db.WithContext(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&job).Error
	if err != nil {
		return nil, notFound(err, "regeneration job %s", id)
	}
	return &job, nil
}

// ClaimPendingJobs marks up to limit pending jobs as running and returns them.
// Rows locked by another worker are skipped.
func (r *GormRepository) ClaimPendingJobs(ctx context.Context, limit int) ([]RegenerationJob, error) {
	var jobs []RegenerationJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", string(workflows.JobPending)).
			Order("requested_at").
			Limit(limit).
			Find(&jobs).Error
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(jobs))
		now := time.Now()
		for i := range jobs {
			ids[i] = jobs[i].ID
			jobs[i].Status = string(workflows.JobRunning)
			jobs[i].StartedAt = &now
		}
		return tx.Model(&RegenerationJob{}).Where("id IN ?", ids).
			Updates(map[string]any{"status": string(workflows.JobRunning), "started_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim regeneration jobs: %w", err)
	}
	return jobs, nil
}

func (r *GormRepository) UpdateJob(ctx context.Context, job *RegenerationJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update regeneration job: %w", err)
	}
	return nil
}
