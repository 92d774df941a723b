package certificates

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certifica/issuance-backend/internal/archive"
	"certifica/issuance-backend/internal/codes"
	"certifica/issuance-backend/internal/exports"
	apperrors "certifica/issuance-backend/pkg/errors"
)

// =====================================================
// Edits
// =====================================================

// GetCertificate returns a certificate with its snapshot and signatures.
func (s *Service) GetCertificate(ctx context.Context, companyID int64, id uuid.UUID) (*Certificate, error) {
	return s.repo.GetCertificate(ctx, companyID, id)
}

// SetDisplayNameOverride sets the name printed on the certificate from the
// next regeneration on. A blank name clears the override.
func (s *Service) SetDisplayNameOverride(ctx context.Context, companyID int64, id uuid.UUID, name string) (*Certificate, error) {
	var override *string
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		override = &trimmed
	}
	if err := s.repo.SetDisplayNameOverride(ctx, companyID, id, override); err != nil {
		return nil, err
	}

	s.logger.Info("Display name override updated",
		zap.String("certificate_id", id.String()),
		zap.Bool("cleared", override == nil))

	return s.repo.GetCertificate(ctx, companyID, id)
}

// UpdateFields changes values of the certificate's field snapshot. Fields not
// named are left as they are.
func (s *Service) UpdateFields(ctx context.Context, companyID int64, id uuid.UUID, fields map[string]string) (*Certificate, error) {
	if len(fields) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "no fields to update")
	}
	cleaned := make(map[string]string, len(fields))
	for name, value := range fields {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "field name is empty")
		}
		cleaned[name] = strings.TrimSpace(value)
	}

	cert, err := s.repo.GetCertificate(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertFields(ctx, cert.ID, fieldRows(cleaned)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to update fields of %s", cert.Code)
	}
	return s.repo.GetCertificate(ctx, companyID, id)
}

// ReassignSignatures replaces the certificate's signatures, in the given order.
func (s *Service) ReassignSignatures(ctx context.Context, companyID int64, id uuid.UUID, signatureIDs []uuid.UUID) (*Certificate, error) {
	cert, err := s.repo.GetCertificate(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	signatures, err := s.loadSignatures(ctx, companyID, signatureIDs)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceSignatures(ctx, cert.ID, signatureRows(signatures)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to reassign signatures of %s", cert.Code)
	}
	return s.repo.GetCertificate(ctx, companyID, id)
}

// Revoke marks a certificate revoked. Revoked certificates still verify, with
// their status.
func (s *Service) Revoke(ctx context.Context, companyID int64, id uuid.UUID) error {
	if err := s.repo.UpdateStatus(ctx, companyID, id, StatusRevoked); err != nil {
		return err
	}
	s.logger.Info("Certificate revoked", zap.String("certificate_id", id.String()))
	return nil
}

// =====================================================
// Verification
// =====================================================

// Verify resolves a code printed on a certificate.
func (s *Service) Verify(ctx context.Context, code string) (*Verification, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	parsed, err := codes.Parse(code)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, err, "malformed certificate code")
	}

	cert, err := s.repo.GetCertificateByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if cert.CompanyID != parsed.CompanyID {
		return nil, apperrors.New(apperrors.CodeNotFound, "certificate %s", code)
	}

	url := cert.FileURL
	if fresh, err := s.storage.URL(ctx, cert.FileKey); err == nil {
		url = fresh
	} else {
		s.logger.Warn("Falling back to stored file URL", zap.String("code", code), zap.Error(err))
	}

	fields := cert.FieldMap()
	course := strings.TrimSpace(fields[FieldCourseName])
	if cert.Course != nil {
		course = cert.Course.Name
	}

	return &Verification{
		Code:          cert.Code,
		CompanyID:     cert.CompanyID,
		Status:        cert.Status,
		RecipientName: DisplayName(cert.DisplayNameOverride, fields),
		CourseName:    course,
		IssuedAt:      cert.IssuedAt,
		FileURL:       url,
		Fields:        fields,
	}, nil
}

// =====================================================
// Lot archive and manifest
// =====================================================

// BuildLotArchive writes every rendered document of a lot into a zip at dest.
func (s *Service) BuildLotArchive(ctx context.Context, companyID int64, lotID uuid.UUID, dest string) (*archive.Result, error) {
	certs, err := s.lotCertificates(ctx, companyID, lotID)
	if err != nil {
		return nil, err
	}

	entries := make([]archive.Entry, 0, len(certs))
	for _, cert := range certs {
		key := cert.FileKey
		entries = append(entries, archive.Entry{
			DisplayName: DisplayName(cert.DisplayNameOverride, cert.FieldMap()),
			Code:        cert.Code,
			Ext:         extension(key),
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return s.storage.Download(ctx, key)
			},
		})
	}

	result, err := s.archives.Build(ctx, dest, entries)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lot archive built",
		zap.String("lot_id", lotID.String()),
		zap.Int("entries", len(result.Entries)),
		zap.Int64("bytes", result.Bytes))

	return result, nil
}

// ExportLotManifest writes one row per certificate of the lot to w.
func (s *Service) ExportLotManifest(ctx context.Context, companyID int64, lotID uuid.UUID, format exports.Format, w io.Writer) error {
	exporter, err := exports.NewExporter(format)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, err, "manifest format")
	}
	certs, err := s.lotCertificates(ctx, companyID, lotID)
	if err != nil {
		return err
	}

	rows := make([]exports.ManifestRow, 0, len(certs))
	for _, cert := range certs {
		fields := cert.FieldMap()
		row := exports.ManifestRow{
			Code:           cert.Code,
			Recipient:      DisplayName(cert.DisplayNameOverride, fields),
			DocumentNumber: fields[FieldDocumentNumber],
			Course:         fields[FieldCourseName],
			Status:         string(cert.Status),
			IssuedAt:       cert.IssuedAt,
			FileURL:        cert.FileURL,
		}
		if cert.Participant != nil && cert.Participant.DocumentNumber != nil {
			row.DocumentNumber = *cert.Participant.DocumentNumber
		}
		if cert.Course != nil {
			row.Course = cert.Course.Name
		}
		rows = append(rows, row)
	}

	return exporter.Export(w, rows)
}

func (s *Service) lotCertificates(ctx context.Context, companyID int64, lotID uuid.UUID) ([]Certificate, error) {
	if _, err := s.repo.GetLot(ctx, companyID, lotID); err != nil {
		return nil, err
	}
	certs, err := s.repo.ListLotCertificates(ctx, companyID, lotID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to list lot %s", lotID)
	}
	return certs, nil
}

func extension(key string) string {
	return strings.TrimPrefix(path.Ext(key), ".")
}
