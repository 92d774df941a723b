package certificates

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"certifica/issuance-backend/internal/progress"
	"certifica/issuance-backend/internal/render"
	apperrors "certifica/issuance-backend/pkg/errors"
	"certifica/issuance-backend/pkg/workflows"
)

// =====================================================
// Regeneration
// =====================================================

// RegenerateCertificate re-renders a certificate from its stored snapshot
// onto the company's current template. The code and the output key stay the
// same, so the previous document is replaced in place.
func (s *Service) RegenerateCertificate(ctx context.Context, companyID int64, id uuid.UUID) (*Certificate, error) {
	cert, err := s.repo.GetCertificate(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.resolveTemplate(ctx, companyID)
	if err != nil {
		return nil, err
	}
	s.refreshTemplate(tpl)

	var lot *Lot
	if cert.LotID != nil {
		if lot, err = s.repo.GetLot(ctx, companyID, *cert.LotID); err != nil {
			return nil, err
		}
	}

	if err := s.regenerate(ctx, cert, tpl, lot); err != nil {
		return nil, err
	}

	s.logger.Info("Certificate regenerated",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("code", cert.Code))

	return cert, nil
}

func (s *Service) refreshTemplate(tpl render.Template) {
	if r, ok := s.renderer.(templateRefresher); ok {
		r.Refresh(tpl)
	}
}

func (s *Service) regenerate(ctx context.Context, cert *Certificate, tpl render.Template, lot *Lot) error {
	in := documentInput{
		code:     cert.Code,
		template: tpl,
		fields:   cert.FieldMap(),
		override: cert.DisplayNameOverride,
		issuedAt: cert.IssuedAt,
	}
	if lot != nil {
		in.title, in.body = lot.Title, lot.StaticBodyText
	}
	for _, cs := range cert.Signatures {
		if cs.Signature != nil {
			in.signatures = append(in.signatures, *cs.Signature)
		}
	}

	key := render.OutputPath(cert.CompanyID, cert.LotID, cert.Code, s.renderer.Format())
	url, err := s.renderAndStore(ctx, key, in)
	if err != nil {
		return err
	}
	if key == cert.FileKey && url == cert.FileURL {
		return nil
	}

	if err := s.repo.UpdateCertificateFile(ctx, cert.ID, key, url); err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to record regenerated file of %s", cert.Code)
	}
	// the render format changed since the last render
	if cert.FileKey != "" && cert.FileKey != key {
		s.deleteObject(ctx, cert.FileKey)
	}
	cert.FileKey, cert.FileURL = key, url
	return nil
}

// RegenerateLot regenerates every certificate of a lot in order. A failing
// certificate is logged and recorded; with PolicyContinue the remaining
// certificates are still regenerated, with PolicyStop the run ends there.
func (s *Service) RegenerateLot(ctx context.Context, companyID int64, lotID uuid.UUID) (*RegenerationSummary, error) {
	lot, err := s.repo.GetLot(ctx, companyID, lotID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.resolveTemplate(ctx, companyID)
	if err != nil {
		return nil, err
	}
	s.refreshTemplate(tpl)
	certs, err := s.repo.ListLotCertificates(ctx, companyID, lotID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to list lot %s", lotID)
	}

	summary := &RegenerationSummary{LotID: lotID, Total: len(certs), Failures: []RegenerationFailure{}}
	event := progress.Event{Kind: progress.KindRegeneration, CompanyID: companyID, LotID: lotID, Total: len(certs)}

	for i := range certs {
		if err := ctx.Err(); err != nil {
			event.Done, event.Error = true, err.Error()
			s.progress.Publish(event)
			return summary, fmt.Errorf("lot regeneration cancelled after %d of %d certificates: %w", i, len(certs), err)
		}

		cert := &certs[i]
		if err := s.regenerate(ctx, cert, tpl, lot); err != nil {
			s.logger.Error("Certificate regeneration failed",
				zap.String("lot_id", lotID.String()),
				zap.String("certificate_id", cert.ID.String()),
				zap.String("code", cert.Code),
				zap.Error(err))
			summary.Failures = append(summary.Failures, RegenerationFailure{
				CertificateID: cert.ID,
				Code:          cert.Code,
				Error:         err.Error(),
			})
			event.Failed++
			if s.cfg.LotPolicy == PolicyStop {
				summary.Stopped = true
				event.Processed++
				break
			}
		} else {
			summary.Succeeded++
			event.Succeeded++
		}

		event.Processed++
		if event.Processed%s.cfg.ProgressInterval == 0 {
			s.progress.Publish(event)
		}
	}

	event.Done = true
	s.progress.Publish(event)

	s.logger.Info("Lot regenerated",
		zap.String("lot_id", lotID.String()),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", len(summary.Failures)),
		zap.Int("total", summary.Total))

	return summary, nil
}

// =====================================================
// Regeneration jobs
// =====================================================

// QueueLotRegeneration records a pending regeneration of a lot for the worker.
func (s *Service) QueueLotRegeneration(ctx context.Context, companyID int64, lotID uuid.UUID) (*RegenerationJob, error) {
	if _, err := s.repo.GetLot(ctx, companyID, lotID); err != nil {
		return nil, err
	}

	job := &RegenerationJob{
		CompanyID:   companyID,
		LotID:       lotID,
		Status:      string(workflows.JobPending),
		RequestedAt: s.now().UTC(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to queue regeneration of lot %s", lotID)
	}

	s.logger.Info("Lot regeneration queued",
		zap.String("job_id", job.ID.String()),
		zap.String("lot_id", lotID.String()))

	return job, nil
}

// GetJob returns a regeneration job of the company.
func (s *Service) GetJob(ctx context.Context, companyID int64, id uuid.UUID) (*RegenerationJob, error) {
	return s.repo.GetJob(ctx, companyID, id)
}

// ProcessPendingJobs claims up to limit pending jobs and runs them one after
// another. It returns the number of jobs that ran.
func (s *Service) ProcessPendingJobs(ctx context.Context, limit int) (int, error) {
	jobs, err := s.repo.ClaimPendingJobs(ctx, limit)
	if err != nil {
		return 0, err
	}

	for i := range jobs {
		s.runJob(ctx, &jobs[i])
	}
	return len(jobs), nil
}

func (s *Service) runJob(ctx context.Context, job *RegenerationJob) {
	tracker := s.jobMachine.NewTracker(workflows.State(job.Status))

	summary, err := s.RegenerateLot(ctx, job.CompanyID, job.LotID)
	if summary != nil {
		job.Succeeded, job.Total = summary.Succeeded, summary.Total
		if failures, merr := json.Marshal(summary.Failures); merr == nil {
			job.Failures = datatypes.JSON(failures)
		}
	}

	if err != nil {
		tracker.Fail()
		job.LastError = err.Error()
	} else if aerr := tracker.Advance(workflows.JobCompleted); aerr != nil {
		tracker.Fail()
		job.LastError = aerr.Error()
	}
	job.Status = string(tracker.Current())
	completed := s.now().UTC()
	job.CompletedAt = &completed

	// record the outcome even when ctx was cancelled mid-run
	if uerr := s.repo.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
		s.logger.Error("Failed to record regeneration job",
			zap.String("job_id", job.ID.String()),
			zap.Error(uerr))
		return
	}

	s.logger.Info("Regeneration job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("status", job.Status),
		zap.Int("succeeded", job.Succeeded),
		zap.Int("total", job.Total),
		zap.Duration("elapsed", completed.Sub(startedAt(job, completed))))
}

func startedAt(job *RegenerationJob, fallback time.Time) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return fallback
}
