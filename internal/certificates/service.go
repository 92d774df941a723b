package certificates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certifica/issuance-backend/internal/archive"
	"certifica/issuance-backend/internal/progress"
	"certifica/issuance-backend/internal/render"
	apperrors "certifica/issuance-backend/pkg/errors"
	"certifica/issuance-backend/pkg/storage"
	"certifica/issuance-backend/pkg/workflows"
)

// TemplateResolver supplies a company's template.
type TemplateResolver interface {
	Resolve(ctx context.Context, companyID int64) (render.Template, error)
}

// DocumentRenderer renders one certificate document.
type DocumentRenderer interface {
	Render(ctx context.Context, doc render.Document) (*render.Output, error)
	Format() string
}

// templateRefresher is implemented by renderers that cache template assets.
// Regeneration refreshes them so a background or logo replaced at the same
// storage key is picked up.
type templateRefresher interface {
	Refresh(tpl render.Template)
}

// CodeGenerator produces new certificate codes.
type CodeGenerator interface {
	Generate(companyID int64) (string, error)
}

// ProgressReporter receives batch and regeneration progress.
type ProgressReporter interface {
	Publish(event progress.Event)
}

type nopReporter struct{}

func (nopReporter) Publish(progress.Event) {}

// Config tunes the pipeline.
type Config struct {
	VerificationBaseURL string
	// ProgressInterval is the number of rows between progress reports.
	ProgressInterval int
	MaxCodeAttempts  int
	LotPolicy        FailurePolicy
	// DateLayout formats the issue date when a row supplies none.
	DateLayout string
	QRSize     int
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		ProgressInterval: 10,
		MaxCodeAttempts:  3,
		LotPolicy:        PolicyContinue,
		DateLayout:       "January 2, 2006",
		QRSize:           256,
	}
}

// Service issues, regenerates and manages certificates.
type Service struct {
	repo      Repository
	templates TemplateResolver
	renderer  DocumentRenderer
	storage   storage.Client
	codes     CodeGenerator
	archives  *archive.Builder
	progress  ProgressReporter
	logger    *zap.Logger
	cfg       Config

	rowMachine *workflows.StateMachine
	jobMachine *workflows.StateMachine
	now        func() time.Time
}

// NewService creates a new certificates service. progress may be nil.
func NewService(
	repo Repository,
	templates TemplateResolver,
	renderer DocumentRenderer,
	store storage.Client,
	codes CodeGenerator,
	archives *archive.Builder,
	reporter ProgressReporter,
	logger *zap.Logger,
	cfg Config,
) *Service {
	defaults := DefaultConfig()
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaults.ProgressInterval
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = defaults.MaxCodeAttempts
	}
	if cfg.LotPolicy == "" {
		cfg.LotPolicy = defaults.LotPolicy
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = defaults.DateLayout
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = defaults.QRSize
	}
	if reporter == nil {
		reporter = nopReporter{}
	}

	return &Service{
		repo:       repo,
		templates:  templates,
		renderer:   renderer,
		storage:    store,
		codes:      codes,
		archives:   archives,
		progress:   reporter,
		logger:     logger,
		cfg:        cfg,
		rowMachine: workflows.NewRowStateMachine(),
		jobMachine: workflows.NewJobStateMachine(),
		now:        time.Now,
	}
}

// RowError reports the batch row that aborted a batch and how far it got.
type RowError struct {
	Row   int
	State workflows.State
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d failed after %s: %v", e.Row, e.State, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// =====================================================
// Batch Pipeline
// =====================================================

// GenerateBatch issues one certificate per row into a new lot. Rows are
// processed in order; the first row that cannot be rendered or persisted
// aborts the batch with a *RowError. Certificates issued before the failing
// row stay persisted and are returned alongside the error.
func (s *Service) GenerateBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.CompanyID <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "company id is required")
	}
	if len(req.Rows) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "batch has no rows")
	}

	signatures, err := s.loadSignatures(ctx, req.CompanyID, req.SignatureIDs)
	if err != nil {
		return nil, err
	}
	tpl, err := s.resolveTemplate(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	lot := &Lot{
		CompanyID:      req.CompanyID,
		Name:           strings.TrimSpace(req.LotName),
		Title:          strings.TrimSpace(req.Title),
		StaticBodyText: req.BodyText,
		CreatedAt:      s.now().UTC(),
	}
	if lot.Name == "" {
		lot.Name = "Lot " + lot.CreatedAt.Format("2006-01-02 15:04")
	}
	if err := s.repo.CreateLot(ctx, lot); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to create lot")
	}

	total := len(req.Rows)
	result := &BatchResult{Lot: lot, Certificates: make([]Certificate, 0, total)}
	event := progress.Event{Kind: progress.KindBatch, CompanyID: req.CompanyID, LotID: lot.ID, Total: total}

	s.logger.Info("Batch started",
		zap.String("lot_id", lot.ID.String()),
		zap.Int64("company_id", req.CompanyID),
		zap.Int("rows", total))

	for i, row := range req.Rows {
		if err := ctx.Err(); err != nil {
			event.Done, event.Error = true, err.Error()
			s.progress.Publish(event)
			return result, fmt.Errorf("batch cancelled after %d of %d rows: %w", i, total, err)
		}

		cert, err := s.issue(ctx, issueInput{
			row:        i + 1,
			companyID:  req.CompanyID,
			lot:        lot,
			template:   tpl,
			fields:     MapRow(row, req.Mapping),
			signatures: signatures,
		})
		if err != nil {
			event.Failed++
			event.Done, event.Error = true, err.Error()
			s.progress.Publish(event)
			s.logger.Error("Batch row failed, aborting batch",
				zap.String("lot_id", lot.ID.String()),
				zap.Int("row", i+1),
				zap.Int("issued", len(result.Certificates)),
				zap.Error(err))
			return result, err
		}

		result.Certificates = append(result.Certificates, *cert)
		event.Processed++
		event.Succeeded++

		if event.Processed%s.cfg.ProgressInterval == 0 || event.Processed == total {
			event.Done = event.Processed == total
			s.progress.Publish(event)
			s.logger.Info("Batch progress",
				zap.String("lot_id", lot.ID.String()),
				zap.Int("processed", event.Processed),
				zap.Int("total", total))
		}
	}

	return result, nil
}

// IssueSingle issues one certificate outside any lot. The body text and
// title travel in the field snapshot so the certificate can be regenerated.
func (s *Service) IssueSingle(ctx context.Context, req SingleRequest) (*Certificate, error) {
	if req.CompanyID <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "company id is required")
	}
	if len(req.Fields) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "certificate has no fields")
	}

	signatures, err := s.loadSignatures(ctx, req.CompanyID, req.SignatureIDs)
	if err != nil {
		return nil, err
	}
	tpl, err := s.resolveTemplate(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(DestinationFields)+len(req.Fields))
	for _, name := range DestinationFields {
		fields[name] = ""
	}
	for name, value := range req.Fields {
		if name = strings.TrimSpace(name); name != "" {
			fields[name] = strings.TrimSpace(value)
		}
	}
	if fields[FieldTitle] == "" {
		fields[FieldTitle] = strings.TrimSpace(req.Title)
	}

	cert, err := s.issue(ctx, issueInput{
		companyID:  req.CompanyID,
		template:   tpl,
		fields:     fields,
		signatures: signatures,
	})
	if err != nil {
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			return nil, rowErr.Err
		}
		return nil, err
	}

	s.logger.Info("Certificate issued",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("code", cert.Code),
		zap.Int64("company_id", cert.CompanyID))

	return cert, nil
}

type issueInput struct {
	row        int
	companyID  int64
	lot        *Lot
	template   render.Template
	fields     map[string]string
	signatures []Signature
}

// issue runs one row through the pipeline:
// mapped -> participant -> course -> rendered -> persisted -> done.
func (s *Service) issue(ctx context.Context, in issueInput) (*Certificate, error) {
	tracker := s.rowMachine.NewTracker(workflows.RowMapped)
	fail := func(err error) error {
		return &RowError{Row: in.row, State: tracker.Fail(), Err: err}
	}
	advance := func(next workflows.State) error {
		if err := tracker.Advance(next); err != nil {
			return fail(err)
		}
		return nil
	}

	names := ParseNames(in.fields)
	participant, err := s.resolveParticipant(ctx, in.companyID, in.fields, names)
	if err != nil {
		return nil, fail(err)
	}
	if err := advance(workflows.RowParticipantResolved); err != nil {
		return nil, err
	}

	course, err := s.resolveCourse(ctx, in.companyID, in.fields)
	if err != nil {
		return nil, fail(err)
	}
	if err := advance(workflows.RowCourseResolved); err != nil {
		return nil, err
	}

	var lotID *uuid.UUID
	var title, body string
	if in.lot != nil {
		id := in.lot.ID
		lotID = &id
		title, body = in.lot.Title, in.lot.StaticBodyText
	}
	override := names.Override()
	issuedAt := s.now().UTC()

	for attempt := 1; ; attempt++ {
		code, err := s.freshCode(ctx, in.companyID)
		if err != nil {
			return nil, fail(err)
		}

		key := render.OutputPath(in.companyID, lotID, code, s.renderer.Format())
		url, err := s.renderAndStore(ctx, key, documentInput{
			code:       code,
			template:   in.template,
			fields:     in.fields,
			override:   override,
			title:      title,
			body:       body,
			issuedAt:   issuedAt,
			signatures: in.signatures,
		})
		if err != nil {
			return nil, fail(err)
		}
		if err := advance(workflows.RowRendered); err != nil {
			return nil, err
		}

		cert := &Certificate{
			Code:                code,
			CompanyID:           in.companyID,
			LotID:               lotID,
			FileKey:             key,
			FileURL:             url,
			DisplayNameOverride: override,
			Status:              StatusActive,
			IssuedAt:            issuedAt,
		}
		if participant != nil {
			cert.ParticipantID = &participant.ID
		}
		if course != nil {
			cert.CourseID = &course.ID
		}

		err = s.repo.CreateCertificate(ctx, cert, fieldRows(in.fields), signatureRows(in.signatures))
		if err == nil {
			cert.Participant, cert.Course = participant, course
			if err := advance(workflows.RowPersisted); err != nil {
				return nil, err
			}
			if err := advance(workflows.RowDone); err != nil {
				return nil, err
			}
			return cert, nil
		}

		if !apperrors.Is(err, apperrors.CodeCodeCollision) {
			return nil, fail(apperrors.Wrap(apperrors.CodePersistenceFailure, err,
				"certificate %s was rendered but not saved; orphaned object %s", code, key))
		}

		// Lot keys are unique to this lot, so the object is ours to remove.
		// Individual keys are shared by code with the certificate we collided with.
		if lotID != nil {
			s.deleteObject(ctx, key)
		}
		if attempt >= s.cfg.MaxCodeAttempts {
			return nil, fail(err)
		}
		s.logger.Warn("Certificate code collision, retrying with a new code",
			zap.String("code", code),
			zap.Int("row", in.row),
			zap.Int("attempt", attempt))
		if err := advance(workflows.RowCourseResolved); err != nil {
			return nil, err
		}
	}
}

// freshCode generates codes until one is not already taken. The unique index
// remains the authority; this only keeps a collision from overwriting the
// object of an existing certificate.
func (s *Service) freshCode(ctx context.Context, companyID int64) (string, error) {
	for attempt := 1; ; attempt++ {
		code, err := s.codes.Generate(companyID)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to generate certificate code")
		}
		exists, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to check certificate code")
		}
		if !exists {
			return code, nil
		}
		if attempt >= s.cfg.MaxCodeAttempts {
			return "", apperrors.New(apperrors.CodeCodeCollision, "no free certificate code after %d attempts", attempt)
		}
	}
}

// resolveParticipant finds the participant by document number or creates one.
// A row without a name only links to an already known participant.
func (s *Service) resolveParticipant(ctx context.Context, companyID int64, fields map[string]string, names Names) (*Participant, error) {
	document := strings.TrimSpace(fields[FieldDocumentNumber])
	if document != "" {
		existing, err := s.repo.FindParticipant(ctx, companyID, document)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to look up participant")
		}
		if existing != nil {
			return existing, nil
		}
	}
	if !names.Present() {
		return nil, nil
	}

	p := &Participant{
		CompanyID:    companyID,
		DocumentType: strings.TrimSpace(fields[FieldDocumentType]),
		GivenNames:   names.Given,
		FamilyNames:  names.Family,
		Email:        strings.TrimSpace(fields[FieldEmail]),
		Phone:        strings.TrimSpace(fields[FieldPhone]),
	}
	if document != "" {
		p.DocumentNumber = &document
	}

	stored, err := s.repo.FindOrCreateParticipant(ctx, p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to resolve participant")
	}
	return stored, nil
}

func (s *Service) resolveCourse(ctx context.Context, companyID int64, fields map[string]string) (*Course, error) {
	name := strings.TrimSpace(fields[FieldCourseName])
	if name == "" {
		return nil, nil
	}
	course, err := s.repo.FindOrCreateCourse(ctx, &Course{
		CompanyID: companyID,
		Name:      name,
		Hours:     strings.TrimSpace(fields[FieldHours]),
		Modality:  strings.TrimSpace(fields[FieldModality]),
		StartDate: strings.TrimSpace(fields[FieldStartDate]),
		EndDate:   strings.TrimSpace(fields[FieldEndDate]),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to resolve course %q", name)
	}
	return course, nil
}

// =====================================================
// Rendering
// =====================================================

type documentInput struct {
	code       string
	template   render.Template
	fields     map[string]string
	override   *string
	title      string
	body       string
	issuedAt   time.Time
	signatures []Signature
}

// buildDocument composes the printed document. Row values win over lot
// values for the title; the lot body wins over a snapshotted body.
func (s *Service) buildDocument(in documentInput) (render.Document, error) {
	qr, err := render.EncodeQR(render.VerificationURL(s.cfg.VerificationBaseURL, in.code), s.cfg.QRSize)
	if err != nil {
		return render.Document{}, apperrors.Wrap(apperrors.CodeRenderFailure, err, "scannable code for %s", in.code)
	}

	title := strings.TrimSpace(in.fields[FieldTitle])
	if title == "" {
		title = in.title
	}
	body := in.body
	if strings.TrimSpace(body) == "" {
		body = in.fields[FieldBodyText]
	}
	date := strings.TrimSpace(in.fields[FieldIssueDate])
	if date == "" {
		date = in.issuedAt.Format(s.cfg.DateLayout)
	}

	blocks := make([]render.SignatureBlock, 0, len(in.signatures))
	for _, sig := range in.signatures {
		blocks = append(blocks, render.SignatureBlock{Name: sig.Name, Role: sig.Role, ImagePath: sig.ImagePath})
	}

	return render.Document{
		Template:      in.template,
		Title:         title,
		RecipientName: DisplayName(in.override, in.fields),
		BodyText:      body,
		CourseName:    strings.TrimSpace(in.fields[FieldCourseName]),
		FormattedDate: date,
		Hours:         formatHours(in.fields[FieldHours]),
		Code:          in.code,
		ScannableCode: qr,
		Signatures:    blocks,
	}, nil
}

// renderAndStore renders the document and writes it to key, replacing any
// previous object. It returns the object's URL.
func (s *Service) renderAndStore(ctx context.Context, key string, in documentInput) (string, error) {
	doc, err := s.buildDocument(in)
	if err != nil {
		return "", err
	}
	out, err := s.renderer.Render(ctx, doc)
	if err != nil {
		return "", err
	}
	if err := s.storage.Upload(ctx, key, bytes.NewReader(out.Data), out.ContentType); err != nil {
		return "", apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to store %s", key)
	}
	url, err := s.storage.URL(ctx, key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeRenderFailure, err, "failed to resolve URL of %s", key)
	}
	return url, nil
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if err := s.storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("Failed to delete rendered object", zap.String("key", key), zap.Error(err))
	}
}

// formatHours prints numeric hours with a unit and anything else verbatim.
func formatHours(hours string) string {
	hours = strings.TrimSpace(hours)
	if hours == "" {
		return ""
	}
	n, err := strconv.ParseFloat(hours, 64)
	if err != nil {
		return hours
	}
	if n == 1 {
		return "1 hour"
	}
	return hours + " hours"
}

// =====================================================
// Helpers
// =====================================================

func (s *Service) resolveTemplate(ctx context.Context, companyID int64) (render.Template, error) {
	tpl, err := s.templates.Resolve(ctx, companyID)
	if err != nil {
		return render.Template{}, err
	}
	if strings.TrimSpace(tpl.BackgroundPath) == "" {
		return render.Template{}, apperrors.New(apperrors.CodeTemplateMissing, "company %d has no template background", companyID)
	}
	return tpl, nil
}

// loadSignatures returns the requested signatures in order. Every id must
// belong to the company and at most MaxSignatures may be given.
func (s *Service) loadSignatures(ctx context.Context, companyID int64, ids []uuid.UUID) ([]Signature, error) {
	if len(ids) > render.MaxSignatures {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "at most %d signatures, got %d", render.MaxSignatures, len(ids))
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "signature %s listed twice", id)
		}
		seen[id] = true
	}

	signatures, err := s.repo.GetSignatures(ctx, companyID, ids)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "failed to load signatures")
	}
	if len(signatures) != len(ids) {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "unknown signature for company %d", companyID)
	}
	return signatures, nil
}

func signatureRows(signatures []Signature) []CertificateSignature {
	rows := make([]CertificateSignature, 0, len(signatures))
	for i, sig := range signatures {
		rows = append(rows, CertificateSignature{Order: i + 1, SignatureID: sig.ID})
	}
	return rows
}
