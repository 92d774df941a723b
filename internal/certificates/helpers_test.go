package certificates

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"certifica/issuance-backend/internal/archive"
	"certifica/issuance-backend/internal/codes"
	"certifica/issuance-backend/internal/progress"
	"certifica/issuance-backend/internal/render"
	apperrors "certifica/issuance-backend/pkg/errors"
	"certifica/issuance-backend/pkg/storage"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection, otherwise every pool connection gets its own empty database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	return db
}

// setupSharedDB opens a file database that several pool connections use at
// once. Writers wait for the lock instead of failing with SQLITE_BUSY.
func setupSharedDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "certificates.db") + "?_busy_timeout=10000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

// recordingRenderer stands in for the document renderer and keeps every
// document it was asked to render.
type recordingRenderer struct {
	mu     sync.Mutex
	docs   []render.Document
	failOn map[string]error // by recipient name

	refreshed []render.Template
}

func (r *recordingRenderer) Refresh(tpl render.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed = append(r.refreshed, tpl)
}

func (r *recordingRenderer) refreshCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refreshed)
}

func (r *recordingRenderer) Format() string { return "pdf" }

func (r *recordingRenderer) Render(ctx context.Context, doc render.Document) (*render.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failOn[doc.RecipientName]; ok {
		return nil, err
	}
	r.docs = append(r.docs, doc)
	return &render.Output{
		Data:        []byte(fmt.Sprintf("%s|%s|%s", doc.Code, doc.RecipientName, doc.BodyText)),
		Format:      "pdf",
		ContentType: "application/pdf",
	}, nil
}

func (r *recordingRenderer) last() render.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[len(r.docs)-1]
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

type staticTemplates struct {
	templates map[int64]render.Template
}

func (s staticTemplates) Resolve(ctx context.Context, companyID int64) (render.Template, error) {
	t, ok := s.templates[companyID]
	if !ok {
		return render.Template{}, apperrors.New(apperrors.CodeTemplateMissing, "company %d has no template", companyID)
	}
	return t, nil
}

// scriptedCodes hands out the given codes in order, then falls back to real ones.
type scriptedCodes struct {
	mu       sync.Mutex
	codes    []string
	fallback *codes.Generator
}

func (s *scriptedCodes) Generate(companyID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) > 0 {
		code := s.codes[0]
		s.codes = s.codes[1:]
		return code, nil
	}
	return s.fallback.Generate(companyID)
}

type recordingReporter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingReporter) Publish(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type fixture struct {
	db       *gorm.DB
	repo     *GormRepository
	store    storage.Client
	renderer *recordingRenderer
	codes    *scriptedCodes
	reporter *recordingReporter
	service  *Service
}

const testCompany int64 = 7

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	db := setupDB(t)
	store, err := storage.NewLocalClient(t.TempDir(), "https://files.test")
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		repo:     NewGormRepository(db),
		store:    store,
		renderer: &recordingRenderer{failOn: map[string]error{}},
		codes:    &scriptedCodes{fallback: codes.NewGenerator(codes.DefaultPrefix)},
		reporter: &recordingReporter{},
	}

	cfg := DefaultConfig()
	cfg.VerificationBaseURL = "https://verify.test"
	cfg.ProgressInterval = 2
	for _, opt := range opts {
		opt(&cfg)
	}

	templates := staticTemplates{templates: map[int64]render.Template{
		testCompany: {BackgroundPath: "templates/7/bg.png", Title: "Certificate"},
	}}
	f.service = NewService(f.repo, templates, f.renderer, store, f.codes, archive.NewBuilder(zap.NewNop()), f.reporter, zap.NewNop(), cfg)
	return f
}

func (f *fixture) signature(t *testing.T, companyID int64, name string) Signature {
	t.Helper()
	sig := Signature{CompanyID: companyID, Name: name, Role: "Director", ImagePath: "signatures/" + name + ".png"}
	require.NoError(t, f.db.Create(&sig).Error)
	return sig
}

func (f *fixture) batch(t *testing.T, rows ...map[string]any) *BatchResult {
	t.Helper()
	result, err := f.service.GenerateBatch(context.Background(), BatchRequest{
		CompanyID: testCompany,
		LotName:   "March cohort",
		Title:     "Certificate of Completion",
		BodyText:  "For completing the program.",
		Rows:      rows,
		Mapping:   standardMapping(),
	})
	require.NoError(t, err)
	return result
}

func standardMapping() map[string]string {
	return map[string]string{
		FieldDocumentNumber: "Document",
		FieldGivenNames:     "Names",
		FieldFamilyNames:    "Surnames",
		FieldFullName:       "Full name",
		FieldCourseName:     "Course",
		FieldHours:          "Hours",
		FieldEmail:          "Email",
	}
}

func mustParseID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
