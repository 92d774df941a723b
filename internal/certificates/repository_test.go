package certificates

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "certifica/issuance-backend/pkg/errors"
	"certifica/issuance-backend/pkg/workflows"
)

func strPtr(s string) *string { return &s }

func TestFindOrCreateParticipantIsIdempotent(t *testing.T) {
	repo := NewGormRepository(setupDB(t))
	ctx := context.Background()

	first, err := repo.FindOrCreateParticipant(ctx, &Participant{CompanyID: 1, DocumentNumber: strPtr("555"), GivenNames: "Ana"})
	require.NoError(t, err)
	second, err := repo.FindOrCreateParticipant(ctx, &Participant{CompanyID: 1, DocumentNumber: strPtr("555"), GivenNames: "Other"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana", second.GivenNames, "the first row wins")

	other, err := repo.FindOrCreateParticipant(ctx, &Participant{CompanyID: 2, DocumentNumber: strPtr("555")})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "document numbers are scoped by company")
}

func TestFindOrCreateParticipantConcurrent(t *testing.T) {
	const workers = 16
	db := setupSharedDB(t, workers)
	repo := NewGormRepository(db)
	ctx := context.Background()

	start := make(chan struct{})
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			p, err := repo.FindOrCreateParticipant(ctx, &Participant{
				CompanyID:      1,
				DocumentNumber: strPtr("1032"),
				GivenNames:     fmt.Sprintf("Worker %d", i),
			})
			errs[i] = err
			if err == nil {
				ids[i] = p.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		assert.Equal(t, ids[0], ids[i], "worker %d", i)
	}

	var count int64
	require.NoError(t, db.Model(&Participant{}).Where("company_id = ? AND document_number = ?", 1, "1032").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFindOrCreateCourseConcurrent(t *testing.T) {
	const workers = 16
	db := setupSharedDB(t, workers)
	repo := NewGormRepository(db)
	ctx := context.Background()

	start := make(chan struct{})
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c, err := repo.FindOrCreateCourse(ctx, &Course{CompanyID: 1, Name: "Welding Safety"})
			errs[i] = err
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		assert.Equal(t, ids[0], ids[i], "worker %d", i)
	}

	var count int64
	require.NoError(t, db.Model(&Course{}).Where("company_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestParticipantsWithoutDocumentAreNeverMerged(t *testing.T) {
	db := setupDB(t)
	repo := NewGormRepository(db)
	ctx := context.Background()

	a, err := repo.FindOrCreateParticipant(ctx, &Participant{CompanyID: 1, GivenNames: "Ana"})
	require.NoError(t, err)
	b, err := repo.FindOrCreateParticipant(ctx, &Participant{CompanyID: 1, DocumentNumber: strPtr(""), GivenNames: "Ana"})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Nil(t, b.DocumentNumber)

	var count int64
	require.NoError(t, db.Model(&Participant{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	found, err := repo.FindParticipant(ctx, 1, "missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindOrCreateCourse(t *testing.T) {
	repo := NewGormRepository(setupDB(t))
	ctx := context.Background()

	first, err := repo.FindOrCreateCourse(ctx, &Course{CompanyID: 1, Name: "Go 101", Hours: "40"})
	require.NoError(t, err)
	second, err := repo.FindOrCreateCourse(ctx, &Course{CompanyID: 1, Name: "Go 101", Hours: "20"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "40", second.Hours)
}

func TestCreateCertificateRejectsDuplicateCode(t *testing.T) {
	db := setupDB(t)
	repo := NewGormRepository(db)
	ctx := context.Background()

	newCert := func() *Certificate {
		return &Certificate{Code: "CERT-1-1-AAAAAA", CompanyID: 1, FileKey: "k", IssuedAt: time.Now()}
	}
	fields := func() []CertificateField {
		return fieldRows(map[string]string{FieldGivenNames: "Ana", FieldHours: "8"})
	}

	first := newCert()
	require.NoError(t, repo.CreateCertificate(ctx, first, fields(), nil))
	assert.Equal(t, StatusActive, first.Status)

	exists, err := repo.CodeExists(ctx, first.Code)
	require.NoError(t, err)
	assert.True(t, exists)

	err = repo.CreateCertificate(ctx, newCert(), fields(), nil)
	assert.True(t, apperrors.Is(err, apperrors.CodeCodeCollision), "got %v", err)

	var fieldCount int64
	require.NoError(t, db.Model(&CertificateField{}).Count(&fieldCount).Error)
	assert.Equal(t, int64(2), fieldCount, "the failed insert leaves nothing behind")
}

func TestCertificateLookupsAreScoped(t *testing.T) {
	repo := NewGormRepository(setupDB(t))
	ctx := context.Background()

	cert := &Certificate{Code: "CERT-1-1-BBBBBB", CompanyID: 1, IssuedAt: time.Now()}
	require.NoError(t, repo.CreateCertificate(ctx, cert, nil, nil))

	_, err := repo.GetCertificate(ctx, 2, cert.ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	_, err = repo.GetCertificateByCode(ctx, "CERT-1-1-ZZZZZZ")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	err = repo.UpdateStatus(ctx, 2, cert.ID, StatusRevoked)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	err = repo.SetDisplayNameOverride(ctx, 2, cert.ID, strPtr("x"))
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestUpsertFieldsAndSignatureOrder(t *testing.T) {
	db := setupDB(t)
	repo := NewGormRepository(db)
	ctx := context.Background()

	var sigs []Signature
	for _, name := range []string{"a", "b", "c"} {
		sig := Signature{CompanyID: 1, Name: name}
		require.NoError(t, db.Create(&sig).Error)
		sigs = append(sigs, sig)
	}

	cert := &Certificate{Code: "CERT-1-1-CCCCCC", CompanyID: 1, IssuedAt: time.Now()}
	require.NoError(t, repo.CreateCertificate(ctx, cert,
		fieldRows(map[string]string{FieldGivenNames: "Ana", FieldFamilyNames: "Ruiz"}),
		signatureRows([]Signature{sigs[2], sigs[0]})))

	require.NoError(t, repo.UpsertFields(ctx, cert.ID, fieldRows(map[string]string{FieldGivenNames: "Anabel", "cohort": "A"})))

	stored, err := repo.GetCertificate(ctx, 1, cert.ID)
	require.NoError(t, err)
	fields := stored.FieldMap()
	assert.Equal(t, "Anabel", fields[FieldGivenNames])
	assert.Equal(t, "Ruiz", fields[FieldFamilyNames])
	assert.Equal(t, "A", fields["cohort"])

	require.Len(t, stored.Signatures, 2)
	assert.Equal(t, sigs[2].ID, stored.Signatures[0].SignatureID)
	require.NotNil(t, stored.Signatures[0].Signature)
	assert.Equal(t, "c", stored.Signatures[0].Signature.Name)

	require.NoError(t, repo.ReplaceSignatures(ctx, cert.ID, signatureRows([]Signature{sigs[1]})))
	stored, err = repo.GetCertificate(ctx, 1, cert.ID)
	require.NoError(t, err)
	require.Len(t, stored.Signatures, 1)
	assert.Equal(t, sigs[1].ID, stored.Signatures[0].SignatureID)
}

func TestGetSignaturesKeepsRequestedOrder(t *testing.T) {
	db := setupDB(t)
	repo := NewGormRepository(db)

	a := Signature{CompanyID: 1, Name: "a"}
	b := Signature{CompanyID: 1, Name: "b"}
	foreign := Signature{CompanyID: 2, Name: "x"}
	require.NoError(t, db.Create(&a).Error)
	require.NoError(t, db.Create(&b).Error)
	require.NoError(t, db.Create(&foreign).Error)

	got, err := repo.GetSignatures(context.Background(), 1, []uuid.UUID{b.ID, foreign.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "a", got[1].Name)
}

func TestClaimPendingJobs(t *testing.T) {
	repo := NewGormRepository(setupDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.CreateJob(ctx, &RegenerationJob{
			CompanyID:   1,
			LotID:       uuid.New(),
			Status:      string(workflows.JobPending),
			RequestedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	claimed, err := repo.ClaimPendingJobs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, string(workflows.JobRunning), claimed[0].Status)
	assert.NotNil(t, claimed[0].StartedAt)

	stored, err := repo.GetJob(ctx, 1, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, string(workflows.JobRunning), stored.Status)

	next, err := repo.ClaimPendingJobs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.NotEqual(t, claimed[0].ID, next[0].ID)

	none, err := repo.ClaimPendingJobs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.GetJob(ctx, 2, claimed[0].ID)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}
