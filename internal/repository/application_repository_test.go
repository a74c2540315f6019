package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/admission-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

// nullable flattens an optional column value for sqlmock rows.
func nullable[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func TestApplicationRepositoryCreateFillsDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("INSERT INTO applications").
		WillReturnResult(sqlmock.NewResult(1, 1))

	app := &models.Application{Email: "jane@example.com", CourseID: "course-1"}
	err := repo.Create(context.Background(), app)
	require.NoError(t, err)

	assert.NotEmpty(t, app.ID)
	assert.Equal(t, models.ApplicationStatusDraft, app.Status)
	assert.False(t, app.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryExistsNonDraft(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectQuery("SELECT 1 FROM applications").
		WithArgs("jane@example.com", "course-1", models.ApplicationStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsNonDraft(context.Background(), "jane@example.com", "course-1", "")
	require.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery("SELECT 1 FROM applications").
		WithArgs("new@example.com", "course-1", models.ApplicationStatusDraft, "app-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err = repo.ExistsNonDraft(context.Background(), "new@example.com", "course-1", "app-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryUpdateStatusGuardsPriorStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("UPDATE applications SET status").
		WithArgs("app-1", models.ApplicationStatusPending, models.ApplicationStatusApproved,
			nil, sqlmock.AnyArg(), nil, nil, nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	decidedAt := time.Now().UTC()
	err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:         "app-1",
		FromStatus: models.ApplicationStatusPending,
		ToStatus:   models.ApplicationStatusApproved,
		DecidedAt:  &decidedAt,
	})
	require.NoError(t, err)

	// A concurrent transition leaves zero rows matching the guard.
	mock.ExpectExec("UPDATE applications SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:         "app-1",
		FromStatus: models.ApplicationStatusPending,
		ToStatus:   models.ApplicationStatusRejected,
	})
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryListWaitlistedOrdering(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "email", "final_rank_score"}).
		AddRow("app-1", "top@example.com", 92.5).
		AddRow("app-2", "next@example.com", 81.0)
	mock.ExpectQuery(`SELECT .+ FROM applications WHERE course_id = \$1 AND status = \$2 AND cohort_id = \$3 ORDER BY final_rank_score DESC, created_at ASC`).
		WithArgs("course-1", models.ApplicationStatusWaitlisted, "cohort-1").
		WillReturnRows(rows)

	source := "cohort-1"
	apps, err := repo.ListWaitlistedForMigration(context.Background(), "course-1", &source)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "app-1", apps[0].ID)
	assert.Equal(t, 92.5, apps[0].FinalRankScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplicationRepositoryUpdateScores(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewApplicationRepository(db)

	mock.ExpectExec("UPDATE applications SET risk_score").
		WithArgs("app-1", 12.0, false, 70.0, 55.0, 64.0, 68.3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateScores(context.Background(), &models.Application{
		ID:               "app-1",
		RiskScore:        12,
		ReadinessScore:   70,
		CommitmentScore:  55,
		ApplicationScore: 64,
		FinalRankScore:   68.3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
