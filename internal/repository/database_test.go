package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crowdfundme/crowdfund-server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		NamingStrategy:         &schema.NamingStrategy{SingularTable: true},
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewGorm(gdb), mock
}

const (
	markCompletedSQL = `UPDATE "campaign" SET .+ WHERE \(?id = \$\d+ AND status = \$\d+\)?`
	enterPendingSQL  = `UPDATE "campaign" SET .+ WHERE \(?id = \$\d+ AND status = \$\d+ AND token_address = '' AND launch_status IN \(\$\d+,\$\d+\)\)?`
)

func TestGormCampaigns_MarkCompleted(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"active row updated", 1, true},
		{"already completed", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(markCompletedSQL).WillReturnResult(sqlmock.NewResult(0, tt.affected))

			won, err := store.Campaigns.MarkCompleted(context.Background(), "c1", Fields{"total_lamports_to_transfer": uint64(5)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, won)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormCampaigns_EnterPending(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"eligible row updated", 1, true},
		{"pending or launched", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(enterPendingSQL).WillReturnResult(sqlmock.NewResult(0, tt.affected))

			won, err := store.Campaigns.EnterPending(context.Background(), "c1", time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, won)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormCampaigns_UpdateMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "campaign" SET .+ WHERE id = \$\d+`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Campaigns.Update(context.Background(), "missing", Fields{"launch_status": model.LaunchStatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormCampaigns_BeginAttemptIncrementsInSQL(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "campaign" SET "launch_attempts"=launch_attempts \+ 1,.+ WHERE id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Campaigns.BeginAttempt(context.Background(), "c1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
