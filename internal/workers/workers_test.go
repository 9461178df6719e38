package workers

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
	"github.com/tconn93/TRFBWebhook/internal/platform/repositories"
	"github.com/tconn93/TRFBWebhook/migrations"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Migrate(context.Background(), migrations.FS)
	require.NoError(t, err)
	return db
}

func TestPruneAuditLogs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	l := audit.NewLogger(db)

	req := httptest.NewRequest("POST", "/", nil)
	old := audit.FromRequest(req, "", audit.ActionDataDeletion, audit.ResourceDataDeletion, "old", nil)
	require.NoError(t, l.Record(ctx, old))
	fresh := audit.FromRequest(req, "", audit.ActionDataDeletion, audit.ResourceDataDeletion, "fresh", nil)
	require.NoError(t, l.Record(ctx, fresh))

	_, err := db.ExecContext(ctx, db.Rebind(`UPDATE audit_logs SET created_at = ? WHERE id = ?`),
		time.Now().Add(-48*time.Hour).Unix(), old.ID)
	require.NoError(t, err)

	n, err := PruneAuditLogs(l, 24*time.Hour)(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := l.FindByResource(ctx, audit.ResourceDataDeletion, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = l.FindByResource(ctx, audit.ResourceDataDeletion, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestExpireFacebookTokens(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := repositories.NewUserRepository(db)

	now := time.Now().Unix()
	for _, id := range []string{"usr_expired", "usr_valid"} {
		require.NoError(t, users.Create(ctx, &models.User{
			ID: id, Email: id + "@example.com", Name: id, PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
		}))
	}
	past, future := now-60, now+3600
	require.NoError(t, users.ConnectFacebook(ctx, "usr_expired", models.FacebookConnection{FacebookUserID: "fb-1", AccessToken: "a", TokenExpires: &past}))
	require.NoError(t, users.ConnectFacebook(ctx, "usr_valid", models.FacebookConnection{FacebookUserID: "fb-2", AccessToken: "b", TokenExpires: &future}))

	n, err := ExpireFacebookTokens(users)(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	expired, err := users.GetByID(ctx, "usr_expired")
	require.NoError(t, err)
	assert.Empty(t, expired.FacebookAccessToken)
	assert.Equal(t, "fb-1", expired.FacebookUserID)

	valid, err := users.GetByID(ctx, "usr_valid")
	require.NoError(t, err)
	assert.Equal(t, "b", valid.FacebookAccessToken)
}

func TestTasks(t *testing.T) {
	all := Tasks(config.WorkersConfig{
		AuditRetention:     time.Hour,
		AuditPruneInterval: time.Minute,
		TokenSweepInterval: time.Minute,
	}, nil, nil)
	assert.Len(t, all, 2)

	none := Tasks(config.WorkersConfig{AuditPruneInterval: time.Minute}, nil, nil)
	assert.Empty(t, none)
}

func TestRun(t *testing.T) {
	var calls int32
	task := Task{
		Name:     "count",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) (int64, error) {
			atomic.AddInt32(&calls, 1)
			return 0, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, zerolog.Nop(), task)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}
