package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/migrations"
)

func TestLogAndFind(t *testing.T) {
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Migrate(context.Background(), migrations.FS)
	require.NoError(t, err)

	l := NewLogger(db)

	r := httptest.NewRequest("POST", "/data-deletion", nil)
	r.RemoteAddr = "203.0.113.7:5555"
	r.Header.Set("User-Agent", "facebookexternalua")

	l.Log(r, "", ActionDataDeletion, ResourceDataDeletion, "abc123", map[string]interface{}{"deleted": true})

	entry, err := l.FindByResource(context.Background(), ResourceDataDeletion, "abc123")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, ActionDataDeletion, entry.Action)
	require.Equal(t, "203.0.113.7", entry.IPAddress)
	require.Equal(t, "facebookexternalua", entry.UserAgent)
	require.Equal(t, true, entry.Metadata["deleted"])
	require.Empty(t, entry.UserID)

	missing, err := l.FindByResource(context.Background(), ResourceDataDeletion, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}
