package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tconn93/TRFBWebhook/internal/platform/database"
)

const (
	ActionUserRegister       = "user.register"
	ActionUserDelete         = "user.delete"
	ActionTargetCreate       = "target.create"
	ActionTargetUpdate       = "target.update"
	ActionTargetDelete       = "target.delete"
	ActionFacebookConnect    = "facebook.connect"
	ActionFacebookDisconnect = "facebook.disconnect"
	ActionDataDeletion       = "data_deletion.request"
)

const (
	ResourceUser         = "user"
	ResourceTarget       = "target"
	ResourceDataDeletion = "data_deletion"
)

type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	CreatedAt    int64                  `json:"created_at"`
}

type Logger struct {
	db *database.DB
}

func NewLogger(db *database.DB) *Logger {
	return &Logger{db: db}
}

// Log records an action taken during request r. Failures are logged and
// never surface to the caller.
func (l *Logger) Log(r *http.Request, userID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := FromRequest(r, userID, action, resourceType, resourceID, metadata)
	if err := l.Record(r.Context(), entry); err != nil {
		log.Error().Err(err).Str("action", action).Str("resource_id", resourceID).Msg("failed to write audit log")
	}
}

// FromRequest builds an entry carrying r's client address and user agent.
func FromRequest(r *http.Request, userID, action, resourceType, resourceID string, metadata map[string]interface{}) *AuditLog {
	return &AuditLog{
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	}
}

// Record inserts entry, filling in its id and creation time.
func (l *Logger) Record(ctx context.Context, entry *AuditLog) error {
	entry.ID = "audit_" + uuid.NewString()
	entry.CreatedAt = time.Now().Unix()
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}

	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	var userID interface{}
	if entry.UserID != "" {
		userID = entry.UserID
	}

	_, err = l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, userID, entry.Action, entry.ResourceType, entry.ResourceID, string(meta), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// FindByResource returns the most recent entry for the resource, or nil.
func (l *Logger) FindByResource(ctx context.Context, resourceType, resourceID string) (*AuditLog, error) {
	var (
		entry  AuditLog
		userID sql.NullString
		meta   string
	)

	err := l.db.QueryRowContext(ctx, l.db.Rebind(`
		SELECT id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`), resourceType, resourceID).Scan(
		&entry.ID, &userID, &entry.Action, &entry.ResourceType, &entry.ResourceID,
		&meta, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	entry.UserID = userID.String
	if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
		return nil, fmt.Errorf("decode audit metadata: %w", err)
	}
	return &entry, nil
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Prune deletes entries created before the given unix time and returns how
// many were removed.
func (l *Logger) Prune(ctx context.Context, before int64) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.db.Rebind(`DELETE FROM audit_logs WHERE created_at < ?`), before)
	if err != nil {
		return 0, fmt.Errorf("prune audit logs: %w", err)
	}
	return res.RowsAffected()
}
