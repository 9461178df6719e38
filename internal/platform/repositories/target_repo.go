package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tconn93/TRFBWebhook/internal/engine/targets"
	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

var (
	ErrMissingOwner  = errors.New("target owner is required")
	ErrMissingFields = errors.New("target name and url are required")
)

const targetColumns = `id, user_id, name, url, active, headers, timeout_ms, created_at, updated_at`

var _ targets.Store = (*TargetRepository)(nil)

type TargetRepository struct {
	db               *database.DB
	defaultTimeoutMS int
}

func NewTargetRepository(db *database.DB, defaultTimeout time.Duration) *TargetRepository {
	return &TargetRepository{db: db, defaultTimeoutMS: int(defaultTimeout / time.Millisecond)}
}

// scoped appends the owner filter when ownerID is set.
func scoped(query, ownerID string, args []interface{}) (string, []interface{}) {
	if ownerID == "" {
		return query, args
	}
	return query + ` AND user_id = ?`, append(args, ownerID)
}

func (r *TargetRepository) ListActive(ctx context.Context, ownerID string) ([]*models.Target, error) {
	query, args := scoped(`SELECT `+targetColumns+` FROM webhook_targets WHERE active = ?`, ownerID, []interface{}{true})
	return r.query(ctx, query+` ORDER BY created_at, id`, args...)
}

func (r *TargetRepository) List(ctx context.Context, ownerID string) ([]*models.Target, error) {
	query, args := scoped(`SELECT `+targetColumns+` FROM webhook_targets WHERE 1 = 1`, ownerID, nil)
	return r.query(ctx, query+` ORDER BY created_at DESC, id`, args...)
}

func (r *TargetRepository) Get(ctx context.Context, id, ownerID string) (*models.Target, error) {
	query, args := scoped(`SELECT `+targetColumns+` FROM webhook_targets WHERE id = ?`, ownerID, []interface{}{id})

	t, err := scanTarget(r.db.QueryRowContext(ctx, r.db.Rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *TargetRepository) Create(ctx context.Context, fields models.TargetFields, ownerID string) (*models.Target, error) {
	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	if fields.Name == nil || fields.URL == nil {
		return nil, ErrMissingFields
	}

	now := time.Now().Unix()
	t := &models.Target{
		ID:        "tgt_" + uuid.NewString(),
		UserID:    ownerID,
		Active:    true,
		Headers:   map[string]string{},
		TimeoutMS: r.defaultTimeoutMS,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(t, fields)

	headers, err := json.Marshal(t.Headers)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO webhook_targets (`+targetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.UserID, t.Name, t.URL, t.Active, string(headers), t.TimeoutMS, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert target: %w", err)
	}
	return t, nil
}

func (r *TargetRepository) Update(ctx context.Context, id string, fields models.TargetFields, ownerID string) (*models.Target, error) {
	t, err := r.Get(ctx, id, ownerID)
	if err != nil || t == nil {
		return nil, err
	}

	apply(t, fields)
	t.UpdatedAt = time.Now().Unix()

	headers, err := json.Marshal(t.Headers)
	if err != nil {
		return nil, err
	}

	query, args := scoped(`
		UPDATE webhook_targets
		SET name = ?, url = ?, active = ?, headers = ?, timeout_ms = ?, updated_at = ?
		WHERE id = ?`, ownerID,
		[]interface{}{t.Name, t.URL, t.Active, string(headers), t.TimeoutMS, t.UpdatedAt, t.ID})

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("update target: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Deleted between the read and the write.
		return nil, nil
	}
	return t, nil
}

func (r *TargetRepository) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	query, args := scoped(`DELETE FROM webhook_targets WHERE id = ?`, ownerID, []interface{}{id})

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *TargetRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Target, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*models.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(s scanner) (*models.Target, error) {
	var (
		t       models.Target
		headers string
	)
	if err := s.Scan(&t.ID, &t.UserID, &t.Name, &t.URL, &t.Active, &headers, &t.TimeoutMS, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}

	t.Headers = map[string]string{}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &t.Headers); err != nil {
			return nil, fmt.Errorf("decode headers of target %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func apply(t *models.Target, fields models.TargetFields) {
	if fields.Name != nil {
		t.Name = *fields.Name
	}
	if fields.URL != nil {
		t.URL = *fields.URL
	}
	if fields.Active != nil {
		t.Active = *fields.Active
	}
	if fields.Headers != nil {
		t.Headers = fields.Headers
	}
	if fields.TimeoutMS != nil {
		t.TimeoutMS = *fields.TimeoutMS
	}
}
