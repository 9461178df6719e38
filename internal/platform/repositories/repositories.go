package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

var ErrDuplicateEmail = errors.New("user with this email already exists")

const userColumns = `id, email, name, password_hash, facebook_user_id, facebook_access_token, facebook_token_expires, facebook_connected_at, created_at, updated_at`

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), user.ID, user.Email, user.Name, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if errors.Is(r.db.Dialect.MapError(err), database.ErrUniqueViolation) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *UserRepository) GetByFacebookID(ctx context.Context, facebookUserID string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE facebook_user_id = ?`, facebookUserID)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	user := &models.User{}
	var (
		fbUserID, fbToken      sql.NullString
		fbExpires, fbConnected sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), arg).Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&fbUserID, &fbToken, &fbExpires, &fbConnected,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	user.FacebookUserID = fbUserID.String
	user.FacebookAccessToken = fbToken.String
	if fbExpires.Valid {
		user.FacebookTokenExpires = &fbExpires.Int64
	}
	if fbConnected.Valid {
		user.FacebookConnectedAt = &fbConnected.Int64
	}
	return user, nil
}

// Delete removes the user and every target it owns. It reports whether the
// user existed.
func (r *UserRepository) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM webhook_targets WHERE user_id = ?`), id); err != nil {
		return false, fmt.Errorf("delete targets: %w", err)
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *UserRepository) ConnectFacebook(ctx context.Context, userID string, conn models.FacebookConnection) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users
		SET facebook_user_id = ?, facebook_access_token = ?, facebook_token_expires = ?, facebook_connected_at = ?, updated_at = ?
		WHERE id = ?
	`), conn.FacebookUserID, conn.AccessToken, conn.TokenExpires, now, now, userID)
	return err
}

func (r *UserRepository) DisconnectFacebook(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users
		SET facebook_user_id = NULL, facebook_access_token = NULL, facebook_token_expires = NULL, facebook_connected_at = NULL, updated_at = ?
		WHERE id = ?
	`), time.Now().Unix(), userID)
	return err
}

// FacebookStatus returns nil when the user does not exist.
func (r *UserRepository) FacebookStatus(ctx context.Context, userID string) (*models.FacebookStatus, error) {
	var (
		fbUserID    sql.NullString
		connectedAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT facebook_user_id, facebook_connected_at FROM users WHERE id = ?`), userID).
		Scan(&fbUserID, &connectedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	status := &models.FacebookStatus{Connected: fbUserID.String != ""}
	if connectedAt.Valid {
		status.ConnectedAt = &connectedAt.Int64
	}
	return status, nil
}

// ExpireFacebookTokens clears stored access tokens that expired before now.
// The Facebook user id stays linked so deletion callbacks still resolve.
func (r *UserRepository) ExpireFacebookTokens(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users
		SET facebook_access_token = NULL, facebook_token_expires = NULL, updated_at = ?
		WHERE facebook_token_expires IS NOT NULL AND facebook_token_expires < ?
	`), now, now)
	if err != nil {
		return 0, fmt.Errorf("expire facebook tokens: %w", err)
	}
	return res.RowsAffected()
}
