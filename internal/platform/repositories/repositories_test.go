package repositories

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"

	"github.com/tconn93/TRFBWebhook/internal/platform/database"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return &database.DB{DB: db, Dialect: database.SQLiteDialect{}}, mock
}

var userRowColumns = []string{"id", "email", "name", "password_hash", "facebook_user_id", "facebook_access_token", "facebook_token_expires", "facebook_connected_at", "created_at", "updated_at"}

func TestUserRepository_GetByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	t.Run("Found", func(t *testing.T) {
		rows := sqlmock.NewRows(userRowColumns).
			AddRow("usr_1", "jane@example.com", "Jane", "hash", "fb_9", "token", int64(1700003600), int64(1700000000), int64(1690000000), int64(1690000000))
		mock.ExpectQuery("SELECT (.+) FROM users WHERE email = ?").
			WithArgs("jane@example.com").
			WillReturnRows(rows)

		user, err := repo.GetByEmail(context.Background(), "  Jane@Example.com ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user == nil || user.ID != "usr_1" {
			t.Fatalf("expected usr_1, got %+v", user)
		}
		if user.FacebookUserID != "fb_9" || user.FacebookConnectedAt == nil || *user.FacebookConnectedAt != 1700000000 {
			t.Errorf("facebook fields not scanned: %+v", user)
		}
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM users WHERE email = ?").
			WithArgs("nobody@example.com").
			WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByEmail(context.Background(), "nobody@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user != nil {
			t.Errorf("expected nil user, got %+v", user)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUserRepository_CreateDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").
		WithArgs("usr_2", "dup@example.com", "Dup", "hash", int64(1), int64(1)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})

	err := repo.Create(context.Background(), &models.User{
		ID: "usr_2", Email: "DUP@example.com", Name: "Dup", PasswordHash: "hash", CreatedAt: 1, UpdatedAt: 1,
	})
	if err != ErrDuplicateEmail {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUserRepository_FacebookStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT facebook_user_id, facebook_connected_at FROM users WHERE id = ?").
		WithArgs("usr_1").
		WillReturnRows(sqlmock.NewRows([]string{"facebook_user_id", "facebook_connected_at"}).AddRow(nil, nil))

	status, err := repo.FacebookStatus(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Connected || status.ConnectedAt != nil {
		t.Errorf("expected disconnected status, got %+v", status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUserRepository_DisconnectFacebook(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec("UPDATE users SET facebook_user_id = NULL").
		WithArgs(sqlmock.AnyArg(), "usr_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DisconnectFacebook(context.Background(), "usr_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
