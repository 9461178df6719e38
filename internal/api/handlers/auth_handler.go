package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tconn93/TRFBWebhook/internal/pkg/errors"
	"github.com/tconn93/TRFBWebhook/internal/pkg/validator"
	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/auth"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
	"github.com/tconn93/TRFBWebhook/internal/platform/repositories"
)

type AuthHandler struct {
	userRepo  *repositories.UserRepository
	tokenSvc  *auth.TokenService
	validator *validator.Validator
	audit     *audit.Logger
}

func NewAuthHandler(userRepo *repositories.UserRepository, tokenSvc *auth.TokenService, v *validator.Validator, auditLogger *audit.Logger) *AuthHandler {
	return &AuthHandler{
		userRepo:  userRepo,
		tokenSvc:  tokenSvc,
		validator: v,
		audit:     auditLogger,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"required,max=255"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeValidation(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash password", nil)
		return
	}

	now := time.Now().Unix()
	user := &models.User{
		ID:           "usr_" + uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.userRepo.Create(r.Context(), user); err != nil {
		if stderrors.Is(err, repositories.ErrDuplicateEmail) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "User with this email already exists", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create user", nil)
		return
	}

	token, err := h.tokenSvc.GenerateAccessToken(user.ID, user.Email, user.Name)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	h.audit.Log(r, user.ID, audit.ActionUserRegister, audit.ResourceUser, user.ID, nil)

	errors.WriteJSON(w, http.StatusCreated, AuthResponse{
		Success: true,
		Message: "User registered successfully",
		Token:   token,
		User:    user,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeValidation(w, err)
		return
	}

	user, err := h.userRepo.GetByEmail(r.Context(), req.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := h.tokenSvc.GenerateAccessToken(user.ID, user.Email, user.Name)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		Message: "Login successful",
		Token:   token,
		User:    user,
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userRepo.GetByID(r.Context(), currentUserID(r))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "User not found", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

// Logout is stateless: tokens are discarded by the client.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logout successful",
	})
}
