package handler

import (
	"context"
	"encoding/json"
	"errors"
	"go-admission-api/common"
	"go-admission-api/model"
	"net/http"
)

// IUserService is the account surface the handlers depend on.
type IUserService interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.User, error)
	Login(ctx context.Context, req model.LoginRequest) (*model.IssuedToken, error)
	Logout(ctx context.Context, userID string) error
	DeleteAccount(ctx context.Context, userID string) error
}

type UserHandler struct {
	Service IUserService
}

func NewUserHandler(service IUserService) *UserHandler {
	return &UserHandler{Service: service}
}

// Register godoc
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body model.RegisterRequest true "Registration payload"
// @Success      201  {object}  model.User
// @Failure      400  {object}  common.AppError
// @Failure      409  {object}  common.AppError
// @Failure      429  {object}  common.AppError
// @Router       /register [post]
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.RegisterRequest
	if appErr := common.ValidateAndDecode(r, &req); appErr != nil {
		return appErr
	}

	user, err := h.Service.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, common.ErrEmailTaken) {
			return common.NewAppError(http.StatusConflict, "Email is already registered", nil)
		}
		return storeAppError("Error creating user", err)
	}

	writeJSON(w, http.StatusCreated, user)
	return nil
}

// Login godoc
// @Summary      Log in and receive a session token
// @Description  Issuing a token revokes every earlier token of the user.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body model.LoginRequest true "Login credentials"
// @Success      200  {object}  model.IssuedToken
// @Failure      401  {object}  common.AppError
// @Failure      429  {object}  common.AppError
// @Router       /login [post]
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) *common.AppError {
	var req model.LoginRequest
	if appErr := common.ValidateAndDecode(r, &req); appErr != nil {
		return appErr
	}

	issued, err := h.Service.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			return common.NewAppError(http.StatusUnauthorized, "Invalid email or password", nil)
		}
		return storeAppError("Error logging in", err)
	}

	writeJSON(w, http.StatusOK, issued)
	return nil
}

// Logout godoc
// @Summary      Revoke every session of the caller
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  common.AppError
// @Router       /logout [post]
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) *common.AppError {
	ownerID, ok := OwnerIDFromContext(r.Context())
	if !ok {
		return common.NewAppError(http.StatusUnauthorized, "Authentication required", nil)
	}

	if err := h.Service.Logout(r.Context(), ownerID); err != nil {
		return storeAppError("Error logging out", err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// DeleteAccount godoc
// @Summary      Delete the caller's account
// @Description  Every session of the user is revoked before the account is removed.
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  common.AppError
// @Failure      404  {object}  common.AppError
// @Router       /account [delete]
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) *common.AppError {
	ownerID, ok := OwnerIDFromContext(r.Context())
	if !ok {
		return common.NewAppError(http.StatusUnauthorized, "Authentication required", nil)
	}

	if err := h.Service.DeleteAccount(r.Context(), ownerID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NewAppError(http.StatusNotFound, "User not found", nil)
		}
		return storeAppError("Error deleting account", err)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func storeAppError(message string, err error) *common.AppError {
	if errors.Is(err, common.ErrStoreUnavailable) {
		return common.NewAppError(http.StatusServiceUnavailable, "Service temporarily unavailable", err)
	}
	return common.NewAppError(http.StatusInternalServerError, message, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
