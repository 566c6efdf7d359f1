package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/todomaster/internal/models"
	"github.com/charlesng35/todomaster/internal/services"
	"github.com/charlesng35/todomaster/pkg/response"
)

// AuthHandler exposes registration, password login and account maintenance.
type AuthHandler struct {
	svc *services.AuthService
}

func NewAuthHandler(svc *services.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max_bytes=72,password_strength"`
	Name     string `json:"name" validate:"required,min=2,max=50"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max_bytes=72,password_strength"`
}

type notificationsRequest struct {
	Email  *bool `json:"email"`
	Push   *bool `json:"push"`
	Weekly *bool `json:"weekly"`
}

type preferencesRequest struct {
	Theme         *string               `json:"theme" validate:"omitempty,oneof=light dark system"`
	Notifications *notificationsRequest `json:"notifications"`
}

type profileRequest struct {
	Name        *string             `json:"name" validate:"omitempty,min=2,max=50"`
	Email       *string             `json:"email" validate:"omitempty,email"`
	Preferences *preferencesRequest `json:"preferences"`
}

type authResponse struct {
	Token string            `json:"token"`
	User  models.PublicUser `json:"user"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.Register(requestContext(c), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     strings.TrimSpace(req.Name),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, authResponse{Token: result.Token, User: result.User.Public()})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.Login(requestContext(c), services.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		RequestMeta: requestMeta(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, authResponse{Token: result.Token, User: result.User.Public()})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := authenticatedUser(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": user.Public()})
}

// PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	user, ok := authenticatedUser(c)
	if !ok {
		return
	}

	var req profileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.ProfileInput{Name: trimmed(req.Name), Email: req.Email}
	if prefs := req.Preferences; prefs != nil {
		input.Preferences = &services.PreferencesInput{Theme: prefs.Theme}
		if n := prefs.Notifications; n != nil {
			input.Preferences.Notifications = &services.NotificationsInput{
				Email:  n.Email,
				Push:   n.Push,
				Weekly: n.Weekly,
			}
		}
	}

	updated, err := h.svc.UpdateProfile(requestContext(c), user.ID, input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"user": updated.Public()})
}

// PUT /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user, ok := authenticatedUser(c)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.ChangePassword(requestContext(c), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Password changed successfully"})
}

// DELETE /api/auth/account
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	user, ok := authenticatedUser(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteAccount(requestContext(c), user.ID); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Account deleted successfully"})
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}
