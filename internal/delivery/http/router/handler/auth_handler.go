// Package handler contains the HTTP handlers for the application.
package handler

import (
	"log/slog"
	"net/http"

	"mound/internal/delivery/http/response"
	"mound/internal/domain/entity"
	"mound/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// AuthHandler holds dependencies for account and session handlers.
type AuthHandler struct {
	uc     usecase.IdentityUsecase
	logger *slog.Logger
}

// NewAuthHandler is the constructor for AuthHandler, injected by Fx.
func NewAuthHandler(uc usecase.IdentityUsecase, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		uc:     uc,
		logger: logger,
	}
}

// --- Request / response shapes ---

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	DeviceID string `json:"deviceId"`
}

type oauthLoginRequest struct {
	IDToken  string `json:"idToken" validate:"required"`
	DeviceID string `json:"deviceId"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// userView is the safe subset of a user record returned to clients.
type userView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
	OAuthProvider string `json:"oauthProvider,omitempty"`
	HasPassword   bool   `json:"hasPassword"`
}

type sessionView struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         userView `json:"user"`
}

func toUserView(user *entity.User) userView {
	view := userView{
		ID:            user.ID.String(),
		Email:         user.Email,
		Name:          user.Name,
		EmailVerified: user.EmailVerified,
		HasPassword:   user.HasPassword(),
	}
	if user.OAuthProvider != nil {
		view.OAuthProvider = user.OAuthProvider.String()
	}

	return view
}

// --- Handlers ---

// Register handles the password registration request.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid registration input")
	}
	if err := c.Validate(&req); err != nil {
		return errors.WithStack(err)
	}

	output, err := h.uc.Register(c.Request().Context(), &usecase.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusCreated, toUserView(output.User), "User registered successfully")
}

// Login handles the password login request.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid login input")
	}
	if err := c.Validate(&req); err != nil {
		return errors.WithStack(err)
	}

	output, err := h.uc.Login(c.Request().Context(), &usecase.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, sessionView{
		AccessToken:  output.AccessToken,
		RefreshToken: output.RefreshToken,
		User:         toUserView(output.User),
	}, "Login successful")
}

// OAuthGoogle handles Google ID token sign-in.
func (h *AuthHandler) OAuthGoogle(c echo.Context) error {
	return h.oauthLogin(c, entity.ProviderGoogle)
}

// OAuthApple handles Apple ID token sign-in.
func (h *AuthHandler) OAuthApple(c echo.Context) error {
	return h.oauthLogin(c, entity.ProviderApple)
}

func (h *AuthHandler) oauthLogin(c echo.Context, provider entity.Provider) error {
	var req oauthLoginRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid OAuth login input")
	}
	if err := c.Validate(&req); err != nil {
		return errors.WithStack(err)
	}

	output, err := h.uc.OAuthLogin(c.Request().Context(), &usecase.OAuthLoginInput{
		Provider: provider,
		IDToken:  req.IDToken,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, sessionView{
		AccessToken:  output.AccessToken,
		RefreshToken: output.RefreshToken,
		User:         toUserView(output.User),
	}, "OAuth authentication successful")
}

// Refresh handles the token refresh request.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid refresh token input")
	}
	if err := c.Validate(&req); err != nil {
		return errors.WithStack(err)
	}

	output, err := h.uc.Refresh(c.Request().Context(), &usecase.RefreshInput{
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, output, "Token refreshed successfully")
}

// Logout handles the logout request.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid logout input")
	}
	if err := c.Validate(&req); err != nil {
		return errors.WithStack(err)
	}

	if err := h.uc.Logout(c.Request().Context(), &usecase.LogoutInput{
		RefreshToken: req.RefreshToken,
	}); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, map[string]string{"message": "Successfully logged out"}, "Logout successful")
}

// HealthCheck is a simple handler to check if the service is up.
func HealthCheck(c echo.Context) error {
	return response.Success(c, http.StatusOK, map[string]string{"status": "ok"}, "Service is healthy")
}
