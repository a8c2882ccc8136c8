package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/types"
)

const defaultTokenTTL = time.Hour

// AuthHandler provides JWT authentication endpoints.
type AuthHandler struct {
	accounts *services.AccountService
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(accounts *services.AccountService, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		accounts: accounts,
		secret:   []byte(jwtSecret),
		tokenTTL: tokenTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, h *AuthHandler) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/me", h.Me)
		r.Post("/change-password", h.ChangePassword)
	})
}

// Claims are the access token claims. Adm mirrors the admin flag at issue
// time; authorization decisions re-read it from the account.
type Claims struct {
	Adm bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// RequireAuth enforces JWT authentication and injects the subject into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return requireAuth(h.secret)(next)
}

// RequireAuth constructs auth middleware for other routers.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return requireAuth([]byte(jwtSecret))
}

func requireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			subject, err := parseTokenSubject(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers whose account is not an admin. It must run
// after RequireAuth.
func RequireAdmin(accounts *services.AccountService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := accountIDFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			isAdmin, err := accounts.IsAdmin(r.Context(), accountID)
			if err != nil {
				if statusFor(err) == http.StatusNotFound {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeServiceError(w, logger, err)
				return
			}
			if !isAdmin {
				writeError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Register creates a new account and returns a JWT.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	account, err := h.accounts.Create(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.respondWithToken(w, http.StatusCreated, account)
}

// Login verifies credentials and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			h.logger.Info("login rejected")
		}
		writeServiceError(w, h.logger, err)
		return
	}

	h.respondWithToken(w, http.StatusOK, account)
}

// Me returns the current account with its remaining words and days.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	view, err := h.accounts.View(r.Context(), accountID)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ChangePassword replaces the caller's password after checking the current one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, account types.Account) {
	token, err := issueToken(account, h.secret, h.tokenTTL, h.now())
	if err != nil {
		h.logger.Error("sign token", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, status, AuthResponse{
		Token:   token,
		Account: types.NewAccountView(account, h.now()),
	})
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type AuthResponse struct {
	Token   string            `json:"token"`
	Account types.AccountView `json:"account"`
}

func issueToken(account types.Account, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Adm: account.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
