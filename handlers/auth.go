package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"labpower/auth"
	"labpower/db"
	"labpower/middleware"
	"labpower/models"
)

type AuthHandler struct {
	store      db.Store
	jwtManager *auth.JWTManager
}

func NewAuthHandler(store db.Store, jwtManager *auth.JWTManager) *AuthHandler {
	return &AuthHandler{
		store:      store,
		jwtManager: jwtManager,
	}
}

type RegisterRequest struct {
	Name     string      `json:"name"`
	Password string      `json:"password"`
	Role     models.Role `json:"role,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

// Register creates a new account with a hashed credential
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Password == "" {
		writeError(w, "Name and password are required", http.StatusBadRequest)
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleEngineer
	}
	if role != models.RoleEngineer && role != models.RoleAdmin {
		writeError(w, "Role must be Engineer or Admin", http.StatusBadRequest)
		return
	}

	now := time.Now()
	user := &models.User{
		UserID:          "user-" + uuid.NewString(),
		Name:            req.Name,
		Role:            role,
		AssignedDevices: []string{},
		LastLogin:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeAppError(w, err)
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("❌ Failed to hash password: %v", err)
		writeError(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}
	if err := h.store.StorePasswordHash(r.Context(), user.UserID, passwordHash); err != nil {
		log.Printf("❌ Failed to store password: %v", err)
		writeError(w, "Failed to store password", http.StatusInternalServerError)
		return
	}

	log.Printf("✅ User registered: %s (role: %s)", user.Name, user.Role)
	writeJSON(w, http.StatusCreated, user)
}

// Login handles user authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByName(r.Context(), req.Username)
	if err != nil {
		log.Printf("Login failed for user %s: user not found", req.Username)
		writeError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	passwordHash, err := h.store.GetPasswordHash(r.Context(), user.UserID)
	if err != nil {
		log.Printf("Login failed for user %s: password hash not found", req.Username)
		writeError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	if err := auth.CheckPassword(req.Password, passwordHash); err != nil {
		log.Printf("Login failed for user %s: invalid password", req.Username)
		writeError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	if err := h.store.UpdateLastLogin(r.Context(), user.UserID, time.Now()); err != nil {
		log.Printf("Warning: failed to update last login for user %s: %v", req.Username, err)
	}

	token, err := h.jwtManager.GenerateToken(user)
	if err != nil {
		log.Printf("Failed to generate token for user %s: %v", req.Username, err)
		writeError(w, "Failed to generate authentication token", http.StatusInternalServerError)
		return
	}

	refreshToken, err := h.jwtManager.GenerateRefreshToken(user)
	if err != nil {
		log.Printf("Failed to generate refresh token for user %s: %v", req.Username, err)
		writeError(w, "Failed to generate refresh token", http.StatusInternalServerError)
		return
	}

	log.Printf("✅ User logged in: %s (role: %s)", user.Name, user.Role)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         user,
	})
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken exchanges a valid refresh token for a new access token
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	claims, err := h.jwtManager.ValidateToken(req.RefreshToken)
	if err != nil {
		writeError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	user, err := h.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, "User not found", http.StatusUnauthorized)
		return
	}

	token, err := h.jwtManager.GenerateToken(user)
	if err != nil {
		log.Printf("Failed to generate token for user %s: %v", user.Name, err)
		writeError(w, "Failed to generate authentication token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Me returns the authenticated user's profile
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type ProfileUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Password *string `json:"password,omitempty"`
}

// UpdateProfile lets the authenticated user rename themselves or change
// their password. A rename also rewrites the assigned_users mirror on each
// of the user's devices, inside the store transaction.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeError(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated := user
	if req.Name != nil && *req.Name != user.Name {
		renamed, err := h.store.RenameUser(r.Context(), user.UserID, *req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		updated = renamed
	}

	if req.Password != nil {
		if err := auth.ValidatePasswordStrength(*req.Password); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		passwordHash, err := auth.HashPassword(*req.Password)
		if err != nil {
			log.Printf("❌ Failed to hash password: %v", err)
			writeError(w, "Failed to hash password", http.StatusInternalServerError)
			return
		}
		if err := h.store.StorePasswordHash(r.Context(), user.UserID, passwordHash); err != nil {
			log.Printf("❌ Failed to store password: %v", err)
			writeError(w, "Failed to store password", http.StatusInternalServerError)
			return
		}
	}

	log.Printf("✅ Profile updated: %s", updated.Name)
	writeJSON(w, http.StatusOK, updated)
}
