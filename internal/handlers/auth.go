package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"telemetry-gateway/internal/common/logging"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  loginUser `json:"user"`
}

type loginUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	IsDefault bool   `json:"is_default"`
}

// HandleLogin exchanges credentials for a bearer token used on the
// read and patch API.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, user, err := h.auth.Login(strings.ToLower(req.Username), req.Password)
	if err != nil {
		h.logger.Warn("login rejected", logging.String("username", req.Username))
		respondError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		Token: token,
		User: loginUser{
			ID:        user.ID,
			Username:  user.Username,
			IsDefault: user.IsDefault,
		},
	})
}
