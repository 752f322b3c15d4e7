package httpapi

import (
	"net/http"
	"time"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    int64     `json:"userId"`
	Role      auth.Role `json:"roleId"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := a.deps.Resolver.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		UserID:    res.Session.UserID,
		Role:      res.Session.Role,
	})
}

type meResponse struct {
	UserID int64          `json:"userId"`
	Role   auth.Role      `json:"roleId"`
	User   directory.User `json:"user"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionOf(r)
	user, err := a.deps.Directory.GetUser(r.Context(), session, session.UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{UserID: session.UserID, Role: session.Role, User: user})
}
