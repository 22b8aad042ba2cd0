package httpx

import (
	"net/http"
	"time"

	"github.com/MRC-CLIMB/bryn/internal/service/user"
)

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body loginRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	login := body.Username
	if login == "" {
		login = body.Email
	}
	u, session, err := r.auth.Login(req.Context(), login, body.Password)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookie.Name,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       u,
		"token":      session.Token,
		"expires_at": session.ExpiresAt.UTC(),
	})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookie.Name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleGetUser(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	u, err := r.users.Get(req.Context(), info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (r *Router) handleUpdateUser(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	var changes user.Update
	if !decodeJSON(w, req, &changes) {
		return
	}
	u, err := r.users.Update(req.Context(), info.UserID, changes)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (r *Router) handleRegions(w http.ResponseWriter, req *http.Request) {
	regions, err := r.regions.List(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, regions)
}

func (r *Router) handleCurrentLicence(w http.ResponseWriter, req *http.Request) {
	version, err := r.licences.Current(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (r *Router) handleListKeyPairs(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	keys, err := r.keypairs.List(req.Context(), info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

type keyPairRequest struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
	KeyPairID int64  `json:"keypair_id"`
}

func (r *Router) handleCreateKeyPair(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	var body keyPairRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	key, err := r.keypairs.Create(req.Context(), info.UserID, body.Name, body.PublicKey)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (r *Router) handleDeleteKeyPair(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	id, ok := idParam(w, req, "id")
	if !ok {
		return
	}
	if err := r.keypairs.Delete(req.Context(), info.UserID, id); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleDefaultKeyPair(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	id, ok := idParam(w, req, "id")
	if !ok {
		return
	}
	u, err := r.keypairs.SetDefault(req.Context(), info.UserID, id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
