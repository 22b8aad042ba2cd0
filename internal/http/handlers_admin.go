package httpx

import (
	"net/http"
)

type teamIDsRequest struct {
	RegionID int64   `json:"region_id"`
	TeamIDs  []int64 `json:"team_ids"`
}

func (r *Router) handleVerifyTeams(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	var body teamIDsRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	results, err := r.admin.VerifyTeams(req.Context(), info.UserID, body.TeamIDs)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (r *Router) handleCreateTenants(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	var body teamIDsRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	results, err := r.admin.CreateTenants(req.Context(), info.UserID, body.RegionID, body.TeamIDs)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (r *Router) handleResendInvitations(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	var body struct {
		IDs []string `json:"ids"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	results, err := r.admin.ResendInvitations(req.Context(), info.UserID, body.IDs)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (r *Router) handleResendValidation(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	var body struct {
		UserIDs []int64 `json:"user_ids"`
	}
	if !decodeJSON(w, req, &body) {
		return
	}
	results, err := r.admin.ResendValidation(req.Context(), info.UserID, body.UserIDs)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
