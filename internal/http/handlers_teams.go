package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MRC-CLIMB/bryn/internal/service/team"
)

func (r *Router) handleListTeams(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	teams, err := r.teams.ListForUser(req.Context(), info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (r *Router) handleGetTeam(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	t, err := r.teams.Get(req.Context(), teamID, info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleUpdateTeam(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	var changes team.Update
	if !decodeJSON(w, req, &changes) {
		return
	}
	t, err := r.teams.Update(req.Context(), teamID, info.UserID, changes)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (r *Router) handleListMembers(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	members, err := r.teams.ListMembers(req.Context(), teamID, info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (r *Router) handleDeleteMember(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	memberID, ok := idParam(w, req, "member")
	if !ok {
		return
	}
	if err := r.teams.DeleteMember(req.Context(), teamID, memberID, info.UserID); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleListInvitations(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	invitations, err := r.invitations.List(req.Context(), teamID, info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, invitations)
}

type invitationRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (r *Router) handleCreateInvitation(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	var body invitationRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	inv, err := r.invitations.Create(req.Context(), teamID, info.UserID, body.Email, body.Message)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (r *Router) handleDeleteInvitation(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	if err := r.invitations.Delete(req.Context(), teamID, chi.URLParam(req, "uuid"), info.UserID); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAcceptInvitation joins the caller to the invited team.
func (r *Router) handleAcceptInvitation(w http.ResponseWriter, req *http.Request) {
	info, ok := r.caller(w, req)
	if !ok {
		return
	}
	u, err := r.users.Get(req.Context(), info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	member, err := r.invitations.AcceptAsUser(req.Context(), chi.URLParam(req, "uuid"), *u)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (r *Router) handleListAcceptances(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	acceptances, err := r.licences.ListAcceptances(req.Context(), teamID, info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptances)
}

func (r *Router) handleAcceptLicence(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	acceptance, err := r.licences.Accept(req.Context(), teamID, info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, acceptance)
}

func (r *Router) handleListTenants(w http.ResponseWriter, req *http.Request) {
	info, teamID, ok := r.teamScope(w, req)
	if !ok {
		return
	}
	tenants, err := r.tenants.List(req.Context(), teamID, info.UserID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}
