package httpx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MRC-CLIMB/bryn/internal/service/cloud"
)

func (r *Router) handleFlavors(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	flavors, err := r.cloud.Flavors(req.Context(), ref)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, flavors)
}

func (r *Router) handleImages(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	images, err := r.cloud.Images(req.Context(), ref)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (r *Router) handleTenantKeyPairs(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	keys, err := r.cloud.KeyPairs(req.Context(), ref)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleCreateTenantKeyPair imports a raw public key, or pushes one of the
// caller's stored keys when keypair_id is set.
func (r *Router) handleCreateTenantKeyPair(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	var body keyPairRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if body.KeyPairID != 0 {
		key, err := r.keypairs.PushToTenant(req.Context(), ref, body.KeyPairID)
		if err != nil {
			r.fail(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, key)
		return
	}
	key, err := r.cloud.CreateKeyPair(req.Context(), ref, body.Name, body.PublicKey)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (r *Router) handleDeleteTenantKeyPair(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	if err := r.cloud.DeleteKeyPair(req.Context(), ref, chi.URLParam(req, "name")); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleVolumeTypes(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	types, err := r.cloud.VolumeTypes(req.Context(), ref)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (r *Router) handleVolumes(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	volumes, err := r.cloud.Volumes(req.Context(), ref)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, volumes)
}

func (r *Router) handleCreateVolume(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	var body cloud.VolumeRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	volume, err := r.cloud.CreateVolume(req.Context(), ref, body)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, volume)
}

func (r *Router) handleDeleteVolume(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	if err := r.cloud.DeleteVolume(req.Context(), ref, chi.URLParam(req, "volume")); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleServers(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	servers, err := r.cloud.Servers(req.Context(), ref)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (r *Router) handleServer(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	server, err := r.cloud.Server(req.Context(), ref, chi.URLParam(req, "server"))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (r *Router) handleServerAction(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	action := cloud.Action(strings.ToLower(chi.URLParam(req, "action")))
	if err := r.cloud.ServerAction(req.Context(), ref, chi.URLParam(req, "server"), action); err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "action": string(action)})
}

func (r *Router) handleTerminateServer(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	if err := r.cloud.TerminateServer(req.Context(), ref, chi.URLParam(req, "server")); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleGetLease(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	l, err := r.leases.Get(req.Context(), ref, chi.URLParam(req, "server"))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type leaseAssignRequest struct {
	MemberID int64 `json:"member_id"`
}

func (r *Router) handleAssignLease(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	var body leaseAssignRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	l, err := r.leases.Assign(req.Context(), ref, chi.URLParam(req, "server"), body.MemberID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (r *Router) handleRenewLease(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	l, err := r.leases.Renew(req.Context(), ref, chi.URLParam(req, "server"))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type leaseExtensionRequest struct {
	Message string `json:"message"`
}

func (r *Router) handleRequestLeaseExtension(w http.ResponseWriter, req *http.Request) {
	ref, ok := r.tenantRef(w, req)
	if !ok {
		return
	}
	var body leaseExtensionRequest
	if !decodeJSON(w, req, &body) {
		return
	}
	if err := r.leases.RequestExtension(req.Context(), ref, chi.URLParam(req, "server"), body.Message); err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}
