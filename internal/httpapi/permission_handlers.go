package httpapi

import (
	"fmt"
	"net/http"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/ids"
)

type setGrantsRequest struct {
	CompanyIDs *[]ids.Ref `json:"companyIds"`
	Version    *int64     `json:"version,omitempty"`
}

type accessResponse struct {
	UserID    int64 `json:"userId"`
	CompanyID int64 `json:"companyId"`
	Allowed   bool  `json:"allowed"`
}

func (a *API) handleGetGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	set, err := a.deps.Permissions.GetGrants(r.Context(), sessionOf(r), userID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (a *API) handleSetGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req setGrantsRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	if req.CompanyIDs == nil {
		handleError(w, r, fmt.Errorf("%w: companyIds is required", auth.ErrInvalidInput))
		return
	}
	set, err := a.deps.Permissions.SetGrants(r.Context(), sessionOf(r), userID, ids.Refs(*req.CompanyIDs), req.Version)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	a.toggle(w, r, true)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	a.toggle(w, r, false)
}

func (a *API) toggle(w http.ResponseWriter, r *http.Request, on bool) {
	userID, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	companyID, err := pathID(r, "companyId", auth.ErrInvalidCompany)
	if err != nil {
		handleError(w, r, err)
		return
	}
	apply := a.deps.Permissions.Revoke
	if on {
		apply = a.deps.Permissions.Assign
	}
	set, err := apply(r.Context(), sessionOf(r), userID, companyID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (a *API) handleAccess(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	companyID, err := pathID(r, "companyId", auth.ErrInvalidCompany)
	if err != nil {
		handleError(w, r, err)
		return
	}
	allowed, err := a.deps.Permissions.CanAccess(r.Context(), sessionOf(r), userID, companyID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{UserID: userID, CompanyID: companyID, Allowed: allowed})
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		handleError(w, r, err)
		return
	}
	entries, err := a.deps.Permissions.ListAudit(r.Context(), sessionOf(r), userID, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
