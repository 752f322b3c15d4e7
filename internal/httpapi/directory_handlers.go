package httpapi

import (
	"fmt"
	"net/http"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/ids"
)

type companyRequest struct {
	Name     *string `json:"name"`
	Industry *string `json:"industry"`
	TaxID    *string `json:"taxId"`
}

type createUserRequest struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	Role      auth.Role `json:"roleId"`
	CompanyID *ids.Ref  `json:"companyId"`
}

// updateUserRequest: companyId 0 clears the home company.
type updateUserRequest struct {
	Name      *string    `json:"name"`
	Email     *string    `json:"email"`
	Password  *string    `json:"password"`
	Role      *auth.Role `json:"roleId"`
	CompanyID *int64     `json:"companyId"`
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (a *API) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := a.deps.Permissions.VisibleCompanyList(r.Context(), sessionOf(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": companies})
}

func (a *API) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req companyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	c, err := a.deps.Directory.CreateCompany(r.Context(), sessionOf(r), directory.NewCompany{
		Name:     derefString(req.Name),
		Industry: derefString(req.Industry),
		TaxID:    derefString(req.TaxID),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/companies/%d", c.ID))
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "companyId", auth.ErrInvalidCompany)
	if err != nil {
		handleError(w, r, err)
		return
	}
	c, err := a.deps.Permissions.VisibleCompany(r.Context(), sessionOf(r), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "companyId", auth.ErrInvalidCompany)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req companyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	c, err := a.deps.Directory.UpdateCompany(r.Context(), sessionOf(r), id, directory.CompanyUpdate{
		Name:     req.Name,
		Industry: req.Industry,
		TaxID:    req.TaxID,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "companyId", auth.ErrInvalidCompany)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.deps.Directory.DeleteCompany(r.Context(), sessionOf(r), id); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Directory.ListUsers(r.Context(), sessionOf(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	in := directory.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}
	if req.CompanyID != nil {
		home := int64(*req.CompanyID)
		in.CompanyID = &home
	}
	u, err := a.deps.Directory.CreateUser(r.Context(), sessionOf(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%d", u.ID))
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	u, err := a.deps.Directory.GetUser(r.Context(), sessionOf(r), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	u, err := a.deps.Directory.UpdateUser(r.Context(), sessionOf(r), id, directory.UserPatch{
		Name:      req.Name,
		Email:     req.Email,
		Role:      req.Role,
		CompanyID: req.CompanyID,
		Password:  req.Password,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId", auth.ErrInvalidUser)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.deps.Directory.DeleteUser(r.Context(), sessionOf(r), id); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
