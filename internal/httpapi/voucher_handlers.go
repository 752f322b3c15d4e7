package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/ids"
	"comprobantes.org/internal/voucher"
)

type createVoucherRequest struct {
	CompanyID   ids.Ref      `json:"companyId"`
	Supplier    string       `json:"supplier"`
	IssuedOn    voucher.Date `json:"issuedOn"`
	Currency    string       `json:"currency"`
	Amount      int64        `json:"amount"`
	Concept     string       `json:"concept"`
	DocumentURL string       `json:"documentUrl"`
	Email       string       `json:"email"`
	Bank        string       `json:"bank"`
	Reference   string       `json:"reference"`
}

// voucherFilter reads the listing filter from the query string.
func voucherFilter(r *http.Request) (voucher.Filter, error) {
	q := r.URL.Query()
	f := voucher.Filter{
		Supplier:  strings.TrimSpace(q.Get("supplier")),
		Bank:      strings.TrimSpace(q.Get("bank")),
		Currency:  strings.TrimSpace(q.Get("currency")),
		Reference: strings.TrimSpace(q.Get("reference")),
		Concept:   strings.TrimSpace(q.Get("concept")),
	}
	if raw := strings.TrimSpace(q.Get("companyId")); raw != "" {
		id, err := ids.ParseID(raw)
		if err != nil {
			return voucher.Filter{}, fmt.Errorf("%w: companyId", auth.ErrInvalidInput)
		}
		f.CompanyID = id
	}
	var err error
	for name, dst := range map[string]*voucher.Date{"issuedFrom": &f.IssuedFrom, "issuedTo": &f.IssuedTo} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		if *dst, err = voucher.ParseDate(raw); err != nil {
			return voucher.Filter{}, err
		}
	}
	if f.AmountMin, err = queryInt64Ptr(r, "amountMin"); err != nil {
		return voucher.Filter{}, err
	}
	if f.AmountMax, err = queryInt64Ptr(r, "amountMax"); err != nil {
		return voucher.Filter{}, err
	}
	if f.Page, err = queryInt(r, "page"); err != nil {
		return voucher.Filter{}, err
	}
	if f.PerPage, err = queryInt(r, "perPage"); err != nil {
		return voucher.Filter{}, err
	}
	return f, nil
}

func (a *API) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	f, err := voucherFilter(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	page, err := a.deps.Vouchers.List(r.Context(), sessionOf(r), f)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req createVoucherRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	v, err := a.deps.Vouchers.Create(r.Context(), sessionOf(r), voucher.Voucher{
		CompanyID:   int64(req.CompanyID),
		Supplier:    req.Supplier,
		IssuedOn:    req.IssuedOn,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Concept:     req.Concept,
		DocumentURL: req.DocumentURL,
		Email:       req.Email,
		Bank:        req.Bank,
		Reference:   req.Reference,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/comprobantes/%d", v.ID))
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleGetVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "voucherId", auth.ErrNotFound)
	if err != nil {
		handleError(w, r, err)
		return
	}
	v, err := a.deps.Vouchers.Get(r.Context(), sessionOf(r), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
