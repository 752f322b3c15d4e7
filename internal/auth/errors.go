package auth

import "errors"

// Errors shared by the permission core and its stores. Wrap them with
// fmt.Errorf("%w: ...") to add detail; callers match with errors.Is.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidUser     = errors.New("user not found")
	ErrInvalidCompany  = errors.New("company not found")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("resource conflict")
)

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidUser):
		return "invalid_user"
	case errors.Is(err, ErrInvalidCompany):
		return "invalid_company"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
