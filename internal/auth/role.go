package auth

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Role is the two-tier role of a user. The zero value is not a valid role.
type Role int16

const (
	RoleRegular       Role = 1
	RoleAdministrator Role = 2
)

func (r Role) Valid() bool {
	return r == RoleRegular || r == RoleAdministrator
}

func (r Role) IsAdministrator() bool { return r == RoleAdministrator }

func (r Role) String() string {
	switch r {
	case RoleRegular:
		return "regular"
	case RoleAdministrator:
		return "administrator"
	default:
		return "unknown"
	}
}

// ParseRole accepts role names and their persisted numeric form.
func ParseRole(raw string) (Role, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "regular", "user", "1":
		return RoleRegular, nil
	case "administrator", "admin", "2":
		return RoleAdministrator, nil
	default:
		return 0, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, raw)
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("marshal role: invalid value %d", r)
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Errorf("%w: role must be a name or number", ErrInvalidInput)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Session is the resolved identity of a caller. It is passed explicitly into
// every permission-core call.
type Session struct {
	UserID int64
	Role   Role
}

// RequireAdministrator fails with ErrForbidden unless the session is an administrator.
func (s Session) RequireAdministrator() error {
	if s.UserID <= 0 {
		return ErrUnauthenticated
	}
	if !s.Role.IsAdministrator() {
		return fmt.Errorf("%w: administrator role required", ErrForbidden)
	}
	return nil
}

// CanActFor reports whether the session may read data about userID:
// administrators may read anyone, regular users only themselves.
func (s Session) CanActFor(userID int64) bool {
	return s.Role.IsAdministrator() || s.UserID == userID
}
