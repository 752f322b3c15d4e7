package ids

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidID is returned when an external identifier is not a positive integer.
var ErrInvalidID = errors.New("invalid identifier")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier for audit entries and requests.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ParseID converts an external identifier (path segment, header, claim) into
// the canonical int64 used for users and companies.
func ParseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidID)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return v, nil
}

// FormatID renders a canonical id for external surfaces.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Ref is an id decoded from JSON that accepts both numbers and numeric strings.
type Ref int64

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseID(s)
		if err != nil {
			return err
		}
		*r = Ref(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidID, string(data))
	}
	v, err := ParseID(n.String())
	if err != nil {
		return err
	}
	*r = Ref(v)
	return nil
}

// Refs converts decoded references into canonical ids.
func Refs(in []Ref) []int64 {
	if in == nil {
		return nil
	}
	out := make([]int64, len(in))
	for i, r := range in {
		out[i] = int64(r)
	}
	return out
}
