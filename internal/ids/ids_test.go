package ids

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseID(t *testing.T) {
	cases := map[string]int64{
		"1":     1,
		" 42 ":  42,
		"90210": 90210,
	}
	for raw, want := range cases {
		got, err := ParseID(raw)
		if err != nil {
			t.Fatalf("ParseID(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseID(%q)=%d, want %d", raw, got, want)
		}
	}
	for _, raw := range []string{"", "0", "-3", "c1", "1.5", "9999999999999999999999"} {
		if _, err := ParseID(raw); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("ParseID(%q) expected ErrInvalidID, got %v", raw, err)
		}
	}
}

func TestRefAcceptsNumbersAndStrings(t *testing.T) {
	var body struct {
		CompanyIDs []Ref `json:"companyIds"`
	}
	if err := json.Unmarshal([]byte(`{"companyIds":[1,"2", 3]}`), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := Refs(body.CompanyIDs)
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected refs: %v", got)
	}

	if err := json.Unmarshal([]byte(`{"companyIds":["c1"]}`), &body); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"companyIds":[0]}`), &body); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID for zero, got %v", err)
	}
}

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if a >= b {
		t.Fatalf("expected monotonic ids, got %s then %s", a, b)
	}
}
