package authx

import "testing"

func TestParseRoles(t *testing.T) {
	claims := map[string]any{
		"roles": []any{"admin", "operator"},
		"scp":   "read write",
	}
	roles := parseRoles(claims)
	if len(roles) < 3 {
		t.Fatalf("expected roles to include entries, got %v", roles)
	}
}

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier("", "aud", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
}

func TestParseUserID(t *testing.T) {
	if got := parseUserID(map[string]any{"uid": float64(42)}, ""); got != 42 {
		t.Fatalf("expected 42 from uid claim, got %d", got)
	}
	if got := parseUserID(map[string]any{}, "1007"); got != 1007 {
		t.Fatalf("expected 1007 from numeric subject, got %d", got)
	}
	if got := parseUserID(map[string]any{}, "user-abc"); got != 0 {
		t.Fatalf("expected 0 for non-numeric subject, got %d", got)
	}
}

func TestHasAny(t *testing.T) {
	auth := AuthContext{Permissions: []string{"event.cancel", "event.edit"}}
	if !auth.HasAny("admin", "event.cancel") {
		t.Fatalf("expected match on event.cancel")
	}
	if auth.HasAny("admin") {
		t.Fatalf("expected no match on admin")
	}
}
