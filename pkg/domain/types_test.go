package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestUserAcceptsMongoID(t *testing.T) {
	var u User
	if err := json.Unmarshal([]byte(`{"_id":"64f0","firstName":"Aline","role":"seller","password":"h"}`), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.ID != "64f0" || u.Role != RoleSeller {
		t.Fatalf("user = %+v", u)
	}
	raw, _ := json.Marshal(u.Public())
	if strings.Contains(string(raw), "password") {
		t.Fatalf("public user leaked password: %s", raw)
	}
}

func TestUserPrefersExplicitID(t *testing.T) {
	var u User
	if err := json.Unmarshal([]byte(`{"id":"a","_id":"b"}`), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.ID != "a" {
		t.Fatalf("id = %q, want a", u.ID)
	}
}

func TestItemSellerShapes(t *testing.T) {
	var byID, embedded Item
	if err := json.Unmarshal([]byte(`{"_id":"i1","seller":"s1"}`), &byID); err != nil {
		t.Fatalf("unmarshal id seller: %v", err)
	}
	if byID.ID != "i1" || byID.Seller.ID != "s1" || byID.Seller.User != nil {
		t.Fatalf("item = %+v", byID)
	}
	if err := json.Unmarshal([]byte(`{"_id":"i2","seller":{"_id":"s2","firstName":"Eric"}}`), &embedded); err != nil {
		t.Fatalf("unmarshal embedded seller: %v", err)
	}
	if embedded.Seller.ID != "s2" || embedded.Seller.User == nil || embedded.Seller.User.FirstName != "Eric" {
		t.Fatalf("item = %+v", embedded)
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]UserRole{" Seller ": RoleSeller, "ADMIN": RoleAdmin, "buyer": RoleBuyer}
	for raw, want := range cases {
		if got, ok := ParseRole(raw); !ok || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseRole("guest"); ok {
		t.Fatalf("ParseRole(guest) should fail")
	}
}
