package registry

import "testing"

func TestAppKey(t *testing.T) {
	got := AppKey("shop.example.com")
	want := "APP#shop.example.com"
	if got != want {
		t.Errorf("AppKey() = %q, want %q", got, want)
	}
}

func TestLeaseKey(t *testing.T) {
	got := LeaseKey("i-0123456789")
	want := "LOCK#DB#i-0123456789"
	if got != want {
		t.Errorf("LeaseKey() = %q, want %q", got, want)
	}
}

func TestOplogKeyAndPrefix(t *testing.T) {
	key := OplogKey("shop.example.com", 1700000000)
	want := "OPLOG#shop.example.com#1700000000"
	if key != want {
		t.Errorf("OplogKey() = %q, want %q", key, want)
	}

	prefix := OplogPrefix("shop.example.com")
	if key[:len(prefix)] != prefix {
		t.Errorf("OplogKey() should start with OplogPrefix(), got %q want prefix %q", key, prefix)
	}
}

func TestCostKeys(t *testing.T) {
	dated := CostKey("shop.example.com", "2026-07-29")
	if dated != "COST#shop.example.com#2026-07-29" {
		t.Errorf("CostKey() = %q", dated)
	}
	latest := CostLatestKey("shop.example.com")
	if latest != "COST#shop.example.com#latest" {
		t.Errorf("CostLatestKey() = %q", latest)
	}
}

func TestDbRefHasInstance(t *testing.T) {
	cases := []struct {
		name string
		ref  DbRef
		want bool
	}{
		{"with instance", DbRef{InstanceID: "i-1"}, true},
		{"opaque", DbRef{Host: "db.internal"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ref.HasInstance(); got != tc.want {
				t.Errorf("HasInstance() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLeaseRecordLive(t *testing.T) {
	l := LeaseRecord{ExpiresAt: 1000}
	if !l.Live(999) {
		t.Error("lease should be live before expiry")
	}
	if l.Live(1000) {
		t.Error("lease should not be live at exact expiry")
	}
	if l.Live(1001) {
		t.Error("lease should not be live after expiry")
	}
}
