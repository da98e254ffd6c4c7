package media

import (
	"errors"
	"strings"
	"testing"
)

func TestCreateOpen(t *testing.T) {
	r := NewRegistry()
	a := r.Create([]byte("one"), "video/webm")
	b := r.Create([]byte("two"), "video/mp4")
	if a == b {
		t.Fatal("Create returned duplicate URLs")
	}
	if !strings.HasPrefix(a, Scheme) {
		t.Errorf("URL = %q, want %s prefix", a, Scheme)
	}

	blob, err := r.Open(a)
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if string(blob.Data) != "one" || blob.MIME != "video/webm" {
		t.Errorf("Open = %+v, want one/video/webm", blob)
	}
	if r.Live() != 2 {
		t.Errorf("Live = %d, want 2", r.Live())
	}
}

func TestRevokeExactlyOnce(t *testing.T) {
	r := NewRegistry()
	url := r.Create([]byte("x"), "video/webm")

	if err := r.Revoke(url); err != nil {
		t.Fatalf("first Revoke error = %v", err)
	}
	if err := r.Revoke(url); !errors.Is(err, ErrRevoked) {
		t.Errorf("second Revoke error = %v, want ErrRevoked", err)
	}
	if _, err := r.Open(url); !errors.Is(err, ErrRevoked) {
		t.Errorf("Open after revoke error = %v, want ErrRevoked", err)
	}
	if r.Live() != 0 {
		t.Errorf("Live = %d, want 0", r.Live())
	}
}

func TestRevokeUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Revoke("blob:nope"); !errors.Is(err, ErrUnknown) {
		t.Errorf("Revoke error = %v, want ErrUnknown", err)
	}
}

func TestIDRoundTrip(t *testing.T) {
	url := "blob:1234"
	if ID(url) != "1234" {
		t.Errorf("ID = %q, want 1234", ID(url))
	}
	if URL(ID(url)) != url {
		t.Errorf("URL(ID) = %q, want %q", URL(ID(url)), url)
	}
}

func TestRevokedHistoryIsBounded(t *testing.T) {
	r := NewRegistry()
	first := r.Create(nil, "video/webm")
	r.Revoke(first)
	var last string
	for i := 0; i < RevokedHistory; i++ {
		last = r.Create(nil, "video/webm")
		r.Revoke(last)
	}
	if n := len(r.revoked); n != RevokedHistory {
		t.Errorf("remembered %d revoked URLs, want %d", n, RevokedHistory)
	}
	if err := r.Revoke(last); !errors.Is(err, ErrRevoked) {
		t.Errorf("recent double Revoke error = %v, want ErrRevoked", err)
	}
	if _, err := r.Open(first); !errors.Is(err, ErrUnknown) {
		t.Errorf("Open of oldest revoked URL error = %v, want ErrUnknown", err)
	}
}
