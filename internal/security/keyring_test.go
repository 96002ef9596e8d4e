package security

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func newMockKeyring(t *testing.T) *KeyringStore {
	t.Helper()
	keyring.MockInit()
	ks := NewKeyringStore("blockterm-test")
	if !ks.IsEnabled() {
		t.Fatal("mock keyring should be enabled")
	}
	return ks
}

func TestKeyringStore_LookupMiss(t *testing.T) {
	ks := newMockKeyring(t)

	secret, ok := ks.Lookup("db01", "admin")
	if ok || secret != nil {
		t.Errorf("Lookup() = %q, %v; want miss", secret, ok)
	}
}

func TestKeyringStore_ServerPasswordRoundTrip(t *testing.T) {
	ks := newMockKeyring(t)

	pw := []byte("s3cret\x00with-binary")
	if err := ks.StoreServerPassword("db01", "admin", pw); err != nil {
		t.Fatalf("StoreServerPassword: %v", err)
	}

	got, ok := ks.Lookup("db01", "admin")
	if !ok || string(got) != string(pw) {
		t.Errorf("Lookup() = %q, %v; want %q", got, ok, pw)
	}

	// Keys are per (host, user).
	if _, ok := ks.Lookup("db01", "root"); ok {
		t.Error("Lookup for another user hit")
	}
	if _, ok := ks.Lookup("db02", "admin"); ok {
		t.Error("Lookup for another host hit")
	}

	if err := ks.DeleteServerPassword("db01", "admin"); err != nil {
		t.Fatalf("DeleteServerPassword: %v", err)
	}
	if _, ok := ks.Lookup("db01", "admin"); ok {
		t.Error("Lookup hit after delete")
	}
	if err := ks.DeleteServerPassword("db01", "admin"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestKeyringStore_SSHPassphrase(t *testing.T) {
	ks := newMockKeyring(t)

	if got, err := ks.GetSSHPassphrase("/home/u/.ssh/id_ed25519"); err != nil || got != nil {
		t.Fatalf("GetSSHPassphrase() = %q, %v; want nil, nil", got, err)
	}

	if err := ks.StoreSSHPassphrase("/home/u/.ssh/id_ed25519", []byte("phrase")); err != nil {
		t.Fatalf("StoreSSHPassphrase: %v", err)
	}
	got, err := ks.GetSSHPassphrase("/home/u/.ssh/id_ed25519")
	if err != nil || string(got) != "phrase" {
		t.Errorf("GetSSHPassphrase() = %q, %v; want phrase", got, err)
	}
}

func TestKeyringStore_Disabled(t *testing.T) {
	ks := newMockKeyring(t)
	ks.StoreServerPassword("h", "u", []byte("pw"))

	ks.SetEnabled(false)

	if _, ok := ks.Lookup("h", "u"); ok {
		t.Error("disabled store returned a secret")
	}
	if err := ks.StoreServerPassword("h", "u", []byte("x")); err == nil {
		t.Error("disabled store accepted a write")
	}
	if err := ks.DeleteServerPassword("h", "u"); err == nil {
		t.Error("disabled store accepted a delete")
	}
}
