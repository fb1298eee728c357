package keyfile

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLoadValidKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	want := make([]byte, 32)
	for i := range want {
		want[i] = byte(i)
	}
	if err := afero.WriteFile(fs, "/etc/outpost/psk", want, 0600); err != nil {
		t.Fatalf("seed fixture: %v", err)
	}

	key, err := Load(fs, "/etc/outpost/psk")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for i := range want {
		if key[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, key[i], want[i])
		}
	}
}

func TestLoadWrongLength(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/etc/outpost/psk", []byte("too short"), 0600)

	if _, err := Load(fs, "/etc/outpost/psk"); err == nil {
		t.Fatal("expected an error for a wrong-length key file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := Load(fs, "/nope"); err == nil {
		t.Fatal("expected an error for a missing key file")
	}
}
