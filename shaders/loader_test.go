package shaders

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

var minimal = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

func TestLoadSearchesInOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	err := os.WriteFile(filepath.Join(second, "vert.spv"), minimal, 0o644)
	if err != nil {
		t.Fatal(err)
	}

	code, err := NewLoader(first, second).Load("vert.spv")
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 2 || code[0] != spirvMagic || code[1] != 0x00010000 {
		t.Errorf("unexpected code %#x", code)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := NewLoader(t.TempDir()).Load("frag.spv")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBytesToBytecodeRejectsGarbage(t *testing.T) {
	tests := [][]byte{
		nil,
		{0x03, 0x02, 0x23},
		{0x03, 0x02, 0x23, 0x07, 0x00},
		{0xde, 0xad, 0xbe, 0xef},
	}

	for _, b := range tests {
		_, err := BytesToBytecode(b)
		if err == nil {
			t.Errorf("expected %v to be rejected", b)
		}
	}
}
