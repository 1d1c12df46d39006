// Package shaders finds precompiled SPIR-V binaries on a search path.
package shaders

import (
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

const spirvMagic = 0x07230203

// ErrNotFound is returned when no directory on the search path holds the
// requested shader.
var ErrNotFound = errors.New("shader not found")

type Loader struct {
	SearchPath []string
}

func NewLoader(searchPath ...string) *Loader {
	return &Loader{SearchPath: searchPath}
}

// Load reads name from the first search path entry containing it and returns
// its code words.
func (l *Loader) Load(name string) ([]uint32, error) {
	for _, dir := range l.SearchPath {
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "read shader %s", path)
		}

		code, err := BytesToBytecode(b)
		if err != nil {
			return nil, errors.Wrapf(err, "shader %s", path)
		}
		return code, nil
	}

	return nil, errors.Wrapf(ErrNotFound, "%s not in %v", name, l.SearchPath)
}

// BytesToBytecode converts a little-endian SPIR-V binary into code words.
func BytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) < 4 || len(b)%4 != 0 {
		return nil, errors.Newf("%d bytes is not a whole number of SPIR-V words", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}

	if byteCode[0] != spirvMagic {
		return nil, errors.Newf("bad SPIR-V magic %#x", byteCode[0])
	}

	return byteCode, nil
}
