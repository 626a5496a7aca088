// Package storage holds the filesystem layout helpers shared by the task
// runner and the uploader.
package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// TaskDir returns the scratch directory for one task under the download
// root.
func TaskDir(root string, id uint64) string {
	return filepath.Join(root, strconv.FormatUint(id, 10))
}

// SafeName reduces a user or remote supplied name to a single usable path
// component. Anything that would resolve outside its directory comes back
// as "file".
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// EnsureUnique returns path if unused, otherwise the first "name (n).ext"
// variant that is.
func EnsureUnique(fs afero.Fs, path string) (string, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return path, nil
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		exists, err := afero.Exists(fs, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}
