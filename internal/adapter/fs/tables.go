// Package fs locates and reads published snapshot tables on disk.
package fs

import (
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"threatfeed/internal/logger"
)

// tablePattern selects snapshot tables below a directory.
const tablePattern = "**/*.csv"

// tableFile is one published table found on disk.
type tableFile struct {
	Path string
	Size int64
}

// findTables lists files under root whose slash path relative to root
// matches pattern, sorted by path. Dot entries are skipped, which covers
// the CSV sink's staging files. Empty files never held a header and are
// skipped as well.
func findTables(root, pattern string) ([]tableFile, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid table pattern %q", pattern)
	}

	var tables []tableFile
	err := filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			logger.Debug("fs: skipping empty table %s", path)
			return nil
		}
		tables = append(tables, tableFile{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].Path < tables[j].Path })
	return tables, nil
}
