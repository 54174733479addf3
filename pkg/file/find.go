package file

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Found is a regular file and its modification time.
type Found struct {
	Path    string
	ModTime time.Time
}

// FindRecentAfter returns regular files under dir modified after startTime.
// When exts is non-empty only files with one of those extensions
// (case-insensitive, leading dot optional) are returned. Results are sorted
// by modification time, oldest first.
func FindRecentAfter(dir string, startTime time.Time, exts ...string) ([]string, error) {
	files, err := List(dir, exts...)
	if err != nil {
		return nil, err
	}
	ret := make([]string, 0, len(files))
	for _, f := range files {
		if f.ModTime.After(startTime) {
			ret = append(ret, f.Path)
		}
	}
	return ret, nil
}

// List returns every regular file under dir with an allowed extension,
// oldest first, ties broken by path.
func List(dir string, exts ...string) ([]Found, error) {
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	var files []Found
	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		files = append(files, Found{Path: path, ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Path < files[j].Path
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}
