// Package scanner selects the documents of an input folder that the
// watermarking service accepts.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aliskhannn/filigrane/internal/model"
)

var (
	// ErrUnsupportedFormat marks a file whose extension is not accepted.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrNotRegular marks an entry that does not resolve to a regular file:
	// a broken symlink, a fifo, a socket or a device.
	ErrNotRegular = errors.New("not a regular file")
)

// Supported extensions (lowercase, without the dot).
var supported = map[string]model.MediaKind{
	"pdf":  model.KindPDF,
	"jpg":  model.KindJPG,
	"jpeg": model.KindJPG,
	"png":  model.KindPNG,
	"heic": model.KindHEIC,
}

// Options controls how a folder is scanned.
type Options struct {
	// Recursive walks subdirectories. Outputs then mirror the relative
	// layout under the output directory.
	Recursive bool
	// Exclude is a directory that is never entered (typically the output
	// directory when it lives inside the input folder).
	Exclude string
}

// Result is what a scan found.
type Result struct {
	Documents []model.Document
	Skipped   []model.Skip
}

// Kind returns the media kind for path, or false if the extension is not supported.
func Kind(path string) (model.MediaKind, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	k, ok := supported[ext]
	return k, ok
}

// Scan lists folder and splits regular files into supported documents and
// skips. Symlinks to regular files count as files; symlinks to directories are
// not followed. Both lists are sorted by relative path.
func Scan(folder string, opts Options) (Result, error) {
	var res Result

	exclude := ""
	if opts.Exclude != "" {
		if abs, err := filepath.Abs(opts.Exclude); err == nil {
			exclude = abs
		}
	}

	skip := func(path, rel string, reason error) {
		res.Skipped = append(res.Skipped, model.Skip{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Reason:  reason,
		})
	}

	visit := func(path string, d fs.DirEntry) error {
		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}

		info, err := resolve(path, d)
		if err != nil {
			skip(path, rel, fmt.Errorf("%w: %v", ErrNotRegular, err))
			return nil
		}
		switch {
		case info.IsDir():
			return nil
		case !info.Mode().IsRegular():
			skip(path, rel, fmt.Errorf("%w: %s", ErrNotRegular, info.Mode().Type()))
			return nil
		}

		kind, ok := Kind(path)
		if !ok {
			skip(path, rel, fmt.Errorf("%w: %s", ErrUnsupportedFormat, extLabel(path)))
			return nil
		}
		res.Documents = append(res.Documents, model.Document{
			Path:       path,
			RelPath:    filepath.ToSlash(rel),
			OutputName: rel,
			Kind:       kind,
			Size:       info.Size(),
			Status:     model.DocPending,
		})
		return nil
	}

	if opts.Recursive {
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path == folder {
					return nil
				}
				if strings.HasPrefix(d.Name(), ".") || isExcluded(path, exclude) {
					return filepath.SkipDir
				}
				return nil
			}
			return visit(path, d)
		})
		if err != nil {
			return Result{}, fmt.Errorf("scan %s: %w", folder, err)
		}
	} else {
		entries, err := os.ReadDir(folder)
		if err != nil {
			return Result{}, fmt.Errorf("scan %s: %w", folder, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := visit(filepath.Join(folder, e.Name()), e); err != nil {
				return Result{}, fmt.Errorf("scan %s: %w", folder, err)
			}
		}
	}

	sort.Slice(res.Documents, func(i, j int) bool { return res.Documents[i].RelPath < res.Documents[j].RelPath })
	sort.Slice(res.Skipped, func(i, j int) bool { return res.Skipped[i].RelPath < res.Skipped[j].RelPath })
	return res, nil
}

// resolve returns the file info of the entry, following it when it is a symlink.
func resolve(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return os.Stat(path)
	}
	return d.Info()
}

func isExcluded(path, exclude string) bool {
	if exclude == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == exclude
}

func extLabel(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return "no extension"
}
