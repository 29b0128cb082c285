// Package localstorage writes batch results into a freshly allocated folder on disk
package localstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/UnendingLoop/watermarker/internal/model"
)

// maxSuffix bounds the base, base1, base2... probing.
const maxSuffix = 10000

// Dir is an output folder created by Allocate. It only ever adds files.
type Dir struct {
	path string
}

// Allocate creates parent/base, or the first of base1, base2... that does not
// exist yet. An existing entry of any kind counts as taken. Other errors are fatal.
func Allocate(parent, base string) (*Dir, error) {
	if base == "" {
		base = model.DefaultOutputBase
	}

	for i := 0; i <= maxSuffix; i++ {
		name := base
		if i > 0 {
			name = base + strconv.Itoa(i)
		}
		path := filepath.Join(parent, name)

		err := os.Mkdir(path, 0o755)
		switch {
		case err == nil:
			return &Dir{path: path}, nil
		case errors.Is(err, fs.ErrExist):
			continue
		default:
			return nil, fmt.Errorf("%w: %v", model.ErrTargetDir, err)
		}
	}

	return nil, fmt.Errorf("%w: %s..%s%d all taken", model.ErrTargetDir, base, base, maxSuffix)
}

func (d *Dir) Path() string { return d.path }

// Put writes r to dir/key. Keys are plain file names; an existing file is never replaced.
func (d *Dir) Put(ctx context.Context, key string, _ int64, _ string, r io.Reader) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCanceled, err)
	}
	if key == "" || key != filepath.Base(key) || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: invalid output name %q", model.ErrIO, key)
	}

	path := filepath.Join(d.path, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("%w: %v", model.ErrIO, cErr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("%w: write %q: %v", model.ErrIO, key, err)
	}
	return nil
}
