// Package ephemeral provides tmpfs-scoped files and symlinks guaranteed to
// vanish on scope exit, normal or exceptional (spec §4.3).
package ephemeral

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const fileMode = 0o600

// Root is the tmpfs mount point ephemeral directories are created under.
// /dev/shm is the Linux convention; darwin has no direct equivalent so
// tests on that platform fall back to os.TempDir.
var Root = defaultRoot()

func defaultRoot() string {
	if runtime.GOOS == "linux" {
		if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
			return "/dev/shm"
		}
	}
	return os.TempDir()
}

func newScopeDir(prefix string) (string, error) {
	dir := filepath.Join(Root, fmt.Sprintf("%s-%s", prefix, uuid.NewString()))
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("ephemeral: create scope dir: %w", err)
	}
	return dir, nil
}

// File allocates one uniquely-named file inside a fresh scope directory and
// invokes fn with its absolute path. The file, and the directory it lives
// in, are removed when fn returns — whether it returns an error or not, and
// even if it panics.
func File(prefix string, fn func(path string) error) (err error) {
	dir, err := newScopeDir(prefix)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = fmt.Errorf("ephemeral: cleanup scope dir: %w", rmErr)
		}
	}()

	path := filepath.Join(dir, "ephemeral")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return fmt.Errorf("ephemeral: create file: %w", err)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("ephemeral: close file: %w", cerr)
	}

	return fn(path)
}

// SymlinkMap allocates one ephemeral directory, creates one ephemeral file
// per entry of targets (ephemeralName -> symlinkTarget), atomically points
// each symlink at its ephemeral file, and invokes fn with
// {ephemeralName -> ephemeralPath}. Every symlink, every ephemeral file,
// and the scope directory are removed on return (spec §4.3).
func SymlinkMap(prefix string, targets map[string]string, fn func(paths map[string]string) error) (err error) {
	dir, err := newScopeDir(prefix)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = fmt.Errorf("ephemeral: cleanup scope dir: %w", rmErr)
		}
	}()

	paths := make(map[string]string, len(targets))
	for name := range targets {
		ephemeralPath := filepath.Join(dir, "file-"+name)
		f, cerr := os.OpenFile(ephemeralPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, fileMode)
		if cerr != nil {
			return fmt.Errorf("ephemeral: create file for %q: %w", name, cerr)
		}
		if cerr := f.Close(); cerr != nil {
			return fmt.Errorf("ephemeral: close file for %q: %w", name, cerr)
		}
		paths[name] = ephemeralPath
	}

	var created []string
	defer func() {
		for _, symlinkPath := range created {
			if rmErr := os.Remove(symlinkPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
				err = fmt.Errorf("ephemeral: cleanup symlink %q: %w", symlinkPath, rmErr)
			}
		}
	}()

	for name, target := range targets {
		if err := repoint(target, paths[name]); err != nil {
			return fmt.Errorf("ephemeral: symlink %q -> %q: %w", target, paths[name], err)
		}
		created = append(created, target)
	}

	return fn(paths)
}

// repoint atomically (re)points symlinkPath at dest: it builds the new link
// next to the target and renames it into place, so a concurrent reader
// never observes a half-created symlink.
func repoint(symlinkPath, dest string) error {
	tmp := symlinkPath + ".tmp-" + uuid.NewString()
	if err := os.Symlink(dest, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, symlinkPath)
}
