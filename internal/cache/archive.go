package cache

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// expandPath resolves a cache path spec. Specs starting with `~/` are rooted
// at the user's home directory, absolute specs are used as given, everything
// else is relative to the workspace.
func expandPath(spec, workspace string) (string, error) {
	if spec == "~" || strings.HasPrefix(spec, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(spec, "~")), nil
	}
	if filepath.IsAbs(spec) {
		return filepath.Clean(spec), nil
	}
	return filepath.Join(workspace, spec), nil
}

// pack writes the listed path specs into a tar.gz archive. Entry names keep
// the original spec form so extraction restores files to the same place on
// any host.
func pack(ctx context.Context, w io.Writer, paths []string, workspace string) (packed int, err error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, spec := range paths {
		root, err := expandPath(spec, workspace)
		if err != nil {
			return packed, err
		}
		info, err := os.Lstat(root)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return packed, fmt.Errorf("failed to stat %s: %w", root, err)
		}

		prefix := strings.TrimSuffix(spec, "/")
		if !info.IsDir() {
			if err := addEntry(tw, root, prefix); err != nil {
				return packed, err
			}
			packed++
			continue
		}

		walkErr := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			name := prefix
			if rel != "." {
				name = prefix + "/" + filepath.ToSlash(rel)
			}
			if err := addEntry(tw, path, name); err != nil {
				return err
			}
			if !fi.IsDir() {
				packed++
			}
			return nil
		})
		if walkErr != nil {
			return packed, walkErr
		}
	}

	if err := tw.Close(); err != nil {
		return packed, err
	}
	return packed, gz.Close()
}

// addEntry writes one filesystem entry to the archive, preserving symlinks.
func addEntry(tw *tar.Writer, path, name string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return err
	}

	var link string
	if fi.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return err
	}
	header.Name = name
	if fi.IsDir() {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !fi.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// unpack extracts an archive produced by pack. Relative entries must stay
// inside the workspace.
func unpack(ctx context.Context, r io.Reader, workspace string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		name := strings.TrimSuffix(header.Name, "/")
		target, err := extractTarget(name, workspace)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.RemoveAll(target); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

// extractTarget resolves an archive entry name to a filesystem path and
// rejects relative entries that would escape the workspace.
func extractTarget(name, workspace string) (string, error) {
	target, err := expandPath(name, workspace)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(name, "~") && !filepath.IsAbs(name) {
		cleanWorkspace := filepath.Clean(workspace) + string(os.PathSeparator)
		if !strings.HasPrefix(target, cleanWorkspace) && target != filepath.Clean(workspace) {
			return "", fmt.Errorf("archive entry %q escapes the workspace", name)
		}
	}
	return target, nil
}
