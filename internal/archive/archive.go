// Package archive serializes directory trees into one zstd-compressed tar
// stream and restores them.
//
// Restoring fully replaces every configured directory: existing directories
// are removed before extraction, so stale files never survive a pull.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/theMackabu/volt/internal/compression"
	"github.com/theMackabu/volt/internal/errs"
)

// parallelThreshold is the uncompressed input size above which the encoder
// runs on several goroutines.
const parallelThreshold = 8 << 20

const maxParallel = 4

// Options tunes Pack.
type Options struct {
	// Level is the compression level, 1 (fastest) to 3 (better).
	Level int
	// Concurrency overrides the encoder fan-out. Zero picks one for small
	// inputs and up to four for large ones.
	Concurrency int
}

// Stats describes what Pack wrote.
type Stats struct {
	Files int
	Bytes int64 // uncompressed file bytes
}

type entry struct {
	name string // slash separated, relative to root
	path string
	info fs.FileInfo
	link string
}

// Pack writes the recursive contents of dirs, relative to root, to w as a
// compressed tar stream. Directories that do not exist are skipped.
func Pack(ctx context.Context, w io.Writer, root string, dirs []string, opts Options) (Stats, error) {
	const op = "pack"

	var stats Stats
	entries, total, err := collect(ctx, root, dirs)
	if err != nil {
		return stats, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
		if total > parallelThreshold {
			concurrency = min(maxParallel, runtime.GOMAXPROCS(0))
		}
	}

	c, err := compression.NewCompressor(opts.Level)
	if err != nil {
		return stats, errs.E(errs.Codec, op, err)
	}
	defer c.Close()

	enc, err := c.Writer(w, concurrency)
	if err != nil {
		return stats, errs.E(errs.Codec, op, err)
	}
	tw := tar.NewWriter(enc)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			enc.Close()
			return stats, err
		}
		n, err := writeEntry(tw, e)
		if err != nil {
			enc.Close()
			return stats, errs.E(errs.Codec, op, err)
		}
		if e.info.Mode().IsRegular() {
			stats.Files++
			stats.Bytes += n
		}
	}

	if err := tw.Close(); err != nil {
		enc.Close()
		return stats, errs.E(errs.Codec, op, fmt.Errorf("close tar: %w", err))
	}
	if err := enc.Close(); err != nil {
		return stats, errs.E(errs.Codec, op, fmt.Errorf("close zstd: %w", err))
	}
	return stats, nil
}

func collect(ctx context.Context, root string, dirs []string) ([]entry, int64, error) {
	var (
		entries []entry
		total   int64
	)
	for _, dir := range dirs {
		clean, err := cleanDir(dir)
		if err != nil {
			return nil, 0, errs.E(errs.Configuration, "pack", err)
		}
		// A configured dir may itself be a symlink; its target is archived
		// under the configured name. Links below it are stored as links.
		base, err := filepath.EvalSymlinks(filepath.Join(root, filepath.FromSlash(clean)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, 0, errs.E(errs.Codec, "pack", fmt.Errorf("resolve %s: %w", dir, err))
		}

		err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			mode := info.Mode()
			if !mode.IsDir() && !mode.IsRegular() && mode&fs.ModeSymlink == 0 {
				return nil
			}

			rel, err := filepath.Rel(base, p)
			if err != nil {
				return fmt.Errorf("relative path for %q: %w", p, err)
			}
			e := entry{name: path.Join(clean, filepath.ToSlash(rel)), path: p, info: info}
			if mode&fs.ModeSymlink != 0 {
				if e.link, err = os.Readlink(p); err != nil {
					return err
				}
			}
			if mode.IsRegular() {
				total += info.Size()
			}
			entries = append(entries, e)
			return nil
		})
		if err != nil {
			return nil, 0, errs.E(errs.Codec, "pack", fmt.Errorf("walk %s: %w", dir, err))
		}
	}
	return entries, total, nil
}

func writeEntry(tw *tar.Writer, e entry) (int64, error) {
	hdr, err := tar.FileInfoHeader(e.info, e.link)
	if err != nil {
		return 0, fmt.Errorf("header for %q: %w", e.name, err)
	}
	hdr.Name = e.name
	if e.info.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("write header for %q: %w", e.name, err)
	}
	if !e.info.Mode().IsRegular() {
		return 0, nil
	}

	f, err := os.Open(e.path)
	if err != nil {
		return 0, fmt.Errorf("open %q: %w", e.name, err)
	}
	defer f.Close()

	n, err := io.CopyN(tw, f, hdr.Size)
	if err != nil {
		return n, fmt.Errorf("copy %q: %w", e.name, err)
	}
	return n, nil
}

// Unpack restores a stream produced by Pack under root.
//
// The whole stream is decompressed and parsed before anything on disk is
// touched, so corrupt input leaves the targets untouched. Once valid, every
// configured directory is cleared and the entries inside them are written.
// Entries outside the configured directories are ignored. If writing fails
// the configured directories are cleared again so they are never left
// partially populated.
func Unpack(data []byte, root string, dirs []string) error {
	const op = "unpack"

	targets := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		clean, err := cleanDir(dir)
		if err != nil {
			return errs.E(errs.Configuration, op, err)
		}
		targets = append(targets, clean)
	}

	c, err := compression.NewCompressor(0)
	if err != nil {
		return errs.E(errs.Codec, op, err)
	}
	defer c.Close()

	raw, err := c.Decompress(data)
	if err != nil {
		return errs.E(errs.Codec, op, err)
	}

	files, err := parse(raw, targets)
	if err != nil {
		return errs.E(errs.Codec, op, err)
	}

	if err := Clear(root, targets); err != nil {
		return err
	}

	if err := extract(root, files); err != nil {
		_ = Clear(root, targets)
		return errs.E(errs.Codec, op, err)
	}
	return nil
}

type member struct {
	hdr  *tar.Header
	name string
	body []byte
}

func parse(raw []byte, targets []string) ([]member, error) {
	var members []member
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}

		name, err := safeName(hdr.Name)
		if err != nil {
			return nil, err
		}
		if !within(name, targets) {
			continue
		}

		m := member{hdr: hdr, name: name}
		switch hdr.Typeflag {
		case tar.TypeReg:
			if m.body, err = io.ReadAll(tr); err != nil {
				return nil, fmt.Errorf("read %q: %w", name, err)
			}
		case tar.TypeSymlink:
			if err := safeLink(name, hdr.Linkname); err != nil {
				return nil, err
			}
		case tar.TypeDir:
		default:
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

func extract(root string, members []member) error {
	for _, m := range members {
		target := filepath.Join(root, filepath.FromSlash(m.name))
		mode := m.hdr.FileInfo().Mode().Perm()

		switch m.hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0o700); err != nil {
				return fmt.Errorf("create dir %q: %w", m.name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create dir for %q: %w", m.name, err)
			}
			if err := writeFile(target, m.body, mode); err != nil {
				return fmt.Errorf("write %q: %w", m.name, err)
			}
			if err := os.Chtimes(target, m.hdr.ModTime, m.hdr.ModTime); err != nil {
				return fmt.Errorf("set mtime %q: %w", m.name, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create dir for %q: %w", m.name, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(m.hdr.Linkname, target); err != nil {
				return fmt.Errorf("symlink %q: %w", m.name, err)
			}
		}
	}
	return nil
}

func writeFile(target string, body []byte, mode fs.FileMode) error {
	// Remove first so a symlink at target is replaced rather than followed.
	if info, err := os.Lstat(target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	return os.WriteFile(target, body, mode)
}

// Clear recursively deletes every directory in dirs, relative to root, that
// exists.
func Clear(root string, dirs []string) error {
	for _, dir := range dirs {
		clean, err := cleanDir(dir)
		if err != nil {
			return errs.E(errs.Configuration, "clear", err)
		}
		target := filepath.Join(root, filepath.FromSlash(clean))
		if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			return errs.E(errs.Codec, "clear", fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	return nil
}

// cleanDir normalizes a configured directory to a slash-separated path that
// stays inside the project root.
func cleanDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("empty cache directory")
	}
	if filepath.IsAbs(dir) {
		return "", fmt.Errorf("cache directory %q must be relative", dir)
	}
	clean := path.Clean(filepath.ToSlash(dir))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("cache directory %q escapes the project root", dir)
	}
	return clean, nil
}

func safeName(name string) (string, error) {
	clean := path.Clean(strings.TrimSuffix(name, "/"))
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("entry %q escapes the destination", name)
	}
	return clean, nil
}

func safeLink(name, link string) error {
	if path.IsAbs(link) {
		return fmt.Errorf("symlink %q points to absolute path %q", name, link)
	}
	resolved := path.Clean(path.Join(path.Dir(name), link))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("symlink %q escapes the destination", name)
	}
	return nil
}

func within(name string, targets []string) bool {
	for _, t := range targets {
		if name == t || strings.HasPrefix(name, t+"/") {
			return true
		}
	}
	return false
}
