package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// treeHash computes a content-only merkle hash of path.
//
// Leaves hash "blob {size}\0{content}", directories hash
// "tree {size}\0{child hashes in name order}". Names never enter the hash,
// so renaming a file without changing its position in the listing is
// invisible.
func treeHash(path string) (string, error) {
	sum, err := nodeHash(path)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

func nodeHash(path string) ([sha256.Size]byte, error) {
	var zero [sha256.Size]byte

	info, err := os.Lstat(path)
	if err != nil {
		return zero, err
	}

	switch mode := info.Mode(); {
	case mode.IsDir():
		return dirNodeHash(path)
	case mode.IsRegular():
		return fileNodeHash(path)
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return zero, err
		}
		return blobHash([]byte(target)), nil
	default:
		return zero, fmt.Errorf("%s: unsupported file type %s", path, mode.Type())
	}
}

func dirNodeHash(dir string) ([sha256.Size]byte, error) {
	var zero [sha256.Size]byte

	// os.ReadDir returns entries sorted by name.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return zero, err
	}

	children := make([]byte, 0, len(entries)*sha256.Size)
	for _, entry := range entries {
		if !entry.IsDir() && !entry.Type().IsRegular() && entry.Type()&fs.ModeSymlink == 0 {
			continue
		}
		sum, err := nodeHash(filepath.Join(dir, entry.Name()))
		if err != nil {
			return zero, err
		}
		children = append(children, sum[:]...)
	}

	h := sha256.New()
	fmt.Fprintf(h, "tree %d\x00", len(children))
	h.Write(children)
	return sumOf(h), nil
}

func fileNodeHash(path string) ([sha256.Size]byte, error) {
	var zero [sha256.Size]byte

	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return zero, err
	}

	h := sha256.New()
	fmt.Fprintf(h, "blob %d\x00", info.Size())
	n, err := io.Copy(h, f)
	if err != nil {
		return zero, fmt.Errorf("hash %s: %w", path, err)
	}
	if n != info.Size() {
		return zero, fmt.Errorf("hash %s: size changed while reading", path)
	}
	return sumOf(h), nil
}

func blobHash(content []byte) [sha256.Size]byte {
	h := sha256.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return sumOf(h)
}

func sumOf(h hash.Hash) [sha256.Size]byte {
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
