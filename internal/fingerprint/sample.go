package fingerprint

import (
	"encoding/binary"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/sourcegraph/conc/iter"
)

// sampling hashes every regular file under dirs by path, size and mtime
// seconds, plus the leading bytes of a pseudo-random subset of files.
//
// Per-file digests are computed in parallel and reduced with XOR. XOR is
// commutative and associative, so the result is identical for any schedule
// and any fan-out width.
func (e *Engine) sampling(dirs []string) Fingerprint {
	var files []string
	for _, dir := range dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				e.log.Debug().Err(err).Str("path", path).Msg("skipping unreadable entry")
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
	}
	sort.Strings(files)

	mapper := iter.Mapper[string, uint64]{MaxGoroutines: e.concurrency}
	digests := mapper.Map(files, func(path *string) uint64 {
		return e.fileDigest(*path)
	})

	var acc uint64
	for _, d := range digests {
		acc ^= d
	}
	return Fingerprint(strconv.FormatUint(acc, 16))
}

func (e *Engine) fileDigest(path string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(path)

	if info, err := os.Stat(path); err == nil {
		var meta [16]byte
		binary.LittleEndian.PutUint64(meta[:8], uint64(info.Size()))
		binary.LittleEndian.PutUint64(meta[8:], uint64(info.ModTime().Unix()))
		_, _ = d.Write(meta[:])
	} else {
		e.log.Debug().Err(err).Str("path", path).Msg("hashing path only")
	}

	if e.shouldSample(path) {
		e.sampleContent(d, path)
	}
	return d.Sum64()
}

// shouldSample maps the path's hash onto [0,1) and compares it with the
// sample rate, so the same file is always sampled or always skipped.
func (e *Engine) shouldSample(path string) bool {
	return float64(xxhash.Sum64String(path))/float64(math.MaxUint64) < e.sampleRate
}

func (e *Engine) sampleContent(w io.Writer, path string) {
	f, err := os.Open(path)
	if err != nil {
		e.log.Debug().Err(err).Str("path", path).Msg("sample skipped")
		return
	}
	defer f.Close()

	buf := make([]byte, e.sampleSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		e.log.Debug().Err(err).Str("path", path).Msg("sample read failed")
	}
	_, _ = w.Write(buf[:n])
}
