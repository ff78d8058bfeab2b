// Package fingerprint computes short content fingerprints for directory sets.
//
// Small inputs get an exact content merkle hash per directory; large inputs
// get a bounded-cost sampling hash over metadata plus a fraction of the file
// contents. Both strategies satisfy the same contract: equal fingerprints mean
// "probably unchanged", different fingerprints mean "changed or unknown".
//
// Computing a fingerprint never fails. Files that cannot be read are hashed
// by metadata only or trigger a fallback to the sampling hash; a missed change
// only costs a stale cache.
package fingerprint

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
)

// Fingerprint is an opaque token summarizing a directory set.
type Fingerprint string

// Sentinel is returned for an empty directory list and for a directory that
// does not exist.
const Sentinel Fingerprint = "0000000000000000000000000000000000000000000000000000000000000000"

const (
	DefaultThreshold  = 1000
	DefaultSampleRate = 0.1
	DefaultSampleSize = 64 * 1024
)

func (f Fingerprint) String() string { return string(f) }

// strategy is the hashing arm chosen once per Compute call.
type strategy uint8

const (
	strategyExact strategy = iota
	strategySampling
)

func (s strategy) String() string {
	if s == strategySampling {
		return "sampling"
	}
	return "exact"
}

// Engine computes fingerprints. The zero value is not usable; call New.
type Engine struct {
	threshold   int
	sampleRate  float64
	sampleSize  int
	concurrency int
	log         zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the file count above which the sampling hash is used.
func WithThreshold(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.threshold = n
		}
	}
}

// WithSampleRate sets the fraction of files whose leading bytes are hashed
// on the sampling path.
func WithSampleRate(rate float64) Option {
	return func(e *Engine) {
		if rate >= 0 && rate <= 1 {
			e.sampleRate = rate
		}
	}
}

// WithSampleSize sets how many leading bytes of a sampled file are hashed.
func WithSampleSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sampleSize = n
		}
	}
}

// WithConcurrency bounds the per-file hashing fan-out.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger used to report skipped files and fallbacks.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an Engine with the default threshold, sample rate and sample size.
func New(opts ...Option) *Engine {
	e := &Engine{
		threshold:   DefaultThreshold,
		sampleRate:  DefaultSampleRate,
		sampleSize:  DefaultSampleSize,
		concurrency: runtime.GOMAXPROCS(0),
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute returns the fingerprint of dirs. The result does not depend on the
// order of dirs.
func Compute(dirs []string) Fingerprint {
	return New().Compute(dirs)
}

// Compute returns the fingerprint of dirs. The result does not depend on the
// order of dirs.
func (e *Engine) Compute(dirs []string) Fingerprint {
	if len(dirs) == 0 {
		return Sentinel
	}

	dirs = resolve(dirs)
	count := 0
	for _, dir := range dirs {
		count += countFiles(dir)
	}

	s := e.choose(count)
	e.log.Debug().Int("files", count).Int("dirs", len(dirs)).Stringer("strategy", s).Msg("fingerprint")

	switch s {
	case strategySampling:
		return e.sampling(dirs)
	default:
		if len(dirs) == 1 {
			return e.dirHash(dirs[0])
		}
		hashes := make([]string, 0, len(dirs))
		for _, dir := range dirs {
			hashes = append(hashes, string(e.dirHash(dir)))
		}
		sort.Strings(hashes)
		return combine(hashes)
	}
}

func (e *Engine) choose(fileCount int) strategy {
	if fileCount > e.threshold {
		return strategySampling
	}
	return strategyExact
}

// dirHash is the exact tree hash of dir, the sentinel when dir is missing,
// or the sampling hash of dir when the tree cannot be built.
func (e *Engine) dirHash(dir string) Fingerprint {
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return Sentinel
	}
	h, err := treeHash(dir)
	if err != nil {
		e.log.Debug().Err(err).Str("dir", dir).Msg("tree hash failed, falling back to sampling")
		return e.sampling([]string{dir})
	}
	return Fingerprint(h)
}

// resolve follows a configured directory that is itself a symlink so the
// walks see its target. Links below it are hashed as links.
func resolve(dirs []string) []string {
	out := make([]string, len(dirs))
	for i, dir := range dirs {
		out[i] = dir
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			out[i] = resolved
		}
	}
	return out
}

func countFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n
}
