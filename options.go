package volt

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/theMackabu/volt/internal/fingerprint"
	"github.com/theMackabu/volt/internal/remote"
)

// Options configures a Client.
type Options struct {
	// Root is the directory cache and hash paths are relative to.
	Root        string
	Logger      zerolog.Logger
	HTTPClient  *http.Client
	Attempts    int
	RetryBase   time.Duration
	Level       int
	Concurrency int
	Fingerprint []fingerprint.Option

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Option is a functional option for configuring New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Root:     ".",
		Logger:   zerolog.Nop(),
		Attempts: remote.DefaultAttempts,
		Level:    3,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

// WithRoot sets the project directory.
func WithRoot(dir string) Option {
	return func(o *Options) { o.Root = dir }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Options) { o.HTTPClient = hc }
}

// WithRetry sets how often a request failing at the transport level is
// attempted and the first backoff delay.
func WithRetry(attempts int, base time.Duration) Option {
	return func(o *Options) {
		if attempts > 0 {
			o.Attempts = attempts
		}
		if base > 0 {
			o.RetryBase = base
		}
	}
}

// WithCompression sets the zstd level and encoder concurrency for pushes.
// A concurrency of zero scales with the input size.
func WithCompression(level, concurrency int) Option {
	return func(o *Options) {
		o.Level = level
		if concurrency >= 0 {
			o.Concurrency = concurrency
		}
	}
}

// WithFingerprint passes options to the fingerprint engine.
func WithFingerprint(opts ...fingerprint.Option) Option {
	return func(o *Options) { o.Fingerprint = append(o.Fingerprint, opts...) }
}

// WithStdio connects the wrapped build command.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(o *Options) {
		o.Stdin, o.Stdout, o.Stderr = stdin, stdout, stderr
	}
}
