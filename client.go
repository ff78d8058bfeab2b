package volt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/theMackabu/volt/internal/archive"
	"github.com/theMackabu/volt/internal/config"
	"github.com/theMackabu/volt/internal/errs"
	"github.com/theMackabu/volt/internal/fingerprint"
	"github.com/theMackabu/volt/internal/remote"
)

// Status is the remote entry compared with the local fingerprint.
type Status = remote.Result

const (
	Missing   = remote.NotFound
	Changed   = remote.Modified
	Unchanged = remote.NotModified
)

// Client syncs one project's cache directories with its server.
type Client struct {
	project *config.Project
	profile config.Profile
	slot    uuid.UUID
	remote  *remote.Client
	engine  *fingerprint.Engine
	opts    *Options
	log     zerolog.Logger
}

// New resolves the project's server profile and returns a Client for its
// slot. No network I/O happens here.
func New(project *config.Project, profiles config.Profiles, opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if project == nil {
		return nil, errs.Errorf(errs.Configuration, "new client", "no project")
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}
	profile, err := profiles.Resolve(project.Settings.Server)
	if err != nil {
		return nil, err
	}

	slot := project.Slot()
	log := options.Logger.With().Str("slot", slot.String()).Str("server", profile.Name).Logger()
	fpOpts := append([]fingerprint.Option{fingerprint.WithLogger(log)}, options.Fingerprint...)

	return &Client{
		project: project,
		profile: profile,
		slot:    slot,
		remote: remote.New(profile, slot, remote.Options{
			HTTPClient: options.HTTPClient,
			Attempts:   options.Attempts,
			Base:       options.RetryBase,
		}),
		engine: fingerprint.New(fpOpts...),
		opts:   options,
		log:    log,
	}, nil
}

func (c *Client) Slot() uuid.UUID         { return c.slot }
func (c *Client) Profile() config.Profile { return c.profile }

// Fingerprint computes the fingerprint a pull or push would send.
func (c *Client) Fingerprint() string {
	dirs := c.project.FingerprintDirs()
	paths := make([]string, len(dirs))
	for i, d := range dirs {
		paths[i] = filepath.Join(c.opts.Root, d)
	}
	return string(c.engine.Compute(paths))
}

// Pull restores the cache directories from the server unless the stored
// fingerprint matches the local one. Nothing on disk changes when Pull
// returns an error.
func (c *Client) Pull(ctx context.Context) (PullResult, error) {
	start := time.Now()
	res := PullResult{Fingerprint: c.Fingerprint()}

	result, body, err := c.remote.Pull(ctx, res.Fingerprint)
	if err != nil {
		return res, err
	}

	switch result {
	case remote.NotModified:
		res.Outcome = UpToDate
	case remote.NotFound:
		res.Outcome = Miss
	case remote.Modified:
		if err := archive.Unpack(body, c.opts.Root, c.project.Settings.Cache); err != nil {
			return res, err
		}
		res.Outcome = Restored
		res.Size = int64(len(body))
	}
	res.Duration = time.Since(start)

	c.log.Debug().
		Str("fingerprint", res.Fingerprint).
		Stringer("outcome", res.Outcome).
		Int64("bytes", res.Size).
		Dur("took", res.Duration).
		Msg("pull")
	return res, nil
}

// Push archives the cache directories and uploads them with the local
// fingerprint. The server replaces whatever the slot held.
func (c *Client) Push(ctx context.Context) (PushResult, error) {
	start := time.Now()

	var buf bytes.Buffer
	stats, err := archive.Pack(ctx, &buf, c.opts.Root, c.project.Settings.Cache, archive.Options{
		Level:       c.opts.Level,
		Concurrency: c.opts.Concurrency,
	})
	if err != nil {
		return PushResult{}, err
	}

	res := PushResult{
		Fingerprint: c.Fingerprint(),
		Size:        int64(buf.Len()),
		Files:       stats.Files,
	}
	if err := c.remote.Push(ctx, buf.Bytes(), res.Fingerprint); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)

	c.log.Debug().
		Str("fingerprint", res.Fingerprint).
		Int("files", res.Files).
		Int64("raw", stats.Bytes).
		Int64("bytes", res.Size).
		Dur("took", res.Duration).
		Msg("push")
	return res, nil
}

// Check compares the local fingerprint with the stored one without
// transferring the archive.
func (c *Client) Check(ctx context.Context) (Status, error) {
	return c.remote.Check(ctx, c.Fingerprint())
}

// Health probes the server. It fails unless the server echoes the slot.
func (c *Client) Health(ctx context.Context) error {
	echo, err := c.remote.Health(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(echo) != c.slot.String() {
		return errs.Errorf(errs.Protocol, "health", "server answered %q for slot %s", echo, c.slot)
	}
	return nil
}

// Run pulls the cache, runs the wrapped build command through sh -c and
// pushes the cache when the build succeeded. Pull and push failures are
// logged and recorded in the report; only the build decides the error.
func (c *Client) Run(ctx context.Context) (RunReport, error) {
	start := time.Now()
	var report RunReport

	wrap := strings.TrimSpace(c.project.Settings.Wrap)
	if wrap == "" {
		return report, errs.E(errs.Configuration, "run", ErrNoWrap)
	}

	report.Pull, report.PullErr = c.Pull(ctx)
	if report.PullErr != nil {
		c.log.Warn().Err(report.PullErr).Msg("cache pull failed")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", wrap)
	cmd.Dir = c.opts.Root
	cmd.Stdin, cmd.Stdout, cmd.Stderr = c.opts.Stdin, c.opts.Stdout, c.opts.Stderr

	c.log.Info().Str("command", wrap).Msg("starting build")
	if err := cmd.Run(); err != nil {
		report.Duration = time.Since(start)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return report, &ExitError{Command: commandName(wrap), Code: exitErr.ExitCode()}
		}
		return report, fmt.Errorf("failed to execute %s: %w", commandName(wrap), err)
	}

	report.Pushed = true
	report.Push, report.PushErr = c.Push(ctx)
	if report.PushErr != nil {
		c.log.Warn().Err(report.PushErr).Msg("cache push failed")
	}

	report.Duration = time.Since(start)
	return report, nil
}

func commandName(wrap string) string {
	if f := strings.Fields(wrap); len(f) > 0 {
		return f[0]
	}
	return wrap
}
