package volt

import (
	"fmt"
	"time"
)

// Outcome is what a pull did to the local cache directories.
type Outcome int

const (
	UpToDate Outcome = iota // remote fingerprint matched, nothing transferred
	Restored                // archive downloaded and extracted
	Miss                    // no entry stored for the slot
)

func (o Outcome) String() string {
	switch o {
	case UpToDate:
		return "up to date"
	case Restored:
		return "restored"
	}
	return "cache miss"
}

type PullResult struct {
	Outcome     Outcome
	Fingerprint string
	Size        int64 // compressed bytes downloaded
	Duration    time.Duration
}

func (r PullResult) String() string {
	if r.Outcome == Restored {
		return "restored in " + FormatDuration(r.Duration)
	}
	return r.Outcome.String()
}

type PushResult struct {
	Fingerprint string
	Size        int64 // compressed bytes uploaded
	Files       int
	Duration    time.Duration
}

func (r PushResult) String() string {
	return fmt.Sprintf("cached %s in %s", FormatSize(r.Size), FormatDuration(r.Duration))
}

// RunReport collects the sync steps around a wrapped build. Sync failures
// are recorded here and never fail the run.
type RunReport struct {
	Pull    PullResult
	PullErr error
	// Pushed is false when the build failed and no push was attempted.
	Pushed   bool
	Push     PushResult
	PushErr  error
	Duration time.Duration
}

// FailureLine renders err as a user-facing outcome line.
func FailureLine(err error) string {
	return "error: " + err.Error()
}

// FormatSize renders n bytes with the largest unit of b, kb, mb and gb that
// keeps the value at or above one, e.g. "512b" or "1.5mb".
func FormatSize(n int64) string {
	units := [...]string{"b", "kb", "mb", "gb"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f%s", size, units[i])
	}
	return fmt.Sprintf("%.1f%s", size, units[i])
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Microsecond).String()
}
