package volt

import (
	"errors"
	"fmt"

	"github.com/theMackabu/volt/internal/config"
	"github.com/theMackabu/volt/internal/errs"
)

// Error kinds returned by Client methods. Test with IsKind.
const (
	ConfigurationError = errs.Configuration
	TransportError     = errs.Transport
	ProtocolError      = errs.Protocol
	CodecError         = errs.Codec
	StorageError       = errs.Storage
)

var (
	ErrCreated  = config.ErrCreated
	ErrUnedited = config.ErrUnedited
	ErrNoWrap   = errors.New("volt: no wrap command configured")
)

// IsKind reports whether err is classified as kind.
func IsKind(kind errs.Kind, err error) bool { return errs.Is(kind, err) }

// ExitError reports that the wrapped build command exited unsuccessfully.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
}
