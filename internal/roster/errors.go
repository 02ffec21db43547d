package roster

import "errors"

var (
	// ErrJobNotFound is returned for an unknown or expired job ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobAlreadyExecuted is returned when a job was already consumed.
	ErrJobAlreadyExecuted = errors.New("job already executed")
	// ErrStoreFull is returned when too many previews are pending.
	ErrStoreFull = errors.New("too many pending import jobs")
	// ErrMissingNameColumns is returned when no header maps to a player name.
	ErrMissingNameColumns = errors.New("no first/last name or full name column found")
	// ErrUnreadableFile is returned when the payload cannot be read as the
	// declared or sniffed format.
	ErrUnreadableFile = errors.New("unreadable roster file")
	// ErrUnsupportedFormat is returned for an unknown file format.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrInvalidResolution is returned for a contradictory resolution list.
	ErrInvalidResolution = errors.New("invalid resolution")
	// ErrRunNotFound is returned when no import run has the requested ID.
	ErrRunNotFound = errors.New("import run not found")
)
