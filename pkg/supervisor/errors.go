package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session is not running.
	ErrNotFound = errors.New("supervisor: session not found")
	// ErrAlreadyStarted is returned when starting a running session.
	ErrAlreadyStarted = errors.New("supervisor: session already started")
	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("supervisor: shut down")
)

func notFound(name string) error {
	return fmt.Errorf("%w: We didn't find a session with name '%s'.\n"+
		"Please start it first by using POST /api/sessions/%s/start request", ErrNotFound, name, name)
}

func alreadyStarted(name string) error {
	return fmt.Errorf("%w: Session '%s' is already started.", ErrAlreadyStarted, name)
}
