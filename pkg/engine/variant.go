package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/sessiond/pkg/config"
)

// ErrUnknownVariant is returned for engine identifiers outside the closed
// set of variants, or for a variant with no constructor wired.
var ErrUnknownVariant = errors.New("engine: unknown engine")

// Variant identifies a protocol engine implementation.
type Variant string

const (
	WebJS Variant = "WEBJS"
	NoWeb Variant = "NOWEB"
	GoWS  Variant = "GOWS"
)

// ParseVariant resolves an engine identifier, case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToUpper(strings.TrimSpace(s))); v {
	case WebJS, NoWeb, GoWS:
		return v, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownVariant, s)
	}
}

// Constructor builds a session for one variant.
type Constructor func(p Params) (Session, error)

// Selector maps every variant to its constructor. Unwired variants are
// rejected by Select.
type Selector struct {
	WebJS Constructor
	NoWeb Constructor
	GoWS  Constructor
}

// Uniform returns a Selector using c for every variant.
func Uniform(c Constructor) Selector {
	return Selector{WebJS: c, NoWeb: c, GoWS: c}
}

// Select returns the constructor for v.
func (s Selector) Select(v Variant) (Constructor, error) {
	var c Constructor
	switch v {
	case WebJS:
		c = s.WebJS
	case NoWeb:
		c = s.NoWeb
	case GoWS:
		c = s.GoWS
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownVariant, v)
	}
	if c == nil {
		return nil, fmt.Errorf("%w %q: no constructor wired", ErrUnknownVariant, v)
	}
	return c, nil
}

// EngineConfig returns the engine-specific configuration handed to sessions
// of variant v. NOWEB takes none.
func EngineConfig(v Variant, cfg config.EnginesConfig) any {
	switch v {
	case WebJS:
		return cfg.WebJS
	case GoWS:
		return cfg.GoWS
	default:
		return nil
	}
}
