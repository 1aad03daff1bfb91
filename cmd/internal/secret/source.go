package secret

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a shared secret from an environment variable or, when the
// variable is unset and a terminal is attached, by prompting the operator.
// The value is cached after the first successful lookup.
type Source struct {
	envVar      string
	label       string
	interactive bool

	once  sync.Once
	value string
	err   error
}

// NewSource returns a Source reading envVar. Prompting is only attempted when
// interactive is set.
func NewSource(envVar, label string, interactive bool) *Source {
	if strings.TrimSpace(label) == "" {
		label = "secret"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label, interactive: interactive}
}

// Get returns the cached secret or resolves it on first use. Whitespace-only
// values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		if !s.interactive || !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("read %s: %w", s.label, err)
			return
		}
		value := string(raw)
		if strings.TrimSpace(value) == "" {
			s.err = errors.New(s.label + " cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}
