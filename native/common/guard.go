package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a mutable PauseView keyed by lower-cased module name.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses seeds the view with the supplied module flags.
func NewPauses(initial map[string]bool) *Pauses {
	p := &Pauses{paused: make(map[string]bool, len(initial))}
	for module, paused := range initial {
		p.paused[strings.ToLower(strings.TrimSpace(module))] = paused
	}
	return p
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(strings.TrimSpace(module))]
}

// Set toggles the pause flag of module.
func (p *Pauses) Set(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[strings.ToLower(strings.TrimSpace(module))] = paused
}
