package app

import "sync"

// hook names a side effect that must fire at most once per phase instance
type hook int

const (
	hookBotSubmissions hook = iota
	hookBotVotes
	hookStallReport
)

// phaseGuard remembers the last phase instance each hook acted on
type phaseGuard struct {
	mu   sync.Mutex
	last map[hook]string
}

func newPhaseGuard() *phaseGuard {
	return &phaseGuard{last: make(map[hook]string)}
}

// claim returns true the first time h is claimed for phaseID
func (g *phaseGuard) claim(h hook, phaseID string) bool {
	if phaseID == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last[h] == phaseID {
		return false
	}
	g.last[h] = phaseID
	return true
}

func (g *phaseGuard) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[hook]string)
}
