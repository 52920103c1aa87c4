package live

import (
	"fmt"
	"sync"

	"github.com/victornm/livequiz/internal/errors"
)

const maxCodeAttempts = 64

// Registry is the set of live sessions keyed by code. It is the single source
// of truth for whether a session is live.
type Registry struct {
	mu       sync.Mutex
	gen      Generator
	sessions map[string]*Session
}

func NewRegistry(gen Generator) *Registry {
	if gen == nil {
		gen = CodeGenerator{}
	}

	return &Registry{
		gen:      gen,
		sessions: make(map[string]*Session),
	}
}

// Create allocates a code unused by any live session and registers the session built for it.
func (r *Registry) Create(build func(code string) *Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for range maxCodeAttempts {
		code, err := r.gen.Generate()
		if err != nil {
			return nil, errors.Internal(err)
		}

		code = NormalizeCode(code)
		if _, taken := r.sessions[code]; taken {
			continue
		}

		s := build(code)
		r.sessions[code] = s
		return s, nil
	}

	return nil, errors.Internal(fmt.Errorf("registry: no free code after %d attempts", maxCodeAttempts))
}

// Get returns the live session for code. Lookups are case-insensitive.
func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[NormalizeCode(code)]
	return s, ok
}

// Delete removes the session for code. Deleting an absent code is a no-op.
func (r *Registry) Delete(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, NormalizeCode(code))
}

// HostedBy returns the live sessions hosted by conn.
func (r *Registry) HostedBy(conn ConnID) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ss []*Session
	for _, s := range r.sessions {
		if s.hostConn == conn {
			ss = append(ss, s)
		}
	}
	return ss
}

// List returns the live sessions at the time of the call.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		ss = append(ss, s)
	}
	return ss
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
