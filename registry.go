/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// registry owns the code -> session mapping and session lifetime. It is
// only ever touched from the hub goroutine, so it carries no lock; every
// action re-resolves its session through lookup before mutating anything.
type registry struct {
	sessions   map[string]*session
	codeLength int
}

func newRegistry(codeLength int) *registry {
	return &registry{
		sessions:   make(map[string]*session),
		codeLength: codeLength,
	}
}

// create generates a code unused by any live session and inserts a fresh
// lobby-phase session hosted by the given connection.
func (r *registry) create(hostConnID string) *session {
	var code string
	for {
		code = genSessionCode(r.codeLength)
		if _, exists := r.sessions[code]; !exists {
			break
		}
	}

	s := newSession(code, hostConnID)
	r.sessions[code] = s

	return s
}

func (r *registry) lookup(code string) (*session, *actionError) {
	s, ok := r.sessions[code]
	if !ok {
		return nil, errSessionNotFound
	}
	return s, nil
}

func (r *registry) delete(code string) {
	delete(r.sessions, code)
}

func (r *registry) len() int {
	return len(r.sessions)
}

// each returns the live sessions; used by disconnect handling, which has
// no code to resolve by.
func (r *registry) each(fn func(*session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}
