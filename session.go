/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"strings"
	"time"
)

// actionError is the typed failure returned by every session operation.
// The Code travels over the wire in the action's acknowledgement; Detail
// is optional human-readable context.
type actionError struct {
	Code   string
	Detail string
}

func (e *actionError) Error() string {
	if e.Detail != "" {
		return e.Code + ": " + e.Detail
	}
	return e.Code
}

var (
	errSessionNotFound = &actionError{Code: "SESSION_NOT_FOUND"}
	errUserNotFound    = &actionError{Code: "USER_NOT_FOUND"}
	errNotHost         = &actionError{Code: "NOT_HOST"}
	errNotReceiver     = &actionError{Code: "NOT_RECEIVER"}
	errNeed2OrMore     = &actionError{Code: "NEED_2_OR_MORE"}
	errWaitAllDone     = &actionError{Code: "WAIT_ALL_DONE"}
	errNotInWrite      = &actionError{Code: "NOT_IN_WRITE"}
	errNotInReveal     = &actionError{Code: "NOT_IN_REVEAL"}
	errWaitOpen        = &actionError{Code: "WAIT_OPEN"}
	errAlreadyOpened   = &actionError{Code: "ALREADY_OPENED"}
	errTitleRequired   = &actionError{Code: "TITLE_REQUIRED"}
	errBodyRequired    = &actionError{Code: "BODY_REQUIRED"}
	errPairingFailed   = &actionError{Code: "PAIRING_FAILED"}
	errNoStep          = &actionError{Code: "NO_STEP"}
)

func errInvalidPhase(action string, p phase) *actionError {
	return &actionError{
		Code:   "INVALID_PHASE",
		Detail: fmt.Sprintf("%s not allowed in phase %s", action, p),
	}
}

// phase: lobby -> write -> reveal -> done
type phase string

const (
	phaseLobby  phase = "lobby"
	phaseWrite  phase = "write"
	phaseReveal phase = "reveal"
	phaseDone   phase = "done"
)

// Timing hints stamped into broadcasts. The server never acts on these;
// clients use them to line up animations on the shared wall clock.
const (
	rouletteLeadMs     = 250
	rouletteDurationMs = 1700
	confettiLeadMs     = 120
	confettiSeedSalt   = 0x9e3779b9
)

type gift struct {
	title string
	body  string
}

type participant struct {
	id        string
	connID    string
	name      string
	submitted bool
	gift      *gift
}

// participantList keeps participants in join order while allowing removal
// and lookup by id. Pairing indexes align with this order.
type participantList struct {
	order []*participant
	byID  map[string]*participant
}

func newParticipantList() *participantList {
	return &participantList{
		byID: make(map[string]*participant),
	}
}

func (l *participantList) len() int {
	return len(l.order)
}

func (l *participantList) add(p *participant) {
	if _, ok := l.byID[p.id]; ok {
		return
	}
	l.order = append(l.order, p)
	l.byID[p.id] = p
}

func (l *participantList) get(id string) *participant {
	return l.byID[id]
}

func (l *participantList) byConn(connID string) *participant {
	for _, p := range l.order {
		if p.connID == connID {
			return p
		}
	}
	return nil
}

func (l *participantList) remove(id string) bool {
	if _, ok := l.byID[id]; !ok {
		return false
	}
	delete(l.byID, id)

	dst := l.order[:0]
	for _, p := range l.order {
		if p.id == id {
			continue
		}
		dst = append(dst, p)
	}
	l.order = dst

	return true
}

// removeConn removes every participant bound to the given connection and
// returns how many were removed.
func (l *participantList) removeConn(connID string) int {
	removed := 0
	dst := l.order[:0]

	for _, p := range l.order {
		if p.connID == connID {
			delete(l.byID, p.id)
			removed++
			continue
		}
		dst = append(dst, p)
	}
	l.order = dst

	return removed
}

func (l *participantList) all() []*participant {
	return l.order
}

// pair snapshots the giver's message at pairing time, so later edits to
// participant state cannot rewrite history mid-reveal.
type pair struct {
	fromID string
	toID   string
	title  string
	body   string
}

type revealState struct {
	pairs      []pair
	index      int
	opened     bool
	startAt    int64 // unix milliseconds
	durationMs int
}

type session struct {
	code       string
	hostConnID string
	phase      phase
	users      *participantList
	reveal     *revealState
	chimeCount int
}

func newSession(code, hostConnID string) *session {
	return &session{
		code:       code,
		hostConnID: hostConnID,
		phase:      phaseLobby,
		users:      newParticipantList(),
	}
}

func (s *session) isHost(connID string) bool {
	return s.hostConnID == connID
}

func (s *session) allSubmitted() bool {
	if s.users.len() < 2 {
		return false
	}
	for _, p := range s.users.all() {
		if !p.submitted {
			return false
		}
	}
	return true
}

// join adds a participant for the given connection, or renames the one
// already bound to it. Joining is allowed in any phase so spectators can
// follow a reveal already in progress.
func (s *session) join(connID, name string) *participant {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "名無し"
	}

	if p := s.users.byConn(connID); p != nil {
		p.name = name
		return p
	}

	p := &participant{
		id:     genUserID(),
		connID: connID,
		name:   name,
	}
	s.users.add(p)

	return p
}

// start moves the session from lobby to write and clears any state left
// over from earlier phases.
func (s *session) start(connID string) *actionError {
	if !s.isHost(connID) {
		return errNotHost
	}
	if s.phase != phaseLobby {
		return errInvalidPhase("start-session", s.phase)
	}
	if s.users.len() < 2 {
		return errNeed2OrMore
	}

	s.phase = phaseWrite
	s.reveal = nil
	s.chimeCount = 0

	for _, p := range s.users.all() {
		p.submitted = false
		p.gift = nil
	}

	return nil
}

// submit records a participant's gift. The returned chime index is
// non-zero only on the transition from unsubmitted to submitted, cycling
// 1, 2, 3 across the session.
func (s *session) submit(userID, title, body string) (chimeIdx int, err *actionError) {
	if s.phase != phaseWrite {
		return 0, errNotInWrite
	}

	p := s.users.get(userID)
	if p == nil {
		return 0, errUserNotFound
	}

	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" {
		return 0, errTitleRequired
	}
	if body == "" {
		return 0, errBodyRequired
	}

	wasSubmitted := p.submitted
	p.gift = &gift{title: title, body: body}
	p.submitted = true

	if !wasSubmitted {
		s.chimeCount++
		return ((s.chimeCount - 1) % 3) + 1, nil
	}

	return 0, nil
}

// beginPairing runs the derangement over the participant order and enters
// the reveal phase with the cursor on the first pair. On any failure the
// session is left untouched.
func (s *session) beginPairing(connID string, now time.Time) *actionError {
	if !s.isHost(connID) {
		return errNotHost
	}
	if s.phase != phaseWrite {
		return errInvalidPhase("begin-pairing", s.phase)
	}
	if !s.allSubmitted() {
		return errWaitAllDone
	}

	ids := make([]string, 0, s.users.len())
	for _, p := range s.users.all() {
		ids = append(ids, p.id)
	}

	toIDs, err := derange(ids)
	if err != nil {
		return errPairingFailed
	}

	pairs := make([]pair, len(ids))
	for i, fromID := range ids {
		from := s.users.get(fromID)
		pairs[i] = pair{
			fromID: fromID,
			toID:   toIDs[i],
			title:  from.gift.title,
			body:   from.gift.body,
		}
	}

	s.phase = phaseReveal
	s.reveal = &revealState{
		pairs:      pairs,
		startAt:    now.UnixMilli() + rouletteLeadMs,
		durationMs: rouletteDurationMs,
	}

	return nil
}

type openResult struct {
	fromName   string
	toName     string
	toConnID   string
	title      string
	body       string
	step       int
	total      int
	confettiAt int64
	seed       uint32
}

// openReveal marks the current step opened by its recipient and computes
// the shared confetti start instant plus a seed derived from it.
func (s *session) openReveal(userID string, now time.Time) (*openResult, *actionError) {
	if s.phase != phaseReveal || s.reveal == nil {
		return nil, errNotInReveal
	}

	p := s.currentPair()
	if p == nil {
		return nil, errNoStep
	}
	if p.toID != userID {
		return nil, errNotReceiver
	}
	if s.reveal.opened {
		return nil, errAlreadyOpened
	}

	from := s.users.get(p.fromID)
	to := s.users.get(p.toID)
	if from == nil || to == nil {
		return nil, errNoStep
	}

	s.reveal.opened = true

	startAt := now.UnixMilli() + confettiLeadMs

	return &openResult{
		fromName:   from.name,
		toName:     to.name,
		toConnID:   to.connID,
		title:      p.title,
		body:       p.body,
		step:       s.reveal.index + 1,
		total:      len(s.reveal.pairs),
		confettiAt: startAt,
		seed:       uint32(startAt) ^ confettiSeedSalt,
	}, nil
}

// advance moves the cursor to the next pair, or past the last pair into
// the done phase. Returns true when the reveal finished.
func (s *session) advance(connID string, now time.Time) (bool, *actionError) {
	if !s.isHost(connID) {
		return false, errNotHost
	}
	if s.phase != phaseReveal || s.reveal == nil {
		return false, errNotInReveal
	}
	if !s.reveal.opened {
		return false, errWaitOpen
	}

	s.reveal.index++

	if s.reveal.index >= len(s.reveal.pairs) {
		// Reveal state is kept so "no current step" queries still resolve.
		s.phase = phaseDone
		return true, nil
	}

	s.reveal.opened = false
	s.reveal.startAt = now.UnixMilli() + rouletteLeadMs
	s.reveal.durationMs = rouletteDurationMs

	return false, nil
}

func (s *session) currentPair() *pair {
	if s.reveal == nil || s.reveal.index < 0 || s.reveal.index >= len(s.reveal.pairs) {
		return nil
	}
	return &s.reveal.pairs[s.reveal.index]
}
