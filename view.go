/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// stepView is the canonical public description of the current reveal
// step. It carries the gift title but never the body.
type stepView struct {
	Step       int    `json:"step"`
	Total      int    `json:"total"`
	FromName   string `json:"fromName"`
	ToName     string `json:"toName"`
	ToID       string `json:"toId"`
	Title      string `json:"title"`
	Opened     bool   `json:"opened"`
	StartAt    int64  `json:"startAt"`
	DurationMs int    `json:"durationMs"`
}

type userView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Submitted bool   `json:"submitted"`
}

// roomView is the state every session member receives after each
// state-changing action. Message bodies are excluded here by design of
// the wire format: they travel only in the recipient-scoped reveal.
type roomView struct {
	Code   string     `json:"code"`
	HostID string     `json:"hostId"`
	Phase  string     `json:"phase"`
	Users  []userView `json:"users"`
	Step   *stepView  `json:"step,omitempty"`
}

// currentStep projects the pair under the cursor, or nil outside the
// reveal phase or when either participant has since left.
func currentStep(s *session) *stepView {
	if s.phase != phaseReveal || s.reveal == nil {
		return nil
	}

	p := s.currentPair()
	if p == nil {
		return nil
	}

	from := s.users.get(p.fromID)
	to := s.users.get(p.toID)
	if from == nil || to == nil {
		return nil
	}

	return &stepView{
		Step:       s.reveal.index + 1,
		Total:      len(s.reveal.pairs),
		FromName:   from.name,
		ToName:     to.name,
		ToID:       to.id,
		Title:      p.title,
		Opened:     s.reveal.opened,
		StartAt:    s.reveal.startAt,
		DurationMs: s.reveal.durationMs,
	}
}

func projectRoom(s *session) roomView {
	users := make([]userView, 0, s.users.len())
	for _, p := range s.users.all() {
		users = append(users, userView{
			ID:        p.id,
			Name:      p.name,
			Submitted: p.submitted,
		})
	}

	return roomView{
		Code:   s.code,
		HostID: s.hostConnID,
		Phase:  string(s.phase),
		Users:  users,
		Step:   currentStep(s),
	}
}
