package main

import (
	"testing"
	"time"
)

const hostConn = "conn-host"

var testNow = time.UnixMilli(1_700_000_000_000)

func testSession(t *testing.T, names ...string) (*session, []*participant) {
	t.Helper()

	s := newSession("てすと", hostConn)

	users := make([]*participant, 0, len(names))
	for i, name := range names {
		conn := hostConn
		if i > 0 {
			conn = "conn-" + name
		}
		users = append(users, s.join(conn, name))
	}

	return s, users
}

func startedSession(t *testing.T, names ...string) (*session, []*participant) {
	t.Helper()

	s, users := testSession(t, names...)
	if err := s.start(hostConn); err != nil {
		t.Fatalf("start err: %v", err)
	}
	return s, users
}

func revealSession(t *testing.T, names ...string) (*session, []*participant) {
	t.Helper()

	s, users := startedSession(t, names...)
	for _, u := range users {
		if _, err := s.submit(u.id, "gift for someone", "with love from "+u.name); err != nil {
			t.Fatalf("submit err: %v", err)
		}
	}
	if err := s.beginPairing(hostConn, testNow); err != nil {
		t.Fatalf("beginPairing err: %v", err)
	}
	return s, users
}

func TestJoinAssignsStableIDs(t *testing.T) {
	s, users := testSession(t, "Alice", "Bob")

	// Re-joining from the same connection renames, never duplicates.
	again := s.join(hostConn, "Alicia")
	if again.id != users[0].id {
		t.Fatalf("rejoin changed id: got %s want %s", again.id, users[0].id)
	}
	if again.name != "Alicia" {
		t.Fatalf("rejoin did not rename: %q", again.name)
	}
	if s.users.len() != 2 {
		t.Fatalf("participant count = %d, want 2", s.users.len())
	}
}

func TestJoinDefaultsBlankName(t *testing.T) {
	s, _ := testSession(t)

	p := s.join("conn-x", "   ")
	if p.name != "名無し" {
		t.Fatalf("blank name not defaulted: %q", p.name)
	}
}

func TestStartRequiresHost(t *testing.T) {
	s, _ := testSession(t, "Alice", "Bob")

	if err := s.start("conn-Bob"); err != errNotHost {
		t.Fatalf("err = %v, want %v", err, errNotHost)
	}
	if s.phase != phaseLobby {
		t.Fatalf("failed start changed phase to %s", s.phase)
	}
}

func TestStartNeedsTwoParticipants(t *testing.T) {
	s, _ := testSession(t, "Alice")

	if err := s.start(hostConn); err != errNeed2OrMore {
		t.Fatalf("err = %v, want %v", err, errNeed2OrMore)
	}
	if s.phase != phaseLobby {
		t.Fatalf("failed start changed phase to %s", s.phase)
	}
}

func TestStartOnlyFromLobby(t *testing.T) {
	s, _ := startedSession(t, "Alice", "Bob")

	err := s.start(hostConn)
	if err == nil || err.Code != "INVALID_PHASE" {
		t.Fatalf("err = %v, want INVALID_PHASE", err)
	}
}

func TestStartClearsPriorState(t *testing.T) {
	s, users := testSession(t, "Alice", "Bob")
	users[0].submitted = true
	users[0].gift = &gift{title: "stale", body: "stale"}
	s.chimeCount = 2

	if err := s.start(hostConn); err != nil {
		t.Fatalf("start err: %v", err)
	}

	if users[0].submitted || users[0].gift != nil {
		t.Fatal("start did not clear submission state")
	}
	if s.chimeCount != 0 {
		t.Fatalf("chime counter = %d, want 0", s.chimeCount)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		body    string
		wantErr *actionError
	}{
		{name: "ok", title: "socks", body: "warm ones"},
		{name: "missing title", title: "   ", body: "warm ones", wantErr: errTitleRequired},
		{name: "missing body", title: "socks", body: "", wantErr: errBodyRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, users := startedSession(t, "Alice", "Bob")

			_, err := s.submit(users[0].id, tt.title, tt.body)
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && users[0].submitted {
				t.Fatal("failed submit marked participant submitted")
			}
		})
	}
}

func TestSubmitOutsideWritePhase(t *testing.T) {
	s, users := testSession(t, "Alice", "Bob")

	if _, err := s.submit(users[0].id, "socks", "warm"); err != errNotInWrite {
		t.Fatalf("err = %v, want %v", err, errNotInWrite)
	}
}

func TestSubmitUnknownUser(t *testing.T) {
	s, _ := startedSession(t, "Alice", "Bob")

	if _, err := s.submit("nope", "socks", "warm"); err != errUserNotFound {
		t.Fatalf("err = %v, want %v", err, errUserNotFound)
	}
}

func TestSubmitChimeCyclesOnFirstSubmissionOnly(t *testing.T) {
	s, users := startedSession(t, "A", "B", "C", "D")

	wantIdx := []int{1, 2, 3, 1}
	for i, u := range users {
		idx, err := s.submit(u.id, "t", "b")
		if err != nil {
			t.Fatalf("submit err: %v", err)
		}
		if idx != wantIdx[i] {
			t.Fatalf("chime idx = %d, want %d", idx, wantIdx[i])
		}
	}

	// Resubmitting overwrites the gift without a chime.
	idx, err := s.submit(users[0].id, "new title", "new body")
	if err != nil {
		t.Fatalf("resubmit err: %v", err)
	}
	if idx != 0 {
		t.Fatalf("resubmit chime idx = %d, want 0", idx)
	}
	if users[0].gift.title != "new title" || users[0].gift.body != "new body" {
		t.Fatalf("resubmit did not overwrite gift: %+v", users[0].gift)
	}
}

func TestBeginPairingGuards(t *testing.T) {
	t.Run("not host", func(t *testing.T) {
		s, _ := startedSession(t, "Alice", "Bob")
		if err := s.beginPairing("conn-Bob", testNow); err != errNotHost {
			t.Fatalf("err = %v, want %v", err, errNotHost)
		}
	})

	t.Run("wrong phase", func(t *testing.T) {
		s, _ := testSession(t, "Alice", "Bob")
		err := s.beginPairing(hostConn, testNow)
		if err == nil || err.Code != "INVALID_PHASE" {
			t.Fatalf("err = %v, want INVALID_PHASE", err)
		}
	})

	t.Run("waiting on submissions", func(t *testing.T) {
		s, users := startedSession(t, "Alice", "Bob")
		if _, err := s.submit(users[0].id, "t", "b"); err != nil {
			t.Fatalf("submit err: %v", err)
		}
		if err := s.beginPairing(hostConn, testNow); err != errWaitAllDone {
			t.Fatalf("err = %v, want %v", err, errWaitAllDone)
		}
		if s.phase != phaseWrite || s.reveal != nil {
			t.Fatal("failed pairing mutated session")
		}
	})
}

func TestBeginPairingBuildsDerangement(t *testing.T) {
	s, users := revealSession(t, "A", "B", "C")

	if s.phase != phaseReveal {
		t.Fatalf("phase = %s, want reveal", s.phase)
	}
	if len(s.reveal.pairs) != 3 {
		t.Fatalf("pair count = %d, want 3", len(s.reveal.pairs))
	}

	froms := make([]string, 0, 3)
	tos := make([]string, 0, 3)
	for _, p := range s.reveal.pairs {
		froms = append(froms, p.fromID)
		tos = append(tos, p.toID)
	}
	assertDerangement(t, froms, tos)

	// Pair order follows join order.
	for i, u := range users {
		if s.reveal.pairs[i].fromID != u.id {
			t.Fatalf("pair %d fromID = %s, want %s", i, s.reveal.pairs[i].fromID, u.id)
		}
	}

	if s.reveal.startAt != testNow.UnixMilli()+rouletteLeadMs {
		t.Fatalf("startAt = %d, want %d", s.reveal.startAt, testNow.UnixMilli()+rouletteLeadMs)
	}
	if s.reveal.durationMs != rouletteDurationMs {
		t.Fatalf("durationMs = %d, want %d", s.reveal.durationMs, rouletteDurationMs)
	}
}

func TestBeginPairingSnapshotsGifts(t *testing.T) {
	s, users := revealSession(t, "Alice", "Bob")

	users[0].gift.title = "tampered"
	users[0].gift.body = "tampered"

	for _, p := range s.reveal.pairs {
		if p.fromID == users[0].id && (p.title == "tampered" || p.body == "tampered") {
			t.Fatal("pair references live gift instead of a snapshot")
		}
	}
}

func TestTwoPersonPairingIsTheSwap(t *testing.T) {
	s, users := revealSession(t, "Alice", "Bob")

	pairs := s.reveal.pairs
	if len(pairs) != 2 {
		t.Fatalf("pair count = %d, want 2", len(pairs))
	}
	if pairs[0].fromID != users[0].id || pairs[0].toID != users[1].id {
		t.Fatalf("pair 0 = %s->%s, want %s->%s", pairs[0].fromID, pairs[0].toID, users[0].id, users[1].id)
	}
	if pairs[1].fromID != users[1].id || pairs[1].toID != users[0].id {
		t.Fatalf("pair 1 = %s->%s, want %s->%s", pairs[1].fromID, pairs[1].toID, users[1].id, users[0].id)
	}
}

func TestOpenRevealGuards(t *testing.T) {
	t.Run("wrong phase", func(t *testing.T) {
		s, users := testSession(t, "Alice", "Bob")
		if _, err := s.openReveal(users[0].id, testNow); err != errNotInReveal {
			t.Fatalf("err = %v, want %v", err, errNotInReveal)
		}
	})

	t.Run("not the recipient", func(t *testing.T) {
		s, _ := revealSession(t, "Alice", "Bob")
		giver := s.users.get(s.currentPair().fromID)
		if _, err := s.openReveal(giver.id, testNow); err != errNotReceiver {
			t.Fatalf("err = %v, want %v", err, errNotReceiver)
		}
		if s.reveal.opened {
			t.Fatal("failed open marked step opened")
		}
	})

	t.Run("already opened", func(t *testing.T) {
		s, _ := revealSession(t, "Alice", "Bob")
		recipient := s.currentPair().toID
		if _, err := s.openReveal(recipient, testNow); err != nil {
			t.Fatalf("open err: %v", err)
		}
		if _, err := s.openReveal(recipient, testNow); err != errAlreadyOpened {
			t.Fatalf("err = %v, want %v", err, errAlreadyOpened)
		}
	})
}

func TestOpenRevealTimingAndSeed(t *testing.T) {
	s, _ := revealSession(t, "Alice", "Bob")

	res, err := s.openReveal(s.currentPair().toID, testNow)
	if err != nil {
		t.Fatalf("open err: %v", err)
	}

	wantStart := testNow.UnixMilli() + confettiLeadMs
	if res.confettiAt != wantStart {
		t.Fatalf("confettiAt = %d, want %d", res.confettiAt, wantStart)
	}
	if res.seed != uint32(wantStart)^confettiSeedSalt {
		t.Fatalf("seed = %d, want %d", res.seed, uint32(wantStart)^confettiSeedSalt)
	}
	if res.body == "" || res.title == "" {
		t.Fatalf("open result missing gift contents: %+v", res)
	}
}

func TestAdvanceGuards(t *testing.T) {
	t.Run("not host", func(t *testing.T) {
		s, _ := revealSession(t, "Alice", "Bob")
		if _, err := s.advance("conn-Bob", testNow); err != errNotHost {
			t.Fatalf("err = %v, want %v", err, errNotHost)
		}
	})

	t.Run("wrong phase", func(t *testing.T) {
		s, _ := testSession(t, "Alice", "Bob")
		if _, err := s.advance(hostConn, testNow); err != errNotInReveal {
			t.Fatalf("err = %v, want %v", err, errNotInReveal)
		}
	})

	t.Run("current step not opened", func(t *testing.T) {
		s, _ := revealSession(t, "Alice", "Bob")
		if _, err := s.advance(hostConn, testNow); err != errWaitOpen {
			t.Fatalf("err = %v, want %v", err, errWaitOpen)
		}
		if s.reveal.index != 0 {
			t.Fatalf("failed advance moved cursor to %d", s.reveal.index)
		}
	})
}

func TestAdvanceStampsFreshEnvelope(t *testing.T) {
	s, _ := revealSession(t, "A", "B", "C")

	if _, err := s.openReveal(s.currentPair().toID, testNow); err != nil {
		t.Fatalf("open err: %v", err)
	}

	later := testNow.Add(5 * time.Second)
	done, err := s.advance(hostConn, later)
	if err != nil {
		t.Fatalf("advance err: %v", err)
	}
	if done {
		t.Fatal("advance reported done with pairs remaining")
	}

	if s.reveal.opened {
		t.Fatal("opened flag not reset on new step")
	}
	if s.reveal.index != 1 {
		t.Fatalf("cursor = %d, want 1", s.reveal.index)
	}
	if s.reveal.startAt != later.UnixMilli()+rouletteLeadMs {
		t.Fatalf("startAt = %d, want %d", s.reveal.startAt, later.UnixMilli()+rouletteLeadMs)
	}
}

func TestRevealRunsToDone(t *testing.T) {
	s, _ := revealSession(t, "Alice", "Bob")

	for step := 0; step < 2; step++ {
		if _, err := s.openReveal(s.currentPair().toID, testNow); err != nil {
			t.Fatalf("open step %d err: %v", step, err)
		}
		done, err := s.advance(hostConn, testNow)
		if err != nil {
			t.Fatalf("advance step %d err: %v", step, err)
		}
		if wantDone := step == 1; done != wantDone {
			t.Fatalf("advance step %d done = %v, want %v", step, done, wantDone)
		}
	}

	if s.phase != phaseDone {
		t.Fatalf("phase = %s, want done", s.phase)
	}
	if s.reveal == nil {
		t.Fatal("reveal state discarded; done queries need it")
	}
	if currentStep(s) != nil {
		t.Fatal("currentStep should be nil after the last pair")
	}

	// Done is terminal for reveal actions.
	if _, err := s.openReveal("whoever", testNow); err != errNotInReveal {
		t.Fatalf("open after done err = %v, want %v", err, errNotInReveal)
	}
	if _, err := s.advance(hostConn, testNow); err != errNotInReveal {
		t.Fatalf("advance after done err = %v, want %v", err, errNotInReveal)
	}
}

func TestParticipantListOrderAndRemoval(t *testing.T) {
	l := newParticipantList()
	for _, id := range []string{"a", "b", "c"} {
		l.add(&participant{id: id, connID: "conn-" + id})
	}

	if !l.remove("b") {
		t.Fatal("remove returned false for present id")
	}
	if l.remove("b") {
		t.Fatal("remove returned true for absent id")
	}

	got := l.all()
	if len(got) != 2 || got[0].id != "a" || got[1].id != "c" {
		t.Fatalf("order after removal wrong: %v", got)
	}

	if n := l.removeConn("conn-a"); n != 1 {
		t.Fatalf("removeConn removed %d, want 1", n)
	}
	if l.len() != 1 || l.get("a") != nil {
		t.Fatal("removeConn left stale entries")
	}
}
