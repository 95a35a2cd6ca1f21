package main

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestProjectRoomIsDeterministic(t *testing.T) {
	s, _ := revealSession(t, "Alice", "Bob")

	first, err := json.Marshal(projectRoom(s))
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	second, err := json.Marshal(projectRoom(s))
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("projection not stable:\n%s\n%s", first, second)
	}
}

func TestProjectRoomNeverContainsBodies(t *testing.T) {
	s, _ := revealSession(t, "Alice", "Bob")

	// Open a step so the view is as full as it ever gets.
	if _, err := s.openReveal(s.currentPair().toID, testNow); err != nil {
		t.Fatalf("open err: %v", err)
	}

	data, err := json.Marshal(projectRoom(s))
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}

	if bytes.Contains(data, []byte(`"body"`)) {
		t.Fatalf("room view leaks a body field: %s", data)
	}
	if bytes.Contains(data, []byte("with love from")) {
		t.Fatalf("room view leaks gift contents: %s", data)
	}
}

func TestCurrentStepOutsideReveal(t *testing.T) {
	s, _ := startedSession(t, "Alice", "Bob")

	if step := currentStep(s); step != nil {
		t.Fatalf("currentStep in write phase = %+v, want nil", step)
	}
}

func TestCurrentStepView(t *testing.T) {
	s, _ := revealSession(t, "Alice", "Bob")

	step := currentStep(s)
	if step == nil {
		t.Fatal("currentStep is nil in reveal phase")
	}
	if step.Step != 1 || step.Total != 2 {
		t.Fatalf("step counters = %d/%d, want 1/2", step.Step, step.Total)
	}

	to := s.users.get(s.currentPair().toID)
	if step.ToID != to.id || step.ToName != to.name {
		t.Fatalf("step recipient = %s/%s, want %s/%s", step.ToID, step.ToName, to.id, to.name)
	}
	if step.Opened {
		t.Fatal("fresh step already marked opened")
	}
	if step.StartAt != testNow.UnixMilli()+rouletteLeadMs || step.DurationMs != rouletteDurationMs {
		t.Fatalf("timing envelope = %d/%d", step.StartAt, step.DurationMs)
	}
}

func TestCurrentStepNilWhenParticipantGone(t *testing.T) {
	s, _ := revealSession(t, "Alice", "Bob")

	s.users.remove(s.currentPair().toID)

	if step := currentStep(s); step != nil {
		t.Fatalf("currentStep with missing recipient = %+v, want nil", step)
	}
}
