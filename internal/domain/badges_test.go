package domain

import "testing"

func TestEarnBadges(t *testing.T) {
	participant := func(answered int) *Participant {
		p := &Participant{Answers: make(map[string]string)}
		for i := 0; i < answered; i++ {
			p.Answers[string(rune('a'+i))] = "x"
		}
		return p
	}

	has := func(badges []string, want string) bool {
		for _, b := range badges {
			if b == want {
				return true
			}
		}
		return false
	}

	if got := EarnBadges(participant(0), 0, 10); got != nil {
		t.Fatalf("no answers must earn nothing, got %v", got)
	}

	badges := EarnBadges(participant(10), 10, 10)
	for _, want := range []string{BadgeParticipation, BadgeFinisher, BadgePerfectScore, BadgeHighAccuracy} {
		if !has(badges, want) {
			t.Fatalf("perfect run missing %s: %v", want, badges)
		}
	}

	badges = EarnBadges(participant(10), 9, 10)
	if has(badges, BadgePerfectScore) {
		t.Fatalf("9/10 must not be perfect: %v", badges)
	}
	if !has(badges, BadgeFinisher) || !has(badges, BadgeHighAccuracy) {
		t.Fatalf("9/10 finisher with 90%% accuracy: %v", badges)
	}

	badges = EarnBadges(participant(4), 2, 10)
	if has(badges, BadgeFinisher) || has(badges, BadgeHighAccuracy) {
		t.Fatalf("partial low-accuracy run over-awarded: %v", badges)
	}
	if !has(badges, BadgeParticipation) {
		t.Fatalf("any answer earns participation: %v", badges)
	}
}
