package domain

// Badge identifiers awarded on the leaderboard.
const (
	BadgePerfectScore  = "perfect-score"
	BadgeParticipation = "participation"
	BadgeFinisher      = "finisher"
	BadgeHighAccuracy  = "high-accuracy"
)

// EarnBadges derives the badge set for a participant from their answer
// history. correctAnswers must come from replaying answers against the
// answer key, not from the score (questions can carry more than one point).
func EarnBadges(p *Participant, correctAnswers, totalQuestions int) []string {
	answered := p.AnsweredCount()
	if answered == 0 {
		return nil
	}

	accuracy := float64(correctAnswers) / float64(answered) * 100

	badges := []string{BadgeParticipation}
	if answered == totalQuestions {
		badges = append(badges, BadgeFinisher)
		if correctAnswers == totalQuestions {
			badges = append(badges, BadgePerfectScore)
		}
	}
	if accuracy >= 90 {
		badges = append(badges, BadgeHighAccuracy)
	}
	return badges
}
