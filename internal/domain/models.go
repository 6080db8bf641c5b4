package domain

import "time"

// CompetitionStatus is the lifecycle state of a live competition.
type CompetitionStatus string

const (
	StatusWaiting   CompetitionStatus = "waiting"
	StatusActive    CompetitionStatus = "active"
	StatusPaused    CompetitionStatus = "paused"
	StatusCompleted CompetitionStatus = "completed"
)

// Terminal reports whether no transition may leave this status.
func (s CompetitionStatus) Terminal() bool {
	return s == StatusCompleted
}

// CompetitionConfig carries the organizer's per-competition options.
type CompetitionConfig struct {
	MaxParticipants int  `json:"maxParticipants"` // 0 means unlimited
	AllowLateJoin   bool `json:"allowLateJoin"`
	ShowLeaderboard bool `json:"showLeaderboard"`
	ShowAnswersLive bool `json:"showAnswersLive"`
}

// Competition is the persisted identity of a live quiz competition.
type Competition struct {
	ID          string            `json:"id"`
	QuizID      string            `json:"quizId"`
	CreatorID   string            `json:"creatorId"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ShareCode   string            `json:"shareCode"`
	Config      CompetitionConfig `json:"config"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// CompetitionState is the broadcast lifecycle snapshot.
// Timestamps travel as unix milliseconds on the wire.
type CompetitionState struct {
	Status               CompetitionStatus `json:"status"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	ParticipantCount     int               `json:"participantCount"`
	CreatedAt            int64             `json:"createdAt"`
	StartedAt            int64             `json:"startedAt,omitempty"`
	PausedAt             int64             `json:"pausedAt,omitempty"`
	CompletedAt          int64             `json:"completedAt,omitempty"`
}

// Participant tracks one player's identity and progress inside a competition.
type Participant struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Email                string            `json:"email,omitempty"`
	Score                int               `json:"score"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Answers              map[string]string `json:"answers"`   // questionID -> optionID
	TimeSpent            map[string]int    `json:"timeSpent"` // questionID -> seconds
	AnswerOrder          []string          `json:"answerOrder"`
	JoinedAt             time.Time         `json:"joinedAt"`
	LastActivity         time.Time         `json:"lastActivity"`
	IsActive             bool              `json:"isActive"`
	CompletedAt          time.Time         `json:"completedAt,omitempty"`
}

// AnsweredCount returns how many distinct questions the participant answered.
func (p *Participant) AnsweredCount() int {
	return len(p.Answers)
}

// LeaderboardEntry is one ranked row of the standings.
type LeaderboardEntry struct {
	Rank              int      `json:"rank"`
	UserID            string   `json:"userId"`
	Name              string   `json:"name"`
	Score             int      `json:"score"`
	AnsweredQuestions int      `json:"answeredQuestions"`
	CorrectAnswers    int      `json:"correctAnswers"`
	AverageTime       float64  `json:"averageTime"`
	Badges            []string `json:"badges,omitempty"`
}

// Leaderboard captures the complete ordered standings for one competition.
// A leaderboard is always replaced wholesale, never patched entry by entry.
type Leaderboard struct {
	CompetitionID string             `json:"competitionId"`
	Entries       []LeaderboardEntry `json:"entries"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Roster is the participant list snapshot pushed to observers.
type Roster struct {
	CompetitionID string        `json:"competitionId"`
	Participants  []Participant `json:"participants"`
	ActiveCount   int           `json:"activeCount"`
}

// ChatMessage is one competition chat entry.
type ChatMessage struct {
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	Message         string    `json:"message"`
	SentAt          time.Time `json:"sentAt"`
}

// CompetitionStats summarizes a competition for the organizer dashboard.
type CompetitionStats struct {
	TotalParticipants  int              `json:"totalParticipants"`
	ActiveParticipants int              `json:"activeParticipants"`
	AverageScore       float64          `json:"averageScore"`
	CompletionRate     float64          `json:"completionRate"`
	State              CompetitionState `json:"state"`
}

// AnswerSubmission models one answer from a participant.
type AnswerSubmission struct {
	QuestionID string
	OptionID   string
	TimeSpent  int // seconds, 0 when the client does not track it
}

// AnswerResult summarizes the outcome of a submission for a single participant.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	TotalScore int    `json:"totalScore"`
	Completed  bool   `json:"completed"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Points      int      `json:"points"` // defaults to 1 if zero
	Explanation string   `json:"explanation,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

// CorrectOptionID returns the id of the correct option, or "" if none is flagged.
func (q Question) CorrectOptionID() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// Quiz is a collection of questions, as handed over by the generation pipeline.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// QuestionByID finds a question in the quiz.
func (q Quiz) QuestionByID(questionID string) (Question, bool) {
	for i := range q.Questions {
		if q.Questions[i].ID == questionID {
			return q.Questions[i], true
		}
	}
	return Question{}, false
}
