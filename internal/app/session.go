package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quizo-live-service/internal/domain"
)

const subscriberBuffer = 8

// fanout broadcasts full snapshots to a set of subscriber channels.
// Slow consumers never block a broadcast: the oldest queued snapshot is
// dropped so the channel always ends with the most recent one.
type fanout[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
}

func newFanout[T any]() *fanout[T] {
	return &fanout[T]{subs: make(map[chan T]struct{})}
}

// subscribe registers a channel primed with the initial snapshot and returns
// it with an idempotent cancel function that releases the underlying watch.
func (f *fanout[T]) subscribe(initial T) (<-chan T, func()) {
	ch, cancel := f.subscribeRaw()
	ch <- initial
	return ch, cancel
}

// subscribeRaw registers a channel without a priming snapshot (chat stream).
func (f *fanout[T]) subscribeRaw() (chan T, func()) {
	ch := make(chan T, subscriberBuffer)

	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

func (f *fanout[T]) publish(snapshot T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

func (f *fanout[T]) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

// StatusGuard is an external compare-and-set on the competition status,
// typically backed by the shared realtime store. A transition that loses the
// race must fail with domain.ErrConcurrentModification, never silently win.
type StatusGuard interface {
	CompareAndSwapStatus(ctx context.Context, competitionID string, from, to domain.CompetitionStatus) error
}

// Session is the live, in-process authority for one competition: its
// lifecycle state, participant registry, leaderboard and subscriber fan-out.
// All fields behind mu; every mutation broadcasts the affected snapshots.
type Session struct {
	competition domain.Competition
	now         func() time.Time

	// answer key, derived once from the quiz this competition is bound to
	questionOrder []string
	answerKey     map[string]string              // questionID -> correct optionID
	points        map[string]int                 // questionID -> points (>= 1)
	choices       map[string]map[string]struct{} // questionID -> valid optionIDs

	mu           sync.Mutex
	state        domain.CompetitionState
	participants map[string]*domain.Participant
	chat         []domain.ChatMessage
	chatCap      int

	stateSubs  *fanout[domain.CompetitionState]
	rosterSubs *fanout[domain.Roster]
	boardSubs  *fanout[domain.Leaderboard]
	chatSubs   *fanout[domain.ChatMessage]
}

// NewSession builds a waiting session for a competition and its quiz.
func NewSession(comp domain.Competition, quiz domain.Quiz) *Session {
	return NewSessionWithClock(comp, quiz, time.Now)
}

// NewSessionWithClock is test-only for deterministic timestamps.
func NewSessionWithClock(comp domain.Competition, quiz domain.Quiz, now func() time.Time) *Session {
	s := &Session{
		competition:  comp,
		now:          now,
		answerKey:    make(map[string]string, len(quiz.Questions)),
		points:       make(map[string]int, len(quiz.Questions)),
		choices:      make(map[string]map[string]struct{}, len(quiz.Questions)),
		participants: make(map[string]*domain.Participant),
		chatCap:      defaultChatCap,
		stateSubs:    newFanout[domain.CompetitionState](),
		rosterSubs:   newFanout[domain.Roster](),
		boardSubs:    newFanout[domain.Leaderboard](),
		chatSubs:     newFanout[domain.ChatMessage](),
	}
	for _, q := range quiz.Questions {
		s.questionOrder = append(s.questionOrder, q.ID)
		s.answerKey[q.ID] = q.CorrectOptionID()
		pts := q.Points
		if pts == 0 {
			pts = 1
		}
		s.points[q.ID] = pts
		opts := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			opts[o.ID] = struct{}{}
		}
		s.choices[q.ID] = opts
	}
	s.state = domain.CompetitionState{
		Status:    domain.StatusWaiting,
		CreatedAt: now().UnixMilli(),
	}
	return s
}

const defaultChatCap = 200

// Restore seeds a freshly revived session with the mirrored lifecycle state
// and roster, so a restarted instance does not reopen a competition that
// already started or ended elsewhere. A session that has progressed past
// waiting or already holds participants is left untouched.
func (s *Session) Restore(state domain.CompetitionState, roster domain.Roster) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != domain.StatusWaiting || len(s.participants) > 0 {
		return
	}

	s.state = state
	for i := range roster.Participants {
		p := roster.Participants[i]
		if p.Answers == nil {
			p.Answers = make(map[string]string)
		}
		if p.TimeSpent == nil {
			p.TimeSpent = make(map[string]int)
		}
		p.Score = s.replayScoreLocked(&p)
		s.participants[p.ID] = &p
	}
	s.state.ParticipantCount = len(s.participants)
}

// Competition returns the immutable identity this session was seeded with.
func (s *Session) Competition() domain.Competition {
	return s.competition
}

// State returns the current lifecycle snapshot.
func (s *Session) State() domain.CompetitionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// --- lifecycle -------------------------------------------------------------

// Start moves the competition from waiting to active at question 0.
func (s *Session) Start(ctx context.Context, guard StatusGuard) error {
	return s.transition(ctx, guard, []domain.CompetitionStatus{domain.StatusWaiting}, domain.StatusActive,
		func(st *domain.CompetitionState) {
			st.StartedAt = s.now().UnixMilli()
			st.CurrentQuestionIndex = 0
		})
}

// Advance moves the broadcast question pointer forward by exactly one.
// Advancing past the last question is an error; the organizer ends instead.
func (s *Session) Advance() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != domain.StatusActive {
		return 0, fmt.Errorf("%w: advance requires active, competition is %s",
			domain.ErrInvalidStateTransition, s.state.Status)
	}
	next := s.state.CurrentQuestionIndex + 1
	if next >= len(s.questionOrder) {
		return 0, domain.ErrIndexOutOfRange
	}
	s.state.CurrentQuestionIndex = next
	s.stateSubs.publish(s.state)
	return next, nil
}

// Pause suspends an active competition without touching the question pointer.
func (s *Session) Pause(ctx context.Context, guard StatusGuard) error {
	return s.transition(ctx, guard, []domain.CompetitionStatus{domain.StatusActive}, domain.StatusPaused,
		func(st *domain.CompetitionState) {
			st.PausedAt = s.now().UnixMilli()
		})
}

// Resume reactivates a paused competition.
func (s *Session) Resume(ctx context.Context, guard StatusGuard) error {
	return s.transition(ctx, guard, []domain.CompetitionStatus{domain.StatusPaused}, domain.StatusActive,
		func(st *domain.CompetitionState) {
			st.PausedAt = 0
		})
}

// End completes the competition and publishes the final leaderboard before
// returning, so observers never see a terminal state with stale standings.
func (s *Session) End(ctx context.Context, guard StatusGuard) error {
	err := s.transition(ctx, guard,
		[]domain.CompetitionStatus{domain.StatusActive, domain.StatusPaused}, domain.StatusCompleted,
		func(st *domain.CompetitionState) {
			st.CompletedAt = s.now().UnixMilli()
		})
	if err != nil {
		return err
	}
	s.mu.Lock()
	lb := s.leaderboardLocked()
	s.mu.Unlock()
	s.boardSubs.publish(lb)
	return nil
}

// transition applies a guarded status change. The status is re-read under
// the lock and validated against the allowed set; a configured guard then
// performs the same compare-and-set against the shared store, so two
// organizer sessions can never both win the same transition.
func (s *Session) transition(ctx context.Context, guard StatusGuard, from []domain.CompetitionStatus, to domain.CompetitionStatus, apply func(*domain.CompetitionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Status
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: cannot move %s -> %s", domain.ErrInvalidStateTransition, cur, to)
	}

	if guard != nil {
		if err := guard.CompareAndSwapStatus(ctx, s.competition.ID, cur, to); err != nil {
			return err
		}
	}

	s.state.Status = to
	apply(&s.state)
	s.stateSubs.publish(s.state)
	return nil
}

// --- participant registry --------------------------------------------------

// JoinIdentity is the externally resolved identity of a joining participant.
type JoinIdentity struct {
	ID    string
	Name  string
	Email string
}

// Join registers a participant, or refreshes one rejoining with the same id.
func (s *Session) Join(identity JoinIdentity) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.state.Status == domain.StatusCompleted {
		return domain.Participant{}, domain.ErrCompetitionClosed
	}

	if p, ok := s.participants[identity.ID]; ok {
		// Rejoin: same record, refreshed liveness. Never a duplicate.
		p.Name = identity.Name
		p.IsActive = true
		p.LastActivity = now
		s.publishRosterLocked()
		return *p, nil
	}

	if s.state.Status != domain.StatusWaiting && !s.competition.Config.AllowLateJoin {
		return domain.Participant{}, domain.ErrLateJoinDisabled
	}
	if limit := s.competition.Config.MaxParticipants; limit > 0 && len(s.participants) >= limit {
		return domain.Participant{}, domain.ErrCompetitionFull
	}

	p := &domain.Participant{
		ID:           identity.ID,
		Name:         identity.Name,
		Email:        identity.Email,
		Answers:      make(map[string]string),
		TimeSpent:    make(map[string]int),
		JoinedAt:     now,
		LastActivity: now,
		IsActive:     true,
	}
	s.participants[identity.ID] = p
	s.state.ParticipantCount = len(s.participants)

	s.publishRosterLocked()
	s.stateSubs.publish(s.state)
	s.boardSubs.publish(s.leaderboardLocked())
	return *p, nil
}

// Leave marks a participant inactive. Answer history is kept so partial
// standings survive a disconnect.
func (s *Session) Leave(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.IsActive = false
	p.LastActivity = s.now()

	s.publishRosterLocked()
	s.boardSubs.publish(s.leaderboardLocked())
	return nil
}

// Heartbeat bumps lastActivity. Purely observational.
func (s *Session) Heartbeat(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.LastActivity = s.now()
	return nil
}

// SweepStale lazily marks participants inactive whose last activity is older
// than window. Returns how many were swept.
func (s *Session) SweepStale(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	swept := 0
	for _, p := range s.participants {
		if p.IsActive && p.LastActivity.Before(cutoff) {
			p.IsActive = false
			swept++
		}
	}
	if swept > 0 {
		s.publishRosterLocked()
	}
	return swept
}

// --- answer intake & scoring -----------------------------------------------

// SubmitAnswer records one answer with overwrite semantics and recomputes the
// participant's score from the full answer map against the answer key. The
// recompute makes retries and answer revisions idempotent: the score always
// reflects exactly the final answer map, never a running increment.
func (s *Session) SubmitAnswer(userID string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != domain.StatusActive {
		return domain.AnswerResult{}, domain.ErrCompetitionNotActive
	}
	p, ok := s.participants[userID]
	if !ok {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	if !p.IsActive {
		return domain.AnswerResult{}, domain.ErrParticipantNotFound
	}
	correctOption, known := s.answerKey[sub.QuestionID]
	if !known {
		return domain.AnswerResult{}, domain.ErrQuestionNotFound
	}
	if opts := s.choices[sub.QuestionID]; len(opts) > 0 {
		if _, ok := opts[sub.OptionID]; !ok {
			return domain.AnswerResult{}, domain.ErrOptionNotFound
		}
	}

	now := s.now()
	if _, answered := p.Answers[sub.QuestionID]; !answered {
		p.AnswerOrder = append(p.AnswerOrder, sub.QuestionID)
	}
	p.Answers[sub.QuestionID] = sub.OptionID
	if sub.TimeSpent > 0 {
		p.TimeSpent[sub.QuestionID] = sub.TimeSpent
	}
	p.Score = s.replayScoreLocked(p)
	p.LastActivity = now

	// Advance the participant's own pointer only when they answered the
	// question it points at; a stale retry cannot skip ahead.
	if idx := s.questionIndex(sub.QuestionID); idx == p.CurrentQuestionIndex {
		p.CurrentQuestionIndex++
	}

	completed := false
	if len(p.Answers) == len(s.questionOrder) {
		completed = true
		if p.CompletedAt.IsZero() {
			p.CompletedAt = now
		}
	}

	s.boardSubs.publish(s.leaderboardLocked())
	s.publishRosterLocked()

	return domain.AnswerResult{
		QuestionID: sub.QuestionID,
		Correct:    sub.OptionID == correctOption,
		TotalScore: p.Score,
		Completed:  completed,
	}, nil
}

// replayScoreLocked derives the score from the answer map and the key.
func (s *Session) replayScoreLocked(p *domain.Participant) int {
	score := 0
	for questionID, optionID := range p.Answers {
		if s.answerKey[questionID] == optionID {
			score += s.points[questionID]
		}
	}
	return score
}

func (s *Session) questionIndex(questionID string) int {
	for i, id := range s.questionOrder {
		if id == questionID {
			return i
		}
	}
	return -1
}

// --- leaderboard -----------------------------------------------------------

// leaderboardLocked recomputes the full standings from the participant set.
// Participants who left keep their partial standing once they have answered;
// active participants always appear. Rank order is deterministic: score
// descending, then earliest join, then id.
func (s *Session) leaderboardLocked() domain.Leaderboard {
	total := len(s.questionOrder)
	entries := make([]domain.LeaderboardEntry, 0, len(s.participants))
	joinOrder := make(map[string]time.Time, len(s.participants))

	for _, p := range s.participants {
		if !p.IsActive && p.AnsweredCount() == 0 {
			continue
		}
		correct := 0
		timeSum := 0
		for questionID, optionID := range p.Answers {
			if s.answerKey[questionID] == optionID {
				correct++
			}
			timeSum += p.TimeSpent[questionID]
		}
		avgTime := 0.0
		if n := p.AnsweredCount(); n > 0 {
			avgTime = float64(timeSum) / float64(n)
		}
		joinOrder[p.ID] = p.JoinedAt
		entries = append(entries, domain.LeaderboardEntry{
			UserID:            p.ID,
			Name:              p.Name,
			Score:             p.Score,
			AnsweredQuestions: p.AnsweredCount(),
			CorrectAnswers:    correct,
			AverageTime:       avgTime,
			Badges:            domain.EarnBadges(p, correct, total),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ji, jj := joinOrder[entries[i].UserID], joinOrder[entries[j].UserID]
		if !ji.Equal(jj) {
			return ji.Before(jj)
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return domain.Leaderboard{
		CompetitionID: s.competition.ID,
		Entries:       entries,
		UpdatedAt:     s.now(),
	}
}

// Leaderboard returns the current standings snapshot.
func (s *Session) Leaderboard() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

func (s *Session) rosterLocked() domain.Roster {
	participants := make([]domain.Participant, 0, len(s.participants))
	active := 0
	for _, p := range s.participants {
		participants = append(participants, *p)
		if p.IsActive {
			active++
		}
	}
	sort.Slice(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].ID < participants[j].ID
	})
	return domain.Roster{
		CompetitionID: s.competition.ID,
		Participants:  participants,
		ActiveCount:   active,
	}
}

func (s *Session) publishRosterLocked() {
	s.rosterSubs.publish(s.rosterLocked())
}

// Roster returns the current participant list snapshot.
func (s *Session) Roster() domain.Roster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

// --- chat ------------------------------------------------------------------

// SendChat appends a message to the bounded chat history and broadcasts it.
func (s *Session) SendChat(userID, message string) (domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return domain.ChatMessage{}, domain.ErrParticipantNotFound
	}
	msg := domain.ChatMessage{
		ParticipantID:   p.ID,
		ParticipantName: p.Name,
		Message:         message,
		SentAt:          s.now(),
	}
	s.chat = append(s.chat, msg)
	if len(s.chat) > s.chatCap {
		s.chat = s.chat[len(s.chat)-s.chatCap:]
	}
	s.chatSubs.publish(msg)
	return msg, nil
}

// ChatHistory returns a copy of the retained chat messages.
func (s *Session) ChatHistory() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.chat))
	copy(out, s.chat)
	return out
}

// --- stats -----------------------------------------------------------------

// Stats summarizes the session for the organizer dashboard.
func (s *Session) Stats() domain.CompetitionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.participants)
	active := 0
	scoreSum := 0
	finished := 0
	for _, p := range s.participants {
		if p.IsActive {
			active++
		}
		scoreSum += p.Score
		if !p.CompletedAt.IsZero() {
			finished++
		}
	}
	stats := domain.CompetitionStats{
		TotalParticipants:  total,
		ActiveParticipants: active,
		State:              s.state,
	}
	if total > 0 {
		stats.AverageScore = float64(scoreSum) / float64(total)
		stats.CompletionRate = float64(finished) / float64(total) * 100
	}
	return stats
}

// --- subscriptions ---------------------------------------------------------

// SubscribeState delivers the full lifecycle snapshot on every change.
// The caller must invoke the returned cancel function to release the watch.
// Registration and the priming snapshot happen under the session lock, so a
// change can never land between the snapshot and the registration: every
// subscriber either is primed with a state or gets it published.
func (s *Session) SubscribeState() (<-chan domain.CompetitionState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateSubs.subscribe(s.state)
}

// SubscribeRoster delivers the full participant roster on every change.
func (s *Session) SubscribeRoster() (<-chan domain.Roster, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterSubs.subscribe(s.rosterLocked())
}

// SubscribeLeaderboard delivers the full standings on every change.
func (s *Session) SubscribeLeaderboard() (<-chan domain.Leaderboard, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardSubs.subscribe(s.leaderboardLocked())
}

// SubscribeChat delivers chat messages as they arrive. History is served
// separately via ChatHistory; the stream carries only new messages.
func (s *Session) SubscribeChat() (<-chan domain.ChatMessage, func()) {
	return s.chatSubs.subscribeRaw()
}

// SubscriberCount reports how many watches are held across all streams.
func (s *Session) SubscriberCount() int {
	return s.stateSubs.count() + s.rosterSubs.count() + s.boardSubs.count() + s.chatSubs.count()
}

// Close releases every subscriber channel; used on competition teardown.
func (s *Session) Close() {
	s.stateSubs.closeAll()
	s.rosterSubs.closeAll()
	s.boardSubs.closeAll()
	s.chatSubs.closeAll()
}
