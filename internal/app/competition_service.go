package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"quizo-live-service/internal/domain"
)

// SessionRepository abstracts how live sessions are stored (in-memory, Redis-backed, etc).
type SessionRepository interface {
	GetOrCreate(comp domain.Competition, quiz domain.Quiz) *Session
	Get(competitionID string) (*Session, bool)
	All() []*Session
	Delete(competitionID string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// CompetitionRepository persists competition identities and share codes.
type CompetitionRepository interface {
	Create(ctx context.Context, comp domain.Competition) error
	Get(ctx context.Context, id string) (domain.Competition, error)
	GetByShareCode(ctx context.Context, code string) (domain.Competition, error)
}

// SnapshotMirror pushes snapshots into the shared realtime store so other
// observers (and other instances) can read them. All methods are best-effort
// from the session's point of view; the in-process state stays authoritative.
type SnapshotMirror interface {
	MirrorState(ctx context.Context, competitionID string, state domain.CompetitionState) error
	MirrorRoster(ctx context.Context, competitionID string, roster domain.Roster) error
	MirrorLeaderboard(ctx context.Context, competitionID string, lb domain.Leaderboard) error
	Remove(ctx context.Context, competitionID string) error
}

// SnapshotSource reads mirrored snapshots back out of the shared store.
// A mirror that also implements it lets a restarted instance revive sessions
// with the status and roster the competition reached elsewhere, instead of
// reopening it in waiting.
type SnapshotSource interface {
	State(ctx context.Context, competitionID string) (domain.CompetitionState, error)
	Roster(ctx context.Context, competitionID string) (domain.Roster, error)
}

// OrganizerControl is the capability surface of the competition's creator.
type OrganizerControl interface {
	CreateCompetition(ctx context.Context, input CreateCompetitionInput) (domain.Competition, error)
	Start(ctx context.Context, competitionID string) error
	Advance(ctx context.Context, competitionID string) (int, error)
	Pause(ctx context.Context, competitionID string) error
	Resume(ctx context.Context, competitionID string) error
	End(ctx context.Context, competitionID string) error
	Delete(ctx context.Context, competitionID string) error
	Stats(ctx context.Context, competitionID string) (domain.CompetitionStats, error)
}

// ParticipantAction is the capability surface of a joined player.
type ParticipantAction interface {
	JoinByCode(ctx context.Context, shareCode string, identity JoinIdentity) (domain.Competition, domain.Participant, error)
	Join(ctx context.Context, competitionID string, identity JoinIdentity) (domain.Participant, error)
	SubmitAnswer(ctx context.Context, competitionID, userID string, sub domain.AnswerSubmission) (domain.AnswerResult, error)
	Heartbeat(ctx context.Context, competitionID, userID string) error
	Leave(ctx context.Context, competitionID, userID string) error
	SendChat(ctx context.Context, competitionID, userID, message string) (domain.ChatMessage, error)
}

var (
	_ OrganizerControl  = (*CompetitionService)(nil)
	_ ParticipantAction = (*CompetitionService)(nil)
)

// CompetitionService wires the live sessions to quiz content, persistence and
// the shared realtime store.
type CompetitionService struct {
	sessions     SessionRepository
	quizzes      QuizRepository
	competitions CompetitionRepository
	guard        StatusGuard
	mirror       SnapshotMirror

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a CompetitionService.
type Option func(*CompetitionService)

// WithStatusGuard installs an external compare-and-set for status transitions.
func WithStatusGuard(g StatusGuard) Option {
	return func(s *CompetitionService) { s.guard = g }
}

// WithSnapshotMirror installs a realtime-store mirror for snapshots.
func WithSnapshotMirror(m SnapshotMirror) Option {
	return func(s *CompetitionService) { s.mirror = m }
}

func NewCompetitionService(sessions SessionRepository, quizzes QuizRepository, competitions CompetitionRepository, opts ...Option) *CompetitionService {
	s := &CompetitionService{
		sessions:     sessions,
		quizzes:      quizzes,
		competitions: competitions,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Competitions exposes the persistence layer for read-only lookups
// (share-code resolution) by the transport.
func (s *CompetitionService) Competitions() CompetitionRepository {
	return s.competitions
}

// CreateCompetitionInput is the organizer's creation request.
type CreateCompetitionInput struct {
	QuizID      string
	CreatorID   string
	Title       string
	Description string
	Config      domain.CompetitionConfig
}

const shareCodeAttempts = 10

// CreateCompetition persists a new waiting competition with a unique share
// code and seeds its live session.
func (s *CompetitionService) CreateCompetition(ctx context.Context, input CreateCompetitionInput) (domain.Competition, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, input.QuizID)
	if err != nil {
		return domain.Competition{}, err
	}

	code, err := s.uniqueShareCode(ctx)
	if err != nil {
		return domain.Competition{}, err
	}

	now := time.Now()
	comp := domain.Competition{
		ID:          s.newCompetitionID(now),
		QuizID:      input.QuizID,
		CreatorID:   input.CreatorID,
		Title:       input.Title,
		Description: input.Description,
		ShareCode:   code,
		Config:      input.Config,
		CreatedAt:   now,
	}
	if err := s.competitions.Create(ctx, comp); err != nil {
		return domain.Competition{}, fmt.Errorf("persist competition: %w", err)
	}

	sess := s.sessions.GetOrCreate(comp, quiz)
	s.mirrorState(ctx, comp.ID, sess.State())
	return comp, nil
}

func (s *CompetitionService) newCompetitionID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("comp_%d_%04d", now.UnixMilli(), s.rnd.Intn(10000))
}

func (s *CompetitionService) uniqueShareCode(ctx context.Context) (string, error) {
	for i := 0; i < shareCodeAttempts; i++ {
		s.mu.Lock()
		code := domain.GenerateShareCode(s.rnd)
		s.mu.Unlock()

		_, err := s.competitions.GetByShareCode(ctx, code)
		if errors.Is(err, domain.ErrShareCodeNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check share code: %w", err)
		}
	}
	return "", fmt.Errorf("could not allocate a unique share code after %d attempts", shareCodeAttempts)
}

// session resolves the live session for a competition, reviving it from the
// competition repository after a restart. When the mirror can be read back,
// the revived session is seeded with the mirrored state and roster so a
// competition that ended elsewhere stays ended here.
func (s *CompetitionService) session(ctx context.Context, competitionID string) (*Session, error) {
	if sess, ok := s.sessions.Get(competitionID); ok {
		return sess, nil
	}
	comp, err := s.competitions.Get(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, comp.QuizID)
	if err != nil {
		return nil, err
	}
	sess := s.sessions.GetOrCreate(comp, quiz)
	if source, ok := s.mirror.(SnapshotSource); ok {
		if state, err := source.State(ctx, competitionID); err == nil {
			roster, rerr := source.Roster(ctx, competitionID)
			if rerr != nil {
				roster = domain.Roster{}
			}
			sess.Restore(state, roster)
		}
	}
	return sess, nil
}

// --- organizer capability --------------------------------------------------

func (s *CompetitionService) Start(ctx context.Context, competitionID string) error {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return err
	}
	if err := sess.Start(ctx, s.guard); err != nil {
		return err
	}
	s.mirrorState(ctx, competitionID, sess.State())
	return nil
}

func (s *CompetitionService) Advance(ctx context.Context, competitionID string) (int, error) {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return 0, err
	}
	next, err := sess.Advance()
	if err != nil {
		return 0, err
	}
	s.mirrorState(ctx, competitionID, sess.State())
	return next, nil
}

func (s *CompetitionService) Pause(ctx context.Context, competitionID string) error {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return err
	}
	if err := sess.Pause(ctx, s.guard); err != nil {
		return err
	}
	s.mirrorState(ctx, competitionID, sess.State())
	return nil
}

func (s *CompetitionService) Resume(ctx context.Context, competitionID string) error {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return err
	}
	if err := sess.Resume(ctx, s.guard); err != nil {
		return err
	}
	s.mirrorState(ctx, competitionID, sess.State())
	return nil
}

func (s *CompetitionService) End(ctx context.Context, competitionID string) error {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return err
	}
	if err := sess.End(ctx, s.guard); err != nil {
		return err
	}
	s.mirrorState(ctx, competitionID, sess.State())
	s.mirrorLeaderboard(ctx, competitionID, sess.Leaderboard())
	return nil
}

// Delete tears down the live session and its mirrored snapshots. The
// persisted competition row is kept for history.
func (s *CompetitionService) Delete(ctx context.Context, competitionID string) error {
	sess, ok := s.sessions.Get(competitionID)
	if !ok {
		return domain.ErrCompetitionNotFound
	}
	sess.Close()
	s.sessions.Delete(competitionID)
	if s.mirror != nil {
		if err := s.mirror.Remove(ctx, competitionID); err != nil {
			log.Printf("remove mirrored snapshots for %s: %v", competitionID, err)
		}
	}
	return nil
}

func (s *CompetitionService) Stats(ctx context.Context, competitionID string) (domain.CompetitionStats, error) {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return domain.CompetitionStats{}, err
	}
	return sess.Stats(), nil
}

// --- participant capability ------------------------------------------------

// JoinByCode resolves a share code and joins the competition behind it.
// Rejections are distinguishable: unknown code, competition not yet open to
// late joiners, or competition already ended.
func (s *CompetitionService) JoinByCode(ctx context.Context, shareCode string, identity JoinIdentity) (domain.Competition, domain.Participant, error) {
	if !domain.ValidShareCode(shareCode) {
		return domain.Competition{}, domain.Participant{}, domain.ErrShareCodeNotFound
	}
	comp, err := s.competitions.GetByShareCode(ctx, shareCode)
	if err != nil {
		return domain.Competition{}, domain.Participant{}, err
	}
	p, err := s.Join(ctx, comp.ID, identity)
	if err != nil {
		return domain.Competition{}, domain.Participant{}, err
	}
	return comp, p, nil
}

func (s *CompetitionService) Join(ctx context.Context, competitionID string, identity JoinIdentity) (domain.Participant, error) {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return domain.Participant{}, err
	}
	p, err := sess.Join(identity)
	if err != nil {
		return domain.Participant{}, err
	}
	s.mirrorState(ctx, competitionID, sess.State())
	s.mirrorRoster(ctx, competitionID, sess.Roster())
	s.mirrorLeaderboard(ctx, competitionID, sess.Leaderboard())
	return p, nil
}

func (s *CompetitionService) SubmitAnswer(ctx context.Context, competitionID, userID string, sub domain.AnswerSubmission) (domain.AnswerResult, error) {
	sess, ok := s.sessions.Get(competitionID)
	if !ok {
		return domain.AnswerResult{}, domain.ErrCompetitionNotFound
	}
	result, err := sess.SubmitAnswer(userID, sub)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	s.mirrorRoster(ctx, competitionID, sess.Roster())
	s.mirrorLeaderboard(ctx, competitionID, sess.Leaderboard())
	return result, nil
}

func (s *CompetitionService) Heartbeat(_ context.Context, competitionID, userID string) error {
	sess, ok := s.sessions.Get(competitionID)
	if !ok {
		return domain.ErrCompetitionNotFound
	}
	return sess.Heartbeat(userID)
}

func (s *CompetitionService) Leave(ctx context.Context, competitionID, userID string) error {
	sess, ok := s.sessions.Get(competitionID)
	if !ok {
		return domain.ErrCompetitionNotFound
	}
	if err := sess.Leave(userID); err != nil {
		return err
	}
	s.mirrorRoster(ctx, competitionID, sess.Roster())
	s.mirrorLeaderboard(ctx, competitionID, sess.Leaderboard())
	return nil
}

func (s *CompetitionService) SendChat(_ context.Context, competitionID, userID, message string) (domain.ChatMessage, error) {
	sess, ok := s.sessions.Get(competitionID)
	if !ok {
		return domain.ChatMessage{}, domain.ErrCompetitionNotFound
	}
	return sess.SendChat(userID, message)
}

// --- subscriptions ---------------------------------------------------------

// SubscribeState returns a channel of lifecycle snapshots for a competition.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *CompetitionService) SubscribeState(ctx context.Context, competitionID string) (<-chan domain.CompetitionState, func(), error) {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.SubscribeState()
	return ch, cancel, nil
}

// SubscribeRoster returns a channel of roster snapshots for a competition.
func (s *CompetitionService) SubscribeRoster(ctx context.Context, competitionID string) (<-chan domain.Roster, func(), error) {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.SubscribeRoster()
	return ch, cancel, nil
}

// SubscribeLeaderboard returns a channel of standings snapshots for a competition.
func (s *CompetitionService) SubscribeLeaderboard(ctx context.Context, competitionID string) (<-chan domain.Leaderboard, func(), error) {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.SubscribeLeaderboard()
	return ch, cancel, nil
}

// SubscribeChat returns a channel of new chat messages for a competition.
func (s *CompetitionService) SubscribeChat(ctx context.Context, competitionID string) (<-chan domain.ChatMessage, func(), error) {
	sess, err := s.session(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := sess.SubscribeChat()
	return ch, cancel, nil
}

// SweepStale marks stalled participants inactive across all live sessions.
// Driven by the server loop, not by the core.
func (s *CompetitionService) SweepStale(ctx context.Context, window time.Duration) int {
	total := 0
	for _, sess := range s.sessions.All() {
		if n := sess.SweepStale(window); n > 0 {
			total += n
			s.mirrorRoster(ctx, sess.Competition().ID, sess.Roster())
		}
	}
	return total
}

// --- mirror helpers --------------------------------------------------------

func (s *CompetitionService) mirrorState(ctx context.Context, competitionID string, state domain.CompetitionState) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.MirrorState(ctx, competitionID, state); err != nil {
		log.Printf("mirror state for %s: %v", competitionID, err)
	}
}

func (s *CompetitionService) mirrorRoster(ctx context.Context, competitionID string, roster domain.Roster) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.MirrorRoster(ctx, competitionID, roster); err != nil {
		log.Printf("mirror roster for %s: %v", competitionID, err)
	}
}

// mirrorLeaderboard retries once: the write is a full-snapshot replace, so a
// second attempt after a transient failure cannot corrupt the standings.
func (s *CompetitionService) mirrorLeaderboard(ctx context.Context, competitionID string, lb domain.Leaderboard) {
	if s.mirror == nil {
		return
	}
	err := s.mirror.MirrorLeaderboard(ctx, competitionID, lb)
	if err != nil {
		err = s.mirror.MirrorLeaderboard(ctx, competitionID, lb)
	}
	if err != nil {
		log.Printf("mirror leaderboard for %s: %v", competitionID, err)
	}
}
