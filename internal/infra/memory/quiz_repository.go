package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quizo-live-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuizLoader fetches quiz content from a backing store (e.g., document DB).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches quizzes with a TTL and a size bound to avoid repeated
// backing-store hits. The generation pipeline can hand over large question
// sets, so the cache evicts expired entries first and the oldest entry when
// still over capacity.
type QuizRepository struct {
	loader     QuizLoader
	ttl        time.Duration
	maxEntries int
	clock      func() time.Time
	sf         singleflight.Group
	rnd        *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	storedAt  time.Time
	expiresAt time.Time
}

const defaultMaxCachedQuizzes = 256

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader:     loader,
		ttl:        ttl,
		maxEntries: defaultMaxCachedQuizzes,
		clock:      time.Now,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:      make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[quizID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[quizID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			storedAt:  now,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.evictLocked(now)
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// evictLocked drops expired entries, then the oldest until under the bound.
func (r *QuizRepository) evictLocked(now time.Time) {
	if len(r.cache) <= r.maxEntries {
		return
	}
	for id, entry := range r.cache {
		if !entry.expiresAt.After(now) {
			delete(r.cache, id)
		}
	}
	for len(r.cache) > r.maxEntries {
		oldestID := ""
		var oldest time.Time
		for id, entry := range r.cache {
			if oldestID == "" || entry.storedAt.Before(oldest) {
				oldestID = id
				oldest = entry.storedAt
			}
		}
		delete(r.cache, oldestID)
	}
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}
