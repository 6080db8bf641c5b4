package redis

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"quizo-live-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizLoader fetches quiz content from a backing store (e.g., document DB).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches the scoring view of a quiz in Redis and falls back to
// a loader on cache miss. The cached form keeps only what the live session
// needs: question order, answer key, points and the valid option ids.
//
//	RPUSH quiz:{quizID}:order   {questionID}...
//	HSET  quiz:{quizID}:answers {questionID} {optionID}
//	HSET  quiz:{quizID}:points  {questionID} {points}
//	HSET  quiz:{quizID}:options {questionID} {optionID,optionID,...}
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.fromCache(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.fromCache(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		pipe.Del(ctx, r.orderKey(quizID))
		for _, q := range quiz.Questions {
			points := q.Points
			if points == 0 {
				points = 1
			}
			optionIDs := make([]string, 0, len(q.Options))
			for _, o := range q.Options {
				optionIDs = append(optionIDs, o.ID)
			}
			pipe.RPush(ctx, r.orderKey(quizID), q.ID)
			pipe.HSet(ctx, r.answersKey(quizID), q.ID, q.CorrectOptionID())
			pipe.HSet(ctx, r.pointsKey(quizID), q.ID, points)
			pipe.HSet(ctx, r.optionsKey(quizID), q.ID, strings.Join(optionIDs, ","))
		}
		if ttl > 0 {
			pipe.Expire(ctx, r.orderKey(quizID), ttl)
			pipe.Expire(ctx, r.answersKey(quizID), ttl)
			pipe.Expire(ctx, r.pointsKey(quizID), ttl)
			pipe.Expire(ctx, r.optionsKey(quizID), ttl)
		}
		_, _ = pipe.Exec(ctx)

		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *QuizRepository) fromCache(ctx context.Context, quizID string) (domain.Quiz, bool) {
	order, err := r.client.LRange(ctx, r.orderKey(quizID), 0, -1).Result()
	if err != nil || len(order) == 0 {
		return domain.Quiz{}, false
	}
	answers, err := r.client.HGetAll(ctx, r.answersKey(quizID)).Result()
	if err != nil || len(answers) == 0 {
		return domain.Quiz{}, false
	}
	pointsMap, _ := r.client.HGetAll(ctx, r.pointsKey(quizID)).Result()
	optionsMap, _ := r.client.HGetAll(ctx, r.optionsKey(quizID)).Result()
	return buildQuizFromCache(quizID, order, answers, pointsMap, optionsMap), true
}

func (r *QuizRepository) orderKey(quizID string) string {
	return "quiz:" + quizID + ":order"
}

func (r *QuizRepository) answersKey(quizID string) string {
	return "quiz:" + quizID + ":answers"
}

func (r *QuizRepository) pointsKey(quizID string) string {
	return "quiz:" + quizID + ":points"
}

func (r *QuizRepository) optionsKey(quizID string) string {
	return "quiz:" + quizID + ":options"
}

func buildQuizFromCache(quizID string, order []string, answers, pointsMap, optionsMap map[string]string) domain.Quiz {
	questions := make([]domain.Question, 0, len(order))
	for _, questionID := range order {
		points := 1
		if pStr, ok := pointsMap[questionID]; ok {
			if p, err := strconv.Atoi(pStr); err == nil && p > 0 {
				points = p
			}
		}
		correct := answers[questionID]
		var options []domain.Option
		if joined, ok := optionsMap[questionID]; ok && joined != "" {
			for _, id := range strings.Split(joined, ",") {
				options = append(options, domain.Option{ID: id, Correct: id == correct})
			}
		} else {
			options = []domain.Option{{ID: correct, Correct: true}}
		}
		questions = append(questions, domain.Question{
			ID:      questionID,
			Options: options,
			Points:  points,
		})
	}
	return domain.Quiz{ID: quizID, Questions: questions}
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
