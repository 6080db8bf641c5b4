package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quizo-live-service/internal/app"
	"quizo-live-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// CompetitionStore mirrors competition snapshots into Redis and guards
// status transitions with a compare-and-set. Keys per competition:
//
//	competition:{id}:status       current lifecycle status (CAS target)
//	competition:{id}:state        JSON CompetitionState
//	competition:{id}:participants JSON Roster
//	competition:{id}:leaderboard  JSON Leaderboard
//
// Each snapshot write publishes the changed path on
// competition:{id}:events so sibling instances can re-read.
type CompetitionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var (
	_ app.StatusGuard    = (*CompetitionStore)(nil)
	_ app.SnapshotMirror = (*CompetitionStore)(nil)
	_ app.SnapshotSource = (*CompetitionStore)(nil)
)

// casStatus sets the status only if the stored value still matches the
// expected one; an absent key counts as "waiting".
var casStatus = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == false then cur = 'waiting' end
if cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
if tonumber(ARGV[3]) > 0 then redis.call('EXPIRE', KEYS[1], ARGV[3]) end
return 1
`)

func NewCompetitionStore(client *redis.Client, ttl time.Duration) *CompetitionStore {
	return &CompetitionStore{client: client, ttl: ttl}
}

// CompareAndSwapStatus implements app.StatusGuard. Losing the race surfaces
// domain.ErrConcurrentModification to the caller; it is never retried here.
func (s *CompetitionStore) CompareAndSwapStatus(ctx context.Context, competitionID string, from, to domain.CompetitionStatus) error {
	res, err := casStatus.Run(ctx, s.client,
		[]string{s.key(competitionID, "status")},
		string(from), string(to), int(s.ttl.Seconds()),
	).Int()
	if err != nil {
		return fmt.Errorf("cas status: %w", err)
	}
	if res != 1 {
		return domain.ErrConcurrentModification
	}
	return nil
}

// Status reads the mirrored status; absent means waiting.
func (s *CompetitionStore) Status(ctx context.Context, competitionID string) (domain.CompetitionStatus, error) {
	val, err := s.client.Get(ctx, s.key(competitionID, "status")).Result()
	if err == redis.Nil {
		return domain.StatusWaiting, nil
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return domain.CompetitionStatus(val), nil
}

func (s *CompetitionStore) MirrorState(ctx context.Context, competitionID string, state domain.CompetitionState) error {
	return s.writeSnapshot(ctx, competitionID, "state", state)
}

func (s *CompetitionStore) MirrorRoster(ctx context.Context, competitionID string, roster domain.Roster) error {
	return s.writeSnapshot(ctx, competitionID, "participants", roster)
}

func (s *CompetitionStore) MirrorLeaderboard(ctx context.Context, competitionID string, lb domain.Leaderboard) error {
	return s.writeSnapshot(ctx, competitionID, "leaderboard", lb)
}

func (s *CompetitionStore) writeSnapshot(ctx context.Context, competitionID, path string, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal %s snapshot: %w", path, err)
	}
	key := s.key(competitionID, path)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.Publish(ctx, s.key(competitionID, "events"), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write %s snapshot: %w", path, err)
	}
	return nil
}

// State reads back the mirrored lifecycle snapshot.
func (s *CompetitionStore) State(ctx context.Context, competitionID string) (domain.CompetitionState, error) {
	var state domain.CompetitionState
	if err := s.readSnapshot(ctx, competitionID, "state", &state); err != nil {
		return domain.CompetitionState{}, err
	}
	return state, nil
}

// Roster reads back the mirrored participant roster.
func (s *CompetitionStore) Roster(ctx context.Context, competitionID string) (domain.Roster, error) {
	var roster domain.Roster
	if err := s.readSnapshot(ctx, competitionID, "participants", &roster); err != nil {
		return domain.Roster{}, err
	}
	return roster, nil
}

// Leaderboard reads back the mirrored standings.
func (s *CompetitionStore) Leaderboard(ctx context.Context, competitionID string) (domain.Leaderboard, error) {
	var lb domain.Leaderboard
	if err := s.readSnapshot(ctx, competitionID, "leaderboard", &lb); err != nil {
		return domain.Leaderboard{}, err
	}
	return lb, nil
}

func (s *CompetitionStore) readSnapshot(ctx context.Context, competitionID, path string, out any) error {
	data, err := s.client.Get(ctx, s.key(competitionID, path)).Bytes()
	if err == redis.Nil {
		return domain.ErrCompetitionNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s snapshot: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s snapshot: %w", path, err)
	}
	return nil
}

// Remove clears every mirrored key for a competition.
func (s *CompetitionStore) Remove(ctx context.Context, competitionID string) error {
	keys := []string{
		s.key(competitionID, "status"),
		s.key(competitionID, "state"),
		s.key(competitionID, "participants"),
		s.key(competitionID, "leaderboard"),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("remove snapshots: %w", err)
	}
	return nil
}

func (s *CompetitionStore) key(competitionID, path string) string {
	return "competition:" + competitionID + ":" + path
}
