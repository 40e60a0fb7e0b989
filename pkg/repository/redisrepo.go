package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
)

// RedisRepo implements ConversationRepository and UserRepository against a
// single Redis instance: messages as a per-conversation list, users as
// hashes indexed by a "users" set.
type RedisRepo struct {
	client *redis.Client
}

// NewRedisRepo wraps an existing client. Callers own the client's lifecycle
// (Close).
func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("conv:%s:messages", conversationID)
}

func userKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

const usersIndexKey = "users:index"

// Persist appends message to its conversation's list. Callers (the worker
// pool) are responsible for not overlapping two persists for the same
// conversation id, per §5's ordering guarantee; this method does not itself
// serialise concurrent calls.
func (r *RedisRepo) Persist(ctx context.Context, message gwtypes.Message) error {
	message.Content = gwtypes.TruncateContent(message.Content)
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return r.client.RPush(ctx, conversationKey(message.ConversationID), data).Err()
}

// LoadRecent returns the last limit messages for conversationID, oldest
// first.
func (r *RedisRepo) LoadRecent(ctx context.Context, conversationID string, limit int) ([]gwtypes.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := r.client.LRange(ctx, conversationKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]gwtypes.Message, 0, len(raw))
	for _, item := range raw {
		var m gwtypes.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteConversation removes all persisted messages for conversationID.
func (r *RedisRepo) DeleteConversation(ctx context.Context, conversationID string) error {
	return r.client.Del(ctx, conversationKey(conversationID)).Err()
}

// redisUserState mirrors gwtypes.UserState with field types the Redis hash
// commands accept directly.
type redisUserState struct {
	WeeklyTokenBudget   int64  `redis:"weekly_token_budget"`
	BonusTokens         int64  `redis:"bonus_tokens"`
	ConsumedThisWeek    int64  `redis:"consumed_this_week"`
	WeekStartUnix       int64  `redis:"week_start_unix"`
	PreferredModel      string `redis:"preferred_model"`
	TemperatureOverride string `redis:"temperature_override"` // empty = unset
	ThinkingOverride    string `redis:"thinking_override"`    // "", "true", "false"
}

// LoadUser loads user's budget state, returning a zero-value UserState with
// the requested id when absent (new users start with defaults).
func (r *RedisRepo) LoadUser(ctx context.Context, userID string) (gwtypes.UserState, error) {
	vals, err := r.client.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return gwtypes.UserState{}, err
	}
	if len(vals) == 0 {
		return gwtypes.UserState{UserID: userID}, nil
	}

	state := gwtypes.UserState{UserID: userID, PreferredModel: vals["preferred_model"]}
	state.WeeklyTokenBudget, _ = strconv.ParseInt(vals["weekly_token_budget"], 10, 64)
	state.BonusTokens, _ = strconv.ParseInt(vals["bonus_tokens"], 10, 64)
	state.ConsumedThisWeek, _ = strconv.ParseInt(vals["consumed_this_week"], 10, 64)
	if weekStartUnix, ok := vals["week_start_unix"]; ok && weekStartUnix != "" {
		if sec, perr := strconv.ParseInt(weekStartUnix, 10, 64); perr == nil {
			state.WeekStart = time.Unix(sec, 0).UTC()
		}
	}
	if raw, ok := vals["temperature_override"]; ok && raw != "" {
		if f, perr := strconv.ParseFloat(raw, 64); perr == nil {
			state.TemperatureOverride = &f
		}
	}
	if raw, ok := vals["thinking_override"]; ok && raw != "" {
		b := raw == "true"
		state.ThinkingOverride = &b
	}
	return state, nil
}

// SaveUser writes user's full state and registers it in the users index.
func (r *RedisRepo) SaveUser(ctx context.Context, user gwtypes.UserState) error {
	fields := map[string]interface{}{
		"weekly_token_budget": user.WeeklyTokenBudget,
		"bonus_tokens":        user.BonusTokens,
		"consumed_this_week":  user.ConsumedThisWeek,
		"week_start_unix":     user.WeekStart.Unix(),
		"preferred_model":     user.PreferredModel,
	}
	if user.TemperatureOverride != nil {
		fields["temperature_override"] = strconv.FormatFloat(*user.TemperatureOverride, 'f', -1, 64)
	}
	if user.ThinkingOverride != nil {
		fields["thinking_override"] = strconv.FormatBool(*user.ThinkingOverride)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, userKey(user.UserID), fields)
	pipe.SAdd(ctx, usersIndexKey, user.UserID)
	_, err := pipe.Exec(ctx)
	return err
}

// ListUserIDs returns every user id ever saved, for the accountant's weekly
// sweep.
func (r *RedisRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, usersIndexKey).Result()
}
