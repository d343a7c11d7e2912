package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inboxpilot/provisioner/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "provisioner:oauth_state:"

// StateStore implements domain.OAuthStateStore on Redis. Integration tokens
// and workflow records stay in the primary store.
type StateStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

type Opts struct {
	URL       string
	KeyPrefix string
	// TTL of zero keeps states until they are consumed.
	TTL time.Duration
}

type stateValue struct {
	UserID     string    `json:"user_id"`
	TemplateID string    `json:"template_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func New(ctx context.Context, opts Opts) (*StateStore, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, opts), nil
}

func NewWithClient(client *redis.Client, opts Opts) *StateStore {
	keyPrefix := opts.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &StateStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       opts.TTL,
	}
}

func (s *StateStore) Close() error {
	return s.client.Close()
}

func (s *StateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *StateStore) key(state string) string {
	return s.keyPrefix + state
}

func (s *StateStore) CreateOAuthState(ctx context.Context, state domain.OAuthState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(stateValue{
		UserID:     state.UserID,
		TemplateID: state.TemplateID,
		CreatedAt:  state.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal oauth state: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(state.State), value, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}

	if !ok {
		return domain.ErrOAuthStateExists
	}

	return nil
}

// ConsumeOAuthState relies on GETDEL, which Redis executes atomically.
func (s *StateStore) ConsumeOAuthState(ctx context.Context, state string) (domain.OAuthState, error) {
	raw, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OAuthState{}, domain.ErrOAuthStateNotFound
		}
		return domain.OAuthState{}, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	var value stateValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return domain.OAuthState{}, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}

	return domain.OAuthState{
		State:      state,
		UserID:     value.UserID,
		TemplateID: value.TemplateID,
		CreatedAt:  value.CreatedAt,
	}, nil
}
