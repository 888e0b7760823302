package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the shared store cannot be reached.
// Callers treat it as a "try again" signal and usually drop the frame.
var ErrUnavailable = errors.New("session store unavailable")

// ErrNotFound is returned by Claim when the session no longer exists
// (expired or never issued). The session stays anonymous.
var ErrNotFound = errors.New("session not found")

// claimScript atomically promotes an anonymous session to an account.
// The EXISTS check and the writes run as one unit: a claim racing a TTL
// expiry either fully succeeds (account set, TTL cleared, account mapping
// overwritten) or reports not-found.
const claimScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("PERSIST", KEYS[1])
redis.call("HSET", KEYS[2], "sid", ARGV[2])
if ARGV[3] ~= "" then
  redis.call("HSET", KEYS[2], "name", ARGV[3])
end
return 1
`

var claimLua = redis.NewScript(claimScript)

// logoutScript deletes a session and, when the account mapping still points
// at this session id, the mapping as well. A stale mapping left by a later
// login on another session is preserved.
const logoutScript = `
local account = redis.call("GET", KEYS[1])
redis.call("DEL", KEYS[1])
if account and account ~= "" then
  local account_key = ARGV[2] .. account
  local current = redis.call("HGET", account_key, "sid")
  if current == ARGV[1] then
    redis.call("HDEL", account_key, "sid")
  end
end
return 1
`

var logoutLua = redis.NewScript(logoutScript)

// Store is a Redis-backed session store shared by all gateway instances.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	tokenBytes int
	anonTTL    time.Duration
	logger     *slog.Logger
}

// Config configures a session Store.
type Config struct {
	Prefix       string        // Redis key namespace
	TokenBytes   int           // Entropy per session id (>= 16)
	AnonymousTTL time.Duration // Expiry window for unclaimed sessions
}

// NewStore creates a session Store backed by the given Redis client.
func NewStore(rdb redis.UniversalClient, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		redis:      rdb,
		prefix:     cfg.Prefix,
		tokenBytes: cfg.TokenBytes,
		anonTTL:    cfg.AnonymousTTL,
		logger:     logger,
	}
}

func (s *Store) key(sid string) string {
	return s.prefix + ":s:" + sid
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

func (s *Store) accountPrefix() string {
	return s.prefix + ":a:"
}

// Create generates a cryptographically random session id, registers it as
// anonymous with the default TTL, and returns it.
func (s *Store) Create(ctx context.Context) (string, error) {
	// Collisions are astronomically unlikely at >= 16 bytes of entropy,
	// but SET NX keeps the uniqueness invariant exact.
	for attempt := 0; attempt < 3; attempt++ {
		buf := make([]byte, s.tokenBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		sid := base64.StdEncoding.EncodeToString(buf)

		ok, err := s.redis.SetNX(ctx, s.key(sid), "", s.anonTTL).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ok {
			return sid, nil
		}
	}
	return "", errors.New("session id collision")
}

// Get returns the account id associated with a session. ok is false when
// the session is unknown or expired; an anonymous session returns ok with
// an empty account id. A missing key is never an error.
func (s *Store) Get(ctx context.Context, sid string) (accountID string, ok bool, err error) {
	val, err := s.redis.Get(ctx, s.key(sid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, true, nil
}

// Exists reports whether a session is currently live. This is the sole
// authorization gate before dispatching any inbound event.
func (s *Store) Exists(ctx context.Context, sid string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(sid)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// Claim atomically associates an account with a session and clears its TTL.
// Any prior account→session mapping for that account is overwritten (last
// login wins). Returns ErrNotFound when the session has already expired.
func (s *Store) Claim(ctx context.Context, sid, accountID string) error {
	return s.claim(ctx, sid, accountID, "")
}

// Login claims a session for an account and records its display name.
// This is the entry point the identity provider calls after verifying
// external credentials.
func (s *Store) Login(ctx context.Context, sid, accountID, displayName string) error {
	return s.claim(ctx, sid, accountID, displayName)
}

func (s *Store) claim(ctx context.Context, sid, accountID, displayName string) error {
	keys := []string{s.key(sid), s.accountKey(accountID)}
	res, err := claimLua.Run(ctx, s.redis, keys, accountID, sid, displayName).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res == 0 {
		return ErrNotFound
	}
	return nil
}

// Expire (re)sets a time-to-live on a session, bounding anonymous sessions.
func (s *Store) Expire(ctx context.Context, sid string, ttl time.Duration) error {
	if err := s.redis.Expire(ctx, s.key(sid), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SessionForAccount returns the account's current session id. ok is false
// when the account has no recorded session.
func (s *Store) SessionForAccount(ctx context.Context, accountID string) (sid string, ok bool, err error) {
	val, err := s.redis.HGet(ctx, s.accountKey(accountID), "sid").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, true, nil
}

// Attr returns a display attribute stored on the account hash.
func (s *Store) Attr(ctx context.Context, accountID, field string) (string, bool, error) {
	val, err := s.redis.HGet(ctx, s.accountKey(accountID), field).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, true, nil
}

// SetAttr stores a display attribute on the account hash.
func (s *Store) SetAttr(ctx context.Context, accountID, field, value string) error {
	if err := s.redis.HSet(ctx, s.accountKey(accountID), field, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Logout destroys a session. The account mapping is removed only when it
// still points at this session id; a newer login elsewhere keeps its own.
// Idempotent: logging out an unknown session is a no-op.
func (s *Store) Logout(ctx context.Context, sid string) error {
	keys := []string{s.key(sid)}
	if err := logoutLua.Run(ctx, s.redis, keys, sid, s.accountPrefix()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
