package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNoBalance is returned when an account holds no balance in a currency.
var ErrNoBalance = errors.New("no balance for currency")

// ChatMessage is one row of chat history.
type ChatMessage struct {
	Author   string
	Body     string
	PostedAt time.Time
}

// Store is the relational-store surface the handlers need. The bus itself
// never touches it; only handler logic does.
type Store interface {
	// Balance returns an account's exact balance in one currency.
	Balance(ctx context.Context, accountID, ticker string) (decimal.Decimal, error)

	// UpsertAccount records an externally-verified identity and returns
	// the local account id. Repeat logins refresh the display name.
	UpsertAccount(ctx context.Context, externalID, name string) (string, error)

	// JoinGame records an account as a player of a game. Idempotent.
	JoinGame(ctx context.Context, accountID, game string) error

	// RecentChat returns up to limit chat messages, newest first.
	RecentChat(ctx context.Context, limit int) ([]ChatMessage, error)

	// SaveChat appends a chat message.
	SaveChat(ctx context.Context, accountID, body string) error
}

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	chat *ChatWriter
}

// NewPostgresStore creates a Store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UseChatWriter routes chat inserts through an async batching writer
// instead of one synchronous insert per message.
func (s *PostgresStore) UseChatWriter(w *ChatWriter) {
	s.chat = w
}

// Balance returns the account's balance in the given currency. The value
// comes back as text so it is never routed through a binary float.
func (s *PostgresStore) Balance(ctx context.Context, accountID, ticker string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM balances WHERE account_id = $1 AND upper(ticker) = upper($2)`,
		accountID, ticker,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrNoBalance
		}
		return decimal.Decimal{}, fmt.Errorf("query balance: %w", err)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse balance %q: %w", raw, err)
	}
	return d, nil
}

// JoinGame records game membership.
func (s *PostgresStore) JoinGame(ctx context.Context, accountID, game string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO game_players (game, account_id, joined_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (game, account_id) DO NOTHING`,
		game, accountID,
	)
	if err != nil {
		return fmt.Errorf("insert game player: %w", err)
	}
	return nil
}

// RecentChat returns recent chat history, newest first.
func (s *PostgresStore) RecentChat(ctx context.Context, limit int) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT author, body, posted_at FROM chat_messages
		 ORDER BY posted_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.Author, &m.Body, &m.PostedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chat: %w", err)
	}
	return out, nil
}

// UpsertAccount records an externally-verified identity.
func (s *PostgresStore) UpsertAccount(ctx context.Context, externalID, name string) (string, error) {
	var accountID string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (external_id, display_name, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (external_id) DO UPDATE SET display_name = EXCLUDED.display_name
		 RETURNING id::text`,
		externalID, name,
	).Scan(&accountID)
	if err != nil {
		return "", fmt.Errorf("upsert account: %w", err)
	}
	return accountID, nil
}

// SaveChat appends a chat message.
func (s *PostgresStore) SaveChat(ctx context.Context, accountID, body string) error {
	if s.chat != nil {
		return s.chat.Add(accountID, body)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (author, body, posted_at) VALUES ($1, $2, now())`,
		accountID, body,
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}
