package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coinbridge/realtime/internal/bus"
	"github.com/coinbridge/realtime/internal/money"
	"github.com/coinbridge/realtime/internal/registry"
)

const chatHistoryLimit = 50

// Handlers holds the built-in event handlers and their collaborators.
type Handlers struct {
	bus    *bus.Bus
	store  Store
	table  *money.Table
	logger *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(b *bus.Bus, store Store, table *money.Table, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		bus:    b,
		store:  store,
		table:  table,
		logger: logger,
	}
}

// Register wires every built-in event name onto the bus. Called once at
// startup.
func (h *Handlers) Register() {
	h.bus.Handle("get-balance", h.getBalance)
	h.bus.Handle("join-game", h.joinGame)
	h.bus.Handle("userlist", h.userlist)
	h.bus.Handle("populate-chatbox", h.populateChatbox)
	h.bus.Handle("chat", h.chat)
}

// account resolves the sending session to a claimed account id. Anonymous
// sessions get ("", false).
func (h *Handlers) account(ctx context.Context, sid string) (string, bool) {
	accountID, ok, err := h.bus.Sessions().Get(ctx, sid)
	if err != nil {
		h.logger.Warn("account lookup failed", "error", err)
		return "", false
	}
	return accountID, ok && accountID != ""
}

// getBalance answers a balance query in the requested currency. The reply
// goes through decimal mode so the amount is rendered at the currency's
// scale, never as a binary float.
func (h *Handlers) getBalance(ctx context.Context, conn registry.Conn, data bus.Payload) {
	sid := data.SID()
	ticker, _ := data["ticker"].(string)

	// A display name is accepted in place of a ticker.
	if ticker == "" {
		if name, ok := data["currency"].(string); ok {
			resolved, found := h.table.Convert(name, money.FieldName, money.FieldTicker)
			if !found {
				h.bus.Emit(ctx, conn, "balance-response", bus.Payload{
					"sid": sid, "success": false,
				}, bus.EmitOptions{})
				return
			}
			ticker = resolved
		}
	}

	accountID, ok := h.account(ctx, sid)
	if !ok || ticker == "" {
		h.bus.Emit(ctx, conn, "balance-response", bus.Payload{
			"sid": sid, "success": false,
		}, bus.EmitOptions{})
		return
	}

	balance, err := h.store.Balance(ctx, accountID, ticker)
	if err != nil {
		if !errors.Is(err, ErrNoBalance) {
			h.logger.Warn("balance query failed", "ticker", ticker, "error", err)
		}
		h.bus.Emit(ctx, conn, "balance-response", bus.Payload{
			"sid": sid, "success": false, "ticker": ticker,
		}, bus.EmitOptions{})
		return
	}

	h.bus.Emit(ctx, conn, "balance-response", bus.Payload{
		"sid":     sid,
		"success": true,
		"ticker":  ticker,
		"balance": balance,
	}, bus.EmitOptions{DecimalMode: true})
}

// joinGame records membership and announces the new player to everyone.
func (h *Handlers) joinGame(ctx context.Context, conn registry.Conn, data bus.Payload) {
	sid := data.SID()
	game, _ := data["game"].(string)

	accountID, ok := h.account(ctx, sid)
	if !ok || game == "" {
		h.bus.Emit(ctx, conn, "join-game-response", bus.Payload{
			"sid": sid, "success": false,
		}, bus.EmitOptions{})
		return
	}

	if err := h.store.JoinGame(ctx, accountID, game); err != nil {
		h.logger.Warn("join game failed", "game", game, "error", err)
		h.bus.Emit(ctx, conn, "join-game-response", bus.Payload{
			"sid": sid, "success": false,
		}, bus.EmitOptions{})
		return
	}

	name := h.displayName(ctx, accountID)

	h.bus.Emit(ctx, conn, "join-game-response", bus.Payload{
		"sid": sid, "success": true, "game": game,
	}, bus.EmitOptions{})

	h.bus.Emit(ctx, conn, "player-joined", bus.Payload{
		"sid":    sid,
		"game":   game,
		"player": name,
	}, bus.EmitOptions{Broadcast: true})
}

// userlist reports the display names of every authenticated session with a
// live connection.
func (h *Handlers) userlist(ctx context.Context, conn registry.Conn, data bus.Payload) {
	sid := data.SID()

	seen := make(map[string]struct{})
	var names []string
	for _, c := range h.bus.Registry().All() {
		accountID, ok := h.account(ctx, c.SessionID())
		if !ok {
			continue
		}
		if _, dup := seen[accountID]; dup {
			continue
		}
		seen[accountID] = struct{}{}
		names = append(names, h.displayName(ctx, accountID))
	}

	h.bus.Emit(ctx, conn, "user-listing", bus.Payload{
		"sid":      sid,
		"success":  true,
		"userlist": names,
	}, bus.EmitOptions{})
}

// populateChatbox replays recent chat history to the caller.
func (h *Handlers) populateChatbox(ctx context.Context, conn registry.Conn, data bus.Payload) {
	sid := data.SID()

	history, err := h.store.RecentChat(ctx, chatHistoryLimit)
	if err != nil {
		h.logger.Warn("chat history query failed", "error", err)
		h.bus.Emit(ctx, conn, "chatbox", bus.Payload{
			"sid": sid, "success": false,
		}, bus.EmitOptions{})
		return
	}

	messages := make([]any, 0, len(history))
	for _, m := range history {
		messages = append(messages, bus.Payload{
			"author": m.Author,
			"body":   m.Body,
			"at":     m.PostedAt,
		})
	}

	h.bus.Emit(ctx, conn, "chatbox", bus.Payload{
		"sid":      sid,
		"success":  true,
		"messages": messages,
	}, bus.EmitOptions{DecimalMode: true})
}

// chat stores a message and broadcasts it to everyone connected.
func (h *Handlers) chat(ctx context.Context, conn registry.Conn, data bus.Payload) {
	sid := data.SID()
	body, _ := data["body"].(string)

	accountID, ok := h.account(ctx, sid)
	if !ok || body == "" {
		return
	}

	if err := h.store.SaveChat(ctx, accountID, body); err != nil {
		h.logger.Warn("chat save failed", "error", err)
		return
	}

	h.bus.Emit(ctx, conn, "chat-message", bus.Payload{
		"sid":    sid,
		"player": h.displayName(ctx, accountID),
		"body":   body,
	}, bus.EmitOptions{Broadcast: true})
}

// Login claims a session for a verified identity. This is the entry point
// the identity provider calls after external credentials check out; the
// session id is retained so in-flight socket state survives the promotion.
func (h *Handlers) Login(ctx context.Context, sid, accountID, displayName string) error {
	if err := h.bus.Sessions().Login(ctx, sid, accountID, displayName); err != nil {
		for _, c := range h.bus.Registry().ForSession(sid) {
			h.bus.Emit(ctx, c, "login-response", bus.Payload{
				"sid": sid, "success": false,
			}, bus.EmitOptions{})
		}
		return err
	}

	for _, c := range h.bus.Registry().ForSession(sid) {
		h.bus.Emit(ctx, c, "login-response", bus.Payload{
			"sid":        sid,
			"success":    true,
			"account_id": accountID,
			"username":   displayName,
		}, bus.EmitOptions{})
	}
	return nil
}

// Logout destroys a session and closes its live connections.
func (h *Handlers) Logout(ctx context.Context, sid string) error {
	if err := h.bus.Sessions().Logout(ctx, sid); err != nil {
		return err
	}
	for _, c := range h.bus.Registry().ForSession(sid) {
		h.bus.ConnClosed(c)
		c.Close()
	}
	return nil
}

func (h *Handlers) displayName(ctx context.Context, accountID string) string {
	name, ok, err := h.bus.Sessions().Attr(ctx, accountID, "name")
	if err != nil || !ok {
		return accountID
	}
	return name
}
