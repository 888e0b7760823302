// sockettest connects to a running gateway, sends events from the command
// line, and prints every envelope the server pushes back.
// Usage: go run ./cmd/sockettest --url ws://localhost:5000/bet --send '{"name":"userlist"}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	wsURL := flag.String("url", "ws://localhost:5000/bet", "gateway WebSocket URL")
	sid := flag.String("sid", "", "session id to present (empty for a fresh session)")
	send := flag.String("send", "", "JSON envelope to send after connecting")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	dialURL := *wsURL
	if *sid != "" {
		dialURL += "?sid=" + *sid
	}

	logger.Info("connecting", "url", dialURL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		logger.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	logger.Info("connected")

	if *send != "" {
		var envelope map[string]any
		if err := json.Unmarshal([]byte(*send), &envelope); err != nil {
			logger.Error("--send is not valid JSON", "error", err)
			os.Exit(1)
		}
		if err := conn.WriteJSON(envelope); err != nil {
			logger.Error("send failed", "error", err)
			os.Exit(1)
		}
		logger.Info("sent", "envelope", *send)
	}

	// Reader goroutine prints everything the server pushes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				logger.Info("connection closed", "error", err)
				return
			}

			if *verbose {
				var pretty map[string]any
				if json.Unmarshal(raw, &pretty) == nil {
					data, _ := json.MarshalIndent(pretty, "", "  ")
					fmt.Printf("[RECV] %s\n", data)
					continue
				}
			}
			fmt.Printf("[RECV] %s\n", raw)
		}
	}()

	logger.Info("listening - press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case <-done:
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	logger.Info("shutdown complete")
}
