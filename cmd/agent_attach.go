package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
	"github.com/Leavesfly/TinyClaw-sub001/pkg/protocol"
)

// runAttached chats through the console websocket of a running gateway, so
// the conversation shares the gateway's sessions, tools, and cron context.
func runAttached(cfg *config.Config, message, sessionKey string) error {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	wsURL := fmt.Sprintf("ws://%s:%d/ws", host, cfg.Gateway.Port)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s (is 'tinyclaw gateway' running?): %w", wsURL, err)
	}
	defer conn.Close()

	if message != "" {
		return consoleSend(conn, message, sessionKey, os.Stdout)
	}

	fmt.Fprintf(os.Stderr, "\nTinyClaw chat — attached to %s\n", wsURL)
	fmt.Fprintf(os.Stderr, "Session: %s\n", sessionKey)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a fresh session\n\n")

	youPrompt, botPrompt := replPrompts("agent")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, youPrompt)
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return nil
		}
		if input == "/new" {
			sessionKey = sessions.SessionKey("cli", uuid.NewString()[:8])
			fmt.Fprintf(os.Stderr, "New session: %s\n\n", sessionKey)
			continue
		}

		fmt.Print(botPrompt)
		if err := consoleSend(conn, input, sessionKey, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
			continue
		}
		fmt.Println()
	}
}

// consoleSend submits one chat frame and streams the reply until the final
// frame. Bus event frames arriving in between are skipped.
func consoleSend(conn *websocket.Conn, message, sessionKey string, out io.Writer) error {
	err := conn.WriteJSON(protocol.ClientFrame{
		Type:       protocol.ConsoleChat,
		Content:    message,
		SessionKey: sessionKey,
	})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	streamed := false
	for {
		var frame protocol.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch frame.Type {
		case protocol.ConsoleDelta:
			streamed = true
			fmt.Fprint(out, frame.Content)
		case protocol.ConsoleFinal:
			// Deltas already carried the full text when streaming worked.
			if !streamed {
				fmt.Fprint(out, frame.Content)
			}
			fmt.Fprintln(out)
			return nil
		case protocol.ConsoleError:
			if streamed {
				fmt.Fprintln(out)
			}
			return fmt.Errorf("agent error: %s", frame.Error)
		}
	}
}
