package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-pvp-server/pkg/chessdto"
)

// pvpcheck joins a game over the websocket gateway, optionally plays MOVES
// (space separated, e2e4 e7e5 ...) and prints every event it receives.
func main() {
	wsURL := os.Getenv("PVP_WS_URL")
	token := os.Getenv("PVP_TOKEN")
	gameID := os.Getenv("GAME_ID")
	moves := strings.Fields(os.Getenv("MOVES"))

	if wsURL == "" || gameID == "" {
		log.Fatal("PVP_WS_URL and GAME_ID are required")
	}

	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		log.Fatalf("WS connect error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				log.Printf("WS read end: %v", err)
				cancel()
				return
			}
			var ev chessdto.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("bad event: %v", err)
				continue
			}
			fmt.Printf("event type=%s status=%s turn=%s fen=%q", ev.Type, ev.Status, ev.CurrentTurn, ev.Position)
			if ev.YourColor != "" {
				fmt.Printf(" you=%s", ev.YourColor)
			}
			if ev.Message != "" {
				fmt.Printf(" msg=%q", ev.Message)
			}
			if ev.Error != nil {
				fmt.Printf(" err=%s (%s)", ev.Error.Code, ev.Error.Message)
			}
			fmt.Println()
		}
	}()

	send := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			log.Fatalf("WS write error: %v", err)
		}
	}

	send(map[string]any{"type": chessdto.CommandJoin, "gameId": gameID})
	for _, mv := range moves {
		time.Sleep(500 * time.Millisecond)
		if len(mv) < 4 {
			log.Printf("skip move %q", mv)
			continue
		}
		frame := map[string]any{"type": chessdto.CommandMove, "gameId": gameID, "from": mv[:2], "to": mv[2:4]}
		if len(mv) > 4 {
			frame["promotion"] = mv[4:]
		}
		send(frame)
	}

	// Observe for a short window
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
	}
}
