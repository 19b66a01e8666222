package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go-social/internal/config"
	"go-social/internal/db"
	"go-social/internal/user"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

var (
	wsURL     = flag.String("url", "ws://localhost:3200/ws", "websocket endpoint")
	origin    = flag.String("origin", "http://localhost:5173", "Origin header sent on the handshake")
	pairCount = flag.Int("pairs", 50, "number of user pairs") // ⚠️ Start small. Database might choke on 1000 immediately.
	msgCount  = flag.Int("messages", 20, "messages per user")
	wait      = flag.Duration("wait", 10*time.Second, "how long to wait for echoes after sending")
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	errors   atomic.Int64
}

func main() {
	flag.Parse()
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("❌ config", "error", err)
		os.Exit(1)
	}

	database, err := db.NewDatabase(cfg.Database.DSN)
	if err != nil {
		logger.Error("❌ Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	users := user.NewRepository(database.Conn)
	tokens := user.NewService(cfg.JWT.Secret, cfg.JWT.TTL)

	logger.Info("🔥 STARTING STRESS TEST", "users", *pairCount*2, "messagesEach", *msgCount)
	var st stats
	var wg sync.WaitGroup
	start := time.Now()

	// User 2n talks to user 2n+1.
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(logger, users, tokens, pairID, &st)
		}(i)
	}
	wg.Wait()

	expected := int64(*pairCount) * 2 * int64(*msgCount)
	logger.Info("✅ LOAD TEST COMPLETE",
		"elapsed", time.Since(start).String(),
		"sent", st.sent.Load(),
		"receivedByRecipients", st.received.Load(),
		"expected", expected,
		"errors", st.errors.Load(),
	)
}

func runPair(logger *slog.Logger, users *user.Repository, tokens *user.Service, pairID int, st *stats) {
	ctx := context.Background()

	a, err := seed(ctx, users, fmt.Sprintf("lt_%d_a", pairID))
	if err != nil {
		logger.Error("❌ Seed failed", "pair", pairID, "error", err)
		return
	}
	b, err := seed(ctx, users, fmt.Sprintf("lt_%d_b", pairID))
	if err != nil {
		logger.Error("❌ Seed failed", "pair", pairID, "error", err)
		return
	}

	var pairWg sync.WaitGroup
	pairWg.Add(2)
	go chat(logger, tokens, a, b.ID, st, &pairWg)
	go chat(logger, tokens, b, a.ID, st, &pairWg)
	pairWg.Wait()
}

func seed(ctx context.Context, users *user.Repository, username string) (*user.User, error) {
	u := &user.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    username + "@loadtest.local",
		Name:     username,
	}
	return u, users.Upsert(ctx, u)
}

// chat joins as self, sends msgCount messages to peer and counts the messages
// the peer sent that arrive here.
func chat(logger *slog.Logger, tokens *user.Service, self *user.User, peerID string, st *stats, wg *sync.WaitGroup) {
	defer wg.Done()

	token, err := tokens.IssueToken(self)
	if err != nil {
		st.errors.Add(1)
		return
	}

	u, _ := url.Parse(*wsURL)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), map[string][]string{"Origin": {*origin}})
	if err != nil {
		logger.Error("❌ WS Connect Fail", "user", self.Username, "error", err)
		st.errors.Add(1)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		want, got := int64(*msgCount), int64(0)
		for got < want {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Event {
			case "receiveMessage":
				// The sender gets an echo too; only count what the peer wrote.
				var p struct {
					Message struct {
						Sender string `json:"sender"`
					} `json:"message"`
				}
				if json.Unmarshal(f.Data, &p) == nil && p.Message.Sender == peerID {
					got++
					st.received.Add(1)
				}
			case "error":
				st.errors.Add(1)
				logger.Warn("⚠️ server rejected frame", "user", self.Username, "ack", string(f.Data))
			}
		}
	}()

	if err := conn.WriteJSON(frame{Event: "join", Data: mustJSON(self.ID)}); err != nil {
		st.errors.Add(1)
		return
	}
	// Give the peer time to join its room; fan-out does not buffer for late joiners.
	time.Sleep(200 * time.Millisecond)

	for i := 0; i < *msgCount; i++ {
		payload := map[string]any{
			"senderId":    self.ID,
			"recipientId": peerID,
			"content":     fmt.Sprintf("LoadTest Msg %d from %s", i, self.Username),
		}
		if err := conn.WriteJSON(frame{Event: "sendMessage", Data: mustJSON(payload)}); err != nil {
			logger.Error("❌ Send Fail", "user", self.Username, "error", err)
			st.errors.Add(1)
			break
		}
		st.sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(*wait):
		logger.Warn("⚠️ timed out waiting for messages", "user", self.Username)
	}
	logger.Info("✅ finished", "user", self.Username, "sent", *msgCount)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
