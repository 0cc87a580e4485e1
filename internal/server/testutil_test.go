package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"nhooyr.io/websocket"

	"primeduel/internal/auth"
	"primeduel/internal/clock"
	"primeduel/internal/game"
	"primeduel/internal/hub"
	"primeduel/internal/protocol"
	"primeduel/internal/session"
	"primeduel/internal/storage"
)

// --- Test environment ---

type testEnv struct {
	ts    *httptest.Server
	hub   *hub.Hub
	conns *Conns
	store *storage.Store
}

var fastTiming = session.Timing{
	CountdownFrom: 3,
	Tick:          5 * time.Millisecond,
	StartDelay:    5 * time.Millisecond,
	ForceCheck:    5 * time.Millisecond,
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// One card each against a target of 2: the first play wins.
	d, err := game.NewDealer(game.Rules{
		Difficulty: "normal",
		Primes:     []int{2},
		DeckSize:   1,
		HandSize:   1,
		Complexity: game.Range{Min: 1, Max: 1},
	}, nil)
	require.NoError(t, err)
	reg := game.NewRegistry("normal")
	reg.Register(d)

	log := zerolog.Nop()
	conns := NewConns(log)
	svc := auth.NewService(store, []byte("secret"), time.Hour, auth.WithBcryptCost(bcrypt.MinCost))
	h := hub.New(reg, svc, conns, clock.Real(), hub.Config{Timing: fastTiming}, log)
	ts := httptest.NewServer(New(h, conns, reg, store, log))
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: h, conns: conns, store: store}
}

func timeoutCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// --- WebSocket helpers ---

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
}

// wsDial opens a connection. The caller is responsible for closing it.
func wsDial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(timeoutCtx(t), wsURL(env.ts), nil)
	require.NoError(t, err)
	return conn
}

func wsSend(ctx context.Context, t *testing.T, conn *websocket.Conn, msg protocol.Inbound) {
	t.Helper()
	data, err := protocol.EncodeInbound(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func wsRead(ctx context.Context, t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// readUntil skips messages until one of type typ arrives and decodes its
// payload into v.
func readUntil(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	for {
		env := wsRead(ctx, t, conn)
		if env.Type != typ {
			continue
		}
		if v != nil {
			require.NoError(t, json.Unmarshal(env.Payload, v))
		}
		return
	}
}

// joinGuest registers the connection as a guest and returns its profile.
func joinGuest(ctx context.Context, t *testing.T, conn *websocket.Conn, name string) protocol.Profile {
	t.Helper()
	wsSend(ctx, t, conn, protocol.Join{Name: name})
	var reg protocol.Registered
	readUntil(ctx, t, conn, protocol.TypeRegistered, &reg)
	return reg.Profile
}
