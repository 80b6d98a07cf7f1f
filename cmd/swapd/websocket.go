package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/boltz-exchange/swapd/notifications"
	"github.com/boltz-exchange/swapd/swapserverrpc"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = wsPingInterval + wsWriteTimeout
)

// wsUpgrader accepts connections from any origin: swapd is meant to sit
// behind whatever reverse proxy an operator fronts it with, the same
// boundary the gRPC listener leaves to its caller.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsServer exposes the Event Bus over a plain WebSocket, the transport
// spec.md's HTTP/WebSocket collaborator boundary hands external
// subscribers that can't or won't speak gRPC.
type wsServer struct {
	notifications *notifications.Manager
}

func newWSServer(n *notifications.Manager) *wsServer {
	return &wsServer{notifications: n}
}

func (w *wsServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.serveSubscribe)

	return mux
}

// serveSubscribe upgrades the request and streams every update for the
// swap named by the "hash" query parameter, or every swap's updates if
// it's omitted, until the client disconnects.
func (w *wsServer) serveSubscribe(rw http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	var (
		updates <-chan interface{}
		cancel  func()
	)

	if raw := r.URL.Query().Get("hash"); raw != "" {
		hash, err := lntypes.MakeHashFromStr(raw)
		if err != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(
					websocket.CloseUnsupportedData,
					"invalid hash",
				),
				time.Now().Add(wsWriteTimeout),
			)
			return
		}
		updates, cancel = w.notifications.Subscribe(hash)
	} else {
		updates, cancel = w.notifications.SubscribeAll()
	}
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	go w.readLoop(conn, stop)
	w.writeLoop(ctx, conn, updates)
}

// readLoop's only job is noticing the client went away: swapd never
// expects subscribers to send anything after the initial upgrade.
func (w *wsServer) readLoop(conn *websocket.Conn, stop func()) {
	defer stop()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *wsServer) writeLoop(ctx context.Context, conn *websocket.Conn,
	updates <-chan interface{}) {

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(
				websocket.PingMessage, nil,
			); err != nil {
				return
			}

		case raw, ok := <-updates:
			if !ok {
				return
			}
			update, ok := raw.(notifications.Update)
			if !ok {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := conn.WriteJSON(&swapserverrpc.SwapUpdate{
				Swap: swapInfo(update.Swap),
			})
			if err != nil {
				return
			}
		}
	}
}
