// Package conn serves a builder.Database over websockets. Every text message
// is one JSON request; the reply carries the client's request id back.
package conn

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tobsdb/nanoq/internal/builder"
	"github.com/tobsdb/nanoq/internal/metrics"
	"github.com/tobsdb/nanoq/pkg"
)

var Upgrader = websocket.Upgrader{
	WriteBufferSize: 1024 * 10,
	ReadBufferSize:  1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	db *builder.Database
}

func NewServer(db *builder.Database) *Server {
	return &Server{db: db}
}

// Handler routes /health, /metrics and websocket upgrades on every other path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/", s.HandleConnection)
	return mux
}

func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.ErrorLog("upgrade failed", err)
		return
	}
	defer conn.Close()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	pkg.InfoLog("New connection from", r.RemoteAddr)
	defer pkg.InfoLog("Connection closed from", r.RemoteAddr)

	ctx := r.Context()
	write := func(res Response) error {
		return conn.WriteMessage(websocket.TextMessage, res.Marshal())
	}

	for {
		kind, buf, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pkg.ErrorLog("conn read error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			if err := write(NewErrorResponse(http.StatusBadRequest, "Expected a text message")); err != nil {
				return
			}
			continue
		}

		if err := HandleRequest(ctx, s.db, buf, write); err != nil {
			pkg.ErrorLog("writing response", err)
			return
		}
	}
}

// Listen serves until SIGINT or SIGTERM, then shuts down and disconnects the
// database.
func (s *Server) Listen(port int) error {
	exit := make(chan os.Signal, 2)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errs <- err
		}
	}()

	pkg.InfoLog("nanoq listening on port", port)
	select {
	case err := <-errs:
		return err
	case <-exit:
	}

	pkg.DebugLog("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		pkg.ErrorLog("shutdown", err)
	}
	return s.db.Disconnect(ctx)
}
