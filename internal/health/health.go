// Package health keeps the process visibly alive for hosting platforms that
// idle services without inbound traffic.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const logEvery = 300 // ticks, i.e. five minutes

type Heartbeat struct {
	started time.Time
	ticks   atomic.Int64
}

func NewHeartbeat() *Heartbeat { return &Heartbeat{started: time.Now()} }

// Run ticks once a second until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := h.ticks.Add(1); n%logEvery == 0 {
				log.Info().Int64("beat", n/logEvery).Msg("heartbeat")
			}
		}
	}
}

func (h *Heartbeat) Ticks() int64 { return h.ticks.Load() }

func (h *Heartbeat) Uptime() time.Duration { return time.Since(h.started) }

// Probe is what the status page reports beyond the heartbeat.
type Probe struct {
	Name           string
	StoreConnected func() bool
	Users          func() int
}

var Paths = []string{"/", "/health", "/ping", "/status"}

func Handler(h *Heartbeat, p Probe) http.Handler {
	mux := http.NewServeMux()
	page := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		// "/" would otherwise catch every path
		if r.URL.Path != "/" && !known(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		up := h.Uptime()
		store := "❌ ERROR"
		if p.StoreConnected != nil && p.StoreConnected() {
			store = "✅ OK"
		}
		users := 0
		if p.Users != nil {
			users = p.Users()
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "🎬 %s\n🔄 Heartbeat: %ds\n⏱️ Uptime: %dh %dm\n☁️ Storage: %s\n👥 Users: %d\n✅ Status: RUNNING\n",
			p.Name, h.Ticks(), int(up.Hours()), int(up.Minutes())%60, store, users)
	}
	for _, path := range Paths {
		mux.HandleFunc(path, page)
	}
	return mux
}

func known(path string) bool {
	for _, p := range Paths {
		if p == path {
			return true
		}
	}
	return false
}

// Serve runs the status server until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", addr).Strs("paths", Paths).Msg("health server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
