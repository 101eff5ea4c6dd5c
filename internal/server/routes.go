package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Tandem/internal/metrics"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

const maxUserIDLength = 128

// Options configures the HTTP surface.
type Options struct {
	Hub     *signaling.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// AllowedOrigins lists browser origins allowed to open /ws. Empty allows
	// any origin; "*" does too.
	AllowedOrigins []string
}

// NewRouter mounts /ws, /health, /stats and /metrics.
func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/stats", statsHandler(opts.Hub))
	mux.Handle("/metrics", metrics.PrometheusHandler(opts.Metrics,
		metrics.Gauge{
			Name:  "tandem_online_users",
			Help:  "Users with an open signaling connection.",
			Value: func() float64 { return float64(opts.Hub.Stats().Online) },
		},
		metrics.Gauge{
			Name:  "tandem_waiting_users",
			Help:  "Users waiting for a partner.",
			Value: func() float64 { return float64(opts.Hub.Stats().Waiting) },
		},
		metrics.Gauge{
			Name:  "tandem_active_rooms",
			Help:  "Rooms with a call in progress.",
			Value: func() float64 { return float64(opts.Hub.Stats().ActiveRooms) },
		},
	))
	mux.HandleFunc("/ws", ServeWs(opts.Hub, newUpgrader(opts.AllowedOrigins), log))
	return mux
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func statsHandler(hub *signaling.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.Stats())
	}
}

func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(allowed),
	}
}

// originChecker accepts requests without an Origin header (native clients)
// and browser requests whose origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeWs upgrades /ws?user_id=<id> and starts the connection's pumps.
func ServeWs(hub *signaling.Hub, upgrader *websocket.Upgrader, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" || len(userID) > maxUserIDLength {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := signaling.NewClient(hub, conn, userID)
		if err := hub.Connect(client); err != nil {
			code := websocket.CloseTryAgainLater
			if errors.Is(err, signaling.ErrAlreadyConnected) {
				code = websocket.ClosePolicyViolation
			}
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
			conn.Close()
			log.Info("connection rejected", "user", userID, "error", err)
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
