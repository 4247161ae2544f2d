// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services so transport concerns stay isolated from sequencing, sealing and
// delivery logic.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sealwire/internal/platform/metrics"
	"sealwire/internal/platform/middleware"
	"sealwire/internal/transport/http/shared"
)

// Routable registers its routes on a chi router.
type Routable interface {
	Register(r chi.Router)
}

// NewRouter wires all endpoints. The websocket route sits outside the
// logging/latency chain because those wrappers break connection hijacking.
func NewRouter(logger *slog.Logger, m *metrics.Metrics, ws http.Handler, handlers ...Routable) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Recovery(logger))
	root.Use(middleware.RequestID)

	root.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if ws != nil {
		root.Handle("/ws", ws)
	}

	api := chi.NewRouter()
	api.Use(middleware.Logger(logger))
	api.Use(middleware.Timeout(30 * time.Second))
	api.Use(middleware.Latency(m))
	for _, h := range handlers {
		h.Register(api)
	}
	root.Mount("/", api)

	return root
}
