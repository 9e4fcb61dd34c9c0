package main

import (
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/signaling"
)

// registerRoutes mounts the signaling endpoints on the HTTP server. The
// WebSocket route checks origins itself; the rooms API goes through the
// server's CORS policy.
func registerRoutes(srv *httpserver.Server, sig *signaling.Server) {
	hub := sig.Hub()
	srv.SetMetrics(hub.Metrics())

	sigMux := http.NewServeMux()
	sig.RegisterRoutes(sigMux)

	mux := srv.Mux()
	mux.Handle("GET /webrtc/signal", sigMux)
	api := srv.OriginMiddleware()(sigMux)
	mux.Handle("GET /api/", api)
	mux.Handle("OPTIONS /api/", api)

	mux.Handle("GET /metrics", metrics.PrometheusHandler(hub.Metrics(),
		metrics.Gauge{
			Name: "aero_webrtc_signaling_relay_connections",
			Help: "Open signaling connections.",
			Read: hub.ConnectionCount,
		},
		metrics.Gauge{
			Name: "aero_webrtc_signaling_relay_rooms",
			Help: "Rooms with at least one member.",
			Read: hub.RoomCount,
		},
	))
}
