package main

import (
	"net/http"

	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
)

func setupRouter(metricsCollector *metrics.Collector, algorithm string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metrics", metricsCollector.Handler(algorithm))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
