package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter создает HTTP роутер отладочного сервера
func NewRouter(store SnapshotReader, gatherer prometheus.Gatherer) *http.ServeMux {
	handler := NewCommentHandler(store)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /posts/{id}/comments", handler.GetComments)
	mux.HandleFunc("GET /healthz", handler.Health)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}
