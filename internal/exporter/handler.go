// Package exporter serves the scrape endpoint. Each request runs one gather
// pass and then encodes a snapshot of every family in the format the client
// negotiated.
package exporter

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	exportererrors "github.com/kubeadapt/nvml-exporter/internal/errors"
	"github.com/kubeadapt/nvml-exporter/internal/observability"
)

// Gatherer runs one gather pass.
type Gatherer interface {
	Gather(ctx context.Context) error
}

// Handler answers scrapes for one listener.
type Handler struct {
	engine   Gatherer
	snapshot prometheus.Gatherer
	metrics  *observability.Metrics
	listener string
}

// New returns the scrape handler for listener, wrapped for gzip content
// encoding. snapshot is gathered after every pass, whether or not the pass
// succeeded.
func New(engine Gatherer, snapshot prometheus.Gatherer, m *observability.Metrics, listener string) http.Handler {
	return gzhttp.GzipHandler(&Handler{
		engine:   engine,
		snapshot: snapshot,
		metrics:  m,
		listener: listener,
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.metrics.ScrapesTotal.WithLabelValues(h.listener).Inc()

	if err := h.engine.Gather(ctx); err != nil {
		slog.ErrorContext(ctx, "gather failed, serving previous values", "listener", h.listener, "error", err)
	}

	families, err := h.snapshot.Gather()
	if err != nil {
		// Partial results are still encoded; a collision between the NVML
		// and self-metric registries is reported here.
		slog.WarnContext(ctx, "snapshot incomplete", "listener", h.listener, "error", err)
	}

	format := expfmt.Negotiate(r.Header)
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err = enc.Encode(mf); err != nil {
			break
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok && err == nil {
		err = closer.Close()
	}
	if err != nil {
		ee := exportererrors.EncodeFailed(err)
		slog.ErrorContext(ctx, "failed to encode metrics", "listener", h.listener, "error", ee)
		http.Error(w, ee.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", string(format))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.DebugContext(ctx, "client went away during scrape", "listener", h.listener, "error", err)
	}
}
