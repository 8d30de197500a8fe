package prometheus

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	shutdownTimeout          = 5 * time.Second
)

// Exporter serves metrics at /metrics and a liveness probe at /health.
type Exporter struct {
	addr     string
	registry *prometheus.Registry

	mu      sync.Mutex
	server  *http.Server
	started bool
}

// NewExporter creates an exporter with the session metrics and the Go
// runtime collectors registered.
func NewExporter(addr string) *Exporter {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Exporter{addr: addr, registry: reg}
}

// NewExporterWithRegistry creates an exporter over a caller-owned registry.
func NewExporterWithRegistry(addr string, registry *prometheus.Registry) *Exporter {
	return &Exporter{addr: addr, registry: registry}
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the mux serving /metrics and /health.
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (e *Exporter) Start() error {
	srv := e.prepare()
	if srv == nil {
		return nil
	}
	return srv.ListenAndServe()
}

// Serve serves until ctx is done, then shuts down. A graceful stop returns
// nil.
func (e *Exporter) Serve(ctx context.Context) error {
	srv := e.prepare()
	if srv == nil {
		return nil
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// prepare creates the server, or returns nil if already started.
func (e *Exporter) prepare() *http.Server {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	e.server = &http.Server{
		Addr:              e.addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	e.started = true
	return e.server
}

// Shutdown gracefully stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil && e.started {
		e.started = false
		return e.server.Shutdown(ctx)
	}
	return nil
}

// MustRegister registers additional collectors. It panics on failure.
func (e *Exporter) MustRegister(cs ...prometheus.Collector) {
	e.registry.MustRegister(cs...)
}
