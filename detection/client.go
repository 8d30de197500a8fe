package detection

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/AltairaLabs/robolive/events"
	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
)

// Client defaults.
const (
	DefaultRequestInterval = 250 * time.Millisecond
	DefaultBurst           = 2
	DefaultTimeout         = 20 * time.Second
)

// ErrNotInitialized is returned by Detect before Init or after Shutdown.
var ErrNotInitialized = errors.New("detector is not initialized")

// Config configures a Client.
type Config struct {
	APIKey string
	// Model defaults to DefaultModel.
	Model string
	// BaseURL overrides the service endpoint.
	BaseURL string
	// RequestInterval is the minimum spacing of requests once the burst is
	// spent. Defaults to DefaultRequestInterval.
	RequestInterval time.Duration
	Burst           int
	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// HTTPClient is wrapped with tracing. Defaults to http.DefaultTransport.
	HTTPClient *http.Client
	Emitter    *events.Emitter
	Tracer     trace.Tracer
}

// Client is a Detector backed by the generative vision model. It is an
// explicitly owned handle: call Init before use and Shutdown when done.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	tracer  trace.Tracer

	mu     sync.RWMutex
	client *genai.Client
}

// NewClient creates an uninitialized client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestInterval <= 0 {
		cfg.RequestInterval = DefaultRequestInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("robolive/detection")
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.RequestInterval), cfg.Burst),
		tracer:  tracer,
	}
}

// Init creates the underlying service client.
func (c *Client) Init(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return liveerr.Config("detector requires an API key")
	}

	base := http.DefaultTransport
	if c.cfg.HTTPClient != nil && c.cfg.HTTPClient.Transport != nil {
		base = c.cfg.HTTPClient.Transport
	}
	httpClient := &http.Client{Transport: otelhttp.NewTransport(base)}

	cc := &genai.ClientConfig{
		APIKey:     c.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if c.cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = c.cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return liveerr.Detection("failed to create client", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	logger.Debug("detector initialized", "model", c.cfg.Model)
	return nil
}

// Shutdown releases the client. Later Detect calls fail.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()
}

// Detect implements Detector.
func (c *Client) Detect(ctx context.Context, image []byte, prompt string) ([]Point, error) {
	return c.detect(ctx, KindCustom, image, prompt)
}

// DetectObjects points at up to ten labelled objects.
func (c *Client) DetectObjects(ctx context.Context, image []byte) ([]Point, error) {
	return c.detect(ctx, KindObjects, image, ObjectsPrompt)
}

// ErrEmptyQuery is returned by DetectQuery for a blank query.
var ErrEmptyQuery = errors.New("detection query is empty")

// DetectQuery points at everything in the image matching query.
func (c *Client) DetectQuery(ctx context.Context, image []byte, query string) ([]Point, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, liveerr.Detection("detect query", ErrEmptyQuery)
	}
	return c.detect(ctx, KindQuery, image, QueryPrompt(query))
}

// DetectTrajectory plans a path from object to destination.
func (c *Client) DetectTrajectory(ctx context.Context, image []byte, object, destination string) ([]Point, error) {
	return c.detect(ctx, KindTrajectory, image, TrajectoryPrompt(object, destination))
}

func (c *Client) detect(ctx context.Context, kind string, image []byte, prompt string) (points []Point, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "detection.generate", trace.WithAttributes(
		attribute.String("detection.kind", kind),
		attribute.String("detection.model", c.cfg.Model),
		attribute.Int("detection.image_bytes", len(image)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.cfg.Emitter.DetectionFailed(kind, err, time.Since(start))
		} else {
			span.SetAttributes(attribute.Int("detection.points", len(points)))
			c.cfg.Emitter.DetectionCompleted(kind, len(points), time.Since(start))
		}
		span.End()
	}()

	if len(image) == 0 {
		return nil, liveerr.Detection("empty image", nil)
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return nil, liveerr.Detection("detect", ErrNotInitialized)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, liveerr.Detection("rate limit wait", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromText(prompt),
			genai.NewPartFromBytes(image, "image/jpeg"),
		},
	}}
	resp, err := client.Models.GenerateContent(ctx, c.cfg.Model, contents, nil)
	if err != nil {
		return nil, liveerr.Detection("generate content", err)
	}

	text := resp.Text()
	logger.DebugContext(ctx, "detector reply", "kind", kind, "chars", len(text))

	points, err = ParsePoints(text)
	if err != nil {
		return nil, liveerr.Detection("invalid detector reply", err)
	}
	return points, nil
}
