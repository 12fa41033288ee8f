// Package api provides HTTP handlers and the main API server logic for DMPipe.
//
// It exposes the Instagram webhook endpoint, a direct pipeline invocation
// endpoint, and read endpoints for stored conversations. The API integrates
// the instagram, flow, shopify, and store modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BTreeMap/DMPipe/internal/flow"
	"github.com/BTreeMap/DMPipe/internal/genai"
	"github.com/BTreeMap/DMPipe/internal/instagram"
	"github.com/BTreeMap/DMPipe/internal/scheduler"
	"github.com/BTreeMap/DMPipe/internal/shopify"
	"github.com/BTreeMap/DMPipe/internal/store"
)

// Default server configuration constants
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultReadTimeout limits how long reading a request may take
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout limits how long writing a response may take
	DefaultWriteTimeout = 30 * time.Second
	// DedupRetention is how long webhook dedup records are kept before pruning
	DedupRetention = 7 * 24 * time.Hour
	// dedupPruneSchedule runs the dedup prune job nightly
	dedupPruneSchedule = "0 3 * * *"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	VerifyToken string
	AppSecret   string
}

// Option defines a functional option for API server configuration.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook subscription verify token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithAppSecret sets the Meta app secret used for webhook signature checks.
func WithAppSecret(secret string) Option {
	return func(o *Opts) { o.AppSecret = secret }
}

// Server wires the HTTP endpoints to the processing pipeline and store.
type Server struct {
	addr        string
	verifyToken string
	appSecret   string
	processor   instagram.MessageProcessor
	webhookSvc  *instagram.WebhookService
	st          store.Store
}

// NewServer creates an API server.
func NewServer(processor instagram.MessageProcessor, webhookSvc *instagram.WebhookService, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.VerifyToken == "" {
		cfg.VerifyToken = os.Getenv("INSTAGRAM_VERIFY_TOKEN")
	}
	if cfg.AppSecret == "" {
		cfg.AppSecret = os.Getenv("INSTAGRAM_APP_SECRET")
	}
	return &Server{
		addr:        cfg.Addr,
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		processor:   processor,
		webhookSvc:  webhookSvc,
		st:          st,
	}
}

// Handler returns the HTTP mux with all endpoints registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/instagram", s.webhookHandler)
	mux.HandleFunc("/agent/process", s.processHandler)
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/conversations/", s.conversationDetailHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// ListenAndServe starts the HTTP server and blocks until it exits.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	slog.Info("Server.ListenAndServe: DMPipe API listening", "addr", s.addr)
	return srv.ListenAndServe()
}

// noCommerceTools is used when Shopify credentials are not configured.
// It keeps the pipeline functional with customer-safe unavailability text.
type noCommerceTools struct{}

func (noCommerceTools) GetProductInfo(ctx context.Context, productName string) string {
	return "I'm having trouble accessing product information right now. Please try again in a moment."
}

func (noCommerceTools) CheckOrderStatus(ctx context.Context, orderID string) string {
	return "I'm having trouble accessing order information right now. Please try again in a moment."
}

// buildStore constructs the store backend from options, defaulting to the
// in-memory store when no DSN is configured.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("api.buildStore: no DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}

// buildTools constructs the commerce tool adapter, degrading gracefully when
// Shopify is not configured.
func buildTools(shopifyOpts []shopify.Option) flow.ToolAdapter {
	client, err := shopify.NewClient(shopifyOpts...)
	if err != nil {
		slog.Warn("api.buildTools: Shopify not configured, commerce lookups disabled", "error", err)
		return noCommerceTools{}
	}
	return shopify.NewTools(client)
}

// Run wires all modules together and starts the API server. It blocks until
// the server exits.
func Run(igOpts []instagram.Option, storeOpts []store.Option, genaiOpts []genai.Option, shopifyOpts []shopify.Option, apiOpts []Option) error {
	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	llm, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	tools := buildTools(shopifyOpts)
	processor := flow.NewService(llm, tools)

	igClient, err := instagram.NewClient(igOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize Instagram client: %w", err)
	}
	webhookSvc := instagram.NewWebhookService(igClient, processor, st)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(dedupPruneSchedule, func() {
		removed, pruneErr := st.PruneProcessedMessages(DedupRetention)
		if pruneErr != nil {
			slog.Error("api.Run: dedup prune failed", "error", pruneErr)
			return
		}
		slog.Info("api.Run: dedup records pruned", "removed", removed)
	}); err != nil {
		return fmt.Errorf("failed to schedule dedup prune job: %w", err)
	}

	server := NewServer(processor, webhookSvc, st, apiOpts...)
	slog.Info("api.Run: modules wired, starting server")
	return server.ListenAndServe()
}
