package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"smlgpt/internal/gateway"
	"smlgpt/internal/models"
	"smlgpt/internal/objectstore"
	"smlgpt/internal/registry"
	"smlgpt/internal/worker"
)

type ChatCompleter interface {
	gateway.Capability
	Complete(ctx context.Context, messages []models.ChatMessage) (*gateway.ChatCompletion, error)
	ModelName() string
}

type DocumentAnalyzer interface {
	gateway.Capability
	AnalyzeDocument(ctx context.Context, documentURL string) (*models.DocumentAnalysis, error)
}

type Searcher interface {
	gateway.Capability
	Search(ctx context.Context, query string, vector []float32, limit int) (*models.SearchResults, error)
}

type Embedder interface {
	gateway.Capability
	Embed(ctx context.Context, text string) ([]float32, error)
}

type SpeechService interface {
	gateway.Capability
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*gateway.Transcription, error)
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// BlobServer hands out objects kept in process, so the URLs of an in-memory
// object store resolve.
type BlobServer interface {
	Object(name string) ([]byte, string, bool)
}

// JobQueue is the producer side of the worker queue.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, payload any) (*worker.Job, error)
	Counts(ctx context.Context) (worker.Counts, error)
}

// Deps are the collaborators of Handler. Realtime, Limiter and Files are optional.
type Deps struct {
	Registry   registry.Registry
	Objects    objectstore.Store
	Queue      JobQueue
	Chat       ChatCompleter
	Documents  DocumentAnalyzer
	Search     Searcher
	Embeddings Embedder
	Speech     SpeechService
	Checks     []HealthChecker
	Realtime   http.Handler
	Limiter    Limiter
	// Files serves GET /files/:name when set.
	Files BlobServer
	// Development adds stacks and details to error envelopes.
	Development bool
	CORSOrigin  string
	Now         func() time.Time
}

// Handler wires HTTP routes to the registry, object store, queue and AI gateway.
type Handler struct {
	deps Deps
	now  func() time.Time
	log  *zap.SugaredLogger
}

func NewHandler(deps Deps) *Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{deps: deps, now: now, log: zap.S().Named("api")}
}

// NewRouter builds a gin engine with the middleware chain and all routes.
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(
		RequestID(),
		Recovery(h.deps.Development),
		Logger(),
		Metrics(),
		CORS(h.deps.CORSOrigin),
		ErrorHandler(h.deps.Development),
	)
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.deps.Realtime != nil {
		router.GET("/ws", gin.WrapH(h.deps.Realtime))
	}
	if h.deps.Files != nil {
		router.GET("/files/:name", h.serveFile)
	}

	api := router.Group("/api")
	if h.deps.Limiter != nil {
		api.Use(RateLimit(h.deps.Limiter))
	}
	api.POST("/chat", h.chat)

	api.POST("/upload", h.upload)
	api.GET("/upload/files", h.listFiles)

	documents := api.Group("/documents")
	documents.GET("/analysis/:documentId", h.documentAnalysis)
	documents.POST("/process/:documentId", h.processDocument)
	documents.GET("/search", h.searchDocuments)
	documents.GET("/health", h.documentsHealth)

	speech := api.Group("/speech")
	speech.POST("/speech-to-text", h.speechToText)
	speech.POST("/text-to-speech", h.textToSpeech)

	api.GET("/status", h.status)
	api.GET("/status/health", h.statusHealth)
}

// respond writes the success envelope.
func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
