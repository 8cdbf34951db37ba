package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smlgpt/internal/hazard"
	"smlgpt/internal/models"
	"smlgpt/internal/prompts"
	"smlgpt/internal/realtime"
	"smlgpt/internal/registry"
)

type VisionAnalyzer interface {
	AnalyzeImageForHazards(ctx context.Context, imageURL, systemPrompt, userPrompt string) (string, error)
}

type ImageTagger interface {
	TagAndDescribeImage(ctx context.Context, imageURL string) (*models.ImageTags, error)
}

type DocumentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, documentURL string) (*models.DocumentAnalysis, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Indexer interface {
	IndexRecord(ctx context.Context, record models.IndexRecord) error
}

// Deps are the collaborators of a Pipeline. Now defaults to time.Now and
// Hazards to the line extractor.
type Deps struct {
	Vision    VisionAnalyzer
	Tagger    ImageTagger
	Documents DocumentAnalyzer
	Embedder  Embedder
	Indexer   Indexer
	Hazards   hazard.Extractor
	Publisher realtime.Publisher
	Registry  registry.Registry
	Now       func() time.Time
}

// FilePayload is the data carried by a process-file job.
type FilePayload struct {
	FileID    string `json:"fileId" validate:"required"`
	FileName  string `json:"fileName" validate:"required"`
	FileURL   string `json:"fileUrl" validate:"required,url"`
	FileType  string `json:"fileType" validate:"required"`
	SessionID string `json:"sessionId" validate:"required"`
}

type Outcome struct {
	Success  bool                 `json:"success"`
	FileID   string               `json:"fileId"`
	Analysis *models.FileAnalysis `json:"analysis"`
}

// Pipeline analyzes one uploaded file, indexes it and notifies its session.
type Pipeline struct {
	deps Deps
	log  *zap.SugaredLogger
}

func New(deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Hazards == nil {
		deps.Hazards = hazard.NewLineExtractor()
	}
	if deps.Publisher == nil {
		deps.Publisher = realtime.Discard{}
	}
	return &Pipeline{deps: deps, log: zap.S().Named("pipeline")}
}

type embeddingContent struct {
	FileName  string `json:"fileName"`
	Analysis  string `json:"analysis"`
	Timestamp string `json:"timestamp"`
}

// Process runs the analysis branch for the payload's type, then embeds,
// indexes, records and publishes. Any failure before the index write fails
// the whole run; nothing is indexed in that case.
func (p *Pipeline) Process(ctx context.Context, payload FilePayload) (*Outcome, error) {
	log := p.log.With("file_id", payload.FileID, "file_type", payload.FileType)
	log.Infow("processing file", "file_name", payload.FileName)

	result, err := p.analyze(ctx, payload)
	if err != nil {
		return nil, err
	}
	result.Hazards = p.deps.Hazards.Extract(result.Text())

	timestamp := result.AnalyzedAt.UTC().Format(time.RFC3339Nano)
	content, err := json.Marshal(embeddingContent{
		FileName:  payload.FileName,
		Analysis:  result.Text(),
		Timestamp: timestamp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode embedding content")
	}
	result.Embedding, err = p.deps.Embedder.Embed(ctx, string(content))
	if err != nil {
		return nil, err
	}

	view := result.View()
	analysisJSON, err := json.Marshal(view)
	if err != nil {
		return nil, errors.Wrap(err, "encode analysis")
	}
	err = p.deps.Indexer.IndexRecord(ctx, models.IndexRecord{
		ID:            payload.FileID,
		FileName:      payload.FileName,
		FileType:      payload.FileType,
		FileURL:       payload.FileURL,
		Content:       string(content),
		ContentVector: result.Embedding,
		Analysis:      string(analysisJSON),
		Timestamp:     timestamp,
		SessionID:     payload.SessionID,
	})
	if err != nil {
		return nil, err
	}

	if p.deps.Registry != nil {
		err := p.deps.Registry.AttachAnalysis(ctx, payload.FileID, view)
		switch {
		case errors.Is(err, registry.ErrNotFound):
			// a standalone worker does not share an in-memory registry
			log.Warnw("file not in registry, analysis only indexed")
		case err != nil:
			return nil, errors.Wrap(err, "record analysis")
		}
	}

	if critical := models.CriticalHazards(result.Hazards); len(critical) > 0 {
		p.publish(ctx, payload.SessionID, models.EventCriticalHazardDetected, models.CriticalHazardEvent{
			FileID:   payload.FileID,
			FileName: payload.FileName,
			Hazards:  critical,
		})
	}
	p.publish(ctx, payload.SessionID, models.EventFileProcessed, models.FileProcessedEvent{
		FileID:   payload.FileID,
		FileName: payload.FileName,
		Analysis: view,
	})

	log.Infow("file processed", "kind", result.Kind, "hazards", len(result.Hazards))
	return &Outcome{Success: true, FileID: payload.FileID, Analysis: view}, nil
}

func (p *Pipeline) analyze(ctx context.Context, payload FilePayload) (*models.AnalysisResult, error) {
	result := &models.AnalysisResult{Kind: models.KindForType(payload.FileType)}
	switch result.Kind {
	case models.AnalysisImage:
		image, err := p.analyzeImage(ctx, payload.FileURL)
		if err != nil {
			return nil, err
		}
		result.Image = image
	case models.AnalysisDocument:
		doc, err := p.deps.Documents.AnalyzeDocument(ctx, payload.FileURL)
		if err != nil {
			return nil, err
		}
		result.Document = doc
	case models.AnalysisEmpty:
	}
	result.AnalyzedAt = p.deps.Now()
	return result, nil
}

// analyzeImage runs the hazard analysis and the tagging call concurrently.
// Both must succeed.
func (p *Pipeline) analyzeImage(ctx context.Context, imageURL string) (*models.ImageAnalysis, error) {
	var (
		text string
		tags *models.ImageTags
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		text, err = p.deps.Vision.AnalyzeImageForHazards(gctx, imageURL, prompts.SafetyAnalysis, prompts.ImageUser)
		return err
	})
	g.Go(func() error {
		var err error
		tags, err = p.deps.Tagger.TagAndDescribeImage(gctx, imageURL)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &models.ImageAnalysis{HazardAnalysis: text, Tags: tags}, nil
}

// publish is best effort: the index already holds the result.
func (p *Pipeline) publish(ctx context.Context, sessionID, event string, payload any) {
	if err := p.deps.Publisher.Publish(ctx, sessionID, event, payload); err != nil {
		p.log.Warnw("publish event failed", "session_id", sessionID, "event", event, "error", err)
	}
}
