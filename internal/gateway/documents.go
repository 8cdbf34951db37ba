package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/config"
	"smlgpt/internal/models"
)

const (
	documentModel      = "prebuilt-document"
	documentAPIVersion = "2022-08-31"
	operationLocation  = "Operation-Location"
	defaultPollEvery   = time.Second
	defaultPollTimeout = 2 * time.Minute
)

// DocumentIntelligence extracts text, tables, key/value pairs and entities.
type DocumentIntelligence struct {
	endpoint    string
	rest        *restClient
	pollEvery   time.Duration
	pollTimeout time.Duration
}

func NewDocumentIntelligence(cfg config.EndpointConfig, client *http.Client) *DocumentIntelligence {
	return &DocumentIntelligence{
		endpoint: trimEndpoint(cfg.Endpoint),
		rest: &restClient{
			service: ServiceDocuments,
			http:    newHTTPClient(client),
			header:  subscriptionKeyHeader,
			key:     cfg.Key,
		},
		pollEvery:   defaultPollEvery,
		pollTimeout: defaultPollTimeout,
	}
}

func (d *DocumentIntelligence) Name() string     { return ServiceDocuments }
func (d *DocumentIntelligence) Configured() bool { return d.endpoint != "" && d.rest.key != "" }

type diOperation struct {
	Status        string       `json:"status"`
	AnalyzeResult *diResult    `json:"analyzeResult"`
	Error         *diOperError `json:"error"`
}

type diOperError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type diResult struct {
	Content string `json:"content"`
	Tables  []struct {
		RowCount    int `json:"rowCount"`
		ColumnCount int `json:"columnCount"`
		Cells       []struct {
			Kind        string `json:"kind"`
			RowIndex    int    `json:"rowIndex"`
			ColumnIndex int    `json:"columnIndex"`
			Content     string `json:"content"`
		} `json:"cells"`
	} `json:"tables"`
	KeyValuePairs []struct {
		Key *struct {
			Content string `json:"content"`
		} `json:"key"`
		Value *struct {
			Content string `json:"content"`
		} `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"keyValuePairs"`
	Entities []struct {
		Category    string  `json:"category"`
		SubCategory string  `json:"subCategory"`
		Content     string  `json:"content"`
		Confidence  float64 `json:"confidence"`
	} `json:"entities"`
	Documents []struct {
		Confidence float64 `json:"confidence"`
	} `json:"documents"`
}

// AnalyzeDocument submits documentURL and polls the operation until it finishes.
func (d *DocumentIntelligence) AnalyzeDocument(ctx context.Context, documentURL string) (*models.DocumentAnalysis, error) {
	if !d.Configured() {
		return nil, notConfigured(ServiceDocuments)
	}
	url := d.endpoint + "/formrecognizer/documentModels/" + documentModel + ":analyze?api-version=" + documentAPIVersion
	header, err := d.rest.doJSON(ctx, http.MethodPost, url, map[string]string{"urlSource": documentURL}, nil)
	if err != nil {
		return nil, err
	}
	location := header.Get(operationLocation)
	if location == "" {
		return nil, apperrors.ExternalService(ServiceDocuments, "missing "+operationLocation+" header")
	}

	result, err := d.poll(ctx, location)
	if err != nil {
		return nil, err
	}
	return convertDocument(result), nil
}

func (d *DocumentIntelligence) poll(ctx context.Context, location string) (*diResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.pollTimeout)
	defer cancel()

	ticker := jitterbug.New(d.pollEvery, &jitterbug.Norm{Stdev: d.pollEvery / 10})
	defer ticker.Stop()

	for {
		var op diOperation
		if _, err := d.rest.doJSON(ctx, http.MethodGet, location, nil, &op); err != nil {
			return nil, err
		}
		switch strings.ToLower(op.Status) {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return nil, apperrors.ExternalService(ServiceDocuments, "empty analyze result")
			}
			return op.AnalyzeResult, nil
		case "failed", "canceled":
			msg := "analysis " + strings.ToLower(op.Status)
			if op.Error != nil && op.Error.Message != "" {
				msg += ": " + op.Error.Message
			}
			return nil, apperrors.ExternalService(ServiceDocuments, msg)
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.WrapExternal(ServiceDocuments, ctx.Err())
		case <-ticker.C:
		}
	}
}

func convertDocument(r *diResult) *models.DocumentAnalysis {
	out := &models.DocumentAnalysis{ExtractedText: r.Content}
	for _, t := range r.Tables {
		table := models.Table{RowCount: t.RowCount, ColumnCount: t.ColumnCount}
		for _, c := range t.Cells {
			table.Cells = append(table.Cells, models.TableCell{
				RowIndex:    c.RowIndex,
				ColumnIndex: c.ColumnIndex,
				Text:        c.Content,
				IsHeader:    c.Kind == "columnHeader" || c.Kind == "rowHeader",
			})
		}
		out.Tables = append(out.Tables, table)
	}

	var sum float64
	for _, kv := range r.KeyValuePairs {
		pair := models.KeyValuePair{Confidence: kv.Confidence}
		if kv.Key != nil {
			pair.Key = kv.Key.Content
		}
		if kv.Value != nil {
			pair.Value = kv.Value.Content
		}
		out.KeyValuePairs = append(out.KeyValuePairs, pair)
		sum += kv.Confidence
	}
	for _, e := range r.Entities {
		out.Entities = append(out.Entities, models.Entity{
			Text:        e.Content,
			Category:    e.Category,
			SubCategory: e.SubCategory,
			Confidence:  e.Confidence,
		})
	}

	// document level confidence when present, else the mean key/value confidence
	switch {
	case len(r.Documents) > 0:
		out.Confidence = r.Documents[0].Confidence
	case len(r.KeyValuePairs) > 0:
		out.Confidence = sum / float64(len(r.KeyValuePairs))
	}
	return out
}
