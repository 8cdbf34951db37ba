package gateway

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"smlgpt/internal/apperrors"
	"smlgpt/internal/config"
	"smlgpt/internal/models"
)

const (
	searchAPIVersion = "2023-11-01"
	searchKeyHeader  = "api-key"
	vectorField      = "contentVector"
)

// Search writes to and queries the Azure AI Search index.
type Search struct {
	endpoint string
	index    string
	rest     *restClient
}

func NewSearch(cfg config.SearchConfig, client *http.Client) *Search {
	return &Search{
		endpoint: trimEndpoint(cfg.Endpoint),
		index:    cfg.Index,
		rest: &restClient{
			service: ServiceSearch,
			http:    newHTTPClient(client),
			header:  searchKeyHeader,
			key:     cfg.AdminKey,
		},
	}
}

func (s *Search) Name() string     { return ServiceSearch }
func (s *Search) Configured() bool { return s.endpoint != "" && s.rest.key != "" && s.index != "" }

func (s *Search) docsURL(action string) string {
	return s.endpoint + "/indexes/" + url.PathEscape(s.index) + "/docs/" + action + "?api-version=" + searchAPIVersion
}

// Index keys may only hold letters, digits, '_', '-' and '='. Document ids
// carry file names, so they are stored URL-safe base64 encoded.
func documentKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// documentID reverses documentKey. Keys written by something else pass
// through unchanged.
func documentID(key string) string {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return key
	}
	return string(raw)
}

type indexAction struct {
	Action string `json:"@search.action"`
	models.IndexRecord
}

type indexResponse struct {
	Value []struct {
		Key          string `json:"key"`
		Status       bool   `json:"status"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"value"`
}

// IndexRecord upserts record keyed by the encoded form of its id.
func (s *Search) IndexRecord(ctx context.Context, record models.IndexRecord) error {
	if !s.Configured() {
		return notConfigured(ServiceSearch)
	}
	record.ID = documentKey(record.ID)
	body := map[string]any{
		"value": []indexAction{{Action: "mergeOrUpload", IndexRecord: record}},
	}
	var resp indexResponse
	if _, err := s.rest.doJSON(ctx, http.MethodPost, s.docsURL("index"), body, &resp); err != nil {
		return err
	}
	for _, r := range resp.Value {
		if !r.Status {
			msg := "indexing rejected for " + documentID(r.Key)
			if r.ErrorMessage != "" {
				msg += ": " + r.ErrorMessage
			}
			return apperrors.ExternalService(ServiceSearch, msg)
		}
	}
	return nil
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type searchRequest struct {
	Search        string        `json:"search"`
	Top           int           `json:"top"`
	Count         bool          `json:"count"`
	Select        string        `json:"select"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
}

type searchResponse struct {
	Count *int64 `json:"@odata.count"`
	Value []struct {
		Score     float64 `json:"@search.score"`
		ID        string  `json:"id"`
		FileName  string  `json:"fileName"`
		Content   string  `json:"content"`
		Timestamp string  `json:"timestamp"`
	} `json:"value"`
}

// Search runs a text query, adding a vector query when vector is non-empty.
func (s *Search) Search(ctx context.Context, query string, vector []float32, limit int) (*models.SearchResults, error) {
	if !s.Configured() {
		return nil, notConfigured(ServiceSearch)
	}
	if limit <= 0 {
		limit = 10
	}
	req := searchRequest{
		Search: strings.TrimSpace(query),
		Top:    limit,
		Count:  true,
		Select: "id,fileName,content,timestamp",
	}
	if len(vector) > 0 {
		req.VectorQueries = []vectorQuery{{Kind: "vector", Vector: vector, Fields: vectorField, K: limit}}
	}

	var resp searchResponse
	if _, err := s.rest.doJSON(ctx, http.MethodPost, s.docsURL("search"), req, &resp); err != nil {
		return nil, err
	}
	out := &models.SearchResults{Hits: make([]models.SearchHit, 0, len(resp.Value))}
	for _, v := range resp.Value {
		out.Hits = append(out.Hits, models.SearchHit{
			ID:        documentID(v.ID),
			Score:     v.Score,
			FileName:  v.FileName,
			Content:   v.Content,
			Timestamp: v.Timestamp,
		})
	}
	out.Count = int64(len(out.Hits))
	if resp.Count != nil {
		out.Count = *resp.Count
	}
	return out, nil
}
