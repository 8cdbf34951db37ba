package gateway

import (
	"context"
	"net/http"

	"smlgpt/internal/config"
	"smlgpt/internal/models"
)

const visualFeatures = "Categories,Description,Objects,Tags"

// ComputerVision tags and describes images with the v3.2 analyze API.
type ComputerVision struct {
	endpoint string
	rest     *restClient
}

func NewComputerVision(cfg config.EndpointConfig, client *http.Client) *ComputerVision {
	return &ComputerVision{
		endpoint: trimEndpoint(cfg.Endpoint),
		rest: &restClient{
			service: ServiceComputerVision,
			http:    newHTTPClient(client),
			header:  subscriptionKeyHeader,
			key:     cfg.Key,
		},
	}
}

func (c *ComputerVision) Name() string     { return ServiceComputerVision }
func (c *ComputerVision) Configured() bool { return c.endpoint != "" && c.rest.key != "" }

type cvAnalyzeResponse struct {
	Categories []struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	} `json:"categories"`
	Description struct {
		Captions []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"captions"`
	} `json:"description"`
	Tags []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"tags"`
	Objects []struct {
		Object     string  `json:"object"`
		Confidence float64 `json:"confidence"`
		Rectangle  struct {
			X int `json:"x"`
			Y int `json:"y"`
			W int `json:"w"`
			H int `json:"h"`
		} `json:"rectangle"`
	} `json:"objects"`
}

// TagAndDescribeImage returns the caption, tags, objects and categories for imageURL.
func (c *ComputerVision) TagAndDescribeImage(ctx context.Context, imageURL string) (*models.ImageTags, error) {
	if !c.Configured() {
		return nil, notConfigured(ServiceComputerVision)
	}
	url := c.endpoint + "/vision/v3.2/analyze?visualFeatures=" + visualFeatures
	var resp cvAnalyzeResponse
	if _, err := c.rest.doJSON(ctx, http.MethodPost, url, map[string]string{"url": imageURL}, &resp); err != nil {
		return nil, err
	}

	out := &models.ImageTags{}
	if len(resp.Description.Captions) > 0 {
		out.Description = resp.Description.Captions[0].Text
	}
	for _, t := range resp.Tags {
		out.Tags = append(out.Tags, models.Tag{Name: t.Name, Confidence: t.Confidence})
	}
	for _, o := range resp.Objects {
		out.Objects = append(out.Objects, models.DetectedObject{
			Name:       o.Object,
			Confidence: o.Confidence,
			BoundingBox: models.BoundingBox{
				X: o.Rectangle.X, Y: o.Rectangle.Y, Width: o.Rectangle.W, Height: o.Rectangle.H,
			},
		})
	}
	for _, cat := range resp.Categories {
		out.Categories = append(out.Categories, models.Category{Name: cat.Name, Score: cat.Score})
	}
	return out, nil
}
