// Package geo is the HTTP client for the GEO feature server. It covers
// the four capabilities the sync engine consumes: incremental feature
// queries, attachment listing, attachment payload download, and bulk
// feature append to the history layer.
//
// Transient failures (429 and 5xx) are retried here with exponential
// backoff and a bounded attempt count; the pipelines never retry at
// their level within a run.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/npclinic/databridge/internal/record"
)

// Feature is one row from a feature layer: a flat attribute map plus an
// optional point geometry.
type Feature struct {
	Attributes map[string]any   `json:"attributes"`
	Geometry   *record.Geometry `json:"geometry,omitempty"`
}

// AttachmentInfo is one entry from a feature's attachment listing.
type AttachmentInfo struct {
	ID          int64  `json:"id"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Name        string `json:"name"`
}

// AddResult is the per-feature outcome of an addFeatures call.
type AddResult struct {
	ObjectID int64 `json:"objectId"`
	Success  bool  `json:"success"`
}

// Config carries the feature-server coordinates and retry policy.
type Config struct {
	Host          string
	FeaturePath   string
	IncidentLayer string
	HistoryLayer  string
	Timeout       time.Duration
	RetryCount    int
}

// Client talks to one GEO feature server.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// NewClient builds a Client from config. Zero timeout and retry count
// fall back to 30s and 5 attempts.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

// layerURL joins host, feature-server path, layer id and trailing parts.
func (c *Client) layerURL(layer string, parts ...string) string {
	segments := append([]string{strings.TrimRight(c.cfg.Host, "/"), strings.Trim(c.cfg.FeaturePath, "/"), layer}, parts...)
	return strings.Join(segments, "/")
}

// incidentOutFields is the attribute set requested from the incident layer.
var incidentOutFields = []string{
	record.GeoObjectID,
	record.GeoIncidentNumber,
	record.GeoParcelID,
	record.GeoCityFileNo,
	record.GeoSubDistrict,
	record.GeoInspectSummary,
	record.GeoWarrant,
	record.GeoLocation,
	record.GeoNextCourtDate,
	record.GeoPropertyOwner,
	record.GeoDefendant,
	record.GeoCourtStatus,
	record.GeoLatestNotes,
	record.GeoCreated,
	record.GeoLastModified,
}

// QueryIncidents returns incident features changed since the given
// watermark. An empty since queries the full layer.
func (c *Client) QueryIncidents(ctx context.Context, since string) ([]Feature, error) {
	where := ""
	if since != "" {
		where = fmt.Sprintf("last_modified_date > '%s'", since)
	}
	return c.query(ctx, c.cfg.IncidentLayer, where, incidentOutFields)
}

// QueryDismissals returns history rows carrying a dismissal status or
// condition, used to enrich fetched incidents by warrant number.
func (c *Client) QueryDismissals(ctx context.Context) ([]Feature, error) {
	where := "DismissStatus IS NOT NULL OR DismissedCondition IS NOT NULL"
	fields := []string{
		record.HistWarrant,
		record.HistDismissStatus,
		record.HistDismissedCondition,
		record.HistNextSetting,
	}
	return c.query(ctx, c.cfg.HistoryLayer, where, fields)
}

func (c *Client) query(ctx context.Context, layer, where string, outFields []string) ([]Feature, error) {
	params := url.Values{}
	params.Set("f", "pjson")
	params.Set("returnGeometry", "true")
	params.Set("where", where)
	params.Set("outFields", strings.Join(outFields, ","))

	reqURL := c.layerURL(layer, "query") + "?" + params.Encode()
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Features []Feature `json:"features"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse feature query response: %w", err)
	}
	if envelope.Features == nil {
		return nil, fmt.Errorf("unexpected feature query response from %s", layer)
	}
	return envelope.Features, nil
}

// ListAttachments returns attachment metadata for one incident feature.
func (c *Client) ListAttachments(ctx context.Context, objectID int64) ([]AttachmentInfo, error) {
	reqURL := c.layerURL(c.cfg.IncidentLayer, fmt.Sprint(objectID), "attachments") + "?f=pjson"
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		AttachmentInfos []AttachmentInfo `json:"attachmentInfos"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse attachment listing for %d: %w", objectID, err)
	}
	return envelope.AttachmentInfos, nil
}

// AttachmentPayload downloads one attachment's binary content. Any
// non-200 response fails just that attachment.
func (c *Client) AttachmentPayload(ctx context.Context, objectID, attachmentID int64) ([]byte, error) {
	reqURL := c.layerURL(c.cfg.IncidentLayer, fmt.Sprint(objectID), "attachments", fmt.Sprint(attachmentID))
	return c.get(ctx, reqURL)
}

// AddHistoryFeatures appends features to the history layer and returns
// the per-feature results in request order.
func (c *Client) AddHistoryFeatures(ctx context.Context, features []Feature) ([]AddResult, error) {
	payload, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal features: %w", err)
	}

	form := url.Values{}
	form.Set("f", "json")
	form.Set("features", string(payload))

	reqURL := c.layerURL(c.cfg.HistoryLayer, "addFeatures")
	body, err := c.postForm(ctx, reqURL, form)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		AddResults []AddResult `json:"addResults"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse addFeatures response: %w", err)
	}
	if envelope.AddResults == nil {
		return nil, fmt.Errorf("unexpected addFeatures response")
	}
	return envelope.AddResults, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	})
}

func (c *Client) postForm(ctx context.Context, reqURL string, form url.Values) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// do issues a request with retry on 429/5xx. The request is rebuilt per
// attempt because bodies are single-use.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<(attempt-1)) * time.Second
			c.log.Debug("retrying geo request", zap.Int("attempt", attempt), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to build geo request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read geo response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("geo returned status %d", resp.StatusCode)
			continue
		default:
			return nil, fmt.Errorf("geo returned status %d", resp.StatusCode)
		}
	}
	return nil, fmt.Errorf("geo request failed after %d attempts: %w", c.cfg.RetryCount, lastErr)
}
