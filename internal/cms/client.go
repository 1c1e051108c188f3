// Package cms is the HTTP client for the case-management system. It
// exposes the capabilities the sync engine consumes: find/create/update
// cases by correlation key, calendar entries, document upload tagged with
// the source attachment id, and the reference-entity operations used by
// bootstrap (contacts, groups, practice areas, calendars, custom fields).
//
// Requests carry an OAuth bearer token; a 401 triggers one token refresh
// and the persisted token files are rewritten. Transient failures (429,
// 5xx) are retried with exponential backoff and a bounded attempt count.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// caseFields is the sparse field set requested on every case read.
const caseFields = "id,etag,updated_at,custom_field_values{id,etag,field_name,value}"

// FieldValue is one custom-field value attached to a case.
type FieldValue struct {
	ID        int64  `json:"id,omitempty"`
	Etag      string `json:"etag,omitempty"`
	FieldName string `json:"field_name,omitempty"`
	Value     any    `json:"value"`
}

// CaseDoc is a case as returned by the CMS API.
type CaseDoc struct {
	ID                int64        `json:"id"`
	Etag              string       `json:"etag,omitempty"`
	UpdatedAt         string       `json:"updated_at,omitempty"`
	CustomFieldValues []FieldValue `json:"custom_field_values,omitempty"`
}

// FieldMap flattens the custom-field value list into a name -> value map,
// built once per document instead of rescanned per access.
func (d *CaseDoc) FieldMap() map[string]any {
	m := make(map[string]any, len(d.CustomFieldValues))
	for _, v := range d.CustomFieldValues {
		m[v.FieldName] = v.Value
	}
	return m
}

// FieldValueID returns the id of the value entry for the named field,
// needed when updating a single field in place.
func (d *CaseDoc) FieldValueID(fieldName string) (int64, bool) {
	for _, v := range d.CustomFieldValues {
		if v.FieldName == fieldName {
			return v.ID, true
		}
	}
	return 0, false
}

// NewFieldValue is a custom-field value in a case create payload.
type NewFieldValue struct {
	CustomField struct {
		ID int64 `json:"id"`
	} `json:"custom_field"`
	Value any `json:"value"`
}

// SetFieldValue builds a NewFieldValue for the given field id.
func SetFieldValue(fieldID int64, value any) NewFieldValue {
	var v NewFieldValue
	v.CustomField.ID = fieldID
	v.Value = value
	return v
}

// UpdatedFieldValue addresses an existing field value entry by id.
type UpdatedFieldValue struct {
	ID    int64 `json:"id"`
	Value any   `json:"value"`
}

// CaseCreate is the payload for creating a case.
type CaseCreate struct {
	Description    string
	ClientID       int64
	GroupID        int64
	PracticeAreaID int64
	FieldValues    []NewFieldValue
}

// CalendarEntry is one scheduled event on the shared CMS calendar.
type CalendarEntry struct {
	ID          int64  `json:"id"`
	StartAt     string `json:"start_at"`
	Description string `json:"description,omitempty"`
	Matter      *struct {
		ID int64 `json:"id"`
	} `json:"matter,omitempty"`
}

// Entity is a generic named reference entity (contact, group, practice
// area, calendar).
type Entity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Config carries the API base URL and retry policy.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// Client talks to the CMS API with a persisted OAuth session.
type Client struct {
	cfg    Config
	oauth  OAuthConfig
	tokens *TokenStore
	token  Token
	http   *http.Client
	log    *zap.Logger
}

// NewClient builds a Client. The token store is read once here; refreshed
// tokens are written back through it.
func NewClient(cfg Config, oauth OAuthConfig, tokens *TokenStore, log *zap.Logger) *Client {
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
		cfg:    cfg,
		oauth:  oauth,
		tokens: tokens,
		token:  tokens.Load(),
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func (c *Client) url(parts ...string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.Join(parts, "/")
}

// FindCase looks up a case by correlation key (the warrant custom field).
// The three outcomes are distinct: (doc, true, nil) found, (nil, false,
// nil) confirmed absent, (nil, false, err) lookup failed. Callers must
// treat a failed lookup as a recoverable error, never as "create".
func (c *Client) FindCase(ctx context.Context, groupID, warrantFieldID int64, warrant string) (*CaseDoc, bool, error) {
	params := url.Values{}
	params.Set("group_id", fmt.Sprint(groupID))
	params.Set("fields", caseFields)
	params.Set(fmt.Sprintf("custom_field_values[%d]", warrantFieldID), warrant)

	var envelope struct {
		Data []CaseDoc `json:"data"`
	}
	if err := c.getJSON(ctx, c.url("matters")+"?"+params.Encode(), &envelope); err != nil {
		return nil, false, fmt.Errorf("case lookup for %q failed: %w", warrant, err)
	}
	if len(envelope.Data) == 0 {
		return nil, false, nil
	}
	return &envelope.Data[0], true, nil
}

// ListCasesOptions filters a case listing.
type ListCasesOptions struct {
	GroupID      int64
	UpdatedSince string
	IDs          []int64
}

// ListCases returns all cases matching the options, following pagination
// links until exhausted.
func (c *Client) ListCases(ctx context.Context, opts ListCasesOptions) ([]CaseDoc, error) {
	params := url.Values{}
	params.Set("group_id", fmt.Sprint(opts.GroupID))
	params.Set("fields", caseFields)
	if opts.UpdatedSince != "" {
		params.Set("updated_since", opts.UpdatedSince)
	}
	for _, id := range opts.IDs {
		params.Add("ids[]", fmt.Sprint(id))
	}

	next := c.url("matters") + "?" + params.Encode()
	var cases []CaseDoc
	for next != "" {
		var envelope struct {
			Data []CaseDoc `json:"data"`
			Meta struct {
				Paging struct {
					Next string `json:"next"`
				} `json:"paging"`
			} `json:"meta"`
		}
		if err := c.getJSON(ctx, next, &envelope); err != nil {
			return nil, fmt.Errorf("case listing failed: %w", err)
		}
		cases = append(cases, envelope.Data...)
		next = envelope.Meta.Paging.Next
	}
	return cases, nil
}

// CreateCase creates a case and returns its id.
func (c *Client) CreateCase(ctx context.Context, create CaseCreate) (int64, error) {
	type ref struct {
		ID int64 `json:"id"`
	}
	payload := map[string]any{
		"data": map[string]any{
			"client":              ref{create.ClientID},
			"group":               ref{create.GroupID},
			"practice_area":       ref{create.PracticeAreaID},
			"description":         create.Description,
			"custom_field_values": create.FieldValues,
		},
	}

	var envelope struct {
		Data CaseDoc `json:"data"`
	}
	if err := c.sendJSON(ctx, http.MethodPost, c.url("matters"), payload, &envelope); err != nil {
		return 0, fmt.Errorf("case create failed: %w", err)
	}
	return envelope.Data.ID, nil
}

// UpdateCase patches selected field values on an existing case.
func (c *Client) UpdateCase(ctx context.Context, id int64, values []UpdatedFieldValue) error {
	payload := map[string]any{
		"data": map[string]any{
			"custom_field_values": values,
		},
	}
	if err := c.sendJSON(ctx, http.MethodPatch, c.url("matters", fmt.Sprint(id)), payload, nil); err != nil {
		return fmt.Errorf("case update %d failed: %w", id, err)
	}
	return nil
}

// ListCalendarEntries returns entries on a calendar within [from, to].
func (c *Client) ListCalendarEntries(ctx context.Context, calendarID int64, from, to string) ([]CalendarEntry, error) {
	params := url.Values{}
	params.Set("calendar_id", fmt.Sprint(calendarID))
	params.Set("fields", "id,start_at,description,matter{id}")
	if from != "" {
		params.Set("from", from)
	}
	if to != "" {
		params.Set("to", to)
	}

	var envelope struct {
		Data []CalendarEntry `json:"data"`
	}
	if err := c.getJSON(ctx, c.url("calendar_entries")+"?"+params.Encode(), &envelope); err != nil {
		return nil, fmt.Errorf("calendar listing failed: %w", err)
	}
	return envelope.Data, nil
}

// CalendarEntryCreate is the payload for scheduling a follow-up entry.
type CalendarEntryCreate struct {
	Name        string
	Description string
	StartAt     string
	EndAt       string
	CalendarID  int64
	CaseID      int64
}

// CreateCalendarEntry schedules an entry tied to a case.
func (c *Client) CreateCalendarEntry(ctx context.Context, create CalendarEntryCreate) error {
	payload := map[string]any{
		"data": map[string]any{
			"summary":        create.Name,
			"description":    create.Description,
			"start_at":       create.StartAt,
			"end_at":         create.EndAt,
			"calendar_owner": map[string]any{"id": create.CalendarID},
			"matter":         map[string]any{"id": create.CaseID},
		},
	}
	if err := c.sendJSON(ctx, http.MethodPost, c.url("calendar_entries"), payload, nil); err != nil {
		return fmt.Errorf("calendar entry create failed: %w", err)
	}
	return nil
}

// FindDocument checks whether a document tagged with the given external
// attachment id already exists on the case. Same three-way contract as
// FindCase.
func (c *Client) FindDocument(ctx context.Context, caseID int64, externalName string, externalID int64) (bool, error) {
	params := url.Values{}
	params.Set("matter_id", fmt.Sprint(caseID))
	params.Set("external_property_name", externalName)
	params.Set("external_property_value", fmt.Sprint(externalID))

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, c.url("documents")+"?"+params.Encode(), &envelope); err != nil {
		return false, fmt.Errorf("document lookup for %d failed: %w", externalID, err)
	}
	return len(envelope.Data) > 0, nil
}

// UploadDocument performs the three-step upload: create the document
// shell tagged with the external id, PUT the payload to the returned
// upload URL, then mark the version fully uploaded.
func (c *Client) UploadDocument(ctx context.Context, caseID int64, externalName string, externalID int64, name string, payload []byte) error {
	createBody := map[string]any{
		"data": map[string]any{
			"name":   name,
			"parent": map[string]any{"type": "Matter", "id": caseID},
			"external_properties": []map[string]any{
				{"name": externalName, "value": fmt.Sprint(externalID)},
			},
		},
	}

	var created struct {
		Data struct {
			ID            int64 `json:"id"`
			LatestVersion struct {
				UUID    string `json:"uuid"`
				PutURL  string `json:"put_url"`
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"put_headers"`
			} `json:"latest_document_version"`
		} `json:"data"`
	}
	createURL := c.url("documents") + "?" + url.Values{"fields": {"id,latest_document_version{uuid,put_url,put_headers}"}}.Encode()
	if err := c.sendJSON(ctx, http.MethodPost, createURL, createBody, &created); err != nil {
		return fmt.Errorf("document create failed: %w", err)
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, created.Data.LatestVersion.PutURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	for _, h := range created.Data.LatestVersion.Headers {
		putReq.Header.Set(h.Name, h.Value)
	}
	putResp, err := c.http.Do(putReq)
	if err != nil {
		return fmt.Errorf("document upload failed: %w", err)
	}
	_, _ = io.Copy(io.Discard, putResp.Body)
	_ = putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode > 299 {
		return fmt.Errorf("document upload returned status %d", putResp.StatusCode)
	}

	patchBody := map[string]any{
		"data": map[string]any{
			"fully_uploaded": "true",
			"uuid":           created.Data.LatestVersion.UUID,
		},
	}
	patchURL := c.url("documents", fmt.Sprint(created.Data.ID)) + "?" + url.Values{"fields": {"id,latest_document_version{fully_uploaded}"}}.Encode()
	if err := c.sendJSON(ctx, http.MethodPatch, patchURL, patchBody, nil); err != nil {
		return fmt.Errorf("document finalize failed: %w", err)
	}
	return nil
}

// FindEntity looks up a named reference entity on the given resource
// (contacts, groups, practice_areas).
func (c *Client) FindEntity(ctx context.Context, resource, queryParam, name string) (*Entity, bool, error) {
	params := url.Values{}
	params.Set(queryParam, name)

	var envelope struct {
		Data []Entity `json:"data"`
	}
	if err := c.getJSON(ctx, c.url(resource)+"?"+params.Encode(), &envelope); err != nil {
		return nil, false, fmt.Errorf("%s lookup failed: %w", resource, err)
	}
	for i := range envelope.Data {
		if envelope.Data[i].Name == name {
			return &envelope.Data[i], true, nil
		}
	}
	if len(envelope.Data) > 0 && queryParam == "query" {
		// Query-style search already ranks by relevance; take the first.
		return &envelope.Data[0], true, nil
	}
	return nil, false, nil
}

// CreateEntity creates a named reference entity and returns it. Extra
// fields are merged into the create payload.
func (c *Client) CreateEntity(ctx context.Context, resource, name string, extra map[string]any) (*Entity, error) {
	data := map[string]any{"name": name}
	for k, v := range extra {
		data[k] = v
	}

	var envelope struct {
		Data Entity `json:"data"`
	}
	if err := c.sendJSON(ctx, http.MethodPost, c.url(resource), map[string]any{"data": data}, &envelope); err != nil {
		return nil, fmt.Errorf("%s create failed: %w", resource, err)
	}
	return &envelope.Data, nil
}

// ListCalendars returns all calendars visible to the session.
func (c *Client) ListCalendars(ctx context.Context) ([]Entity, error) {
	var envelope struct {
		Data []Entity `json:"data"`
	}
	if err := c.getJSON(ctx, c.url("calendars"), &envelope); err != nil {
		return nil, fmt.Errorf("calendar list failed: %w", err)
	}
	return envelope.Data, nil
}

// CustomFieldCreate describes a custom field to register.
type CustomFieldCreate struct {
	Name      string   `json:"name"`
	FieldType string   `json:"field_type"`
	Options   []string `json:"-"`
}

// FindCustomField looks up a custom field by name.
func (c *Client) FindCustomField(ctx context.Context, name string, out any) (bool, error) {
	params := url.Values{}
	params.Set("query", name)
	params.Set("parent_type", "Matter")
	params.Set("fields", "id,etag,name,field_type,picklist_options{id,option}")

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := c.getJSON(ctx, c.url("custom_fields")+"?"+params.Encode(), &envelope); err != nil {
		return false, fmt.Errorf("custom field lookup failed: %w", err)
	}
	if len(envelope.Data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(envelope.Data[0], out); err != nil {
		return false, fmt.Errorf("failed to parse custom field: %w", err)
	}
	return true, nil
}

// CreateCustomField registers a custom field, with picklist options when
// provided, and decodes the created definition into out.
func (c *Client) CreateCustomField(ctx context.Context, create CustomFieldCreate, out any) error {
	data := map[string]any{
		"name":        create.Name,
		"field_type":  create.FieldType,
		"parent_type": "Matter",
		"displayed":   "true",
	}
	if len(create.Options) > 0 {
		options := make([]map[string]string, len(create.Options))
		for i, o := range create.Options {
			options[i] = map[string]string{"option": o}
		}
		data["picklist_options"] = options
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	fieldsURL := c.url("custom_fields") + "?" + url.Values{"fields": {"id,etag,name,field_type,picklist_options{id,option}"}}.Encode()
	if err := c.sendJSON(ctx, http.MethodPost, fieldsURL, map[string]any{"data": data}, &envelope); err != nil {
		return fmt.Errorf("custom field create failed: %w", err)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to parse created custom field: %w", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	return c.doJSON(ctx, http.MethodGet, reqURL, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, reqURL string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.doJSON(ctx, method, reqURL, body, out)
}

// doJSON issues an authenticated request with 401-refresh and 429/5xx
// retry. 4xx responses other than 401/429 are permanent and returned
// without retry.
func (c *Client) doJSON(ctx context.Context, method, reqURL string, body []byte, out any) error {
	var lastErr error
	refreshed := false

	for attempt := 0; attempt < c.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<(attempt-1)) * time.Second
			c.log.Debug("retrying cms request", zap.Int("attempt", attempt), zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return fmt.Errorf("failed to build cms request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", "Bearer "+c.token.AccessToken)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read cms response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("failed to parse cms response: %w", err)
				}
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			refreshed = true
			if err := c.refreshToken(ctx); err != nil {
				return fmt.Errorf("token refresh failed: %w", err)
			}
			// Retry immediately with the fresh token.
			attempt--
			continue

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("cms returned status %d", resp.StatusCode)
			continue

		default:
			return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
		}
	}
	return fmt.Errorf("cms request failed after %d attempts: %w", c.cfg.RetryCount, lastErr)
}

func (c *Client) refreshToken(ctx context.Context) error {
	token, err := c.oauth.Refresh(ctx, c.token.RefreshToken)
	if err != nil {
		return err
	}
	c.token = token
	if err := c.tokens.Save(token); err != nil {
		return err
	}
	c.log.Info("cms token refreshed")
	return nil
}

// StatusError is a permanent (non-retried) HTTP rejection from the CMS.
// The push pipeline treats it as a per-record failure: the record stays
// queued and is retried identically on the next run.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cms returned status %d: %s", e.Code, e.Body)
}
