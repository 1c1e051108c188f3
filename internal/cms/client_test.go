package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *TokenStore, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens, err := NewTokenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tokens.Save(Token{AccessToken: "tok-1", RefreshToken: "ref-1"}))

	client := NewClient(Config{
		BaseURL:    server.URL + "/api/v4",
		Timeout:    5 * time.Second,
		RetryCount: 1,
	}, OAuthConfig{
		ClientID:     "app-id",
		ClientSecret: "app-secret",
		TokenURL:     server.URL + "/oauth/token",
	}, tokens, nil)
	return client, tokens, server
}

func TestFindCaseThreeWayContract(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		var gotQuery string
		client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"data":[{"id":500,"custom_field_values":[{"id":51,"field_name":"Civil Warrant","value":"CW-1"}]}]}`)
		}))

		doc, found, err := client.FindCase(context.Background(), 2, 7, "CW-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(500), doc.ID)
		assert.Contains(t, gotQuery, "custom_field_values%5B7%5D=CW-1")
	})

	t.Run("confirmed absent", func(t *testing.T) {
		client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"data":[]}`)
		}))

		doc, found, err := client.FindCase(context.Background(), 2, 7, "CW-1")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, doc)
	})

	t.Run("lookup failed", func(t *testing.T) {
		client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		doc, found, err := client.FindCase(context.Background(), 2, 7, "CW-1")
		require.Error(t, err)
		assert.False(t, found)
		assert.Nil(t, doc)
	})
}

func TestListCasesFollowsPagination(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/matters", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "p2" {
			fmt.Fprint(w, `{"data":[{"id":2}],"meta":{"paging":{}}}`)
			return
		}
		fmt.Fprintf(w, `{"data":[{"id":1}],"meta":{"paging":{"next":"%s/api/v4/matters?page_token=p2"}}}`, server.URL)
	})
	client, _, s := newTestClient(t, mux)
	server = s

	cases, err := client.ListCases(context.Background(), ListCasesOptions{GroupID: 2, UpdatedSince: "2024-06-01T00:00:00+00:00"})
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, int64(1), cases[0].ID)
	assert.Equal(t, int64(2), cases[1].ID)
}

func TestCreateCasePayload(t *testing.T) {
	var got map[string]any
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"data":{"id":901}}`)
	}))

	values := []NewFieldValue{SetFieldValue(7, "CW-1")}
	id, err := client.CreateCase(context.Background(), CaseCreate{
		Description:    "123 Elm St",
		ClientID:       1,
		GroupID:        2,
		PracticeAreaID: 3,
		FieldValues:    values,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(901), id)

	data := got["data"].(map[string]any)
	assert.Equal(t, "123 Elm St", data["description"])
	assert.Equal(t, float64(1), data["client"].(map[string]any)["id"])
	assert.Equal(t, float64(2), data["group"].(map[string]any)["id"])
	assert.Equal(t, float64(3), data["practice_area"].(map[string]any)["id"])
}

func TestUnauthorizedTriggersOneRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "ref-1", r.PostForm.Get("refresh_token"))
		fmt.Fprint(w, `{"access_token":"tok-2","refresh_token":"ref-2"}`)
	})
	mux.HandleFunc("/api/v4/matters", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	})

	client, tokens, _ := newTestClient(t, mux)

	_, found, err := client.FindCase(context.Background(), 2, 7, "CW-1")
	require.NoError(t, err)
	assert.False(t, found)

	// The refreshed pair is persisted for the next process.
	saved := tokens.Load()
	assert.Equal(t, "tok-2", saved.AccessToken)
	assert.Equal(t, "ref-2", saved.RefreshToken)
}

func TestPermanentRejectionIsStatusError(t *testing.T) {
	var calls int
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"validation failed"}`)
	}))

	err := client.UpdateCase(context.Background(), 500, []UpdatedFieldValue{{ID: 51, Value: "x"}})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
}

func TestFindDocumentByExternalProperty(t *testing.T) {
	var gotQuery string
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"data":[{"id":77}]}`)
	}))

	exists, err := client.FindDocument(context.Background(), 500, "GIS_ID", 11)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Contains(t, gotQuery, "external_property_name=GIS_ID")
	assert.Contains(t, gotQuery, "external_property_value=11")
}

func TestUploadDocumentThreeSteps(t *testing.T) {
	var (
		server    *httptest.Server
		putBody   []byte
		putHeader string
		finalized bool
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/documents", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		fmt.Fprintf(w, `{"data":{"id":77,"latest_document_version":{
			"uuid":"uuid-1",
			"put_url":"%s/bucket/obj",
			"put_headers":[{"name":"x-goog-meta-test","value":"yes"}]
		}}}`, server.URL)
	})
	mux.HandleFunc("/bucket/obj", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		putHeader = r.Header.Get("x-goog-meta-test")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		putBody = body
	})
	mux.HandleFunc("/api/v4/documents/77", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		data := got["data"].(map[string]any)
		assert.Equal(t, "uuid-1", data["uuid"])
		assert.Equal(t, "true", data["fully_uploaded"])
		finalized = true
		fmt.Fprint(w, `{"data":{"id":77}}`)
	})

	client, _, s := newTestClient(t, mux)
	server = s

	err := client.UploadDocument(context.Background(), 500, "GIS_ID", 11, "photo.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(putBody))
	assert.Equal(t, "yes", putHeader)
	assert.True(t, finalized)
}

func TestCalendarEntryCreatePayload(t *testing.T) {
	var got map[string]any
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"data":{"id":7}}`)
	}))

	err := client.CreateCalendarEntry(context.Background(), CalendarEntryCreate{
		Name:        "J. Doe",
		Description: "status hearing",
		StartAt:     "2024-07-01T09:00:00+00:00",
		EndAt:       "2024-07-01T09:00:00+00:00",
		CalendarID:  4,
		CaseID:      500,
	})
	require.NoError(t, err)

	data := got["data"].(map[string]any)
	assert.Equal(t, "J. Doe", data["summary"])
	assert.Equal(t, float64(4), data["calendar_owner"].(map[string]any)["id"])
	assert.Equal(t, float64(500), data["matter"].(map[string]any)["id"])
}
