package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Invalid query string arg","message":"Invalid analyte Lead"}`))
	}))
	defer srv.Close()

	c := NewClient("dataapi", srv.URL, time.Second)
	var out map[string]interface{}
	err := c.GetJSON(context.Background(), "/threshval", &out)

	var ue *Error
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadRequest, ue.Status)
	assert.Equal(t, "Invalid analyte Lead", ue.Message)
	assert.Equal(t, "Invalid query string arg", ue.Detail)
	assert.Contains(t, err.Error(), "dataapi: 400")
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("scoring", srv.URL, time.Second)
	_, err := c.Do(context.Background(), http.MethodPost, "/x", map[string]string{"a": "b"})

	var ue *Error
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadGateway, ue.Status)
	assert.Equal(t, "upstream exploded", ue.Message)
}

func TestPostJSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient("scoring", srv.URL, 0)
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/y", map[string]int{"n": 1}, &out))
	assert.True(t, out.OK)
}
