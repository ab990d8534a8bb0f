package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/ocr"
)

func TestOCRPageRequestShape(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	var captured ChatCompletionRequest
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Page text\n"}}]}`))
	}))
	defer server.Close()

	client := NewLLMServiceClient(server.URL+"/", "secret", time.Second)
	text, err := client.OCRPage(context.Background(), ocr.EngineSpec{Name: "paddle"},
		ocr.PageInput{PageNumber: 4, PNG: png}, "Read it.", 256)
	require.NoError(t, err)

	assert.Equal(t, "Page text", text)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "ocr/paddle", captured.Model)
	assert.Equal(t, 256, captured.MaxTokens)
	assert.Equal(t, 0.0, captured.Temperature)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	require.Len(t, captured.Messages[0].Content, 2)

	image := captured.Messages[0].Content[0]
	assert.Equal(t, "image_url", image.Type)
	require.NotNil(t, image.ImageURL)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png), image.ImageURL.URL)

	prompt := captured.Messages[0].Content[1]
	assert.Equal(t, "text", prompt.Type)
	assert.Equal(t, "Read it.", prompt.Text)
}

func TestOCRPageOmitsAuthWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Authorization"]
		assert.False(t, present)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client := NewLLMServiceClient(server.URL, "", time.Second)
	text, err := client.OCRPage(context.Background(), ocr.EngineSpec{Name: "a"}, ocr.PageInput{PageNumber: 1}, "p", 1)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestOCRPageFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{"error":"upstream"}`},
		{"not found", http.StatusNotFound, `model not found`},
		{"malformed json", http.StatusOK, `{"choices":`},
		{"missing choices", http.StatusOK, `{"id":"x"}`},
		{"empty choices", http.StatusOK, `{"choices":[]}`},
		{"choices not a list", http.StatusOK, `{"choices":{"a":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewLLMServiceClient(server.URL, "", time.Second)
			_, err := client.OCRPage(context.Background(), ocr.EngineSpec{Name: "surya"}, ocr.PageInput{PageNumber: 7}, "p", 1)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrorEngineCallFailed, apperrors.CodeOf(err))

			engine, ok := apperrors.EngineOf(err)
			require.True(t, ok)
			assert.Equal(t, "surya", engine)
		})
	}
}

func TestOCRPageTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewLLMServiceClient(url, "", time.Second)
	_, err := client.OCRPage(context.Background(), ocr.EngineSpec{Name: "a"}, ocr.PageInput{PageNumber: 1}, "p", 1)
	assert.Equal(t, apperrors.ErrorEngineCallFailed, apperrors.CodeOf(err))
}

func TestExtractMessageContent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"trimmed content", `{"choices":[{"message":{"content":"  hi  "}}]}`, "hi"},
		{"blank content is a blank page", `{"choices":[{"message":{"content":"   "},"text":"ignored"}]}`, ""},
		{"text fallback", `{"choices":[{"message":{"content":null},"text":" fallback "}]}`, "fallback"},
		{"text fallback without message", `{"choices":[{"text":"plain"}]}`, "plain"},
		{"structured content falls back", `{"choices":[{"message":{"content":[{"type":"text"}]},"text":"t"}]}`, "t"},
		{"nothing usable", `{"choices":[{"message":{}}]}`, ""},
		{"non-object choice", `{"choices":["weird"]}`, ""},
		{"blank text fallback", `{"choices":[{"text":"  "}]}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractMessageContent([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	assert.NoError(t, NewLLMServiceClient(server.URL, "", time.Second).HealthCheck(context.Background()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer broken.Close()

	err := NewLLMServiceClient(broken.URL, "", time.Second).HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
