package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"ragchat/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler, format string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.BackendConfig{
		BaseURL:      srv.URL,
		Dataset:      "demo",
		TopK:         6,
		StreamFormat: format,
		TimeoutMS:    5000,
	}, zap.NewNop())
}

func TestAskStream(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/query/stream" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Question != "What is X?" || req.Dataset != "demo" || req.TopK != 6 {
			t.Errorf("unexpected payload: %+v", req)
		}
		if req.ChatID == "" {
			t.Errorf("chat_id should be carried")
		}
		for _, tok := range []string{"The ", "answer ", "is ", "42."} {
			line, _ := json.Marshal(map[string]string{"content": tok})
			_, _ = w.Write(append(line, '\n'))
		}
	})

	c := newTestClient(t, handler, "lines")
	s, err := c.AskStream(context.Background(), QueryRequest{
		Question: "What is X?",
		Dataset:  "demo",
		ChatID:   "sess_1",
	})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	defer s.Close()

	var got string
	for {
		tok, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got += tok
	}
	if got != "The answer is 42." {
		t.Fatalf("answer=%q", got)
	}
}

func TestAskStreamRejected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Question is required."}`, http.StatusBadRequest)
	})
	c := newTestClient(t, handler, "lines")

	_, err := c.AskStream(context.Background(), QueryRequest{Question: ""})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusBadRequest {
		t.Fatalf("Code=%d, want 400", statusErr.Code)
	}
}

func TestAskOnce(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"answer": "42"})
	})
	c := newTestClient(t, handler, "lines")

	answer, err := c.AskOnce(context.Background(), QueryRequest{Question: "What is X?"})
	if err != nil {
		t.Fatalf("AskOnce: %v", err)
	}
	if answer != "42" {
		t.Fatalf("answer=%q", answer)
	}
}

func TestUpload(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("dataset") != "manuals" {
			t.Errorf("dataset=%q", r.FormValue("dataset"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			_ = file.Close()
			if header.Filename != "doc.txt" {
				t.Errorf("filename=%q", header.Filename)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"file_id": "f-123"})
	})
	c := newTestClient(t, handler, "lines")

	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	id, err := c.Upload(context.Background(), path, "manuals")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if id != "f-123" {
		t.Fatalf("file id=%q", id)
	}
}

func TestHealth(t *testing.T) {
	ok := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}), "lines")
	if err := ok.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	down := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), "lines")
	var statusErr *StatusError
	if err := down.Health(context.Background()); !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
}
