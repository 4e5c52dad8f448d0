package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/config"
	"ragchat/internal/stream"
)

// DefaultTopK 是检索结果条数的默认值 / default retrieved-chunk count.
const DefaultTopK = 6

// QueryRequest 是发给后端的提问载荷 / QueryRequest is the question payload.
type QueryRequest struct {
	Question string `json:"question"`
	Dataset  string `json:"dataset"`
	ChatID   string `json:"chat_id"`
	TopK     int    `json:"top_k"`
}

// StatusError 表示请求在流式开始前被拒绝（非 2xx 状态）。
// StatusError is a request rejected before any streaming began.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("request failed: status=%d", e.Code)
	}
	return fmt.Sprintf("request failed: status=%d body=%s", e.Code, e.Body)
}

// Client 访问文档问答后端 / Client talks to the document QA backend.
type Client struct {
	baseURL string
	format  stream.Format
	topK    int
	// streamClient 无整体超时：整体超时会切断长回答的流。
	// streamClient has no overall timeout; one would cut long answers short.
	streamClient *http.Client
	httpClient   *http.Client
	logger       *zap.Logger
}

// AnswerStream 是一次流式回答：持有响应体与解码器。
// AnswerStream is one live streamed answer, owning the response body.
type AnswerStream struct {
	body io.ReadCloser
	dec  *stream.Decoder
}

// Next returns the next answer token, io.EOF on clean end.
func (s *AnswerStream) Next() (string, error) {
	return s.dec.Next()
}

func (s *AnswerStream) Close() error {
	return s.body.Close()
}

func New(cfg config.BackendConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		format:       stream.ParseFormat(cfg.StreamFormat),
		topK:         topK,
		streamClient: &http.Client{},
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// AskStream 发起流式提问。非 2xx 状态在产出任何 token 之前以 *StatusError 失败。
// AskStream issues a streaming question. A non-2xx status fails with a
// *StatusError before any token is produced. The caller owns the returned
// stream and must Close it.
func (c *Client) AskStream(ctx context.Context, req QueryRequest) (*AnswerStream, error) {
	if req.TopK <= 0 {
		req.TopK = c.topK
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/query/stream",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send query request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	c.logger.Debug("stream opened",
		zap.String("chat_id", req.ChatID),
		zap.String("dataset", req.Dataset))
	return &AnswerStream{
		body: resp.Body,
		dec:  stream.NewDecoder(resp.Body, c.format),
	}, nil
}

// AskOnce 非流式提问，返回完整回答文本。
// AskOnce issues a non-streaming question and returns the full answer text.
func (c *Client) AskOnce(ctx context.Context, req QueryRequest) (string, error) {
	if req.TopK <= 0 {
		req.TopK = c.topK
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal query request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create query request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse query response: %w", err)
	}
	return out.Answer, nil
}

// Upload 上传文档到指定数据集，返回服务端分配的文件 ID（仅用于用户提示文本）。
// Upload sends one document to the given dataset via multipart form and
// returns the server-assigned file id, used only for confirmation text.
func (c *Client) Upload(ctx context.Context, path, dataset string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read upload file: %w", err)
	}
	if dataset != "" {
		if err := mw.WriteField("dataset", dataset); err != nil {
			return "", fmt.Errorf("write dataset field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file", &buf)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out struct {
		FileID string `json:"file_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}
	return out.FileID, nil
}

// Health 检查后端可达性 / Health checks backend reachability.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
