package client

import (
	"bytes"
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/util"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TokenSource 提供当前登录用户的 bearer token
type TokenSource interface {
	Token() string
}

// APIError 后端返回的非 2xx 响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Rejected 除认证、超时和限流外的 4xx 都是确定性的拒绝
func (e *APIError) Rejected() bool {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

func (e *APIError) Is(target error) bool {
	return target == util.ErrRejected && e.Rejected()
}

// BackendClient 通过 HTTP 调用后端数据接口
type BackendClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewBackendClient(baseURL string, tokens TokenSource, timeout time.Duration) *BackendClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "backend " + r.Method + " " + r.URL.Path
				}),
			),
		},
	}
}

// do 发送请求并把 data 字段解码到 out；notFound 为 true 表示 404
func (c *BackendClient) do(ctx context.Context, method, path string, body, out interface{}) (notFound bool, err error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return false, err
	}

	var envelope util.RawResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
			return false, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return true, &APIError{Status: resp.StatusCode, Message: envelope.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := envelope.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return false, &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return false, fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return false, nil
}

// FindProgress 用户由 token 决定，userID 仅用于校验返回结果
func (c *BackendClient) FindProgress(ctx context.Context, userID, lessonID uint) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	notFound, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/progress/lessons/%d", lessonID), nil, &rec)
	if notFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, util.ErrPermissionDenied
	}
	return &rec, nil
}

func (c *BackendClient) UpsertProgress(ctx context.Context, upd model.ProgressUpdate) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	if _, err := c.do(ctx, http.MethodPut, "/api/progress", upd, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *BackendClient) ListProgress(ctx context.Context, userID, courseID uint) ([]model.ProgressRecord, error) {
	var records []model.ProgressRecord
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/progress/courses/%d", courseID), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *BackendClient) ListLessons(ctx context.Context, courseID uint) ([]uint, error) {
	var ids []uint
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/courses/%d/lessons", courseID), nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *BackendClient) IssueCertificate(ctx context.Context, userID, courseID uint) (*model.Certificate, error) {
	var cert model.Certificate
	if _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/certificates/%d", courseID), nil, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

func (c *BackendClient) GetCertificate(ctx context.Context, userID, courseID uint) (*model.Certificate, error) {
	var cert model.Certificate
	notFound, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/certificates/%d", courseID), nil, &cert)
	if notFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (c *BackendClient) LogActivity(ctx context.Context, entry model.ActivityLog) error {
	_, err := c.do(ctx, http.MethodPost, "/api/activity", entry, nil)
	return err
}

// Ping 探测后端健康检查接口，不需要登录
func (c *BackendClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil, nil)
	return err
}
