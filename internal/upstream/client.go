package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/provider"
	"github.com/nulzo/model-gateway/pkg/api"
)

const (
	PathModels          = "/v1/models"
	PathChatCompletions = "/v1/chat/completions"
	PathEmbeddings      = "/v1/embeddings"
	PathNativeTags      = "/api/tags"
	PathNativeChat      = "/api/chat"
)

// HTTPClient defines the interface for an HTTP client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client speaks to upstream providers. It tries the OpenAI-compatible shape
// first and falls back to the native shape when that endpoint is missing.
type Client struct {
	http   HTTPClient
	logger *zap.Logger
}

func New(httpClient HTTPClient, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "upstream")),
	}
}

// ResolveURL joins base and path without doubling a trailing /v1.
func ResolveURL(baseURL, path string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(path, "/v1/") {
		return base + strings.TrimPrefix(path, "/v1")
	}
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(path, "/api/") {
		return strings.TrimSuffix(base, "/v1") + path
	}
	return base + path
}

// Headers builds auth and extra headers for a provider.
func Headers(p provider.Provider) map[string]string {
	headers := make(map[string]string, len(p.ExtraHeaders)+1)
	switch p.Auth.Type {
	case provider.AuthBearer:
		if p.Auth.Token != "" {
			headers["Authorization"] = "Bearer " + p.Auth.Token
		}
	case provider.AuthHeader:
		if p.Auth.HeaderName != "" && p.Auth.Token != "" {
			headers[p.Auth.HeaderName] = p.Auth.Token
		}
	}
	for k, v := range p.ExtraHeaders {
		if k != "" && v != "" {
			headers[k] = v
		}
	}
	return headers
}

func checkConfig(p provider.Provider) error {
	if strings.TrimSpace(p.BaseURL) == "" {
		return fmt.Errorf("%s: %w", p.ID, ErrMissingBaseURL)
	}
	if p.Auth.Type == provider.AuthHeader && p.Auth.Token == "" {
		return fmt.Errorf("%s: %w", p.ID, ErrMissingCredential)
	}
	return nil
}

// ListModels fetches the provider's model list. A missing /v1/models is
// retried against /api/tags and mapped to the same envelope.
func (c *Client) ListModels(ctx context.Context, p provider.Provider) (*api.ModelList, error) {
	if err := checkConfig(p); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	headers := Headers(p)
	var list api.ModelList
	err := c.send(ctx, http.MethodGet, p.BaseURL, PathModels, headers, nil, &list)
	if err == nil {
		if list.Object == "" {
			list.Object = "list"
		}
		return &list, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	c.logger.Debug("Falling back to native model listing", zap.String("provider_id", p.ID))
	var tags api.NativeTagsResponse
	if err := c.send(ctx, http.MethodGet, p.BaseURL, PathNativeTags, headers, nil, &tags); err != nil {
		return nil, err
	}
	out := &api.ModelList{Object: "list", Data: make([]map[string]interface{}, 0, len(tags.Models))}
	for _, m := range tags.Models {
		if m.Name == "" {
			continue
		}
		out.Data = append(out.Data, map[string]interface{}{"id": m.Name, "object": "model"})
	}
	return out, nil
}

// ChatResult is a successful chat completion in the OpenAI-compatible
// envelope. Path is the endpoint that produced it.
type ChatResult struct {
	Body json.RawMessage
	Path string
}

// ChatCompletions posts payload to /v1/chat/completions. On 404 it retries
// once against /api/chat and translates the single-message reply.
func (c *Client) ChatCompletions(ctx context.Context, p provider.Provider, payload api.Payload) (*ChatResult, error) {
	if err := checkConfig(p); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	headers := Headers(p)
	var body json.RawMessage
	err := c.send(ctx, http.MethodPost, p.BaseURL, PathChatCompletions, headers, payload, &body)
	if err == nil {
		return &ChatResult{Body: body, Path: PathChatCompletions}, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	native, err := c.nativeChat(ctx, p, headers, payload)
	if err != nil {
		return nil, err
	}
	return &ChatResult{Body: native, Path: PathNativeChat}, nil
}

// Embeddings posts payload to /v1/embeddings. There is no native fallback.
func (c *Client) Embeddings(ctx context.Context, p provider.Provider, payload api.Payload) (json.RawMessage, error) {
	if err := checkConfig(p); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	var body json.RawMessage
	if err := c.send(ctx, http.MethodPost, p.BaseURL, PathEmbeddings, Headers(p), payload, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// send handles the common logic of creating a request, sending it, and
// checking the status code. out must decode a JSON object.
func (c *Client) send(ctx context.Context, method, baseURL, path string, headers map[string]string, body interface{}, out interface{}) error {
	url := ResolveURL(baseURL, path)

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       respBody,
			URL:        url,
			Path:       path,
		}
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &probe); err != nil {
		return &DecodeError{URL: url, Err: err}
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = respBody
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &DecodeError{URL: url, Err: err}
	}
	return nil
}

// IsNetwork reports whether err is a transport-level failure, including
// context deadline expiry.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded)
}
