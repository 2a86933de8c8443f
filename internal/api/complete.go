package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/boltchat/internal/errors"
	"github.com/diogo/boltchat/internal/models"
)

const (
	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 1 << 20
	// maxErrorBodyBytes bounds how much of an error body is kept for diagnostics
	maxErrorBodyBytes = 4096

	pathReplyContent = "choices.0.message.content"
	pathErrorMessage = "error.message"
	pathErrorString  = "error"
)

// Complete sends exactly one system message and one user message to the
// endpoint and returns the reply text. No earlier turns are sent.
//
// Business-level rejections (bad key, rate limit, ...) come back as
// *errors.APIError carrying the provider's message; a 2xx response without
// usable content yields models.FallbackReply and no error.
func (c *Client) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	cred := c.credentials.Get()
	if !cred.Present {
		return "", apierrors.ErrCredentialMissing
	}

	model := c.GetModel()
	payload, err := buildPayload(model.Name, systemPrompt, userText, c.maxTokens)
	if err != nil {
		return "", fmt.Errorf("failed to build payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range models.DefaultHeaders() {
		req.Header.Set(key, value)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Value)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", apierrors.NewTimeoutError(fmt.Sprintf("no response from %s within %s", c.endpoint, c.timeout))
		}
		return "", apierrors.NewNetworkError("complete", c.endpoint, err)
	}
	defer func() {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return "", apierrors.NewTimeoutError("reading response body")
		}
		return "", apierrors.NewNetworkError("read response", c.endpoint, err)
	}

	log.Debug().
		Str("model", model.Name).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Int("bytes", len(body)).
		Msg("completion response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody := body
		if len(errorBody) > maxErrorBodyBytes {
			errorBody = errorBody[:maxErrorBodyBytes]
		}
		return "", apierrors.NewAPIErrorWithBody(resp.StatusCode, c.endpoint, parseErrorMessage(body), string(errorBody))
	}

	return parseReply(body), nil
}

// buildPayload creates the JSON body for a chat completion request
func buildPayload(model, systemPrompt, userText string, maxTokens int) ([]byte, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		MaxTokens: maxTokens,
	}
	return json.Marshal(req)
}

// parseReply extracts the first choice's content, falling back to
// models.FallbackReply when the body is unparseable or the content empty.
func parseReply(body []byte) string {
	if !gjson.ValidBytes(body) {
		log.Warn().Int("bytes", len(body)).Msg("completion response is not valid JSON")
		return models.FallbackReply
	}

	text := strings.TrimSpace(gjson.GetBytes(body, pathReplyContent).String())
	if text == "" {
		return models.FallbackReply
	}
	return text
}

// parseErrorMessage extracts the provider's error description, or "" when
// the body carries none.
func parseErrorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	if msg := gjson.GetBytes(body, pathErrorMessage); msg.Exists() && msg.Type == gjson.String {
		return strings.TrimSpace(msg.String())
	}
	// Some compatible servers send {"error": "..."}
	if msg := gjson.GetBytes(body, pathErrorString); msg.Type == gjson.String {
		return strings.TrimSpace(msg.String())
	}
	return ""
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
