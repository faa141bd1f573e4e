// ABOUTME: HTTP invocation of remote workers through their webhook endpoint.
// ABOUTME: Synthesizes a minimal inbound-message envelope and surfaces any response body verbatim.

package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/fleet-coordinator/internal/registry"
)

// DefaultRemoteTimeout bounds the whole webhook round trip.
const DefaultRemoteTimeout = 20 * time.Second

// Envelope mimics the inbound message shape a live webhook caller would send,
// so a deployed worker cannot tell a coordinator dispatch from real traffic.
type Envelope struct {
	Message EnvelopeMessage `json:"message"`
}

// EnvelopeMessage is the message body of an Envelope.
type EnvelopeMessage struct {
	MessageID int            `json:"message_id"`
	From      EnvelopeSender `json:"from"`
	Chat      EnvelopeChat   `json:"chat"`
	Date      int64          `json:"date"`
	Text      string         `json:"text"`
}

// EnvelopeSender is the synthetic sender of a dispatched task.
type EnvelopeSender struct {
	ID        int    `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
}

// EnvelopeChat is the synthetic chat/session the task arrives in.
type EnvelopeChat struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// NewEnvelope builds the synthetic envelope for a task.
func NewEnvelope(task string) Envelope {
	return Envelope{
		Message: EnvelopeMessage{
			MessageID: 1,
			From:      EnvelopeSender{ID: 1111, IsBot: false, FirstName: "Coordinator"},
			Chat:      EnvelopeChat{ID: 123456, Type: "private"},
			Date:      time.Now().Unix(),
			Text:      task,
		},
	}
}

// Remote invokes workers over HTTP by POSTing an envelope to <url>/webhook.
type Remote struct {
	client *http.Client
	logger *slog.Logger
}

// NewRemote creates a remote invoker. A non-positive timeout falls back to
// DefaultRemoteTimeout.
func NewRemote(timeout time.Duration, logger *slog.Logger) *Remote {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Remote{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Invoke POSTs the task envelope to the worker's webhook. Any HTTP response
// is a successful invocation with the body surfaced verbatim - judging a
// non-2xx status is the caller's business, not this layer's. Network and
// timeout failures yield an error Result.
func (r *Remote) Invoke(ctx context.Context, rec *registry.Record, task string) Result {
	body, err := json.Marshal(NewEnvelope(task))
	if err != nil {
		return Result{OK: false, Source: SourceRemote, Err: fmt.Sprintf("encoding envelope: %v", err)}
	}

	url := strings.TrimRight(rec.URL, "/") + "/webhook"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{OK: false, Source: SourceRemote, Err: fmt.Sprintf("creating request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("remote invocation failed", "worker", rec.Slug, "url", url, "error", err)
		return Result{OK: false, Source: SourceRemote, Err: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{OK: false, Source: SourceRemote, Status: resp.StatusCode,
			Err: fmt.Sprintf("reading response: %v", err)}
	}

	r.logger.Debug("remote worker responded",
		"worker", rec.Slug,
		"url", url,
		"status", resp.StatusCode,
	)
	return Result{OK: true, Source: SourceRemote, Status: resp.StatusCode, Result: string(respBody)}
}
