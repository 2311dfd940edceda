package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/tullo/chats/internal/models"
)

const (
	// DefaultTimeout caps a single backend call
	DefaultTimeout = 10 * time.Second

	// DefaultRetries bounds retries of idempotent calls
	DefaultRetries = 3
)

// Backend is the REST collaborator of the chat client
type Backend interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetThread(ctx context.Context, conversationID string) (*models.Thread, error)
	SendMessage(ctx context.Context, otherUserID, body string) (*models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkConversation(ctx context.Context, conversationID, action string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	BlockUser(ctx context.Context, userID string) error
	UnblockUser(ctx context.Context, userID string) error
	ListBlocked(ctx context.Context) ([]models.BlockedUser, error)
	SearchUsers(ctx context.Context, q string) ([]models.User, error)
}

// TransportParams configures an HTTPTransport
type TransportParams struct {
	BaseURL string
	Token   string

	// Timeout caps every call including retries. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries bounds retries of idempotent calls on transport failures.
	// Zero means DefaultRetries.
	MaxRetries uint64

	// HTTPClient defaults to a plain http.Client
	HTTPClient *http.Client
}

// HTTPTransport talks to the chat backend over HTTP
type HTTPTransport struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxRetries uint64
	client     *http.Client
	newBackOff func() backoff.BackOff
}

// NewHTTPTransport builds a transport for the backend at params.BaseURL
func NewHTTPTransport(params TransportParams) (*HTTPTransport, error) {
	u, err := url.Parse(params.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", params.BaseURL)
	}

	t := &HTTPTransport{
		baseURL:    strings.TrimRight(params.BaseURL, "/"),
		token:      params.Token,
		timeout:    params.Timeout,
		maxRetries: params.MaxRetries,
		client:     params.HTTPClient,
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.maxRetries == 0 {
		t.maxRetries = DefaultRetries
	}
	if t.client == nil {
		t.client = &http.Client{}
	}
	t.newBackOff = func() backoff.BackOff {
		return backoff.NewExponentialBackOff()
	}
	return t, nil
}

// WebsocketURL returns the push channel address for the backend
func (t *HTTPTransport) WebsocketURL() string {
	u, _ := url.Parse(t.baseURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {t.token}}.Encode()
	return u.String()
}

// call describes one backend request
type call struct {
	method     string
	path       string
	body       interface{}
	idempotent bool
}

// errorBody is the error shape of the backend
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// do runs a call and returns the raw response body of a 2xx answer
func (t *HTTPTransport) do(ctx context.Context, c call) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var payload []byte
	if c.body != nil {
		var err error
		if payload, err = json.Marshal(c.body); err != nil {
			return nil, newError(ValidationFailure, "failed to encode request", err)
		}
	}

	var result []byte
	operation := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, c.method, t.baseURL+c.path, body)
		if err != nil {
			return backoff.Permanent(newError(TransportFailure, "failed to build request", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return t.transportError(ctx, c, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return t.transportError(ctx, c, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result = data
			return nil
		}

		apiErr := statusError(resp.StatusCode, data)
		if resp.StatusCode >= 500 && c.idempotent {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	b := backoff.WithMaxRetries(t.newBackOff(), t.maxRetries)
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		jww.DEBUG.Printf("[CHAT] %s %s failed, retrying in %s: %v", c.method, c.path, wait, err)
	})
	if err != nil {
		var e *Error
		if !errors.As(err, &e) {
			// the retry loop gave up on the context
			return nil, newError(TransportFailure, "request timed out", err)
		}
		return nil, err
	}
	return result, nil
}

// transportError classifies a failure without a response. Non-idempotent
// calls are never retried since the backend may have acted on them.
func (t *HTTPTransport) transportError(ctx context.Context, c call, err error) error {
	e := newError(TransportFailure, "backend unreachable", err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.Message = "request timed out"
	}
	if !c.idempotent || ctx.Err() != nil {
		return backoff.Permanent(e)
	}
	return e
}

func statusError(status int, data []byte) *Error {
	var body errorBody
	_ = json.Unmarshal(data, &body)

	e := &Error{
		Kind:    kindForStatus(status),
		Status:  status,
		Message: body.Error,
	}
	if body.Detail != "" {
		e.Message = body.Detail
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if e.Kind == PolicyRejection {
		e.Direction = models.Direction(body.Code)
	}
	return e
}

func (t *HTTPTransport) getJSON(ctx context.Context, path string, out interface{}) error {
	data, err := t.do(ctx, call{method: http.MethodGet, path: path, idempotent: true})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newError(TransportFailure, "invalid backend response", err)
	}
	return nil
}

func (t *HTTPTransport) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	if err := t.getJSON(ctx, "/chats/conversations/", &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// GetThread accepts the envelope and a plain message list
func (t *HTTPTransport) GetThread(ctx context.Context, conversationID string) (*models.Thread, error) {
	data, err := t.do(ctx, call{
		method:     http.MethodGet,
		path:       "/chats/conversations/" + url.PathEscape(conversationID) + "/chats",
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeThread(data)
}

func decodeThread(data []byte) (*models.Thread, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var messages []models.Message
		if err := json.Unmarshal(trimmed, &messages); err != nil {
			return nil, newError(TransportFailure, "invalid thread response", err)
		}
		return &models.Thread{Messages: messages, Status: models.ConversationActive}, nil
	}

	var thread models.Thread
	if err := json.Unmarshal(trimmed, &thread); err != nil {
		return nil, newError(TransportFailure, "invalid thread response", err)
	}
	if thread.Status == "" {
		thread.Status = models.ConversationActive
	}
	return &thread, nil
}

func (t *HTTPTransport) SendMessage(ctx context.Context, otherUserID, body string) (*models.Message, error) {
	data, err := t.do(ctx, call{
		method: http.MethodPost,
		path:   "/chats/create/",
		body:   models.SendMessageRequest{OtherUserID: otherUserID, Message: body},
	})
	if err != nil {
		return nil, err
	}

	var message models.Message
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, newError(TransportFailure, "invalid send response", err)
	}
	return &message, nil
}

func (t *HTTPTransport) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := t.do(ctx, call{
		method:     http.MethodDelete,
		path:       "/chats/" + url.PathEscape(messageID) + "/delete",
		idempotent: true,
	})
	return err
}

func (t *HTTPTransport) MarkConversation(ctx context.Context, conversationID, action string) error {
	_, err := t.do(ctx, call{
		method:     http.MethodPost,
		path:       "/chats/conversations/" + url.PathEscape(conversationID) + "/status?action=" + url.QueryEscape(action),
		idempotent: true,
	})
	return err
}

func (t *HTTPTransport) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := t.do(ctx, call{
		method:     http.MethodDelete,
		path:       "/chats/conversations/" + url.PathEscape(conversationID) + "/delete",
		idempotent: true,
	})
	return err
}

func (t *HTTPTransport) BlockUser(ctx context.Context, userID string) error {
	_, err := t.do(ctx, call{
		method:     http.MethodPost,
		path:       "/chats/users/" + url.PathEscape(userID) + "/block/",
		idempotent: true,
	})
	return err
}

func (t *HTTPTransport) UnblockUser(ctx context.Context, userID string) error {
	_, err := t.do(ctx, call{
		method:     http.MethodPost,
		path:       "/chats/users/" + url.PathEscape(userID) + "/unblock/",
		idempotent: true,
	})
	return err
}

func (t *HTTPTransport) ListBlocked(ctx context.Context) ([]models.BlockedUser, error) {
	var blocked []models.BlockedUser
	if err := t.getJSON(ctx, "/chats/users/blocked/", &blocked); err != nil {
		return nil, err
	}
	return blocked, nil
}

func (t *HTTPTransport) SearchUsers(ctx context.Context, q string) ([]models.User, error) {
	var users []models.User
	if err := t.getJSON(ctx, "/chats/users/search/?q="+url.QueryEscape(q), &users); err != nil {
		return nil, err
	}
	return users, nil
}
