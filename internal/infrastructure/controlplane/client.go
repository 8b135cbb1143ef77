// Package controlplane implements the REST control-plane client: room and
// breakout-room lifecycle plus membership calls. Requests run through a
// retry policy and a circuit breaker so a flapping API server degrades
// gracefully instead of hammering it.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/domain"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/internal/core/ports"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/circuitbreaker"
	apperrors "github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/errors"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/retry"
	"github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/tracing"
)

// Options configures the REST client.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	Retry          retry.Config
	Breaker        circuitbreaker.Config
}

// DefaultOptions returns the client defaults.
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:        baseURL,
		RequestTimeout: 10 * time.Second,
		Retry:          retry.DefaultConfig(),
		Breaker:        circuitbreaker.DefaultConfig(),
	}
}

// Client talks to the control-plane REST API. It implements
// ports.ControlPlane.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	token   atomic.String
	logger  *zap.Logger
}

// NewClient builds the REST client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	c := &Client{
		baseURL: opts.BaseURL,
		http:    &http.Client{Timeout: opts.RequestTimeout},
		retry:   opts.Retry,
		breaker: circuitbreaker.New(opts.Breaker),
		logger:  logger.Named("controlplane"),
	}
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		c.logger.Warn("circuit breaker state changed",
			zap.String("from", from.String()), zap.String("to", to.String()))
	})
	return c
}

// SetToken installs the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) { c.token.Store(token) }

// CreateRoom creates a room.
func (c *Client) CreateRoom(ctx context.Context, name string) (*ports.RoomInfo, error) {
	var out ports.RoomInfo
	err := c.call(ctx, http.MethodPost, "/rooms", map[string]string{"name": name}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRoom fetches one room by id.
func (c *Client) GetRoom(ctx context.Context, id domain.RoomID) (*ports.RoomInfo, error) {
	var out ports.RoomInfo
	err := c.call(ctx, http.MethodGet, "/rooms/"+url.PathEscape(string(id)), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// JoinByCode joins a room by its short code and returns the caller's
// membership plus the current roster.
func (c *Client) JoinByCode(ctx context.Context, code string, userID domain.UserID) (*ports.JoinResult, error) {
	var out ports.JoinResult
	body := map[string]string{"code": code, "user_id": string(userID)}
	if err := c.call(ctx, http.MethodPost, "/rooms/join", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Leave removes the caller's membership from a room.
func (c *Client) Leave(ctx context.Context, roomID domain.RoomID, membershipID domain.MembershipID) error {
	path := fmt.Sprintf("/rooms/%s/members/%s",
		url.PathEscape(string(roomID)), url.PathEscape(string(membershipID)))
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// ListParticipants fetches the current roster.
func (c *Client) ListParticipants(ctx context.Context, roomID domain.RoomID) ([]ports.ParticipantInfo, error) {
	var out []ports.ParticipantInfo
	path := "/rooms/" + url.PathEscape(string(roomID)) + "/participants"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSubRoom creates a breakout room under a parent.
func (c *Client) CreateSubRoom(ctx context.Context, parentID domain.RoomID, opts ports.SubRoomOptions) (*ports.SubRoomInfo, error) {
	var out ports.SubRoomInfo
	path := "/rooms/" + url.PathEscape(string(parentID)) + "/subrooms"
	if err := c.call(ctx, http.MethodPost, path, opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSubRooms fetches the breakout rooms of a parent.
func (c *Client) ListSubRooms(ctx context.Context, parentID domain.RoomID) ([]ports.SubRoomInfo, error) {
	var out []ports.SubRoomInfo
	path := "/rooms/" + url.PathEscape(string(parentID)) + "/subrooms"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSubRoom deletes one breakout room.
func (c *Client) DeleteSubRoom(ctx context.Context, parentID, subRoomID domain.RoomID) error {
	path := fmt.Sprintf("/rooms/%s/subrooms/%s",
		url.PathEscape(string(parentID)), url.PathEscape(string(subRoomID)))
	return c.call(ctx, http.MethodDelete, path, nil, nil)
}

// call issues one JSON request through the breaker and retry policy.
// Client-side errors (4xx) are terminal; only transport failures and 5xx
// responses are retried.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, span := tracing.StartSpan(ctx, "controlplane."+method+" "+path,
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			tracing.RecordError(span, err)
			return err
		}
	}

	var terminal error
	err := c.breaker.Execute(ctx, func() error {
		terminal = nil
		return retry.Retry(ctx, c.retry, func() error {
			err := c.do(ctx, method, path, payload, out)
			if err != nil && !retryable(err) {
				// report success to the retry loop and the breaker;
				// a 4xx is the caller's problem, not the server's
				terminal = err
				return nil
			}
			return err
		})
	})
	if terminal != nil {
		err = terminal
	}
	tracing.RecordError(span, err)
	return err
}

// retryable reports whether the request may succeed on another attempt:
// transport failures and 5xx responses qualify, client errors do not.
func retryable(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case apperrors.ErrCodeTransport:
		return true
	case apperrors.ErrCodeControlPlane:
		return appErr.HTTPStatus >= 500
	default:
		return false
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token.Load(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewTransportError(method+" "+path+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp, method, path)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewControlPlaneError("malformed response body", resp.StatusCode, err)
	}
	return nil
}

// statusError maps an HTTP error status to an application error. The
// response body is read for a server-provided message when present.
func statusError(resp *http.Response, method, path string) error {
	var body struct {
		Error string `json:"error"`
	}
	message := fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode)
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
		message = body.Error
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.NewAuthenticationError(message)
	case http.StatusNotFound:
		return apperrors.NewNotFoundError(message)
	default:
		return apperrors.NewControlPlaneError(message, resp.StatusCode, nil)
	}
}
