// Package chatclient connects the chatsync core to a running chat server:
// HTTPService speaks the REST API, Socket the websocket channel.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/rental-chat/internal/chatsync"
	"github.com/suPer8Hu/rental-chat/internal/common"
	"github.com/suPer8Hu/rental-chat/internal/protocol"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HTTPService implements chatsync.ChatService against the server's REST
// endpoints, authenticating with a bearer token.
type HTTPService struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

var _ chatsync.ChatService = (*HTTPService)(nil)

func NewHTTPService(baseURL, token string) *HTTPService {
	return &HTTPService{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPService) GetOrCreateSession(ctx context.Context) (protocol.SessionAcquired, error) {
	var out protocol.SessionAcquired
	err := s.do(ctx, http.MethodPost, "/chat/sessions", &out)
	return out, err
}

func (s *HTTPService) GetSessionWithMessages(ctx context.Context, sessionID string) (protocol.SessionSnapshot, error) {
	var out protocol.SessionSnapshot
	err := s.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID), &out)
	return out, err
}

func (s *HTTPService) EscalateSession(ctx context.Context, sessionID string) (protocol.Session, error) {
	var out protocol.Session
	err := s.do(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/escalate", &out)
	return out, err
}

func (s *HTTPService) EndSession(ctx context.Context, sessionID string) error {
	return s.do(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/end", nil)
}

// do issues one request and unwraps the {code, message, data} envelope into
// out. 404 and 410 become chatsync.ErrInvalidSession, 409 chatsync.ErrConflict.
func (s *HTTPService) do(ctx context.Context, method, path string, out any) error {
	if s.Client == nil {
		return errors.New("chatclient: http client is nil")
	}

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return errors.Wrapf(err, "decode %s %s (status %d)", method, path, resp.StatusCode)
		}
	}

	// Only the session codes invalidate the pointer; a 404 from a missing
	// route or a proxy is an ordinary failure.
	switch {
	case env.Code == common.CodeSessionNotFound || env.Code == common.CodeSessionEnded:
		return errors.Wrap(chatsync.ErrInvalidSession, env.Message)
	case resp.StatusCode == http.StatusConflict:
		return errors.Wrap(chatsync.ErrConflict, env.Message)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errors.Errorf("%s %s: status %d code %d: %s", method, path, resp.StatusCode, env.Code, env.Message)
	case env.Code != 0:
		return errors.Errorf("%s %s: code %d: %s", method, path, env.Code, env.Message)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s data", method, path)
	}
	return nil
}
