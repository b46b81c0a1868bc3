package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const listenReadLimit = 8 << 20

// Client talks to a `pantry serve` process: plain HTTP for document CRUD and
// one websocket per listener.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *Client) documentURL(ref Ref) string {
	segments := strings.Split(ref.Collection, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.baseURL + "/v1/documents/" + strings.Join(segments, "/") + "/" + url.PathEscape(ref.ID)
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, apiErr.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) Get(ctx context.Context, ref Ref) (Document, error) {
	var doc Document
	status, err := c.do(ctx, http.MethodGet, c.documentURL(ref), nil, &doc)
	if status == http.StatusNotFound {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (c *Client) Set(ctx context.Context, ref Ref, data map[string]any) error {
	_, err := c.do(ctx, http.MethodPut, c.documentURL(ref), data, nil)
	return err
}

func (c *Client) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	status, err := c.do(ctx, http.MethodPatch, c.documentURL(ref), fields, nil)
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

func (c *Client) Delete(ctx context.Context, ref Ref) error {
	status, err := c.do(ctx, http.MethodDelete, c.documentURL(ref), nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) Query(ctx context.Context, q Query) ([]Document, error) {
	var docs []Document
	if _, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/query", q, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Listen opens a websocket, sends q as the first frame and delivers every
// snapshot frame to fn. A broken connection is delivered once as an error
// snapshot and ends the subscription.
func (c *Client) Listen(ctx context.Context, q Query, fn Listener) (Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/listen"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := ws.Dial(ctx, wsURL, &ws.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial listen: %w", err)
	}
	conn.SetReadLimit(listenReadLimit)

	if err := wsjson.Write(ctx, conn, q); err != nil {
		conn.Close(ws.StatusInternalError, "write query")
		return nil, fmt.Errorf("send listen query: %w", err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		defer conn.Close(ws.StatusNormalClosure, "")
		for {
			var msg ListenMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				c.logger.Warn("listen connection lost", "collection", q.Collection, "error", err)
				fn(Snapshot{Err: fmt.Errorf("listen %s: %w", q.Collection, err)})
				return
			}
			if ctx.Err() != nil {
				return
			}
			fn(msg.Snapshot())
		}
	}()

	return SubscriptionFunc(cancel), nil
}
