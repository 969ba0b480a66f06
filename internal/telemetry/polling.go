package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PollingTransport emulates the push channel with HTTP request polling.
// GET <endpoint>/events?cursor=N returns the events after cursor; POST
// <endpoint>/events carries one envelope to the backend.
type PollingTransport struct {
	Client   *http.Client
	Interval time.Duration
}

func NewPollingTransport(interval time.Duration) *PollingTransport {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingTransport{
		Client:   &http.Client{Timeout: 30 * time.Second},
		Interval: interval,
	}
}

func (t *PollingTransport) Name() string { return "polling" }

// Connect performs the first poll; a failure there means the transport is
// unavailable.
func (t *PollingTransport) Connect(ctx context.Context, endpoint string) (Conn, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	c := &pollConn{
		client:   client,
		base:     strings.TrimRight(endpointWithScheme(endpoint, "https", "http"), "/") + "/events",
		interval: t.Interval,
		closed:   make(chan struct{}),
	}

	resp, err := c.poll(ctx)
	if err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	c.cursor = resp.Cursor
	c.pending = resp.Events

	return c, nil
}

type pollConn struct {
	client   *http.Client
	base     string
	interval time.Duration

	mu      sync.Mutex
	cursor  int64
	pending []Envelope

	once   sync.Once
	closed chan struct{}
}

func (c *pollConn) poll(ctx context.Context) (*PollResponse, error) {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	u := c.base + "?" + url.Values{"cursor": {strconv.FormatInt(cursor, 10)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	var out PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding poll response: %w", err)
	}
	return &out, nil
}

func (c *pollConn) Send(ctx context.Context, event string, payload any) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", event, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("posting %s: status %d", event, resp.StatusCode)
	}
	return nil
}

// Receive returns the next buffered event, polling every interval until one
// arrives. A failed poll ends the connection.
func (c *pollConn) Receive(ctx context.Context) (Envelope, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			env := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return env, nil
		}
		c.mu.Unlock()

		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Envelope{}, ctx.Err()
		case <-c.closed:
			timer.Stop()
			return Envelope{}, ErrConnClosed
		case <-timer.C:
		}

		// Close aborts an in-flight poll.
		pollCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-c.closed:
				cancel()
			case <-pollCtx.Done():
			}
		}()
		resp, err := c.poll(pollCtx)
		cancel()
		if err != nil {
			select {
			case <-c.closed:
				return Envelope{}, ErrConnClosed
			default:
			}
			return Envelope{}, err
		}

		c.mu.Lock()
		c.cursor = resp.Cursor
		c.pending = append(c.pending, resp.Events...)
		c.mu.Unlock()
	}
}

func (c *pollConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
