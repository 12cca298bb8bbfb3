// Package wascript is the HTTP client for the Wascript WhatsApp API.
//
// A Client performs exactly one POST per Send and classifies the reply into a
// Status. Provider failures never escape as errors or panics.
package wascript

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	logx "groupcast/pkg/logx"
)

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client. The supplied client's timeout
// is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg: cfg,
		log: log,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send delivers message to target using token and classifies the reply.
func (c *Client) Send(ctx context.Context, target, message, token string) Result {
	start := time.Now()
	res := c.send(ctx, target, message, token)
	res.Took = time.Since(start)

	c.log.Debug("wascript send",
		logx.String("target", target),
		logx.String("status", res.Status.String()),
		logx.Int("http_status", res.HTTPStatus),
		logx.Duration("took", res.Took),
	)
	return res
}

func (c *Client) send(ctx context.Context, target, message, token string) Result {
	payload, err := json.Marshal(sendBody{Phone: target, Message: message})
	if err != nil {
		return Result{Status: StatusTransportError, Detail: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(token), bytes.NewReader(payload))
	if err != nil {
		return Result{Status: StatusTransportError, Detail: fmt.Sprintf("build request: %v", redact(err, token))}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Status: StatusTransportError, Detail: redact(err, token).Error()}
	}
	defer resp.Body.Close()

	// The whole reply (up to maxDecodeBytes) is classified; only the first
	// maxBodyBytes are kept as detail.
	kept := &cappedBuffer{max: maxBodyBytes}
	br := &bodyReader{r: io.LimitReader(resp.Body, maxDecodeBytes)}
	src := io.TeeReader(br, kept)

	status := StatusTransportError
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		status = classify(src)
	}
	_, _ = io.Copy(io.Discard, src)
	if br.err != nil {
		return Result{
			Status:     StatusTransportError,
			Detail:     fmt.Sprintf("read response (status %d): %v", resp.StatusCode, redact(br.err, token)),
			HTTPStatus: resp.StatusCode,
		}
	}

	if status == StatusTransportError {
		detail := fmt.Sprintf("http status %d", resp.StatusCode)
		if b := strings.TrimSpace(kept.String()); b != "" {
			detail += ": " + truncate(b, 512)
		}
		return Result{Status: StatusTransportError, Detail: detail, HTTPStatus: resp.StatusCode}
	}
	return Result{Status: status, Detail: kept.String(), HTTPStatus: resp.StatusCode}
}

// classify decodes a 2xx body. Only a single JSON object with an explicit
// `"success": true` counts.
func classify(r io.Reader) Status {
	dec := json.NewDecoder(r)
	var rep sendReply
	if err := dec.Decode(&rep); err != nil {
		return StatusAPIRejected
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return StatusAPIRejected
	}
	if rep.Success != nil && *rep.Success {
		return StatusSuccess
	}
	return StatusAPIRejected
}

// bodyReader remembers the first read failure other than EOF.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && b.err == nil {
		b.err = err
	}
	return n, err
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }

func (c *Client) endpoint(token string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + url.PathEscape(token)
}

// redact strips the request URL (which embeds the token) from transport errors.
func redact(err error, token string) error {
	if err == nil {
		return nil
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		err = fmt.Errorf("%s: %w", strings.ToLower(ue.Op), ue.Err)
	}
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

func truncate(s string, maxN int) string {
	if len(s) <= maxN {
		return s
	}
	return s[:maxN-3] + "..."
}
