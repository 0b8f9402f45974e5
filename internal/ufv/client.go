package ufv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/nugget/ufvbridge/internal/config"
	"github.com/nugget/ufvbridge/internal/httpkit"
)

// maxResponseBytes caps how much of a response body is buffered. A
// full bootstrap for a large install is a few hundred kilobytes.
const maxResponseBytes = 16 << 20

// Client talks to one UniFi Video NVR. Authentication is the apiKey
// query parameter, injected on every request.
type Client struct {
	cfg        config.NVRConfig
	httpClient *http.Client
	logger     *slog.Logger
	maxBody    int64
}

// NewClient creates a client for the NVR described by cfg. TLS
// certificates are verified unless cfg.InsecureSkipVerify is set.
// Requests are never retried.
func NewClient(cfg config.NVRConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []httpkit.ClientOption{httpkit.WithTimeout(15 * time.Second)}
	if cfg.InsecureSkipVerify {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpkit.NewClient(opts...),
		logger:     logger.With("nvr", cfg.Label()),
		maxBody:    maxResponseBytes,
	}
}

// Config returns the NVR configuration the client was built from.
func (c *Client) Config() config.NVRConfig {
	return c.cfg
}

// buildURL assembles the request URL. The apiKey parameter is always
// present; entries in query override or extend it.
func (c *Client) buildURL(basePath, path string, query url.Values) *url.URL {
	q := url.Values{"apiKey": {c.cfg.APIKey}}
	for k, v := range query {
		q[k] = v
	}
	return &url.URL{
		Scheme:   c.cfg.Scheme(),
		Host:     net.JoinHostPort(c.cfg.APIHost, strconv.Itoa(c.cfg.APIPort)),
		Path:     basePath + path,
		RawQuery: q.Encode(),
	}
}

// Fetch performs one GET against basePath+path and decodes the JSON
// body into out. Errors are *TransportError, *HTTPStatusError or
// *DecodeError; none are retried.
func (c *Client) Fetch(ctx context.Context, basePath, path string, query url.Values, out any) error {
	u := c.buildURL(basePath, path, query)
	op := basePath + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error embeds the full URL, API key included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return &TransportError{Op: op, Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return &TransportError{Op: op, Err: fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody)}
	}

	if c.logger.Enabled(ctx, config.LevelTrace) {
		c.logger.Log(ctx, config.LevelTrace, "nvr response",
			"url", RedactURL(u),
			"bytes", len(body),
			"body", string(body),
		)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// fetchList fetches a {"data": [...]} endpoint. A missing or null
// data field is a DecodeError.
func fetchList[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var env struct {
		Data *[]T `json:"data"`
	}
	if err := c.Fetch(ctx, BasePath, path, query, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, &DecodeError{Op: BasePath + path, Err: errors.New(`response has no "data" list`)}
	}
	return *env.Data, nil
}

// Bootstrap fetches the NVR's full configuration snapshot.
func (c *Client) Bootstrap(ctx context.Context) ([]NVR, error) {
	return fetchList[NVR](ctx, c, "/bootstrap", nil)
}

// RecordingQuery selects recordings from the recording endpoint.
type RecordingQuery struct {
	Cameras []string  // camera _id values
	Causes  []string  // e.g. EventMotionRecording
	Start   time.Time // inclusive lower bound on startTime
	End     time.Time
}

// Values encodes the query the way the NVR web UI does, newest first.
func (q RecordingQuery) Values() url.Values {
	v := url.Values{
		"startTime": {strconv.FormatInt(q.Start.UnixMilli(), 10)},
		"endTime":   {strconv.FormatInt(q.End.UnixMilli(), 10)},
		"sortBy":    {"startTime"},
		"sort":      {"desc"},
	}
	for _, id := range q.Cameras {
		v.Add("cameras[]", id)
	}
	for _, cause := range q.Causes {
		v.Add("cause[]", cause)
	}
	return v
}

// Recordings fetches recordings matching q.
func (c *Client) Recordings(ctx context.Context, q RecordingQuery) ([]Recording, error) {
	return fetchList[Recording](ctx, c, "/recording", q.Values())
}

// Ping checks that the NVR answers an authenticated request. Used by
// connwatch for health monitoring.
func (c *Client) Ping(ctx context.Context) error {
	var discard json.RawMessage
	return c.Fetch(ctx, BasePath, "/server", nil, &discard)
}

// RedactURL renders u with the apiKey query parameter masked.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	if !q.Has("apiKey") {
		return u.String()
	}
	q.Set("apiKey", "REDACTED")
	cp := *u
	cp.RawQuery = q.Encode()
	return cp.String()
}

// RedactString is RedactURL for URLs held as strings. Unparseable
// input is returned unchanged.
func RedactString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return RedactURL(u)
}
