// Package osmnotes publishes voice notes as OpenStreetMap notes.
package osmnotes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/httpclient"
	"github.com/tphakala/ridenote/internal/logger"
)

const (
	DefaultEndpoint = "https://api.openstreetmap.org"
	notesPath       = "/api/0.6/notes.json"

	// maxErrorBody caps how much of an error response is kept in the message
	maxErrorBody = 512
	// maxTextLength is the server-side limit on note text
	maxTextLength = 2000
)

// Note is a created OpenStreetMap note
type Note struct {
	ID  int64
	URL string
}

// Publisher creates notes at a position
type Publisher interface {
	CreateNote(ctx context.Context, lat, lon float64, text string) (Note, error)
}

// NoteText appends the hashtag to the transcript, separated by a blank line
func NoteText(text, hashtag string) string {
	text = strings.TrimSpace(text)
	hashtag = strings.TrimSpace(hashtag)
	if hashtag == "" {
		return text
	}
	return text + "\n\n" + hashtag
}

// Client talks to the OSM API 0.6 notes endpoint with an OAuth2 bearer token
type Client struct {
	endpoint string
	webBase  string
	hashtag  string
	timeout  time.Duration
	http     *httpclient.Client
	limiter  *rate.Limiter
	log      logger.Logger
}

// Option configures a Client
type Option func(*httpclient.Config)

// WithTransport replaces the network transport, used by tests
func WithTransport(rt http.RoundTripper) Option {
	return func(c *httpclient.Config) { c.Transport = rt }
}

// NewClient builds a client from the OSM settings
func NewClient(cfg conf.OSMSettings, opts ...Option) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.Newf("OSM OAuth2 token is not configured").
			Component("osmnotes").
			Category(errors.CategoryConfiguration).
			Build()
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, errors.Newf("invalid OSM endpoint %q", cfg.Endpoint).
			Component("osmnotes").
			Category(errors.CategoryConfiguration).
			Build()
	}

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	hcfg := httpclient.Config{
		DefaultTimeout: cfg.Timeout,
		Wrap: func(base http.RoundTripper) http.RoundTripper {
			return &oauth2.Transport{Source: tokens, Base: base}
		},
	}
	for _, opt := range opts {
		opt(&hcfg)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		endpoint: endpoint,
		webBase:  webBase(u),
		hashtag:  cfg.Hashtag,
		timeout:  cfg.Timeout,
		http:     httpclient.New(&hcfg),
		limiter:  rate.NewLimiter(limit, 1),
		log:      logger.Global().Module("osmnotes"),
	}, nil
}

// webBase maps the API host to the site that renders notes
func webBase(api *url.URL) string {
	host := api.Host
	if host == "api.openstreetmap.org" {
		host = "www.openstreetmap.org"
	}
	return api.Scheme + "://" + host
}

// NoteURL returns the browser URL of a note
func (c *Client) NoteURL(id int64) string {
	return c.webBase + "/note/" + strconv.FormatInt(id, 10)
}

// HTTPClient returns the shared client so callers can attach metrics hooks
func (c *Client) HTTPClient() *httpclient.Client { return c.http }

// CreateNote posts a new note. The configured hashtag is appended to text.
func (c *Client) CreateNote(ctx context.Context, lat, lon float64, text string) (Note, error) {
	if !datastore.ValidCoordinates(lat, lon) {
		return Note{}, errors.Newf("invalid coordinates %v,%v", lat, lon).
			Component("osmnotes").
			Category(errors.CategoryValidation).
			Build()
	}
	body := NoteText(text, c.hashtag)
	if strings.TrimSpace(text) == "" {
		return Note{}, errors.Newf("note text is empty").
			Component("osmnotes").
			Category(errors.CategoryValidation).
			Build()
	}
	if len([]rune(body)) > maxTextLength {
		body = string([]rune(body)[:maxTextLength])
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Note{}, errors.New(err).
			Component("osmnotes").
			Category(errors.CategoryCancellation).
			Build()
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("text", body)
	reqURL := c.endpoint + notesPath + "?" + q.Encode()

	start := time.Now()
	resp, err := c.http.Post(ctx, reqURL, "", nil)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			category = errors.CategoryTimeout
		}
		return Note{}, errors.New(err).
			Component("osmnotes").
			Category(category).
			NetworkContext(c.endpoint+notesPath, c.timeout).
			Timing("create_note", time.Since(start)).
			Build()
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Note{}, errors.New(err).
			Component("osmnotes").
			Category(errors.CategoryNetwork).
			Build()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Note{}, c.statusError(resp, data)
	}

	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return Note{}, c.parseError(err)
	}
	id, err := obj.GetInt64("properties", "id")
	if err != nil {
		return Note{}, c.parseError(err)
	}

	note := Note{ID: id, URL: c.NoteURL(id)}
	c.log.Info("note created",
		logger.Int64("id", id),
		logger.String("url", note.URL),
		logger.Duration("elapsed", time.Since(start)))
	return note, nil
}

func (c *Client) parseError(err error) error {
	return errors.New(fmt.Errorf("unexpected notes response: %w", err)).
		Component("osmnotes").
		Category(errors.CategoryOSMUpload).
		Build()
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// statusError turns a non-2xx answer into a readable error. The API answers
// plain text for most failures and HTML from the proxy in front of it.
func (c *Client) statusError(resp *http.Response, body []byte) error {
	msg := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		msg = html2text.HTML2Text(msg)
	}
	msg = strings.Join(strings.Fields(msg), " ")
	msg = truncateRunes(msg, maxErrorBody)

	b := errors.Newf("OSM API returned %d: %s", resp.StatusCode, msg).
		Component("osmnotes").
		Category(errors.CategoryOSMUpload).
		Context("status_code", resp.StatusCode)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		b = b.Priority(errors.PriorityHigh)
	}
	return b.Build()
}
