// Package transport is the HTTP client shared by the marketplace adapters: pacing,
// retries, cookies and the anti-bot token dance live here.
package transport

import (
	"PriceScraper/internal/scraper"
	"PriceScraper/utils"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

// TokenHeader carries a fresh anti-bot token on 498 responses.
const (
	TokenHeader = "X-Wbaas-Token"
	TokenCookie = "x_wbaas_token"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxErrorBody     = 512
)

// Options configure a Client.
type Options struct {
	Timeout        time.Duration
	Retries        int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	// Cookies is a browser-copied cookie header, loaded for CookieURL.
	Cookies   string
	CookieURL string
	Gate      *AdaptiveGate
	// Secrets are masked in logged error bodies.
	Secrets []string
}

// Client sends requests with pacing and retries.
type Client struct {
	http *http.Client
	opts Options
}

// New builds a client with its own cookie jar.
func New(opts Options) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	c := &Client{
		http: &http.Client{Timeout: opts.Timeout, Jar: jar},
		opts: opts,
	}
	if opts.Cookies != "" && opts.CookieURL != "" {
		u, err := url.Parse(opts.CookieURL)
		if err != nil {
			return nil, fmt.Errorf("cookie url %q: %w", opts.CookieURL, err)
		}
		cookies := utils.ParseCookieHeader(opts.Cookies)
		jar.SetCookies(u, cookies)
		log.Printf("Loaded %d cookies for %s", len(cookies), u.Host)
	}
	return c, nil
}

// Cookies returns the cookies the jar would send to rawURL.
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.http.Jar.Cookies(u)
}

// Get fetches rawURL and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, rawURL, nil, header)
}

// PostJSON sends body as application/json.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body []byte, header http.Header) ([]byte, error) {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return c.Do(ctx, http.MethodPost, rawURL, body, h)
}

// Do sends a request, retrying transient failures with exponential backoff. The last
// failure is returned as a *scraper.StatusError or wraps scraper.ErrTransient.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		if err := c.opts.Gate.Wait(ctx); err != nil {
			return nil, err
		}

		data, retry, err := c.once(ctx, method, rawURL, body, header)
		if err == nil {
			c.opts.Gate.OnOK()
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		c.opts.Gate.OnThrottle()
		log.Printf("Attempt %d/%d failed for %s: %v", attempt+1, c.opts.Retries+1, rawURL, err)
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, rawURL string, body []byte, header http.Header) ([]byte, bool, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, false, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	for k, vs := range header {
		req.Header[k] = vs
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%s %s: %w: %w", method, rawURL, scraper.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read body of %s: %w: %w", rawURL, scraper.ErrTransient, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, false, nil
	}

	if resp.StatusCode == 498 {
		c.refreshToken(req.URL, resp.Header.Get(TokenHeader))
	}
	snippet := data
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	serr := &scraper.StatusError{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Body:       utils.RedactSecrets(string(snippet), c.opts.Secrets...),
	}
	return nil, errors.Is(serr, scraper.ErrTransient), serr
}

// refreshToken stores a token handed out with a 498 so the retry carries it.
func (c *Client) refreshToken(u *url.URL, token string) {
	if token == "" || token == "get" {
		return
	}
	c.http.Jar.SetCookies(u, []*http.Cookie{{Name: TokenCookie, Value: token, Path: "/"}})
	log.Println("Anti-bot token refreshed from response header")
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	d := c.opts.BackoffInitial * time.Duration(1<<min(attempt, 16))
	d = min(d, c.opts.BackoffMax)
	d += time.Duration(rand.Int63n(int64(c.opts.BackoffInitial)/4 + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
