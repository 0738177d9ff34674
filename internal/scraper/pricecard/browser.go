package pricecard

import (
	"PriceScraper/internal/models"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	log "github.com/sirupsen/logrus"
)

// BrowserSource renders product pages in a headless browser for shops that build the
// price block client-side.
type BrowserSource struct {
	Browser     *rod.Browser
	Selectors   []string
	PageTimeout time.Duration
}

// LaunchBrowser starts a local browser. The returned func closes it.
func LaunchBrowser(headless bool) (*rod.Browser, func(), error) {
	return launchWith(launcher.New().Headless(headless), func(controlURL string) *rod.Browser {
		return rod.New().ControlURL(controlURL)
	})
}

// processLauncher is the part of *launcher.Launcher used here.
type processLauncher interface {
	Launch() (string, error)
	Kill()
}

type browserConn interface {
	Connect() error
	Close() error
}

// launchWith starts a browser process and connects to it. The process is killed when
// the connection fails so no orphaned browser is left behind.
func launchWith[B browserConn](l processLauncher, connect func(controlURL string) B) (B, func(), error) {
	var zero B
	u, err := l.Launch()
	if err != nil {
		return zero, nil, fmt.Errorf("could not launch browser: %w", err)
	}
	browser := connect(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return zero, nil, fmt.Errorf("could not connect to browser: %w", err)
	}
	return browser, func() {
		_ = browser.Close()
		l.Kill()
	}, nil
}

func (s *BrowserSource) FetchCardPrice(ctx context.Context, productURL string) (models.MinorUnits, error) {
	timeout := s.PageTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	page, err := stealth.Page(s.Browser)
	if err != nil {
		return 0, fmt.Errorf("could not open stealth page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	// random pause so consecutive pages do not hit the shop in lockstep
	pause := time.Duration(500+rand.Intn(1500)) * time.Millisecond
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(pause):
	}

	if err := page.Timeout(timeout).Navigate(productURL); err != nil {
		return 0, fmt.Errorf("failed to load page %s: %w", productURL, err)
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		return 0, fmt.Errorf("failed to wait for load of %s: %w", productURL, err)
	}
	// price widgets render after load
	_ = page.Timeout(5 * time.Second).WaitStable(500 * time.Millisecond)

	html, err := page.HTML()
	if err != nil {
		return 0, fmt.Errorf("could not read page html for %s: %w", productURL, err)
	}
	v, err := Extract(strings.NewReader(html), s.Selectors)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", productURL, err)
	}
	log.Printf("Card price %s scraped from %s", v, productURL)
	return v, nil
}
