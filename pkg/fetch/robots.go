package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// RobotsHandler fetches, caches and evaluates robots.txt per host.
// A host whose robots.txt cannot be fetched or parsed is treated as allow-all.
type RobotsHandler struct {
	fetcher     *Fetcher
	rateLimiter *RateLimiter
	userAgent   string
	delay       time.Duration

	cache   map[string]*robotstxt.RobotsData // host -> parsed data (nil = allow all)
	cacheMu sync.Mutex
	log     *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, rateLimiter *RateLimiter, userAgent string, delay time.Duration, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		userAgent:   userAgent,
		delay:       delay,
		cache:       make(map[string]*robotstxt.RobotsData),
		log:         log,
	}
}

// GetRobotsData returns the parsed robots.txt for the target's host, fetching it on first use
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host

	rh.cacheMu.Lock()
	data, found := rh.cache[host]
	rh.cacheMu.Unlock()
	if found {
		return data
	}

	data = rh.fetchRobots(ctx, target)

	// A cancelled fetch is not cached so the next caller can try again
	if ctx.Err() != nil {
		return data
	}
	rh.cacheMu.Lock()
	rh.cache[host] = data
	rh.cacheMu.Unlock()
	return data
}

func (rh *RobotsHandler) fetchRobots(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: target.Host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithField("robots_url", robotsURL)
	robotsLog.Info("Fetching robots.txt...")

	if err := rh.rateLimiter.ApplyDelay(ctx, target.Host, rh.delay); err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rh.userAgent)

	resp, err := rh.fetcher.FetchWithRetry(ctx, req)
	rh.rateLimiter.UpdateLastRequestTime(target.Host)
	if err != nil {
		drainAndClose(resp)
		robotsLog.Warnf("robots.txt unavailable, allowing all: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Errorf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Debug("Parsed robots.txt")
	return data
}

// Check returns ErrRobotsDisallowed if the user agent may not fetch target
func (rh *RobotsHandler) Check(ctx context.Context, target *url.URL) error {
	data := rh.GetRobotsData(ctx, target)
	if data == nil {
		return nil
	}
	if !data.TestAgent(target.RequestURI(), rh.userAgent) {
		return fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, target.String())
	}
	return nil
}
