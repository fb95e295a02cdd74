package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// DocumentGetter returns a parsed HTML page. doc.Url holds the final URL after redirects.
type DocumentGetter interface {
	GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error)
}

// PageFetcher is the polite GET path shared by discovery and the workers:
// robots check, per-host concurrency cap, per-host delay, retrying fetch, HTML parse.
type PageFetcher struct {
	fetcher     *Fetcher
	robots      *RobotsHandler // nil when robots.txt is ignored
	rateLimiter *RateLimiter
	hostSems    *HostSemaphorePool
	userAgent   string
	delay       time.Duration
	log         *logrus.Entry
}

// NewPageFetcher wires the politeness components around client using cfg.
func NewPageFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *PageFetcher {
	fetchLog := log.WithField("component", "fetch")
	fetcher := NewFetcher(client, RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		InitialRetryDelay: cfg.InitialRetryDelay,
		MaxRetryDelay:     cfg.MaxRetryDelay,
	}, fetchLog)
	rateLimiter := NewRateLimiter(cfg.DefaultDelayPerHost, fetchLog)

	pf := &PageFetcher{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		hostSems:    NewHostSemaphorePool(cfg.MaxRequestsPerHost, fetchLog),
		userAgent:   cfg.DefaultUserAgent,
		delay:       cfg.DefaultDelayPerHost,
		log:         fetchLog,
	}
	if config.GetEffectiveRespectRobots(*cfg) {
		pf.robots = NewRobotsHandler(fetcher, rateLimiter, cfg.DefaultUserAgent, cfg.DefaultDelayPerHost, fetchLog)
	}
	return pf
}

// GetDocument fetches rawURL and parses it with goquery.
func (pf *PageFetcher) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, utils.WrapErrorf(utils.ErrParsing, "invalid URL '%s'", rawURL)
	}

	if pf.robots != nil {
		if err := pf.robots.Check(ctx, target); err != nil {
			return nil, err
		}
	}

	host := target.Host
	if err := pf.hostSems.Acquire(ctx, host); err != nil {
		return nil, err
	}
	defer pf.hostSems.Release(host)

	if err := pf.rateLimiter.ApplyDelay(ctx, host, pf.delay); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", pf.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := pf.fetcher.FetchWithRetry(ctx, req)
	pf.rateLimiter.UpdateLastRequestTime(host)
	if err != nil {
		drainAndClose(resp)
		return nil, err
	}

	// NewDocumentFromResponse closes the body and records the final URL
	doc, err := goquery.NewDocumentFromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	pf.log.WithField("url", doc.Url.String()).Trace("Parsed document")
	return doc, nil
}
