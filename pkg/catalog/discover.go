// Package catalog discovers crawl targets from the bible.com version listing.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/fetch"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/parallel"
	"github.com/Sriram-PR/biblecom-crawler/pkg/parse"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// Discoverer walks the two-level language -> translation hierarchy
type Discoverer struct {
	getter      fetch.DocumentGetter
	base        *url.URL
	versionsURL string
	parallelism int
	log         *logrus.Entry
}

// NewDiscoverer builds a discoverer for cfg.Catalog; cfg must already be validated.
func NewDiscoverer(getter fetch.DocumentGetter, cfg *config.AppConfig, log *logrus.Entry) (*Discoverer, error) {
	base, err := url.Parse(cfg.Catalog.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: catalog base_url '%s' is not an absolute URL", utils.ErrConfigValidation, cfg.Catalog.BaseURL)
	}
	return &Discoverer{
		getter:      getter,
		base:        base,
		versionsURL: cfg.VersionsURL(),
		parallelism: cfg.NumWorkers,
		log:         log.WithField("component", "catalog"),
	}, nil
}

// versionCandidate is a translation found on the listing, before its content page is known
type versionCandidate struct {
	versionURL string
	target     models.CrawlTarget
}

// Discover returns every resolvable target keyed by its content-page URL.
// Only a failure to fetch the top-level listing is an error; candidates whose
// version page fails or has no content link are dropped.
func (d *Discoverer) Discover(ctx context.Context) (map[string]models.CrawlTarget, error) {
	candidates, err := d.listVersions(ctx)
	if err != nil {
		return nil, err
	}
	d.log.Infof("Found %d translation links on %s", len(candidates), d.versionsURL)

	lastLogged := 0
	results, err := parallel.Map(ctx, d.parallelism, candidates,
		func(c versionCandidate) string { return c.versionURL },
		func(ctx context.Context, c versionCandidate) (string, error) {
			return d.findContentPageURL(ctx, c.versionURL)
		},
		parallel.WithProgress(func(done, total int) {
			if done == total || done-lastLogged >= 100 {
				lastLogged = done
				d.log.Infof("Resolved %d/%d version pages", done, total)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	targets := make(map[string]models.CrawlTarget, len(results))
	dropped := 0
	for _, c := range candidates {
		res, ok := results[c.versionURL]
		if !ok || res.Err != nil {
			dropped++
			if ok {
				d.log.WithFields(logrus.Fields{"url": c.versionURL, "error_type": utils.CategorizeError(res.Err)}).
					Debugf("Dropping translation: %v", res.Err)
			}
			continue
		}
		target := c.target
		target.URL = res.Value
		if _, dup := targets[target.URL]; dup {
			continue
		}
		targets[target.URL] = target
	}
	// The listing page itself is never a target
	delete(targets, d.versionsURL)

	d.log.WithFields(logrus.Fields{"targets": len(targets), "dropped": dropped}).Info("Catalog discovery finished")
	return targets, nil
}

// listVersions parses the listing: each language anchor is followed by sibling version anchors.
func (d *Discoverer) listVersions(ctx context.Context) ([]versionCandidate, error) {
	doc, err := d.getter.GetDocument(ctx, d.versionsURL)
	if err != nil {
		return nil, fmt.Errorf("fetching version listing %s: %w", d.versionsURL, err)
	}

	var candidates []versionCandidate
	seen := make(map[string]struct{})
	doc.Find(`a[href^="` + parse.LanguagesPrefix + `"]`).Each(func(_ int, lang *goquery.Selection) {
		href, _ := lang.Attr("href")
		iso, ok := parse.LanguageISOFromHref(href)
		if !ok {
			return
		}
		name := strings.TrimSpace(lang.Text())

		for sib := lang.Next(); sib.Length() > 0; sib = sib.Next() {
			vhref, _ := sib.Attr("href")
			if !strings.HasPrefix(vhref, parse.VersionsPrefix) {
				break
			}
			link, errLink := parse.ParseVersionHref(vhref)
			if errLink != nil {
				d.log.WithField("href", vhref).Debugf("Skipping version link: %v", errLink)
				continue
			}
			versionURL, errURL := parse.ResolveHref(d.base, vhref)
			if errURL != nil {
				continue
			}
			if _, dup := seen[versionURL]; dup {
				continue
			}
			seen[versionURL] = struct{}{}
			candidates = append(candidates, versionCandidate{
				versionURL: versionURL,
				target: models.CrawlTarget{
					LanguageISO:   iso,
					Description:   link.Description,
					Year:          link.Year,
					LanguageName:  name,
					TranslationID: link.TranslationID,
				},
			})
		}
	})
	return candidates, nil
}

// findContentPageURL returns the first /bible/ link rendered as a button on a version page
func (d *Discoverer) findContentPageURL(ctx context.Context, versionURL string) (string, error) {
	doc, err := d.getter.GetDocument(ctx, versionURL)
	if err != nil {
		return "", err
	}
	var found string
	doc.Find(`a[href^="` + parse.BiblePrefix + `"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if role, _ := a.Attr("role"); role != "button" {
			return true
		}
		href, _ := a.Attr("href")
		abs, errURL := parse.ResolveHref(d.base, href)
		if errURL != nil {
			return true
		}
		found = abs
		return false
	})
	if found == "" {
		return "", fmt.Errorf("%w: %s", utils.ErrContentPageNotFound, versionURL)
	}
	return found, nil
}

// Refresh rediscovers the catalog and overwrites store with it.
// On a discovery error the store is left untouched.
func (d *Discoverer) Refresh(ctx context.Context, store storage.TargetStore) ([]models.CrawlTarget, error) {
	found, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	targets := SortedTargets(found)
	if err := store.Replace(ctx, targets); err != nil {
		return nil, err
	}
	d.log.Infof("Target store %s refreshed with %d targets", store.Path(), len(targets))
	return targets, nil
}

// SortedTargets flattens a discovery result in (iso, trans_ID, url) order
func SortedTargets(found map[string]models.CrawlTarget) []models.CrawlTarget {
	targets := make([]models.CrawlTarget, 0, len(found))
	for _, t := range found {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if a.LanguageISO != b.LanguageISO {
			return a.LanguageISO < b.LanguageISO
		}
		if a.TranslationID != b.TranslationID {
			return a.TranslationID < b.TranslationID
		}
		return a.URL < b.URL
	})
	return targets
}
