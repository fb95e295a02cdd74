package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/fetch"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/storage"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const listingHTML = `<html><body><div class="langs">
<a href="/languages/eng">English</a>
<a href="/versions/1-kjv-king-james-version">KJV</a>
<a href="/versions/12-asv-1901">ASV</a>
<a href="/languages/zh_TW"> 繁體中文 </a>
<a href="/versions/46-cunp">CUNP</a>
<span>separator</span>
<a href="/versions/47-unreachable">never walked</a>
<a href="/languages/xyz">No Translations</a>
<a href="/languages/deu">Deutsch</a>
<a href="/versions/77-missing-button">LUT</a>
<a href="/versions/88-gone">gone</a>
<a href="/versions/99-loop">loop</a>
</div></body></html>`

func newCatalogServer(t *testing.T, listingStatus int) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/versions/1-kjv-king-james-version": `<a href="/bible/1/GEN.INTRO1.KJV">intro</a><a role="button" href="/bible/1/GEN.1.KJV">Read</a>`,
		"/versions/12-asv-1901":              `<a role="button" href="/bible/12/GEN.1.ASV">Read</a>`,
		"/versions/46-cunp":                  `<a role="button" href="/bible/46/GEN.1.CUNP?x=1">Read</a>`,
		"/versions/77-missing-button":        `<a href="/bible/77/GEN.1.LUT">Read</a>`,
		"/versions/99-loop":                  `<a role="button" href="/bible/../versions">Back</a>`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/versions", func(w http.ResponseWriter, r *http.Request) {
		if listingStatus != http.StatusOK {
			w.WriteHeader(listingStatus)
			return
		}
		fmt.Fprint(w, listingHTML)
	})
	for path, body := range pages {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "<html><body>%s</body></html>", body)
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestDiscoverer(t *testing.T, server *httptest.Server) *Discoverer {
	t.Helper()
	respectRobots := false
	cfg := &config.AppConfig{
		NumWorkers:         4,
		MaxRequestsPerHost: 4,
		DefaultUserAgent:   "test-agent",
		RespectRobots:      &respectRobots,
		Catalog:            config.CatalogConfig{BaseURL: server.URL, VersionsPath: "/versions"},
	}
	getter := fetch.NewPageFetcher(&http.Client{Timeout: 5 * time.Second}, cfg, testLogger())
	d, err := NewDiscoverer(getter, cfg, testLogger())
	require.NoError(t, err)
	return d
}

func TestDiscover(t *testing.T) {
	server := newCatalogServer(t, http.StatusOK)
	d := newTestDiscoverer(t, server)

	found, err := d.Discover(context.Background())
	require.NoError(t, err)

	want := map[string]models.CrawlTarget{
		server.URL + "/bible/1/GEN.1.KJV": {
			URL: server.URL + "/bible/1/GEN.1.KJV", LanguageISO: "eng", Description: "kjv king james version",
			LanguageName: "English", TranslationID: 1,
		},
		server.URL + "/bible/12/GEN.1.ASV": {
			URL: server.URL + "/bible/12/GEN.1.ASV", LanguageISO: "eng", Description: "asv 1901", Year: 1901,
			LanguageName: "English", TranslationID: 12,
		},
		server.URL + "/bible/46/GEN.1.CUNP": {
			URL: server.URL + "/bible/46/GEN.1.CUNP", LanguageISO: "zh_TW", Description: "cunp",
			LanguageName: "繁體中文", TranslationID: 46,
		},
	}
	assert.Equal(t, want, found)
	assert.NotContains(t, found, server.URL+"/versions", "listing page must never become a target")
}

func TestDiscover_ListingFailure(t *testing.T) {
	server := newCatalogServer(t, http.StatusInternalServerError)
	d := newTestDiscoverer(t, server)

	_, err := d.Discover(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrServerHTTPError)
}

func TestDiscover_CancelledContext(t *testing.T) {
	server := newCatalogServer(t, http.StatusOK)
	d := newTestDiscoverer(t, server)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Discover(ctx)
	assert.Error(t, err)
}

func TestNewDiscoverer_RejectsRelativeBase(t *testing.T) {
	cfg := &config.AppConfig{Catalog: config.CatalogConfig{BaseURL: "/relative", VersionsPath: "/versions"}}
	_, err := NewDiscoverer(nil, cfg, testLogger())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestRefresh(t *testing.T) {
	server := newCatalogServer(t, http.StatusOK)
	d := newTestDiscoverer(t, server)
	store := storage.NewTSVTargetStore(filepath.Join(t.TempDir(), "meta", "biblecom.tsv"), testLogger())

	targets, err := d.Refresh(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, []int{1, 12, 46}, []int{targets[0].TranslationID, targets[1].TranslationID, targets[2].TranslationID})

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, targets, loaded)
}

func TestRefresh_FailureKeepsStore(t *testing.T) {
	server := newCatalogServer(t, http.StatusInternalServerError)
	d := newTestDiscoverer(t, server)
	path := filepath.Join(t.TempDir(), "biblecom.tsv")
	require.NoError(t, os.WriteFile(path, []byte("url\tlanguage_iso\ttrans_ID\nhttps://x/bible/5/A\teng\t5\n"), 0644))
	store := storage.NewTSVTargetStore(path, testLogger())

	_, err := d.Refresh(context.Background(), store)
	require.Error(t, err)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 5, loaded[0].TranslationID)
}

func TestSortedTargets(t *testing.T) {
	got := SortedTargets(map[string]models.CrawlTarget{
		"c": {URL: "c", LanguageISO: "eng", TranslationID: 2},
		"a": {URL: "a", LanguageISO: "deu", TranslationID: 9},
		"b": {URL: "b", LanguageISO: "eng", TranslationID: 1},
	})
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].URL, got[1].URL, got[2].URL})
}
