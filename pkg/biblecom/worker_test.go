package biblecom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/fetch"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

func chapterPage(verses, next string) string {
	nav := ""
	if next != "" {
		nav = fmt.Sprintf(`<a data-testid="next-chapter" href="%s">Next</a>`, next)
	}
	return "<html><body><div class=\"chapter\">" + verses + "</div>" + nav + "</body></html>"
}

func verseSpan(ref, label, content string) string {
	return fmt.Sprintf(`<span class="verse" data-usfm="%s"><span class="label">%s</span><span class="content">%s</span></span>`, ref, label, content)
}

// newBibleServer serves pages keyed by path; unknown paths are 404
func newBibleServer(t *testing.T, pages map[string]string, statuses map[string]int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := statuses[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestWorker(t *testing.T, mutate func(*config.AppConfig)) (*Worker, *config.AppConfig) {
	t.Helper()
	respectRobots := false
	cfg := &config.AppConfig{
		OutputDir:     t.TempDir(),
		NumWorkers:    2,
		RespectRobots: &respectRobots,
	}
	if mutate != nil {
		mutate(cfg)
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	getter := fetch.NewPageFetcher(&http.Client{Timeout: 5 * time.Second}, cfg, testLogger())
	return NewWorker(getter, cfg, testLogger()), cfg
}

func genesisPages() map[string]string {
	return map[string]string{
		"/bible/1/GEN.1.KJV": chapterPage(
			verseSpan("GEN.1.1", "1", "In the <em>beginning</em> God created")+
				verseSpan("GEN.1.2", "2", "And the earth was")+
				`<p>`+verseSpan("GEN.1.2", "", "without form,\n\tand void.")+`</p>`,
			"/bible/1/GEN.2.KJV"),
		"/bible/1/GEN.2.KJV": chapterPage(
			verseSpan("GEN.2.1", "1", `Thus the heavens<a href="#note">a</a>`),
			"/bible/2/EXO.1.OTHER"),
		"/bible/2/EXO.1.OTHER": chapterPage(verseSpan("EXO.1.1", "1", "other translation"), ""),
	}
}

func TestFetchTarget_Success(t *testing.T) {
	server := newBibleServer(t, genesisPages(), nil)
	worker, cfg := newTestWorker(t, nil)

	target := models.CrawlTarget{URL: server.URL + "/bible/1/GEN.1.KJV", LanguageISO: "eng", TranslationID: 1}
	artifactPath := filepath.Join(cfg.OutputDir, "eng_1.biblecom.txt")

	outcome := worker.FetchTarget(context.Background(), target, artifactPath)
	require.NoError(t, outcome.Err)
	assert.Equal(t, models.FetchStatusSuccess, outcome.Status)
	assert.Equal(t, 3, outcome.Verses)
	assert.Equal(t, models.ArtifactKey{LanguageISO: "eng", TranslationID: 1}, outcome.Key)

	data, err := os.ReadFile(artifactPath)
	require.NoError(t, err)
	assert.Equal(t,
		"GEN.1.1\tIn the beginning God created\n"+
			"GEN.1.2\tAnd the earth was without form, and void.\n"+
			"GEN.2.1\tThus the heavensa\n",
		string(data))

	staged, err := os.ReadDir(cfg.IntermediateDir())
	require.NoError(t, err)
	assert.Empty(t, staged, "staging directory should be empty after a successful target")
}

func TestFetchTarget_FirstChapterNotFoundIsPermanent(t *testing.T) {
	server := newBibleServer(t, genesisPages(), nil)
	worker, cfg := newTestWorker(t, nil)

	target := models.CrawlTarget{URL: server.URL + "/bible/9/GEN.1.NONE", LanguageISO: "eng", TranslationID: 9}
	artifactPath := filepath.Join(cfg.OutputDir, "eng_9.biblecom.txt")

	outcome := worker.FetchTarget(context.Background(), target, artifactPath)
	require.Error(t, outcome.Err)
	assert.ErrorIs(t, outcome.Err, utils.ErrClientHTTPError)
	assert.Equal(t, models.FetchStatusPermanentFailure, outcome.Status)
	assert.NoFileExists(t, artifactPath)
}

func TestFetchTarget_LaterChapterFailureIsTransient(t *testing.T) {
	server := newBibleServer(t, genesisPages(), map[string]int{"/bible/1/GEN.2.KJV": http.StatusNotFound})
	worker, cfg := newTestWorker(t, nil)

	target := models.CrawlTarget{URL: server.URL + "/bible/1/GEN.1.KJV", LanguageISO: "eng", TranslationID: 1}
	artifactPath := filepath.Join(cfg.OutputDir, "eng_1.biblecom.txt")

	outcome := worker.FetchTarget(context.Background(), target, artifactPath)
	require.Error(t, outcome.Err)
	assert.Equal(t, models.FetchStatusTransientFailure, outcome.Status)
	assert.NoFileExists(t, artifactPath, "partial crawl must not look complete")

	staged, err := os.ReadDir(cfg.IntermediateDir())
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestFetchTarget_ServerErrorIsTransient(t *testing.T) {
	server := newBibleServer(t, genesisPages(), map[string]int{"/bible/1/GEN.1.KJV": http.StatusBadGateway})
	worker, cfg := newTestWorker(t, nil)

	target := models.CrawlTarget{URL: server.URL + "/bible/1/GEN.1.KJV", LanguageISO: "eng", TranslationID: 1}
	outcome := worker.FetchTarget(context.Background(), target, filepath.Join(cfg.OutputDir, "eng_1.biblecom.txt"))
	assert.Equal(t, models.FetchStatusTransientFailure, outcome.Status)
	assert.ErrorIs(t, outcome.Err, utils.ErrServerHTTPError)
}

func TestFetchTarget_NoVersesIsTransient(t *testing.T) {
	pages := map[string]string{"/bible/5/GEN.1.X": chapterPage("<p>Loading...</p>", "")}
	server := newBibleServer(t, pages, nil)
	worker, cfg := newTestWorker(t, nil)

	target := models.CrawlTarget{URL: server.URL + "/bible/5/GEN.1.X", LanguageISO: "eng", TranslationID: 5}
	artifactPath := filepath.Join(cfg.OutputDir, "eng_5.biblecom.txt")

	outcome := worker.FetchTarget(context.Background(), target, artifactPath)
	assert.ErrorIs(t, outcome.Err, utils.ErrNoVerses)
	assert.Equal(t, models.FetchStatusTransientFailure, outcome.Status)
	assert.NoFileExists(t, artifactPath)
}

func TestFetchTarget_OverwritesExistingArtifact(t *testing.T) {
	server := newBibleServer(t, genesisPages(), nil)
	worker, cfg := newTestWorker(t, nil)

	artifactPath := filepath.Join(cfg.OutputDir, "eng_1.biblecom.txt")
	require.NoError(t, os.WriteFile(artifactPath, []byte("stale\n"), 0644))

	target := models.CrawlTarget{URL: server.URL + "/bible/1/GEN.1.KJV", LanguageISO: "eng", TranslationID: 1}
	outcome := worker.FetchTarget(context.Background(), target, artifactPath)
	require.NoError(t, outcome.Err)

	data, err := os.ReadFile(artifactPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")
}

func TestWalk_StopsOnLoopAndCap(t *testing.T) {
	pages := map[string]string{
		"/bible/1/A.1.X": chapterPage(verseSpan("A.1.1", "1", "a"), "/bible/1/A.2.X"),
		"/bible/1/A.2.X": chapterPage(verseSpan("A.2.1", "1", "b"), "/bible/1/A.1.X"),
	}
	server := newBibleServer(t, pages, nil)

	t.Run("loop", func(t *testing.T) {
		worker, _ := newTestWorker(t, nil)
		chapters, err := worker.Walk(context.Background(), server.URL+"/bible/1/A.1.X", func(string, []Verse) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, 2, chapters)
	})

	t.Run("cap", func(t *testing.T) {
		worker, _ := newTestWorker(t, func(c *config.AppConfig) { c.Extractor.MaxChapters = 1 })
		chapters, err := worker.Walk(context.Background(), server.URL+"/bible/1/A.1.X", func(string, []Verse) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, 1, chapters)
	})
}

func TestWalk_CancelledContext(t *testing.T) {
	worker, _ := newTestWorker(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := worker.Walk(ctx, "http://127.0.0.1:1/bible/1/A.1.X", func(string, []Verse) error { return nil })
	require.Error(t, err)
	assert.Equal(t, models.FetchStatusTransientFailure, utils.ClassifyFetchError(err))
}

func TestExtractVerses_KeepEmphasis(t *testing.T) {
	html := chapterPage(verseSpan("GEN.1.1", "1", "In the <i>beginning</i>"), "")

	for _, tt := range []struct {
		keep bool
		want string
	}{
		{false, "In the beginning"},
		{true, "In the _beginning_"},
	} {
		t.Run(fmt.Sprintf("keep=%v", tt.keep), func(t *testing.T) {
			worker, _ := newTestWorker(t, func(c *config.AppConfig) { c.Extractor.KeepEmphasis = tt.keep })
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
			require.NoError(t, err)
			assert.Equal(t, []Verse{{Ref: "GEN.1.1", Text: tt.want}}, worker.ExtractVerses(doc))
		})
	}
}

func TestExtractVerses_SkipsUnreferencedAndEmpty(t *testing.T) {
	worker, _ := newTestWorker(t, nil)
	html := chapterPage(
		`<span data-usfm=""><span class="content">no ref</span></span>`+
			verseSpan("GEN.1.3", "3", "   ")+
			verseSpan("GEN.1.4", "4", "kept"), "")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, []Verse{{Ref: "GEN.1.4", Text: "kept"}}, worker.ExtractVerses(doc))
}

func TestCleanStaging(t *testing.T) {
	worker, cfg := newTestWorker(t, nil)
	require.NoError(t, worker.CleanStaging(), "missing staging directory is not an error")

	require.NoError(t, os.MkdirAll(cfg.IntermediateDir(), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.IntermediateDir(), "eng_1.biblecom.txt.123.part"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.IntermediateDir(), "keep.txt"), []byte("x"), 0644))

	require.NoError(t, worker.CleanStaging())
	entries, err := os.ReadDir(cfg.IntermediateDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.txt", entries[0].Name())
}
