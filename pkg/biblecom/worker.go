// Package biblecom implements the default fetch worker: a chapter walker
// that writes one verse per line for a bible.com translation.
package biblecom

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/biblecom-crawler/pkg/artifact"
	"github.com/Sriram-PR/biblecom-crawler/pkg/config"
	"github.com/Sriram-PR/biblecom-crawler/pkg/fetch"
	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/parse"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// Verse is one extracted line of an artifact
type Verse struct {
	Ref  string // USFM reference, e.g. GEN.1.1
	Text string
}

// Worker walks a translation chapter by chapter starting from its content URL
type Worker struct {
	getter     fetch.DocumentGetter
	extractor  config.ExtractorConfig
	stagingDir string
	converter  *md.Converter
	log        *logrus.Entry
}

// NewWorker returns a worker staging partial files under cfg.IntermediateDir()
func NewWorker(getter fetch.DocumentGetter, cfg *config.AppConfig, log *logrus.Entry) *Worker {
	return &Worker{
		getter:     getter,
		extractor:  cfg.Extractor,
		stagingDir: cfg.IntermediateDir(),
		converter:  newVerseConverter(cfg.Extractor.KeepEmphasis),
		log:        log.WithField("component", "biblecom_worker"),
	}
}

// newVerseConverter renders verse HTML as plain running text
func newVerseConverter(keepEmphasis bool) *md.Converter {
	conv := md.NewConverter("", true, &md.Options{EscapeMode: "disabled"})
	passThrough := func(content string, _ *goquery.Selection, _ *md.Options) *string {
		return md.String(content)
	}
	// Footnote and cross-reference anchors keep only their text
	conv.AddRules(md.Rule{Filter: []string{"a"}, Replacement: passThrough})
	if !keepEmphasis {
		conv.AddRules(md.Rule{Filter: []string{"em", "i", "strong", "b"}, Replacement: passThrough})
	}
	return conv
}

// FetchTarget crawls target into artifactPath and reports a tagged outcome.
// The artifact only appears at artifactPath once every chapter has been written.
func (w *Worker) FetchTarget(ctx context.Context, target models.CrawlTarget, artifactPath string) models.FetchOutcome {
	start := time.Now()
	key := artifact.KeyFor(target)
	taskLog := w.log.WithFields(logrus.Fields{"url": target.URL, "iso": key.LanguageISO, "trans_id": key.TranslationID})

	outcome := models.FetchOutcome{URL: target.URL, Key: key}
	verses, chapters, err := w.crawlToFile(ctx, target.URL, artifactPath, taskLog)
	outcome.Duration = time.Since(start)
	outcome.Verses = verses
	outcome.Err = err
	outcome.Status = utils.ClassifyFetchError(err)

	if err != nil {
		taskLog.WithFields(logrus.Fields{
			"status":     outcome.Status,
			"error_type": utils.CategorizeError(err),
		}).Warnf("Target failed after %d chapters: %v", chapters, err)
		return outcome
	}
	taskLog.WithFields(logrus.Fields{"verses": verses, "chapters": chapters}).
		Infof("Target complete in %s", outcome.Duration.Round(time.Millisecond))
	return outcome
}

// crawlToFile streams verses into a staging file and renames it into place on success
func (w *Worker) crawlToFile(ctx context.Context, startURL, artifactPath string, taskLog *logrus.Entry) (verses, chapters int, err error) {
	if err := os.MkdirAll(w.stagingDir, 0755); err != nil {
		return 0, 0, fmt.Errorf("%w: create staging directory '%s': %w", utils.ErrFilesystem, w.stagingDir, err)
	}
	tmp, err := os.CreateTemp(w.stagingDir, filepath.Base(artifactPath)+".*.part")
	if err != nil {
		return 0, 0, fmt.Errorf("%w: create staging file: %w", utils.ErrFilesystem, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	chapters, err = w.Walk(ctx, startURL, func(chapterURL string, chapterVerses []Verse) error {
		for _, v := range chapterVerses {
			if _, errW := fmt.Fprintf(bw, "%s\t%s\n", v.Ref, v.Text); errW != nil {
				return fmt.Errorf("%w: write '%s': %w", utils.ErrFilesystem, tmpPath, errW)
			}
		}
		verses += len(chapterVerses)
		taskLog.WithFields(logrus.Fields{"chapter": parse.ChapterRef(chapterURL), "verses": len(chapterVerses)}).Trace("Chapter extracted")
		return nil
	})
	if err != nil {
		return verses, chapters, err
	}

	minVerses := w.extractor.MinVerses
	if minVerses < 1 {
		minVerses = 1
	}
	if verses < minVerses {
		return verses, chapters, fmt.Errorf("%w: %d verses over %d chapters from %s", utils.ErrNoVerses, verses, chapters, startURL)
	}

	if err := bw.Flush(); err != nil {
		return verses, chapters, fmt.Errorf("%w: flush '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return verses, chapters, fmt.Errorf("%w: sync '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return verses, chapters, fmt.Errorf("%w: close '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(artifactPath), 0755); err != nil {
		os.Remove(tmpPath)
		committed = true
		return verses, chapters, fmt.Errorf("%w: create output directory: %w", utils.ErrFilesystem, err)
	}
	if err := os.Rename(tmpPath, artifactPath); err != nil {
		os.Remove(tmpPath)
		committed = true
		return verses, chapters, fmt.Errorf("%w: rename '%s' -> '%s': %w", utils.ErrFilesystem, tmpPath, artifactPath, err)
	}
	committed = true
	return verses, chapters, nil
}

// Walk visits chapters from startURL, following the next-chapter link while it stays
// within the same translation, and hands each chapter's verses to emit.
// A failure on the first chapter keeps its own classification; later failures are transient.
func (w *Worker) Walk(ctx context.Context, startURL string, emit func(chapterURL string, verses []Verse) error) (int, error) {
	maxChapters := w.extractor.MaxChapters
	if maxChapters <= 0 {
		maxChapters = config.DefaultMaxChapters
	}

	visited := make(map[string]struct{})
	current := startURL
	chapters := 0
	for chapters < maxChapters {
		if err := ctx.Err(); err != nil {
			return chapters, fmt.Errorf("%w: %w", utils.ErrTransientFetch, err)
		}
		visited[current] = struct{}{}

		doc, err := w.getter.GetDocument(ctx, current)
		if err != nil {
			if chapters == 0 {
				return 0, err
			}
			return chapters, fmt.Errorf("%w: chapter %s: %w", utils.ErrTransientFetch, parse.ChapterRef(current), err)
		}
		chapters++

		if err := emit(current, w.ExtractVerses(doc)); err != nil {
			return chapters, err
		}

		next, ok := w.nextChapterURL(doc, current)
		if !ok {
			break
		}
		if _, seen := visited[next]; seen {
			break
		}
		current = next
	}
	return chapters, nil
}

// ExtractVerses groups verse elements by reference in document order.
// A verse split across several elements (e.g. across paragraphs) becomes one entry.
func (w *Worker) ExtractVerses(doc *goquery.Document) []Verse {
	var verses []Verse
	index := make(map[string]int)

	doc.Find(w.extractor.VerseSelector).Each(func(_ int, s *goquery.Selection) {
		ref, _ := s.Attr(w.extractor.VerseRefAttr)
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		text := w.verseText(s)
		if text == "" {
			return
		}
		if i, ok := index[ref]; ok {
			verses[i].Text += " " + text
			return
		}
		index[ref] = len(verses)
		verses = append(verses, Verse{Ref: ref, Text: text})
	})
	return verses
}

func (w *Worker) verseText(s *goquery.Selection) string {
	parts := s
	if w.extractor.ContentSelector != "" {
		parts = s.Find(w.extractor.ContentSelector)
	}
	var pieces []string
	parts.Each(func(_ int, part *goquery.Selection) {
		if t := collapseSpace(w.converter.Convert(part)); t != "" {
			pieces = append(pieces, t)
		}
	})
	return strings.Join(pieces, " ")
}

// collapseSpace folds runs of whitespace (including tabs and newlines) into single spaces
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (w *Worker) nextChapterURL(doc *goquery.Document, current string) (string, bool) {
	href, ok := doc.Find(w.extractor.NextChapterSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	base := doc.Url
	if base == nil {
		parsed, err := url.Parse(current)
		if err != nil {
			return "", false
		}
		base = parsed
	}
	next, err := parse.ResolveHref(base, href)
	if err != nil {
		return "", false
	}
	if !parse.SameTranslation(current, next) {
		w.log.WithFields(logrus.Fields{"from": current, "to": next}).Debug("Next chapter leaves the translation, stopping")
		return "", false
	}
	return next, true
}

// IsStagingFile reports whether name is a leftover partial file
func IsStagingFile(name string) bool {
	return strings.HasSuffix(name, ".part")
}

// CleanStaging removes partial files left by an interrupted run
func (w *Worker) CleanStaging() error {
	entries, err := os.ReadDir(w.stagingDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read staging directory '%s': %w", utils.ErrFilesystem, w.stagingDir, err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !IsStagingFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(w.stagingDir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		w.log.Infof("Removed %d stale partial files from %s", removed, w.stagingDir)
	}
	return nil
}
