package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const maxListedGaps = 100

// cellEscaper keeps free text inside one markdown table cell
var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

func cell(s string) string { return cellEscaper.Replace(s) }

// SourceTotals summarizes one source of the aggregated report
type SourceTotals struct {
	Source       string
	Translations int
	Covered      int // translations with at least one verse
	Languages    int // distinct languages with at least one verse
	Verses       int
}

// Totals computes per-source totals, sorted by source name
func Totals(rows []models.AggregatedRow) []SourceTotals {
	bySource := make(map[string]*SourceTotals)
	languages := make(map[string]map[string]struct{})
	for _, row := range rows {
		st, ok := bySource[row.Source]
		if !ok {
			st = &SourceTotals{Source: row.Source}
			bySource[row.Source] = st
			languages[row.Source] = make(map[string]struct{})
		}
		st.Translations++
		st.Verses += row.Verses
		if row.Verses > 0 {
			st.Covered++
			languages[row.Source][row.LanguageISO] = struct{}{}
		}
	}
	out := make([]SourceTotals, 0, len(bySource))
	for source, st := range bySource {
		st.Languages = len(languages[source])
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// RenderSummary builds the markdown coverage summary
func RenderSummary(rows []models.AggregatedRow, generated time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Coverage summary\n\nGenerated %s.\n\n", generated.UTC().Format(time.RFC3339))

	b.WriteString("## Sources\n\n")
	b.WriteString("| Source | Translations | With verses | Languages | Verses |\n")
	b.WriteString("|---|---:|---:|---:|---:|\n")
	for _, st := range Totals(rows) {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d |\n", cell(st.Source), st.Translations, st.Covered, st.Languages, st.Verses)
	}

	var gaps []models.AggregatedRow
	for _, row := range rows {
		if row.Verses == 0 {
			gaps = append(gaps, row)
		}
	}
	b.WriteString("\n## Translations without verses\n\n")
	if len(gaps) == 0 {
		b.WriteString("None.\n")
		return b.Bytes()
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Source != gaps[j].Source {
			return gaps[i].Source < gaps[j].Source
		}
		return gaps[i].Key().String() < gaps[j].Key().String()
	})
	b.WriteString("| Source | Language | Name | Translation |\n")
	b.WriteString("|---|---|---|---:|\n")
	for i, row := range gaps {
		if i == maxListedGaps {
			fmt.Fprintf(&b, "\n... and %d more.\n", len(gaps)-maxListedGaps)
			break
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d |\n", cell(row.Source), cell(row.LanguageISO), cell(row.LanguageName), row.TranslationID)
	}
	return b.Bytes()
}

// WriteSummary writes summary.md and its HTML rendering into the reports directory
func (r *Reporter) WriteSummary(ctx context.Context, rows []models.AggregatedRow) (mdPath, htmlPath string, err error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	markdown := RenderSummary(rows, time.Now())

	var body bytes.Buffer
	renderer := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := renderer.Convert(markdown, &body); err != nil {
		return "", "", fmt.Errorf("%w: rendering summary: %w", utils.ErrMarkdownConversion, err)
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Coverage summary</title></head><body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")

	if err := os.MkdirAll(r.reportsDir, 0755); err != nil {
		return "", "", fmt.Errorf("%w: create reports directory: %w", utils.ErrFilesystem, err)
	}
	mdPath = filepath.Join(r.reportsDir, "summary.md")
	htmlPath = filepath.Join(r.reportsDir, "summary.html")
	if err := os.WriteFile(mdPath, markdown, 0644); err != nil {
		return "", "", fmt.Errorf("%w: write '%s': %w", utils.ErrFilesystem, mdPath, err)
	}
	if err := os.WriteFile(htmlPath, page.Bytes(), 0644); err != nil {
		return "", "", fmt.Errorf("%w: write '%s': %w", utils.ErrFilesystem, htmlPath, err)
	}
	r.log.Infof("Summary written to %s and %s", mdPath, htmlPath)
	return mdPath, htmlPath, nil
}
