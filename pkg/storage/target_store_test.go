package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

func sampleTargets() []models.CrawlTarget {
	return []models.CrawlTarget{
		{URL: "https://www.bible.com/bible/1/GEN.1.KJV", LanguageISO: "eng", Description: "kjv king james version", LanguageName: "English", TranslationID: 1},
		{URL: "https://www.bible.com/bible/12/GEN.1.ASV", LanguageISO: "eng", Description: "asv 1901", Year: 1901, LanguageName: "English", TranslationID: 12},
		{URL: "https://www.bible.com/bible/46/GEN.1.CUNP", LanguageISO: "zh_TW", Description: `cunp "new" punctuation`, LanguageName: "繁體中文", TranslationID: 46},
	}
}

func TestTSVTargetStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "biblecom.tsv")
	store := NewTSVTargetStore(path, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, sampleTargets()))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleTargets(), got)
	assert.Equal(t, path, store.Path())
}

func TestTSVTargetStore_HeaderColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biblecom.tsv")
	store := NewTSVTargetStore(path, testLogger())
	require.NoError(t, store.Replace(context.Background(), sampleTargets()[:1]))

	table, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"url", "language_iso", "Description", "Year", "language_name", "trans_ID"}, table.Header)
	assert.Equal(t, "", table.Get(table.Rows[0], ColYear), "unknown year is written empty")
}

func TestTSVTargetStore_ReplaceOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biblecom.tsv")
	store := NewTSVTargetStore(path, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Replace(ctx, sampleTargets()))
	require.NoError(t, store.Replace(ctx, sampleTargets()[1:2]))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 12, got[0].TranslationID)
}

func TestTSVTargetStore_MissingFile(t *testing.T) {
	store := NewTSVTargetStore(filepath.Join(t.TempDir(), "none.tsv"), testLogger())

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrTargetStoreNotExists)
}

func TestTSVTargetStore_SkipsBadRowsAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biblecom.tsv")
	content := "url\tlanguage_iso\tDescription\tYear\tlanguage_name\ttrans_ID\n" +
		"https://www.bible.com/bible/1/GEN.1.KJV\teng\tkjv\t\tEnglish\t1\n" +
		"https://www.bible.com/bible/2/GEN.1.X\teng\tx\t\tEnglish\tnotanumber\n" +
		"\teng\tmissing url\t\tEnglish\t3\n" +
		"https://www.bible.com/bible/1/GEN.1.KJV\teng\tdup\t\tEnglish\t1\n" +
		"https://WWW.bible.com/bible/1/GEN.1.KJV/\teng\tdup normalized\t\tEnglish\t1\n" +
		"not a url\teng\tbad\t\tEnglish\t5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := NewTSVTargetStore(path, testLogger()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kjv", got[0].Description)
}

func TestTSVTargetStore_ColumnOrderIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biblecom.tsv")
	content := "trans_ID\turl\tlanguage_iso\n" +
		"7\thttps://www.bible.com/bible/7/GEN.1.X\tdeu\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := NewTSVTargetStore(path, testLogger()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.CrawlTarget{URL: "https://www.bible.com/bible/7/GEN.1.X", LanguageISO: "deu", TranslationID: 7}, got[0])
}

func TestTSVTargetStore_MissingRequiredColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biblecom.tsv")
	require.NoError(t, os.WriteFile(path, []byte("url\tlanguage_iso\nhttps://x/bible/1/A\teng\n"), 0644))

	_, err := NewTSVTargetStore(path, testLogger()).Load(context.Background())
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestReadTable_BOMAndEmpty(t *testing.T) {
	dir := t.TempDir()

	bom := filepath.Join(dir, "bom.tsv")
	require.NoError(t, os.WriteFile(bom, append([]byte{0xEF, 0xBB, 0xBF}, []byte("a\tb\n1\t2\n")...), 0644))
	table, err := ReadTable(bom)
	require.NoError(t, err)
	assert.Equal(t, 0, table.Col("a"))
	assert.Equal(t, "2", table.Get(table.Rows[0], "b"))
	assert.Equal(t, "", table.Get(table.Rows[0], "missing"))

	empty := filepath.Join(dir, "empty.tsv")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	table, err = ReadTable(empty)
	require.NoError(t, err)
	assert.Empty(t, table.Rows)
}

func TestWriteTable_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tsv")
	require.NoError(t, WriteTable(path, []string{"a"}, [][]string{{"1"}, {"2"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.tsv", entries[0].Name())
}
