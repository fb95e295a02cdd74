package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

func TestFileNameRoundTrip(t *testing.T) {
	keys := []models.ArtifactKey{
		{LanguageISO: "en", TranslationID: 12},
		{LanguageISO: "zh_TW", TranslationID: 46},
		{LanguageISO: "sr_Latn_RS", TranslationID: 0},
	}
	for _, key := range keys {
		t.Run(key.String(), func(t *testing.T) {
			name := FileName(key)
			got, err := Parse(name)
			require.NoError(t, err)
			assert.Equal(t, key, got)
		})
	}
	assert.Equal(t, "zh_TW_46.biblecom.txt", FileName(models.ArtifactKey{LanguageISO: "zh_TW", TranslationID: 46}))
}

func TestParse_Malformed(t *testing.T) {
	for _, name := range []string{
		"weird.biblecom.txt",
		"_12.biblecom.txt",
		"en_.biblecom.txt",
		"en_abc.biblecom.txt",
		"en_12.txt",
		"en_-3.biblecom.txt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(name)
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrMalformedArtifact)
		})
	}
}

func TestParse_StripsDirectory(t *testing.T) {
	got, err := Parse(filepath.Join("out", "deep", "en_12.biblecom.txt"))
	require.NoError(t, err)
	assert.Equal(t, models.ArtifactKey{LanguageISO: "en", TranslationID: 12}, got)
}

func TestKeyFor(t *testing.T) {
	t.Run("from URL segment", func(t *testing.T) {
		target := models.CrawlTarget{URL: "https://www.bible.com/bible/111/GEN.1.NIV", LanguageISO: "eng", TranslationID: 999}
		assert.Equal(t, models.ArtifactKey{LanguageISO: "eng", TranslationID: 111}, KeyFor(target))
	})
	t.Run("falls back to stored id", func(t *testing.T) {
		target := models.CrawlTarget{URL: "https://www.bible.com/bible/GEN.1.NIV", LanguageISO: "eng", TranslationID: 111}
		assert.Equal(t, models.ArtifactKey{LanguageISO: "eng", TranslationID: 111}, KeyFor(target))
	})
}

func TestExistsAndPath(t *testing.T) {
	dir := t.TempDir()
	key := models.ArtifactKey{LanguageISO: "en", TranslationID: 1}
	assert.False(t, Exists(dir, key))

	require.NoError(t, os.WriteFile(Path(dir, key), []byte("x\n"), 0644))
	assert.True(t, Exists(dir, key))

	// A directory with the artifact's name is not an artifact
	other := models.ArtifactKey{LanguageISO: "en", TranslationID: 2}
	require.NoError(t, os.Mkdir(Path(dir, other), 0755))
	assert.False(t, Exists(dir, other))
}

func TestCountLines(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"empty", "", 0},
		{"trailing newline", "a\nb\nc\n", 3},
		{"no trailing newline", "a\nb\nc", 3},
		{"blank lines count", "a\n\nb\n", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".txt")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			got, err := CountLines(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := CountLines(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, utils.ErrFilesystem)
}
