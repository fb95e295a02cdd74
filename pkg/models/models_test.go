package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactKey_String(t *testing.T) {
	assert.Equal(t, "eng_12", ArtifactKey{LanguageISO: "eng", TranslationID: 12}.String())
	assert.Equal(t, "zh_TW_46", ArtifactKey{LanguageISO: "zh_TW", TranslationID: 46}.String())
}

func TestArtifactKey_UsableAsMapKey(t *testing.T) {
	m := map[ArtifactKey]int{}
	m[ArtifactKey{"en", 12}] = 31
	assert.Equal(t, 31, m[ArtifactKey{LanguageISO: "en", TranslationID: 12}])
	_, ok := m[ArtifactKey{"en", 13}]
	assert.False(t, ok)
}

func TestCoverageRow_Key(t *testing.T) {
	row := CoverageRow{LanguageISO: "fra", TranslationID: 93, LanguageName: "Français", Verses: 10}
	assert.Equal(t, ArtifactKey{LanguageISO: "fra", TranslationID: 93}, row.Key())
}

func TestOutcomeEntry_JSONShape(t *testing.T) {
	entry := OutcomeEntry{
		Status:        FetchStatusPermanentFailure,
		ErrorType:     "HTTP_404",
		LanguageISO:   "eng",
		TranslationID: 1,
		LastAttempt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Attempts:      2,
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "permanent_failure", raw["status"])
	assert.Equal(t, "HTTP_404", raw["error_type"])
	assert.NotContains(t, raw, "artifact_sha256")
	assert.NotContains(t, raw, "verses")
}

func TestAggregatedRow_EmbedsCoverageRow(t *testing.T) {
	row := AggregatedRow{
		CoverageRow: CoverageRow{LanguageISO: "en", TranslationID: 12, LanguageName: "English", Verses: 31},
		Source:      "biblecom",
	}
	assert.Equal(t, ArtifactKey{"en", 12}, row.Key())
	assert.Equal(t, 31, row.Verses)
}
