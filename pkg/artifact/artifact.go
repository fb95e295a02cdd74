// Package artifact maps crawl targets to their verse files on disk and back.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
	"github.com/Sriram-PR/biblecom-crawler/pkg/parse"
	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// Suffix ends every artifact filename
const Suffix = ".biblecom.txt"

// FileName renders key as "{iso}_{transID}.biblecom.txt"
func FileName(key models.ArtifactKey) string {
	return key.String() + Suffix
}

// Parse recovers the key from an artifact filename (a path is reduced to its base name).
// The translation id follows the LAST underscore, so ISO codes such as zh_TW survive.
func Parse(name string) (models.ArtifactKey, error) {
	base := filepath.Base(name)
	stem, ok := strings.CutSuffix(base, Suffix)
	if !ok {
		return models.ArtifactKey{}, fmt.Errorf("%w: '%s' lacks suffix %s", utils.ErrMalformedArtifact, base, Suffix)
	}
	i := strings.LastIndex(stem, "_")
	if i <= 0 || i == len(stem)-1 {
		return models.ArtifactKey{}, fmt.Errorf("%w: '%s' is not {iso}_{id}", utils.ErrMalformedArtifact, base)
	}
	id, err := strconv.Atoi(stem[i+1:])
	if err != nil || id < 0 {
		return models.ArtifactKey{}, fmt.Errorf("%w: '%s' has non-numeric translation id", utils.ErrMalformedArtifact, base)
	}
	return models.ArtifactKey{LanguageISO: stem[:i], TranslationID: id}, nil
}

// KeyFor derives the artifact key of a target from its content URL,
// falling back to the stored TranslationID when the URL carries no numeric segment.
func KeyFor(target models.CrawlTarget) models.ArtifactKey {
	id, err := parse.TranslationIDFromContentURL(target.URL)
	if err != nil {
		id = target.TranslationID
	}
	return models.ArtifactKey{LanguageISO: target.LanguageISO, TranslationID: id}
}

// Path is the final location of key's artifact under dir
func Path(dir string, key models.ArtifactKey) string {
	return filepath.Join(dir, FileName(key))
}

// Exists reports whether key's artifact is present under dir
func Exists(dir string, key models.ArtifactKey) bool {
	info, err := os.Stat(Path(dir, key))
	return err == nil && info.Mode().IsRegular()
}

// CountLines counts lines in path; a last line without a trailing newline still counts.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	count := 0
	var last byte
	for {
		n, errRead := f.Read(buf)
		if n > 0 {
			count += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
		}
		if errors.Is(errRead, io.EOF) {
			break
		}
		if errRead != nil {
			return 0, fmt.Errorf("%w: read '%s': %w", utils.ErrFilesystem, path, errRead)
		}
	}
	if last != 0 && last != '\n' {
		count++
	}
	return count, nil
}
