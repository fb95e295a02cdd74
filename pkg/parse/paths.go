package parse

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

const (
	// LanguagesPrefix marks language anchors on the version listing
	LanguagesPrefix = "/languages/"
	// VersionsPrefix marks translation anchors following a language anchor
	VersionsPrefix = "/versions/"
	// BiblePrefix marks content-page links on a version page
	BiblePrefix = "/bible/"
)

var trailingYear = regexp.MustCompile(`(?:^|\s)(\d{4})$`)

// VersionLink is what a /versions/{id}-{words} href encodes
type VersionLink struct {
	TranslationID int
	Description   string
	Year          int // 0 when the description carries no trailing year
}

// ResolveHref resolves a possibly relative href against base and normalizes the result.
func ResolveHref(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", utils.WrapErrorf(utils.ErrParsing, "invalid URL href '%s': %v", href, err)
	}
	return NormalizeURL(base.ResolveReference(ref)), nil
}

// ParseVersionHref splits "/versions/{id}-{words}" into its parts.
// The words are joined with spaces to form the description.
func ParseVersionHref(href string) (VersionLink, error) {
	rest, ok := strings.CutPrefix(href, VersionsPrefix)
	if !ok {
		return VersionLink{}, utils.WrapErrorf(utils.ErrParsing, "URL href '%s' is not a version link", href)
	}
	// Drop any query or fragment before splitting on dashes
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	parts := strings.Split(strings.Trim(rest, "/"), "-")
	id, err := strconv.Atoi(parts[0])
	if err != nil || id < 0 {
		return VersionLink{}, utils.WrapErrorf(utils.ErrParsing, "URL href '%s' has no numeric translation id", href)
	}

	link := VersionLink{TranslationID: id}
	words := make([]string, 0, len(parts)-1)
	for _, w := range parts[1:] {
		if w == "" {
			continue
		}
		if decoded, err := url.PathUnescape(w); err == nil {
			w = decoded
		}
		words = append(words, w)
	}
	link.Description = strings.Join(words, " ")
	if m := trailingYear.FindStringSubmatch(link.Description); m != nil {
		link.Year, _ = strconv.Atoi(m[1])
	}
	return link, nil
}

// LanguageISOFromHref returns the ISO code of a /languages/{iso} anchor
func LanguageISOFromHref(href string) (string, bool) {
	iso, ok := strings.CutPrefix(href, LanguagesPrefix)
	if !ok {
		return "", false
	}
	iso = strings.Trim(iso, "/")
	return iso, iso != ""
}

// TranslationIDFromContentURL reads the translation id from a content URL.
// The id is the path segment before the last one: /bible/{id}/{BOOK.CH.ABBR}.
func TranslationIDFromContentURL(rawURL string) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, utils.WrapErrorf(utils.ErrParsing, "invalid URL '%s': %v", rawURL, err)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 {
		return 0, utils.WrapErrorf(utils.ErrParsing, "URL '%s' has too few path segments", rawURL)
	}
	id, err := strconv.Atoi(segments[len(segments)-2])
	if err != nil {
		return 0, utils.WrapErrorf(utils.ErrParsing, "URL '%s' has non-numeric translation segment", rawURL)
	}
	return id, nil
}

// SameTranslation reports whether next is a content page of the same translation as current.
// Both must live under /bible/{id}/ on the same host.
func SameTranslation(current, next string) bool {
	cu, err1 := url.Parse(current)
	nu, err2 := url.Parse(next)
	if err1 != nil || err2 != nil {
		return false
	}
	if !strings.EqualFold(cu.Host, nu.Host) {
		return false
	}
	cid, err1 := TranslationIDFromContentURL(current)
	nid, err2 := TranslationIDFromContentURL(next)
	return err1 == nil && err2 == nil && cid == nid && strings.HasPrefix(nu.Path, BiblePrefix)
}

// ChapterRef returns the last path segment of a content URL (e.g. "GEN.1.KJV")
func ChapterRef(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// AbsoluteURL joins a site base with a root-relative href
func AbsoluteURL(baseURL, href string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(baseURL, "/"), href)
}
