package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"RobotsDisallowed", ErrRobotsDisallowed, "Policy_Robots"},
		{"NoVerses", ErrNoVerses, "Content_NoVerses"},
		{"ContentPageNotFound", ErrContentPageNotFound, "Content_PageLinkNotFound"},
		{"MalformedArtifact", ErrMalformedArtifact, "Content_MalformedArtifactName"},
		{"TaskPanic", ErrTaskPanic, "Internal_Panic"},
		{"MarkdownConversion", ErrMarkdownConversion, "Content_Markdown"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"TooManyRequests", ErrTooManyRequests, "HTTP_429"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"TargetStoreNotExists", ErrTargetStoreNotExists, "Store_NotExist"},
		{"Transient", ErrTransientFetch, "Fetch_Transient"},
		{"Permanent", ErrPermanentFetch, "Fetch_Permanent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"WrappedRobots", fmt.Errorf("some context: %w", ErrRobotsDisallowed), "Policy_Robots"},
		{"DoubleWrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrNoVerses)), "Content_NoVerses"},
		{"WrapErrorf", WrapErrorf(ErrFilesystem, "write %s", "x"), "Filesystem_Other"},
		{"FilesystemNotExist", fmt.Errorf("%w: %w", ErrFilesystem, os.ErrNotExist), "Filesystem_NotExist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ClientHTTPCodes(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{404, "HTTP_404"},
		{403, "HTTP_403"},
		{401, "HTTP_401"},
		{410, "HTTP_410"},
		{418, "HTTP_4xx"},
	}
	for _, tt := range tests {
		// Message format mirrors the fetcher: "...: status 404 Not Found"
		err := fmt.Errorf("%w: status %d %s", ErrClientHTTPError, tt.code, "x")
		if got := CategorizeError(err); got != tt.expected {
			t.Errorf("CategorizeError(%d) = %q, want %q", tt.code, got, tt.expected)
		}
	}
}

func TestCategorizeError_RetryFailed(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Server", fmt.Errorf("%w: %w", ErrRetryFailed, ErrServerHTTPError), "RetryFailed_HTTPServer"},
		{"429", fmt.Errorf("%w: %w", ErrRetryFailed, ErrTooManyRequests), "RetryFailed_HTTP429"},
		{"Timeout", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("i/o timeout")), "RetryFailed_NetworkTimeout"},
		{"Refused", fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: connection refused")), "RetryFailed_ConnectionRefused"},
		{"Bare", ErrRetryFailed, "RetryFailed_Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	if got := CategorizeError(context.Canceled); got != "System_ContextCanceled" {
		t.Errorf("got %q", got)
	}
	if got := CategorizeError(fmt.Errorf("fetch: %w", context.DeadlineExceeded)); got != "System_ContextDeadlineExceeded" {
		t.Errorf("got %q", got)
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	if got := CategorizeError(errors.New("something odd")); got != "Unknown" {
		t.Errorf("CategorizeError = %q, want Unknown", got)
	}
}

// --- ClassifyFetchError Tests ---

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected models.FetchStatus
	}{
		{"Nil", nil, models.FetchStatusSuccess},
		{"Robots", fmt.Errorf("check: %w", ErrRobotsDisallowed), models.FetchStatusPermanentFailure},
		{"404", fmt.Errorf("%w: status 404 Not Found", ErrClientHTTPError), models.FetchStatusPermanentFailure},
		{"429", fmt.Errorf("%w: status 429", ErrTooManyRequests), models.FetchStatusTransientFailure},
		{"RetryFailed429", fmt.Errorf("%w: %w", ErrRetryFailed, ErrTooManyRequests), models.FetchStatusTransientFailure},
		{"5xx", fmt.Errorf("%w: status 503", ErrServerHTTPError), models.FetchStatusTransientFailure},
		{"NoVerses", ErrNoVerses, models.FetchStatusTransientFailure},
		{"Network", errors.New("connection reset by peer"), models.FetchStatusTransientFailure},
		{"Panic", fmt.Errorf("%w: boom", ErrTaskPanic), models.FetchStatusTransientFailure},
		{"ExplicitPermanent", fmt.Errorf("%w: gone", ErrPermanentFetch), models.FetchStatusPermanentFailure},
		{"ExplicitTransientWins", fmt.Errorf("%w: %w", ErrTransientFetch, ErrClientHTTPError), models.FetchStatusTransientFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyFetchError(tt.err); got != tt.expected {
				t.Errorf("ClassifyFetchError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"biblecom", "biblecom"},
		{"my source", "my source"},
		{"a/b\\c", "a_b_c"},
		{"__x__", "x"},
		{"a::b", "a_b"},
		{"", "untitled"},
		{"???", "untitled"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

// --- Hash Tests ---

func TestCalculateFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := CalculateFileSHA256(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("CalculateFileSHA256 = %q, want %q", got, want)
	}
}

func TestCalculateFileSHA256_NonExistentFile(t *testing.T) {
	_, err := CalculateFileSHA256(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrFilesystem) {
		t.Errorf("expected ErrFilesystem, got %v", err)
	}
}
