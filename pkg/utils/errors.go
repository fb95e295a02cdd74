package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/Sriram-PR/biblecom-crawler/pkg/models"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed          = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError      = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError      = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError       = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrTooManyRequests      = errors.New("rate limited by server (429)")
	ErrRobotsDisallowed     = errors.New("disallowed by robots.txt")
	ErrTransientFetch       = errors.New("transient fetch failure")
	ErrPermanentFetch       = errors.New("permanent fetch failure")
	ErrNoVerses             = errors.New("no verses extracted")
	ErrContentPageNotFound  = errors.New("content page link not found")
	ErrMalformedArtifact    = errors.New("malformed artifact filename")
	ErrTaskPanic            = errors.New("task panicked")
	ErrParsing              = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, TSV)
	ErrFilesystem           = errors.New("filesystem error") // Wraps os errors
	ErrDatabase             = errors.New("database error")   // Wraps badger errors
	ErrRequestCreation      = errors.New("failed to create HTTP request")
	ErrResponseBodyRead     = errors.New("failed to read response body")
	ErrMarkdownConversion   = errors.New("failed to convert HTML to text")
	ErrConfigValidation     = errors.New("configuration validation error")
	ErrTargetStoreNotExists = errors.New("target store does not exist")
)

// WrapErrorf wraps a sentinel with a formatted message so errors.Is still matches
func WrapErrorf(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// ClassifyFetchError maps a worker error onto the outcome tag recorded for the target.
// Robots disallow and 4xx other than 429 are permanent; everything else is transient.
func ClassifyFetchError(err error) models.FetchStatus {
	if err == nil {
		return models.FetchStatusSuccess
	}
	switch {
	case errors.Is(err, ErrTransientFetch):
		return models.FetchStatusTransientFailure
	case errors.Is(err, ErrPermanentFetch):
		return models.FetchStatusPermanentFailure
	case errors.Is(err, ErrTooManyRequests):
		return models.FetchStatusTransientFailure
	case errors.Is(err, ErrRobotsDisallowed):
		return models.FetchStatusPermanentFailure
	case errors.Is(err, ErrClientHTTPError):
		return models.FetchStatusPermanentFailure
	}
	return models.FetchStatusTransientFailure
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrTaskPanic):
		return "Internal_Panic"
	case errors.Is(err, ErrRetryFailed):
		underlying := errors.Unwrap(err)
		if underlying != nil {
			if errors.Is(underlying, ErrServerHTTPError) {
				return "RetryFailed_HTTPServer"
			}
			if errors.Is(underlying, ErrTooManyRequests) {
				return "RetryFailed_HTTP429"
			}
			errMsg := underlying.Error()
			if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "Timeout") || strings.Contains(errMsg, "deadline exceeded") {
				return "RetryFailed_NetworkTimeout"
			}
			if strings.Contains(errMsg, "connection refused") {
				return "RetryFailed_ConnectionRefused"
			}
			if strings.Contains(errMsg, "no such host") {
				return "RetryFailed_DNSLookup"
			}
			var netErr net.Error
			if errors.As(underlying, &netErr) && netErr.Timeout() {
				return "RetryFailed_NetworkTimeout"
			}
			return "RetryFailed_NetworkOther"
		}
		return "RetryFailed_Unknown"
	case errors.Is(err, ErrTooManyRequests):
		return "HTTP_429"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401 ") {
			return "HTTP_401"
		}
		if strings.Contains(errMsg, " 410 ") {
			return "HTTP_410"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrNoVerses):
		return "Content_NoVerses"
	case errors.Is(err, ErrContentPageNotFound):
		return "Content_PageLinkNotFound"
	case errors.Is(err, ErrMalformedArtifact):
		return "Content_MalformedArtifactName"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "TSV") {
			return "Content_ParsingTSV"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrMarkdownConversion):
		return "Content_Markdown"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrTargetStoreNotExists):
		return "Store_NotExist"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrTransientFetch):
		return "Fetch_Transient"
	case errors.Is(err, ErrPermanentFetch):
		return "Fetch_Permanent"
	}

	// --- Fallback checks for common underlying error types/strings ---

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if strings.Contains(lowerErrMsg, "eof") {
		return "Network_EOF"
	}

	return "Unknown"
}
