package models

// FetchStatus is the tagged result a worker reports for one crawl target
type FetchStatus string

const (
	FetchStatusUnset            FetchStatus = ""                  // Zero value = never attempted
	FetchStatusSuccess          FetchStatus = "success"           // Artifact written
	FetchStatusTransientFailure FetchStatus = "transient_failure" // Worth retrying in a later pass
	FetchStatusPermanentFailure FetchStatus = "permanent_failure" // Excluded from later passes and runs
)

// String implements fmt.Stringer for logging
func (s FetchStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known outcome value
func (s FetchStatus) IsValid() bool {
	switch s {
	case FetchStatusSuccess, FetchStatusTransientFailure, FetchStatusPermanentFailure:
		return true
	}
	return false
}

// IsFailure returns true for either failure kind
func (s FetchStatus) IsFailure() bool {
	return s == FetchStatusTransientFailure || s == FetchStatusPermanentFailure
}

// AllFetchStatuses lists the valid outcome values in reporting order
func AllFetchStatuses() []FetchStatus {
	return []FetchStatus{FetchStatusSuccess, FetchStatusTransientFailure, FetchStatusPermanentFailure}
}
