package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchStatus_String(t *testing.T) {
	tests := []struct {
		status FetchStatus
		want   string
	}{
		{FetchStatusUnset, "unset"},
		{FetchStatusSuccess, "success"},
		{FetchStatusTransientFailure, "transient_failure"},
		{FetchStatusPermanentFailure, "permanent_failure"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestFetchStatus_IsValid(t *testing.T) {
	tests := []struct {
		status FetchStatus
		want   bool
	}{
		{FetchStatusSuccess, true},
		{FetchStatusTransientFailure, true},
		{FetchStatusPermanentFailure, true},
		{FetchStatusUnset, false},
		{FetchStatus("failure"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "FetchStatus(%q).IsValid()", string(tt.status))
	}
}

func TestFetchStatus_IsFailure(t *testing.T) {
	assert.False(t, FetchStatusSuccess.IsFailure())
	assert.False(t, FetchStatusUnset.IsFailure())
	assert.True(t, FetchStatusTransientFailure.IsFailure())
	assert.True(t, FetchStatusPermanentFailure.IsFailure())
}

func TestAllFetchStatuses(t *testing.T) {
	all := AllFetchStatuses()
	assert.Len(t, all, 3)
	for _, s := range all {
		assert.True(t, s.IsValid())
	}
}
