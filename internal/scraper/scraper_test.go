package scraper

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusErrorTransient(t *testing.T) {
	testCases := []struct {
		code      int
		transient bool
	}{
		{429, true},
		{498, true},
		{403, true},
		{502, true},
		{404, false},
		{400, false},
	}
	for _, tc := range testCases {
		err := fmt.Errorf("fetch page: %w", &StatusError{URL: "u", StatusCode: tc.code})
		if got := errors.Is(err, ErrTransient); got != tc.transient {
			t.Errorf("status %d transient = %v; want %v", tc.code, got, tc.transient)
		}
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != tc.code {
			t.Errorf("errors.As failed for status %d", tc.code)
		}
	}
}
