package httpjson

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "canceled", err: context.Canceled, retryable: false, record: false},
		{name: "open circuit", err: gobreaker.ErrOpenState, retryable: true, record: true},
		{name: "503", err: &StatusError{StatusCode: http.StatusServiceUnavailable}, retryable: true, record: true},
		{name: "400", err: &StatusError{StatusCode: http.StatusBadRequest}, retryable: false, record: false},
		{name: "wrapped 429", err: fmt.Errorf("call: %w", &StatusError{StatusCode: http.StatusTooManyRequests}), retryable: true, record: true},
		{name: "other", err: errors.New("decode"), retryable: false, record: true},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
			t.Fatalf("%s: expected retryable=%v record=%v, got %+v", tc.name, tc.retryable, tc.record, got)
		}
	}
}

func TestWrapTemporary(t *testing.T) {
	err := WrapTemporary("rerank", &StatusError{Service: "rerank", Operation: "score", StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}

	permanent := &StatusError{StatusCode: http.StatusUnprocessableEntity}
	if got := WrapTemporary("rerank", permanent); domain.IsKind(got, domain.ErrTemporary) {
		t.Fatalf("expected permanent error untouched, got %v", got)
	}
	if WrapTemporary("rerank", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}
