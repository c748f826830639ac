package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAttachesKindAndReason(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, KindProvider, ReasonLLMGenerate)
	if KindOf(err) != KindProvider {
		t.Fatalf("expected provider kind, got %s", KindOf(err))
	}
	if Reason(err) != ReasonLLMGenerate {
		t.Fatalf("expected llm_generate reason, got %s", Reason(err))
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match base")
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	err := Wrap(errors.New("boom"), KindProvider, ReasonSTTRequest)
	again := Wrap(err, KindFatal, ReasonStoreWrite)
	if Reason(again) != ReasonSTTRequest {
		t.Fatalf("expected original reason preserved, got %s", Reason(again))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindProvider, ReasonSTTRequest) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

func TestKindSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", Provider(errors.New("503"), ReasonTTSRequest))
	if !HasKind(err, KindProvider) {
		t.Fatalf("expected provider kind through fmt wrap")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation: 400,
		KindAuth:       401,
		KindNotFound:   404,
		KindConflict:   409,
		KindQuota:      402,
		KindFatal:      500,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Fatalf("kind %s: expected %d, got %d", kind, want, got)
		}
	}
}
