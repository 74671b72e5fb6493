package gate

import (
	"testing"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

func TestCanDispatch(t *testing.T) {
	if !CanDispatch(store.StatusPending) {
		t.Error("pending should permit dispatch")
	}
	for _, s := range []store.Status{store.StatusProcessing, store.StatusProcessed, store.StatusResolved, store.StatusClosed} {
		if CanDispatch(s) {
			t.Errorf("%s should not permit dispatch", s)
		}
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name  string
		from  store.Status
		to    store.Status
		cause Cause
		want  bool
	}{
		{"claim from pending", store.StatusPending, store.StatusProcessing, CauseDispatchClaim, true},
		{"claim from processed", store.StatusProcessed, store.StatusProcessing, CauseDispatchClaim, false},
		{"claim from resolved", store.StatusResolved, store.StatusProcessing, CauseDispatchClaim, false},

		{"answer completes claim", store.StatusProcessing, store.StatusProcessed, CauseAnswerDelivered, true},
		{"answer without claim", store.StatusPending, store.StatusProcessed, CauseAnswerDelivered, false},

		{"exhaustion releases claim", store.StatusProcessing, store.StatusPending, CauseRetryExhausted, true},
		{"exhaustion from processed", store.StatusProcessed, store.StatusPending, CauseRetryExhausted, false},

		{"eligible event refreshes processed", store.StatusProcessed, store.StatusPending, CauseEligibleEvent, true},
		{"eligible event cannot resurrect resolved", store.StatusResolved, store.StatusPending, CauseEligibleEvent, false},
		{"eligible event cannot steal claim", store.StatusProcessing, store.StatusPending, CauseEligibleEvent, false},

		{"upstream resolve from pending", store.StatusPending, store.StatusResolved, CauseUpstreamStatus, true},
		{"upstream resolve from processing", store.StatusProcessing, store.StatusResolved, CauseUpstreamStatus, true},
		{"upstream reopen from resolved", store.StatusResolved, store.StatusPending, CauseUpstreamStatus, true},
		{"upstream reopen from processed", store.StatusProcessed, store.StatusPending, CauseUpstreamStatus, true},
		{"upstream reopen cannot steal claim", store.StatusProcessing, store.StatusPending, CauseUpstreamStatus, false},
		{"upstream cannot set processing", store.StatusPending, store.StatusProcessing, CauseUpstreamStatus, false},

		{"resolve callback from pending", store.StatusPending, store.StatusResolved, CauseResolveCallback, true},
		{"resolve callback from processing", store.StatusProcessing, store.StatusResolved, CauseResolveCallback, true},
		{"resolve callback from processed", store.StatusProcessed, store.StatusResolved, CauseResolveCallback, true},
		{"resolve callback cannot reopen", store.StatusResolved, store.StatusPending, CauseResolveCallback, false},

		{"closed is terminal", store.StatusClosed, store.StatusPending, CauseUpstreamStatus, false},
		{"closed rejects resolve", store.StatusClosed, store.StatusResolved, CauseResolveCallback, false},
		{"self transition rejected", store.StatusPending, store.StatusPending, CauseUpstreamStatus, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allowed(tt.from, tt.to, tt.cause); got != tt.want {
				t.Errorf("Allowed(%s, %s, %d) = %v, want %v", tt.from, tt.to, tt.cause, got, tt.want)
			}
		})
	}
}
