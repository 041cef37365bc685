package health

import (
	"context"
	"fmt"
)

// PingCheck reports a dependency as down when ping fails. Optional
// dependencies pass degraded instead so readiness is not lost.
func PingCheck(ping func(ctx context.Context) error, optional bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDown
			if optional {
				status = StatusDegraded
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// IndexState is the part of the index status readiness depends on.
type IndexState struct {
	Generation      uint64
	Documents       int
	LastCommitError string
}

// IndexCheck is up while commits succeed and degraded after a failed one;
// searches still run against the last published snapshot.
func IndexCheck(state func() IndexState) Check {
	return func(ctx context.Context) ComponentHealth {
		st := state()
		if st.LastCommitError != "" {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("generation %d, last commit failed: %s", st.Generation, st.LastCommitError),
			}
		}
		return ComponentHealth{
			Status:  StatusUp,
			Message: fmt.Sprintf("generation %d, %d documents", st.Generation, st.Documents),
		}
	}
}
