package ports

import "context"

// ApprovalSource supplies the external human-approval signal consumed by
// the risk gate. Approval capture itself happens outside the pipeline.
type ApprovalSource interface {
	// Approved reports whether the decision has an explicit approval.
	Approved(ctx context.Context, decisionID string) (bool, error)
}
