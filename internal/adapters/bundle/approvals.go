package bundle

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polypipe/internal/ports"
)

// approvalsDoc is the on-disk shape of the approvals file. Approval capture
// happens outside the pipeline; this adapter only reads the result.
type approvalsDoc struct {
	ApprovedDecisionIDs []string `json:"approved_decision_ids"`
}

// FileApprovals serves human approvals from a JSON file. Implements
// ports.ApprovalSource.
type FileApprovals struct {
	approved map[string]bool
}

var _ ports.ApprovalSource = (*FileApprovals)(nil)

// LoadApprovals reads the approvals file once. A missing path is not an
// error when optional is set; the source then grants nothing.
func LoadApprovals(path string, optional bool) (*FileApprovals, error) {
	var doc approvalsDoc
	if err := readJSON(path, &doc); err != nil {
		if optional {
			return &FileApprovals{approved: map[string]bool{}}, nil
		}
		return nil, fmt.Errorf("bundle.LoadApprovals: %w", err)
	}
	approved := make(map[string]bool, len(doc.ApprovedDecisionIDs))
	for _, id := range doc.ApprovedDecisionIDs {
		approved[id] = true
	}
	return &FileApprovals{approved: approved}, nil
}

// Approved reports whether the decision id appears in the approvals file.
func (f *FileApprovals) Approved(_ context.Context, decisionID string) (bool, error) {
	return f.approved[decisionID], nil
}
