package mentormatch

import (
	"context"
	"log/slog"
)

// Approval describes an approved candidate edge.
type Approval struct {
	Direction string `json:"direction"`
	SubjectID int64  `json:"subject_id"`
	ObjectID  int64  `json:"object_id"`
	Primary   bool   `json:"primary"`
}

// Notifier is told about approvals after they are committed, e.g. to
// message the people involved.
type Notifier interface {
	CandidateApproved(ctx context.Context, a Approval)
}

// logNotifier is the default Notifier.
type logNotifier struct{}

func (logNotifier) CandidateApproved(ctx context.Context, a Approval) {
	slog.Info("candidate approved",
		"direction", a.Direction, "subject_id", a.SubjectID,
		"object_id", a.ObjectID, "primary", a.Primary)
}
