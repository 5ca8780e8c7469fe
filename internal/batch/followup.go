package batch

import (
	"context"

	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/jobqueue"
)

// FollowUpAction is the job queue action run after a capture. Its data is the
// saved *datastore.Recording.
type FollowUpAction struct {
	processor *Processor
}

// FollowUp returns the follow-up action backed by p
func (p *Processor) FollowUp() *FollowUpAction {
	return &FollowUpAction{processor: p}
}

var (
	_ jobqueue.Action    = (*FollowUpAction)(nil)
	_ jobqueue.Describer = (*FollowUpAction)(nil)
)

// Execute runs ProcessOne for the recording in data
func (a *FollowUpAction) Execute(ctx context.Context, data any) error {
	rec, ok := data.(*datastore.Recording)
	if !ok || rec == nil {
		return errors.Newf("follow-up job expects *datastore.Recording, got %T", data).
			Component("batch").
			Category(errors.CategoryValidation).
			Build()
	}
	return a.processor.ProcessOne(ctx, rec)
}

// Description implements jobqueue.Describer
func (a *FollowUpAction) Description() string {
	return "transcribe and publish new recording"
}
