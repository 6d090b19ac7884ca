package agent

import (
	"context"
)

// DecisionOracle is the reasoning service that picks the next action and
// answers free-form judgment prompts. Judge makes it usable wherever a
// validation.Judge is expected.
type DecisionOracle interface {
	// Decide must name exactly one catalog action. A reply without an action
	// is an error.
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
	// Judge answers a single prompt with free text.
	Judge(ctx context.Context, prompt string) (string, error)
}

// RunJournal persists action records and run outcomes. It is optional; a
// journal failure never stops a run.
type RunJournal interface {
	RecordAction(ctx context.Context, sessionID string, rec ActionRecord) error
	RecordRun(ctx context.Context, result RunResult) error
}
