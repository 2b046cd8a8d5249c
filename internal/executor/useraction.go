package executor

import (
	"context"
	"fmt"
	"strings"
)

// userAction asks for input on the first call and completes once resumed
// with a submission. It never touches the network.
func userAction(_ context.Context, req Request) Outcome {
	spec := req.Block.UserAction
	if spec == nil {
		return Fatal(fmt.Errorf("block %s has no user_action payload", req.Block.ID), nil)
	}
	inputType := strings.ToUpper(strings.TrimSpace(spec.InputType))
	if inputType == "" {
		inputType = "CONFIRMATION"
	}
	if req.Input == nil {
		options := make([]string, len(spec.Options))
		for i, o := range spec.Options {
			options[i] = req.render(o)
		}
		return NeedsInput(InputSpec{
			Prompt:   req.render(spec.Instructions),
			Type:     inputType,
			Options:  options,
			Required: true,
		})
	}

	meta := map[string]string{"submitted_by": req.Input.SubmittedBy}
	if inputType == "CONFIRMATION" && IsRejection(req.Input.Value) {
		return Fatal(fmt.Errorf("rejected by %s", submitter(req.Input)), meta)
	}
	return Success(map[string]string{"value": req.Input.Value, "submitted_by": req.Input.SubmittedBy}, meta)
}

// IsRejection reports a negative CONFIRMATION answer.
func IsRejection(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "no", "false", "n", "reject", "rejected":
		return true
	}
	return false
}

func submitter(s *Submission) string {
	if s.SubmittedBy == "" {
		return "user"
	}
	return s.SubmittedBy
}
