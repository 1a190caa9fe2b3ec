package executor

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/pml-run/gateway/domain"
)

// dangerousPattern is the speculation blocklist named in spec.md §4.H:
// tools matching it never run speculatively, regardless of predictor
// confidence.
var dangerousPattern = regexp.MustCompile(`(?i)delete|remove|destroy|drop|deploy|publish|send_email|payment|transfer|execute_sql`)

func isDangerous(t domain.Task) bool {
	return t.Metadata.Dangerous || dangerousPattern.MatchString(t.Tool)
}

// classifyFailure implements spec.md §4.H's per-task failure policy tree,
// steps 1-3 (escalation, step 2, is handled by the caller since it needs
// workflow-level escalation policy state this function doesn't have).
func classifyFailure(ctx context.Context, err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTimeout
	}
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.KindTimeout
	}
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return domain.KindTimeout
	case strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "unauthorized"):
		return domain.KindPermissionDenied
	case strings.Contains(msg, "not found"), strings.Contains(msg, "404"):
		return domain.KindNotFound
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"), strings.Contains(msg, "bad request"):
		return domain.KindValidation
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"), strings.Contains(msg, "dial"), strings.Contains(msg, "dns"):
		return domain.KindNetwork
	default:
		return domain.KindUnknown
	}
}
