// Package tools holds the demo tools served by the mcpmux binary.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/felixgeelhaar/mcpmux/protocol"
	"github.com/felixgeelhaar/mcpmux/server"
)

// MaxCountdownSteps caps the countdown tool.
const MaxCountdownSteps = 100

// DurationInput is the format-duration argument.
type DurationInput struct {
	Seconds float64 `json:"seconds" jsonschema:"required,description=Duration in seconds"`
}

// SessionInfo is the session-info result.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Transport string `json:"transport"`
}

// CountdownInput is the countdown argument.
type CountdownInput struct {
	Steps int `json:"steps" jsonschema:"required,minimum=1,maximum=100"`
}

// Register adds every demo tool to srv.
func Register(srv *server.Server) error {
	builders := []*server.ToolBuilder{
		srv.Tool("format-duration").
			Description("Format a number of seconds as HH:MM:SS or MM:SS").
			Handler(func(in DurationInput) (string, error) {
				return FormatDuration(in.Seconds), nil
			}),
		srv.Tool("session-info").
			Description("Report the session and transport serving this call").
			Handler(func(ctx context.Context, _ struct{}) (SessionInfo, error) {
				info, ok := protocol.SessionFromContext(ctx)
				if !ok {
					return SessionInfo{}, errors.New("no session in context")
				}
				return SessionInfo{SessionID: info.ID, Transport: info.Transport}, nil
			}),
		srv.Tool("countdown").
			Description("Count down from steps and report progress on each step").
			Handler(countdown),
	}
	var errs []error
	for _, b := range builders {
		errs = append(errs, b.Err())
	}
	return errors.Join(errs...)
}

func countdown(ctx context.Context, in CountdownInput) (string, error) {
	if in.Steps < 1 || in.Steps > MaxCountdownSteps {
		return "", protocol.NewInvalidParams(fmt.Sprintf("steps must be between 1 and %d", MaxCountdownSteps))
	}
	progress := server.ProgressFromContext(ctx)
	total := float64(in.Steps)
	for i := 1; i <= in.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := progress.ReportWithMessage(float64(i), &total, fmt.Sprintf("%d left", in.Steps-i)); err != nil {
			return "", err
		}
	}
	return "liftoff", nil
}

// FormatDuration renders seconds as HH:MM:SS, or MM:SS below one hour.
// Fractions are truncated. Negative and non-finite values give "N/A".
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "N/A"
	}
	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%02d", hours))
	}
	parts = append(parts, fmt.Sprintf("%02d", minutes), fmt.Sprintf("%02d", secs))
	return strings.Join(parts, ":")
}
