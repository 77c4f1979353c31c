package core

import (
	"context"
	"fmt"
	"time"

	"bobchad/internal/tools"
)

// DateTimeTool returns a tool reporting the current date and time.
func DateTimeTool(now func() time.Time) *tools.Tool {
	if now == nil {
		now = time.Now
	}
	return &tools.Tool{
		Name:        "get_current_datetime",
		Description: "Report the current date and time, optionally in an IANA timezone",
		SideEffect:  tools.ReadOnly,
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"timezone": {
					Type:        "string",
					Description: "IANA timezone name, e.g. Europe/London (default: local)",
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			t := now()
			if tz := tools.StringArg(args, "timezone", ""); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
				}
				t = t.In(loc)
			}
			return "Date and time: " + t.Format("Monday, 02 January 2006, 15:04:05 MST (-0700)"), nil
		},
	}
}
