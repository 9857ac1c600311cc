package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Job actions a Scheduler can run.
var jobActions = []string{"archive", "trash", "unsubscribe_scan"}

type scheduleInput struct {
	Job
	Confirmation
}

func (in *scheduleInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("name is required")
	}
	if !slices.Contains(jobActions, in.Action) {
		return fmt.Errorf("action must be one of %s", strings.Join(jobActions, ", "))
	}
	if strings.TrimSpace(in.Query) == "" {
		return errors.New("query is required")
	}
	if strings.TrimSpace(in.Schedule) == "" {
		return errors.New("schedule is required")
	}
	return nil
}

func scheduleJob() Tool {
	return &definition[scheduleInput]{
		name:        "schedule_job",
		description: "Create a recurring mailbox job that runs without further approval. Requires explicit user approval.",
		destructive: true,
		options: []mcp.ToolOption{
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Short name for the job"),
			),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("What the job does: "+strings.Join(jobActions, ", ")),
			),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Gmail query the job operates on"),
			),
			mcp.WithString("schedule",
				mcp.Required(),
				mcp.Description("When to run, e.g. 'daily' or a cron expression"),
			),
		},
		describe: func(in scheduleInput) (string, []string) {
			return fmt.Sprintf("Schedule %q to %s messages matching %q %s", in.Name, in.Action, in.Query, in.Schedule),
				[]string{"Action: " + in.Action, "Query: " + in.Query, "Schedule: " + in.Schedule}
		},
		handle: func(ctx context.Context, d *Deps, s Session, in scheduleInput) (any, error) {
			if d.Scheduler == nil {
				return nil, errors.New("scheduling is not configured")
			}
			return d.Scheduler.Schedule(ctx, s, in.Job)
		},
	}
}

type researchInput struct {
	Query string `json:"query"`
}

func (in *researchInput) Validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return errors.New("query is required")
	}
	return nil
}

func webResearch() Tool {
	return &definition[researchInput]{
		name:        "web_research",
		description: "Research a question on the web, e.g. to identify an unfamiliar sender.",
		entitlement: EntitlementWebResearch,
		options: []mcp.ToolOption{
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("The question to research"),
			),
		},
		handle: func(ctx context.Context, d *Deps, _ Session, in researchInput) (any, error) {
			if d.Researcher == nil {
				return nil, errors.New("web research is not configured")
			}
			return d.Researcher.Research(ctx, in.Query)
		},
	}
}
