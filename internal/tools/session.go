package tools

import (
	"context"

	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mutation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/scan"
	"github.com/londonzade-stack/agent-seller-sub000/internal/unsubscribe"
)

// Plan is the subscription tier of the mailbox owner.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Entitlement names a plan-gated capability. The empty entitlement is
// available on every plan.
type Entitlement string

const EntitlementWebResearch Entitlement = "web_research"

var planEntitlements = map[Plan][]Entitlement{
	PlanPro: {EntitlementWebResearch},
}

// Allows reports whether the plan includes e.
func (p Plan) Allows(e Entitlement) bool {
	if e == "" {
		return true
	}
	for _, got := range planEntitlements[p] {
		if got == e {
			return true
		}
	}
	return false
}

// ParsePlan maps a plan name to a Plan, defaulting to free.
func ParsePlan(s string) Plan {
	if Plan(s) == PlanPro {
		return PlanPro
	}
	return PlanFree
}

// Session identifies who a tool call acts for. It is passed explicitly to
// every invocation.
type Session struct {
	ConnectionID string
	OwnerID      string
	Plan         Plan
}

// Job is a recurring job definition handed to a Scheduler.
type Job struct {
	Name     string `json:"name"`
	Action   string `json:"action"`
	Query    string `json:"query"`
	Schedule string `json:"schedule"`
}

// ScheduledJob is a Scheduler's acknowledgement.
type ScheduledJob struct {
	ID string `json:"id"`
	Job
}

// Scheduler stores recurring jobs. Computing run times is its concern.
type Scheduler interface {
	Schedule(ctx context.Context, s Session, job Job) (ScheduledJob, error)
}

// Research is a Researcher's answer.
type Research struct {
	Summary string   `json:"summary"`
	Sources []string `json:"sources,omitempty"`
}

// Researcher answers web research questions.
type Researcher interface {
	Research(ctx context.Context, query string) (Research, error)
}

// Deps are the engines tools run against, all bound to one connection.
type Deps struct {
	Provider     mailbox.Provider
	Scanner      *scan.Engine
	Mutator      *mutation.Engine
	Unsubscriber *unsubscribe.Resolver

	// Optional collaborators; tools that need a missing one fail cleanly.
	Scheduler  Scheduler
	Researcher Researcher
}
