// Package workflow runs multi-app AI workflows: an ordered list of
// scoped goals, each driven by the one-shot engine inside a single app.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hermitdroid/hermitdroid/agent"
	"github.com/hermitdroid/hermitdroid/guard"
	"github.com/hermitdroid/hermitdroid/plan"
)

type Workflow struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

type Step struct {
	App      string            `json:"app"`
	Goal     string            `json:"goal"`
	FormData map[string]string `json:"form_data,omitempty"`
	MaxSteps int               `json:"max_steps,omitempty"`
}

func Load(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Workflow{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return Workflow{}, fmt.Errorf("workflow json: %w", err)
	}
	if strings.TrimSpace(wf.Name) == "" {
		return Workflow{}, fmt.Errorf("workflow has no name")
	}
	if len(wf.Steps) == 0 {
		return Workflow{}, fmt.Errorf("workflow %q has no steps", wf.Name)
	}
	for i, s := range wf.Steps {
		if strings.TrimSpace(s.Goal) == "" {
			return Workflow{}, fmt.Errorf("workflow %q step %d has no goal", wf.Name, i+1)
		}
	}
	return wf, nil
}

type StepResult struct {
	Index      int
	App        string
	Goal       string
	Status     agent.GoalStatus
	Steps      int
	PendingIDs []string
	Err        error
}

type RunResult struct {
	Halted      bool
	StepResults []StepResult
}

// Failed counts steps that neither completed nor parked for approval.
func (r RunResult) Failed() int {
	n := 0
	for _, s := range r.StepResults {
		switch s.Status {
		case agent.GoalDone, agent.GoalAwaiting:
		default:
			n++
		}
	}
	return n
}

// Runner drives a workflow through the engine. A failed step records
// its result and the run moves on; only the kill switch or a dead
// audit log stops the remaining steps.
type Runner struct {
	Engine *agent.Engine
	Gate   *guard.Gate
	Log    *slog.Logger
}

func (r *Runner) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Runner) Run(ctx context.Context, wf Workflow) (RunResult, error) {
	runID := "wf_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	log := r.log().With("run_id", runID, "workflow", wf.Name)
	log.Info("workflow_started", "steps", len(wf.Steps))

	var res RunResult
	for i, step := range wf.Steps {
		if ctx.Err() != nil {
			res.Halted = true
			return res, ctx.Err()
		}
		if r.Gate.Killed() {
			log.Warn("workflow_halted_by_kill_switch", "completed_steps", i)
			res.Halted = true
			return res, nil
		}

		log.Info("workflow_step_started", "step", i+1, "app", step.App, "goal", step.Goal)
		goalRes, err := r.Engine.RunGoal(ctx, step.Goal, step.App, step.FormData, step.MaxSteps)
		sr := StepResult{
			Index:      i + 1,
			App:        step.App,
			Goal:       step.Goal,
			Status:     goalRes.Status,
			Steps:      goalRes.Steps,
			PendingIDs: goalRes.PendingIDs,
			Err:        err,
		}
		res.StepResults = append(res.StepResults, sr)
		if err != nil {
			if isFatal(err) {
				return res, err
			}
			log.Warn("workflow_step_failed", "step", i+1, "error", err)
		} else {
			log.Info("workflow_step_finished", "step", i+1, "status", string(goalRes.Status), "engine_steps", goalRes.Steps)
		}

		// Each step starts from the launcher so app state does not leak
		// between goals.
		r.goHome(ctx, runID, i+1)
	}
	log.Info("workflow_finished", "failed_steps", res.Failed())
	return res, nil
}

func (r *Runner) goHome(ctx context.Context, runID string, step int) {
	a := plan.ActionRequest{
		ID:             "act_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Kind:           plan.KindHome,
		Classification: plan.TierGreen,
		Reason:         "return to launcher between workflow steps",
	}
	meta := guard.Meta{TickID: runID, Step: step, Time: time.Now()}
	if _, err := r.Gate.Process(ctx, meta, []plan.ActionRequest{a}); err != nil {
		r.log().Warn("workflow_home_failed", "error", err)
	}
}

func isFatal(err error) bool {
	return errors.Is(err, guard.ErrAuditUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
