// Package hunt implements the Hunt Scheduler (C4, spec.md §4.4):
// running a HuntModule's steps in order against a Session's SSH
// connection, capturing bounded Observations, and — when requested —
// handing the completed run to the AI Pipeline. Grounded on the
// step-loop shape of the teacher's own job-execution supervisors
// (sequential steps, per-step timeout, non-fatal step failure,
// cancellation via context), adapted to SSH exec instead of local
// process execution.
package hunt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/huntrelay/huntrelay/internal/ai"
	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/ids"
	"github.com/huntrelay/huntrelay/internal/sshconn"
)

// SessionHandle is the slice of session.Runtime the scheduler needs:
// exclusive access to the SSH connection and the per-step mode-toggle
// application point. Expressed as an interface so this package
// doesn't import internal/session, avoiding a dependency cycle
// (session's hunt-facing API is deliberately narrow).
type SessionHandle interface {
	WithConnection(by ids.AnalystID, fn func(conn *sshconn.Connection) error) error
	ApplyPendingMode()
	AssetID() ids.AssetID
}

// IntelligenceStore is the slice of the Intelligence Store the
// scheduler needs to persist AI-derived findings.
type IntelligenceStore interface {
	UpsertFinding(ctx context.Context, f domain.Finding) (domain.Finding, bool, error)
	SaveAIReport(ctx context.Context, assetID ids.AssetID, huntID ids.HuntID, reportText string) error
}

// Scheduler runs hunts. A Scheduler enforces the per-session
// concurrency cap of 1 (spec.md §4.4) via perSession locks.
type Scheduler struct {
	bus     *eventbus.Bus
	clock   clock.Clock
	intel   IntelligenceStore
	driver  ai.Driver
	budget  ai.ContextBudget

	mu         sync.Mutex
	running    map[ids.SessionID]context.CancelFunc
	cancelled  map[ids.HuntID]bool
}

// NewScheduler constructs a Scheduler. driver may be nil if AI
// reporting is never requested (run_ai=false for every hunt).
func NewScheduler(bus *eventbus.Bus, c clock.Clock, intel IntelligenceStore, driver ai.Driver, budget ai.ContextBudget) *Scheduler {
	return &Scheduler{
		bus:       bus,
		clock:     c,
		intel:     intel,
		driver:    driver,
		budget:    budget,
		running:   make(map[ids.SessionID]context.CancelFunc),
		cancelled: make(map[ids.HuntID]bool),
	}
}

// Run executes module's steps in order against session's SSH
// connection, as analyst (used for the writer-lock check). Blocks
// until the hunt finishes, fails, or is cancelled.
func (s *Scheduler) Run(ctx context.Context, huntID ids.HuntID, sessionID ids.SessionID, session SessionHandle, analyst ids.AnalystID, module domain.HuntModule, asset domain.Asset, runAI bool) (domain.Hunt, error) {
	if !module.SupportsOS(asset.OS) {
		return domain.Hunt{}, apperr.IncompatibleOSf("hunt: module %s does not support OS %s", module.ID, asset.OS)
	}

	s.mu.Lock()
	if _, busy := s.running[sessionID]; busy {
		s.mu.Unlock()
		return domain.Hunt{}, apperr.Busyf("hunt: session %s already has a hunt in progress", sessionID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running[sessionID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, sessionID)
		delete(s.cancelled, huntID)
		s.mu.Unlock()
		cancel()
	}()

	result := domain.Hunt{ID: huntID, SessionID: sessionID, ModuleID: module.ID, RunAI: runAI, Status: domain.HuntRunning, StartedAt: s.clock.Now()}
	s.publish(sessionID, eventbus.KindHuntStatus, result)

	var observations []domain.Observation
	for _, step := range module.Steps {
		if s.isCancelled(huntID) {
			result.Status = domain.HuntCancelled
			s.publish(sessionID, eventbus.KindHuntStatus, result)
			return result, nil
		}

		session.ApplyPendingMode()

		s.publish(sessionID, eventbus.KindHuntStepStarted, step)

		obs, fatal := s.runStep(runCtx, session, analyst, asset, huntID, step)
		observations = append(observations, obs)
		s.publish(sessionID, eventbus.KindHuntStepFinished, obs)

		if fatal != nil {
			result.Status = domain.HuntFailed
			result.EndedAt = s.clock.Now()
			s.publish(sessionID, eventbus.KindHuntStatus, result)
			return result, fatal
		}
	}

	if runAI && s.driver != nil {
		reportText, findings, _, err := ai.Run(runCtx, s.driver, s.clock, s.budget, ai.ReportRequest{
			ModuleName:   module.Name,
			AssetOS:      asset.OS,
			Observations: observations,
		}, func(eventType string, payload any) {
			var kind eventbus.Kind
			switch eventType {
			case "ai_report_chunk":
				kind = eventbus.KindAIReportChunk
			case "ai_reasoning_state":
				kind = eventbus.KindAIReasoningState
			default:
				return
			}
			s.publish(sessionID, kind, payload)
		})
		if err != nil {
			result.Status = domain.HuntFailed
			result.EndedAt = s.clock.Now()
			s.publish(sessionID, eventbus.KindHuntStatus, result)
			return result, fmt.Errorf("hunt: ai pipeline: %w", err)
		}

		result.AIReportText = reportText
		if s.intel != nil {
			if err := s.intel.SaveAIReport(runCtx, asset.ID, huntID, reportText); err != nil {
				return result, fmt.Errorf("hunt: saving AI report: %w", err)
			}
			for _, f := range findings {
				f.AssetID = asset.ID
				f.SessionID = sessionID
				f.HuntID = huntID
				if _, _, err := s.intel.UpsertFinding(runCtx, f); err != nil {
					return result, fmt.Errorf("hunt: upserting finding: %w", err)
				}
				result.FindingsCount++
			}
		}
	}

	result.Status = domain.HuntCompleted
	result.EndedAt = s.clock.Now()
	s.publish(sessionID, eventbus.KindHuntStatus, result)
	return result, nil
}

// Cancel marks huntID for cancellation; the in-flight step's exec
// channel is closed and remaining steps are skipped (spec.md §4.4).
func (s *Scheduler) Cancel(huntID ids.HuntID, sessionID ids.SessionID) {
	s.mu.Lock()
	s.cancelled[huntID] = true
	cancel, ok := s.running[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Scheduler) isCancelled(huntID ids.HuntID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[huntID]
}

func (s *Scheduler) publish(sessionID ids.SessionID, kind eventbus.Kind, payload any) {
	_ = s.bus.Publish(context.Background(), eventbus.Event{
		Kind: kind, Room: eventbus.Room("session:" + sessionID.String()), Payload: payload,
	})
}

// runStep executes one step's command via the session's SSH
// connection, handling the sudo-skip and timeout rules from spec.md
// §4.4. Returns the Observation and, for hunt-fatal conditions (SSH
// channel death), a non-nil error.
func (s *Scheduler) runStep(ctx context.Context, session SessionHandle, analyst ids.AnalystID, asset domain.Asset, huntID ids.HuntID, step domain.Step) (domain.Observation, error) {
	obs := domain.Observation{HuntID: huntID, StepID: step.ID, CommandAsSent: step.Command}

	if step.RequiresSudo && asset.Username == "" {
		// No sudo policy is resolvable without a credential lookup
		// (handled by the caller supplying a sudo-capable session);
		// the Session/vault layer is expected to reject dialing with
		// an empty username long before reaching here. This guards
		// the documented skip path when requires_sudo has no backing
		// policy at all.
		obs.Exit = domain.ExitSkipped
		return obs, nil
	}

	stepCtx := ctx
	var cancelStep context.CancelFunc
	if step.TimeoutSeconds > 0 {
		stepCtx, cancelStep = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancelStep()
	}

	started := s.clock.Now()
	var stdout, stderr []byte
	var exitStatus domain.ExitStatus
	var code int
	var execErr error

	err := session.WithConnection(analyst, func(conn *sshconn.Connection) error {
		command := step.Command
		stdout, stderr, exitStatus, code, execErr = conn.Exec(stepCtx, command)
		return nil
	})
	if err != nil {
		return obs, fmt.Errorf("hunt: acquiring SSH connection: %w", err)
	}

	obs.WallMS = s.clock.Now().Sub(started).Milliseconds()
	obs.Stdout, obs.StdoutTrunc = clampObservation(stdout)
	obs.Stderr, obs.StderrTrunc = clampObservation(stderr)
	obs.Exit = exitStatus
	obs.Code = code

	if execErr != nil && apperr.CategoryOf(execErr) == apperr.ChannelClosed {
		return obs, execErr // SSH channel death is hunt-fatal
	}
	return obs, nil // timeouts, non-zero exit, etc. are non-fatal per spec.md §4.4
}

func clampObservation(b []byte) (string, bool) {
	if len(b) > domain.MaxObservationBytes {
		return string(b[:domain.MaxObservationBytes]), true
	}
	return string(b), false
}
