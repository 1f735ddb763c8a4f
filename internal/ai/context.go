package ai

import "github.com/huntrelay/huntrelay/internal/domain"

// ContextBudget bounds how much observation text BuildContext will
// hand to a Driver. Defaults come from internal/config.AIConfig
// (PerStepBudget 8KiB, GlobalBudget 64KiB), matching spec.md §4.5.
type ContextBudget struct {
	PerStepBytes int
	GlobalBytes  int
}

// trimmedStep holds one clamped domain.Observation while BuildContext
// works; BuildContext does not set or read its trimmed field.
type trimmedStep struct {
	obs     domain.Observation
	trimmed bool
}

// BuildContext clamps each Observation to budget.PerStepBytes, then —
// if the sum still exceeds budget.GlobalBytes — evicts whole steps
// starting from the largest remaining one, working back from the most
// recent, until the total fits. This is a LIFO-largest-step-first
// policy: adapted from lib/llm/context/truncating.go's turn-group
// eviction idea, but budgeted on raw byte size per step rather than
// role-aware turn grouping, since a hunt step has no "turn" structure.
//
// Returns the trimmed observation slice plus the indices (original
// order) of any steps evicted entirely, so the caller can note
// "N earlier steps omitted for context budget" in the prompt.
func BuildContext(budget ContextBudget, obs []domain.Observation) ([]domain.Observation, []int) {
	steps := make([]trimmedStep, len(obs))
	for i, o := range obs {
		steps[i] = trimmedStep{obs: clampStep(o, budget.PerStepBytes)}
	}

	total := 0
	for _, s := range steps {
		total += stepSize(s.obs)
	}

	var evicted []int
	if total <= budget.GlobalBytes {
		out := make([]domain.Observation, len(steps))
		for i, s := range steps {
			out[i] = s.obs
		}
		return out, evicted
	}

	// Candidate eviction order: largest step first; ties broken by
	// most-recent-first (higher index = more recent, evicted first),
	// matching "LIFO" — the newest large step is not protected just
	// because it's newest, but among equal-size steps we'd rather
	// keep the early scene-setting ones.
	order := make([]int, len(steps))
	for i := range order {
		order[i] = i
	}
	alive := make(map[int]bool, len(steps))
	for i := range steps {
		alive[i] = true
	}

	for total > budget.GlobalBytes {
		largest := -1
		largestSize := -1
		for _, idx := range order {
			if !alive[idx] {
				continue
			}
			size := stepSize(steps[idx].obs)
			if size > largestSize || (size == largestSize && idx > largest) {
				largest = idx
				largestSize = size
			}
		}
		if largest == -1 {
			break // nothing left to evict; budget is smaller than a single empty step
		}
		total -= largestSize
		alive[largest] = false
		evicted = append(evicted, largest)
	}

	out := make([]domain.Observation, 0, len(steps)-len(evicted))
	for i, s := range steps {
		if alive[i] {
			out = append(out, s.obs)
		}
	}
	return out, evicted
}

func stepSize(o domain.Observation) int {
	return len(o.CommandAsSent) + len(o.Stdout) + len(o.Stderr)
}

func clampStep(o domain.Observation, limit int) domain.Observation {
	if limit <= 0 {
		return o
	}
	budget := limit - len(o.CommandAsSent)
	if budget < 0 {
		budget = 0
	}
	stdoutBudget := budget
	if len(o.Stdout)+len(o.Stderr) > budget {
		stdoutBudget = budget * len(o.Stdout) / max1(len(o.Stdout)+len(o.Stderr))
	}
	if len(o.Stdout) > stdoutBudget {
		o.Stdout = o.Stdout[:stdoutBudget]
		o.StdoutTrunc = true
	}
	stderrBudget := budget - min(stdoutBudget, len(o.Stdout))
	if len(o.Stderr) > stderrBudget {
		if stderrBudget < 0 {
			stderrBudget = 0
		}
		o.Stderr = o.Stderr[:stderrBudget]
		o.StderrTrunc = true
	}
	return o
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
