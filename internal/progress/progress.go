// Package progress derives parent progress and status from child state.
// Everything here is pure; callers decide which children count (archived
// children are filtered out before the call).
package progress

import (
	"math"

	"stratline/internal/domain"
)

// ProjectProgress is round(100 * achieved / total), or 0 with no actions.
func ProjectProgress(actions []domain.Action) int {
	if len(actions) == 0 {
		return 0
	}
	achieved := 0
	for _, a := range actions {
		if a.Status == domain.ActionAchieved {
			achieved++
		}
	}
	return clamp(int(math.Round(100 * float64(achieved) / float64(len(actions)))))
}

// StrategyProgress is the unweighted mean of the projects' progress, rounded.
func StrategyProgress(projects []domain.Project) int {
	if len(projects) == 0 {
		return 0
	}
	sum := 0
	for _, p := range projects {
		sum += clamp(p.Progress)
	}
	return clamp(int(math.Round(float64(sum) / float64(len(projects)))))
}

// NextStrategyStatus applies the auto-complete / auto-revert rule. Archived
// strategies never move.
func NextStrategyStatus(current domain.StrategyStatus, avg int, projects []domain.Project) domain.StrategyStatus {
	switch {
	case current == domain.StrategyActive && avg == 100 && allCompleted(projects):
		return domain.StrategyCompleted
	case current == domain.StrategyCompleted && avg < 100:
		return domain.StrategyActive
	default:
		return current
	}
}

// Rollup is the recomputed aggregate of a strategy.
type Rollup struct {
	Progress int
	Status   domain.StrategyStatus
}

func RollupStrategy(current domain.StrategyStatus, projects []domain.Project) Rollup {
	avg := StrategyProgress(projects)
	return Rollup{Progress: avg, Status: NextStrategyStatus(current, avg, projects)}
}

func allCompleted(projects []domain.Project) bool {
	if len(projects) == 0 {
		return false
	}
	for _, p := range projects {
		if !p.Status.IsCompleted() {
			return false
		}
	}
	return true
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
