package audit

// Counters are the finding totals that feed the score.
type Counters struct {
	ConsoleErrors           int
	NetworkFailures         int
	UIErrors                int
	SecurityIssues          int
	AccessibilityViolations int
	SlowEndpoints           int
}

// CalculateScore computes the production readiness score from finding counts.
//
// Deductions from a base of 100, each capped:
//   - Console errors: -2 each (max -20)
//   - Network failures: -3 each (max -20)
//   - UI errors: -4 each (max -20)
//   - Security issues: -3 each (max -20)
//   - Accessibility violations: -1 each (max -10)
//   - Slow endpoints: -1 each (max -10)
//
// The result is clamped to [0, 100]. The function is pure: identical
// counters always yield the identical score.
func CalculateScore(c Counters) int {
	score := 100

	score -= capped(c.ConsoleErrors*2, 20)
	score -= capped(c.NetworkFailures*3, 20)
	score -= capped(c.UIErrors*4, 20)
	score -= capped(c.SecurityIssues*3, 20)
	score -= capped(c.AccessibilityViolations, 10)
	score -= capped(c.SlowEndpoints, 10)

	if score < 0 {
		return 0
	}
	return score
}

func capped(penalty, cap int) int {
	if penalty > cap {
		return cap
	}
	return penalty
}

// Grade converts a numeric score to a letter grade.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
