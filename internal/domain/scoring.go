package domain

import (
	"sort"
	"time"
)

// DefaultPoints is awarded for a correct answer when a question does not set Points.
const DefaultPoints = 1

// PointValue returns the base points for a question.
func (q Question) PointValue() int {
	if q.Points > 0 {
		return q.Points
	}
	return DefaultPoints
}

// TimeLimit returns the question's answer window, or fallback when unset.
func (q Question) TimeLimit(fallback time.Duration) time.Duration {
	if q.TimeLimitSeconds > 0 {
		return time.Duration(q.TimeLimitSeconds) * time.Second
	}
	return fallback
}

// AcceptedSet returns every value that counts as correct: correct option ids
// plus any free-form accepted values.
func (q Question) AcceptedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(q.Options)+len(q.Accepted))
	for _, opt := range q.Options {
		if opt.Correct {
			set[opt.ID] = struct{}{}
		}
	}
	for _, v := range q.Accepted {
		set[v] = struct{}{}
	}
	return set
}

// Score checks an answer against a question. No partial credit is given:
// a correct answer earns the base point value, anything else earns zero.
func Score(q Question, answer []string) (bool, int) {
	accepted := q.AcceptedSet()
	if len(accepted) == 0 || len(answer) == 0 {
		return false, 0
	}

	var correct bool
	switch q.Kind {
	case QuestionMulti:
		correct = sameSet(uniq(answer), accepted)
	default:
		if len(answer) == 1 {
			_, correct = accepted[answer[0]]
		}
	}
	if !correct {
		return false, 0
	}
	return true, q.PointValue()
}

func uniq(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

func sameSet(values []string, set map[string]struct{}) bool {
	if len(values) != len(set) {
		return false
	}
	for _, v := range values {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
