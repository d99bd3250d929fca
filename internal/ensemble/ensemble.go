// Package ensemble derives executable ensembles from a thread's model bindings.
//
// An ensemble set is the Cartesian product of the values bound to every input of a model.
// Ensembles are identified by a hash of their canonical key, so regenerating the set after an
// edit keeps the run state of every combination that survived the edit.
package ensemble

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"mint/backend/pkg/models"
)

// Key returns the canonical identity string of one binding combination:
// modelID, "?", then the "input=value" pairs sorted by input id and joined with "&".
func Key(modelID string, bindings map[string]string) string {
	inputs := make([]string, 0, len(bindings))
	for id := range bindings {
		inputs = append(inputs, id)
	}
	sort.Strings(inputs)

	var b strings.Builder
	b.WriteString(modelID)
	b.WriteByte('?')
	for i, id := range inputs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(id)
		b.WriteByte('=')
		b.WriteString(bindings[id])
	}
	return b.String()
}

// ID returns the hex SHA-256 of Key(modelID, bindings).
func ID(modelID string, bindings map[string]string) string {
	sum := sha256.Sum256([]byte(Key(modelID, bindings)))
	return hex.EncodeToString(sum[:])
}

// Count returns len(Expand(modelID, inputs)) without building the product. Duplicate values
// of an input count once. It is 0 when inputs is empty or any input has no values, and
// saturates at math.MaxInt.
func Count(inputs models.ModelBindings) int {
	if len(inputs) == 0 {
		return 0
	}
	n := 1
	saturated := false
	for _, values := range inputs {
		distinct := distinctCount(values)
		if distinct == 0 {
			return 0
		}
		if n > math.MaxInt/distinct {
			saturated = true
			continue
		}
		n *= distinct
	}
	if saturated {
		return math.MaxInt
	}
	return n
}

func distinctCount(values []string) int {
	if len(values) < 2 {
		return len(values)
	}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Expand builds one ensemble per combination of the values bound to each input.
//
// A zero-width input collapses the product to the empty set, which callers treat as
// "not ready to run". Duplicate values of an input yield one ensemble, so the result has
// Count(inputs) entries. The result is sorted by ID.
func Expand(modelID string, inputs models.ModelBindings) []models.ExecutableEnsemble {
	if Count(inputs) == 0 {
		return []models.ExecutableEnsemble{}
	}

	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []map[string]string{{}}
	for _, k := range keys {
		expanded := make([]map[string]string, 0, len(combos)*len(inputs[k]))
		for _, combo := range combos {
			for _, v := range inputs[k] {
				next := make(map[string]string, len(combo)+1)
				for ck, cv := range combo {
					next[ck] = cv
				}
				next[k] = v
				expanded = append(expanded, next)
			}
		}
		combos = expanded
	}

	out := make([]models.ExecutableEnsemble, 0, len(combos))
	seen := make(map[string]bool, len(combos))
	for _, combo := range combos {
		id := ID(modelID, combo)
		// duplicate values bound to the same input produce the same combination
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, models.ExecutableEnsemble{
			ID:       id,
			ModelID:  modelID,
			Bindings: combo,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Regenerate expands inputs and carries the run state of previous ensembles over to new
// ensembles with the same identity. Previous ensembles without a match are dropped.
func Regenerate(modelID string, inputs models.ModelBindings, previous []models.ExecutableEnsemble) []models.ExecutableEnsemble {
	old := make(map[string]models.ExecutableEnsemble, len(previous))
	for _, e := range previous {
		old[e.ID] = e
	}

	next := Expand(modelID, inputs)
	for i := range next {
		prev, ok := old[next[i].ID]
		if !ok {
			continue
		}
		next[i].ThreadID = prev.ThreadID
		next[i].RunID = prev.RunID
		next[i].Status = prev.Status
		next[i].RunProgress = prev.RunProgress
		next[i].Results = prev.Results
		next[i].Selected = prev.Selected
		next[i].SubmittedAt = prev.SubmittedAt
		next[i].UpdatedAt = prev.UpdatedAt
	}
	return next
}

// Delta is the change between two generations of an ensemble set.
type Delta struct {
	Added   []models.ExecutableEnsemble
	Kept    []models.ExecutableEnsemble
	Removed []string
}

// Diff compares two generations by ID.
func Diff(previous, next []models.ExecutableEnsemble) Delta {
	prev := make(map[string]bool, len(previous))
	for _, e := range previous {
		prev[e.ID] = true
	}

	var d Delta
	inNext := make(map[string]bool, len(next))
	for _, e := range next {
		inNext[e.ID] = true
		if prev[e.ID] {
			d.Kept = append(d.Kept, e)
		} else {
			d.Added = append(d.Added, e)
		}
	}
	for _, e := range previous {
		if !inNext[e.ID] {
			d.Removed = append(d.Removed, e.ID)
		}
	}
	sort.Strings(d.Removed)
	return d
}
