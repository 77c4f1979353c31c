package meta

import (
	"fmt"
	"sort"
	"strings"

	"bobchad/internal/history"
	"bobchad/internal/tickets"
)

// SlugLen is the maximum length of an error slug.
const SlugLen = 80

// maxExamples caps the evidence lines kept per issue.
const maxExamples = 3

// Issue is a group of failed records sharing one dedup key.
type Issue struct {
	Key   string
	Area  string
	Paths []string
	// Kinds counts failures per kind, e.g. "CodemodError/TargetNotFound".
	Kinds map[string]int
	// Count is the number of failed records, Requests the number of
	// distinct provenance ids among them.
	Count    int
	Requests int
	FirstSeq int64
	LastSeq  int64
	Examples []string

	requests map[string]bool
}

// Kind returns the most frequent failure kind.
func (is *Issue) Kind() string {
	best, n := "", -1
	for k, c := range is.Kinds {
		if c > n || (c == n && k < best) {
			best, n = k, c
		}
	}
	if best == "" {
		return "failure"
	}
	return best
}

// KeyFunc derives the dedup key of a failure group.
type KeyFunc func(area string, paths []string) string

// Slug normalises an error message into a single line of at most SlugLen
// characters.
func Slug(detail string) string {
	s := strings.Join(strings.Fields(detail), " ")
	if s == "" {
		return "NO_ERROR"
	}
	r := []rune(s)
	if len(r) <= SlugLen {
		return s
	}
	return string(r[:SlugLen-3]) + "..."
}

// GuessArea attributes a failed record to a subsystem.
func GuessArea(r history.Record) string {
	f := r.Failure
	if f == nil {
		return tickets.AreaOther
	}
	switch f.Kind {
	case history.FailureJail:
		return tickets.AreaFSTools
	case history.FailureCodemod:
		return tickets.AreaExecutor
	case history.FailureVerification:
		return tickets.AreaTests
	case history.FailureValidation:
		if f.Code == "UnknownTool" {
			return tickets.AreaTools
		}
		return tickets.AreaPlanner
	case history.FailureTool:
		// Declared contract and observed usage disagree.
		if f.Code == "InvalidArgs" || f.Code == "NotFound" {
			return tickets.AreaTools
		}
	}

	detail := strings.ToLower(f.Detail)
	switch {
	case strings.Contains(detail, "jail"), strings.Contains(detail, "path"):
		return tickets.AreaFSTools
	case strings.Contains(detail, "plan"):
		return tickets.AreaPlanner
	case strings.Contains(detail, "test"), strings.Contains(detail, "assert"):
		return tickets.AreaTests
	case strings.Contains(detail, "executor"):
		return tickets.AreaExecutor
	case f.Kind == history.FailureTool:
		return tickets.AreaTools
	}
	return tickets.AreaOther
}

// DetectIssues groups the failed records of a window. Issues are returned
// most frequent first, ties by earliest record.
func DetectIssues(window []history.Record, key KeyFunc) []*Issue {
	if key == nil {
		key = tickets.Key
	}
	grouped := make(map[string]*Issue)
	var order []*Issue
	for _, r := range window {
		if r.OK() {
			continue
		}
		area := GuessArea(r)
		paths := tickets.ProjectPaths(r.Paths)
		k := key(area, paths)

		is, ok := grouped[k]
		if !ok {
			is = &Issue{
				Key:      k,
				Area:     area,
				Paths:    paths,
				Kinds:    make(map[string]int),
				FirstSeq: r.Seq,
				requests: make(map[string]bool),
			}
			grouped[k] = is
			order = append(order, is)
		}
		is.Count++
		is.LastSeq = r.Seq
		if !is.requests[r.ProvenanceID] {
			is.requests[r.ProvenanceID] = true
			is.Requests++
		}

		detail := ""
		if r.Failure != nil {
			kind := r.Failure.Kind
			if r.Failure.Code != "" {
				kind += "/" + r.Failure.Code
			}
			is.Kinds[kind]++
			detail = r.Failure.Detail
		}
		if len(is.Examples) < maxExamples {
			is.Examples = append(is.Examples, fmt.Sprintf("record #%d: %s", r.Seq, Slug(detail)))
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Count != order[j].Count {
			return order[i].Count > order[j].Count
		}
		return order[i].FirstSeq < order[j].FirstSeq
	})
	return order
}
