package rules

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyeh/claimcheck/internal/claims"
)

// Result is the outcome of one rule over one claim table. Rows keep the
// table's order and are never nil; Passed is true when Rows is empty.
type Result struct {
	Rule    string             `json:"rule"`
	Title   string             `json:"title"`
	Passed  bool               `json:"passed"`
	Rows    []claims.ClaimLine `json:"rows"`
	Elapsed time.Duration      `json:"-"`
}

// groupKey identifies a group. Components not in the rule's group_by stay
// zero.
type groupKey struct {
	subject string
	date    time.Time
	element string
}

// keyOf builds the group key of row. ok is false when a component the rule
// groups by is nil; such rows never join a group.
func keyOf(row *claims.ClaimLine, by []Key) (groupKey, bool) {
	var k groupKey
	for _, c := range by {
		switch c {
		case KeySubject:
			k.subject = row.Subject
		case KeyDate:
			if row.ServiceDate == nil {
				return groupKey{}, false
			}
			k.date = *row.ServiceDate
		case KeyElement:
			if row.ElementCode == nil {
				return groupKey{}, false
			}
			k.element = *row.ElementCode
		}
	}
	return k, true
}

// EvaluateRule applies one rule to rows. rows is never modified.
func EvaluateRule(r Rule, rows []claims.ClaimLine) Result {
	start := time.Now()
	res := Result{Rule: r.Name, Title: r.Title, Rows: []claims.ClaimLine{}}

	admitted := admit(r, rows)
	for i := range rows {
		if admitted != nil && !admitted[i] {
			continue
		}
		if r.Select.Match(&rows[i]) {
			res.Rows = append(res.Rows, rows[i])
		}
	}
	res.Passed = len(res.Rows) == 0
	res.Elapsed = time.Since(start)
	return res
}

// admit returns, per row index, whether the row belongs to an admitted
// group. nil means the rule does not group and every row is eligible.
func admit(r Rule, rows []claims.ClaimLine) []bool {
	if len(r.GroupBy) == 0 {
		return nil
	}

	groups := make(map[groupKey][]int)
	var order []groupKey
	for i := range rows {
		k, ok := keyOf(&rows[i], r.GroupBy)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	admitted := make([]bool, len(rows))
	for _, k := range order {
		members := groups[k]
		if !admitGroup(r, rows, members) {
			continue
		}
		for _, i := range members {
			admitted[i] = true
		}
	}
	return admitted
}

func admitGroup(r Rule, rows []claims.ClaimLine, members []int) bool {
	switch {
	case len(r.RequireAll) > 0:
		for _, m := range r.RequireAll {
			if !anyCode(m, rows, members) {
				return false
			}
		}
		return true
	case r.Count != nil:
		return overLimit(*r.Count, rows, members)
	}
	return true
}

func anyCode(m CodeMatch, rows []claims.ClaimLine, members []int) bool {
	for _, i := range members {
		if m.Match(rows[i].ServiceCode) {
			return true
		}
	}
	return false
}

func overLimit(c CountLimit, rows []claims.ClaimLine, members []int) bool {
	if len(c.Segments) == 0 {
		n := 0
		for _, i := range members {
			if c.Code.Match(rows[i].ServiceCode) {
				n++
			}
		}
		return n > c.Max
	}
	for _, seg := range c.Segments {
		n := 0
		for _, i := range members {
			if c.Code.Match(rows[i].ServiceCode) && seg.Match(rows[i].ElementCode) {
				n++
			}
		}
		if n > c.Max {
			return true
		}
	}
	return false
}

// Evaluate applies each rule to rows in order.
func Evaluate(rs []Rule, rows []claims.ClaimLine) []Result {
	out := make([]Result, len(rs))
	for i, r := range rs {
		out[i] = EvaluateRule(r, rows)
	}
	return out
}

// EvaluateParallel is Evaluate with at most workers rules in flight. Rules
// share rows read-only. Results are in rule order. It returns ctx's error if
// ctx is cancelled before every rule has run.
func EvaluateParallel(ctx context.Context, rs []Rule, rows []claims.ClaimLine, workers int) ([]Result, error) {
	if workers <= 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Evaluate(rs, rows), nil
	}

	out := make([]Result, len(rs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range rs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = EvaluateRule(r, rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
