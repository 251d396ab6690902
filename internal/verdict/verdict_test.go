package verdict

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dshills/proofcheck/internal/schema"
)

func TestOrdinal(t *testing.T) {
	ordinals := []struct {
		v schema.Verdict
		o int
	}{
		{schema.VerdictPass, 0},
		{schema.VerdictWarning, 1},
		{schema.VerdictBlocked, 2},
	}
	for i := 1; i < len(ordinals); i++ {
		prev := ordinals[i-1]
		curr := ordinals[i]
		if Ordinal(prev.v) >= Ordinal(curr.v) {
			t.Errorf("Ordinal(%q) >= Ordinal(%q): not strictly ascending", prev.v, curr.v)
		}
		if Ordinal(curr.v) != curr.o {
			t.Errorf("Ordinal(%q) = %d, want %d", curr.v, Ordinal(curr.v), curr.o)
		}
	}
	if Ordinal("bogus") != -1 {
		t.Error("unknown verdict should have ordinal -1")
	}
}

func TestDetermine(t *testing.T) {
	cases := []struct {
		name   string
		issues []schema.Issue
		want   schema.Verdict
	}{
		{"no issues", nil, schema.VerdictPass},
		{"info only", []schema.Issue{{Severity: schema.SeverityInfo}}, schema.VerdictPass},
		{"minor", []schema.Issue{{Severity: schema.SeverityMinor}}, schema.VerdictWarning},
		{"critical non-blocking", []schema.Issue{{Severity: schema.SeverityCritical}}, schema.VerdictWarning},
		{"blocking", []schema.Issue{
			{Severity: schema.SeverityMinor},
			{Severity: schema.SeverityCritical, BlocksPublish: true},
		}, schema.VerdictBlocked},
		{"blocking info", []schema.Issue{{Severity: schema.SeverityInfo, BlocksPublish: true}}, schema.VerdictBlocked},
	}
	for _, c := range cases {
		if got := Determine(c.issues); got != c.want {
			t.Errorf("%s: Determine = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestTally(t *testing.T) {
	issues := []schema.Issue{
		{Category: schema.CategoryB, Severity: schema.SeverityMinor},
		{Category: schema.CategoryB, Severity: schema.SeverityMinor},
		{Category: schema.CategoryD, Severity: schema.SeverityCritical, BlocksPublish: true},
		{Category: schema.CategoryC, Severity: schema.SeverityInfo, NeedsReview: true},
	}
	st := Tally(issues)
	if st.TotalIssues != 4 || st.BlockingIssueCount != 1 || st.NeedsReviewCount != 1 {
		t.Errorf("Tally = %+v", st)
	}
	if st.ByCategory[schema.CategoryB] != 2 || st.ByCategory[schema.CategoryA] != 0 {
		t.Errorf("ByCategory = %v", st.ByCategory)
	}
	if _, ok := st.ByCategory[schema.CategoryF]; !ok {
		t.Error("ByCategory should carry explicit zeros")
	}
	if st.BySeverity[schema.SeverityMinor] != 2 || st.BySeverity[schema.SeverityMajor] != 0 {
		t.Errorf("BySeverity = %v", st.BySeverity)
	}
}

func genIssue() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf(schema.SeverityCritical, schema.SeverityMajor, schema.SeverityMinor, schema.SeverityInfo),
		gen.Bool(),
	).Map(func(v []interface{}) schema.Issue {
		return schema.Issue{Severity: v[0].(schema.Severity), BlocksPublish: v[1].(bool)}
	})
}

func TestDetermine_Monotonic(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("adding a blocking issue yields blocked", prop.ForAll(
		func(issues []schema.Issue) bool {
			withBlock := append(append([]schema.Issue(nil), issues...),
				schema.Issue{Severity: schema.SeverityMinor, BlocksPublish: true})
			return Determine(withBlock) == schema.VerdictBlocked
		},
		gen.SliceOf(genIssue()),
	))

	properties.Property("removing every blocking issue never leaves blocked", prop.ForAll(
		func(issues []schema.Issue) bool {
			var kept []schema.Issue
			for _, is := range issues {
				if !is.BlocksPublish {
					kept = append(kept, is)
				}
			}
			return Determine(kept) != schema.VerdictBlocked
		},
		gen.SliceOf(genIssue()),
	))

	properties.Property("blocked iff some issue blocks", prop.ForAll(
		func(issues []schema.Issue) bool {
			blocking := Tally(issues).BlockingIssueCount > 0
			return (Determine(issues) == schema.VerdictBlocked) == blocking
		},
		gen.SliceOf(genIssue()),
	))

	properties.TestingRun(t)
}
