package scoring_test

import (
	"reflect"
	"testing"

	"teleosint/internal/config"
	"teleosint/internal/scoring"
)

func TestScorerScore(t *testing.T) {
	t.Parallel()

	kws := config.Keywords{
		EN: []string{"breach", "leak"},
		RU: []string{"утечка"},
	}
	sc := scoring.New(kws)

	cases := []struct {
		name      string
		text      string
		negatives []string
		wantScore int
		wantMatch []string
	}{
		{
			name:      "single keyword hit",
			text:      "there was a data breach last week",
			wantScore: 1,
			wantMatch: []string{"breach"},
		},
		{
			name:      "two keyword hits sorted",
			text:      "breach and leak reported together",
			wantScore: 2,
			wantMatch: []string{"breach", "leak"},
		},
		{
			name:      "case insensitive",
			text:      "BREACH reported",
			wantScore: 1,
			wantMatch: []string{"breach"},
		},
		{
			name:      "no match",
			text:      "nothing interesting happening here",
			wantScore: 0,
			wantMatch: nil,
		},
		{
			name:      "hashtags are stripped before matching",
			text:      "#breach happened",
			wantScore: 0,
			wantMatch: nil,
		},
		{
			name:      "negative short-circuits to a zero result",
			text:      "breach confirmed but it was a drill",
			negatives: []string{"drill"},
			wantScore: 0,
			wantMatch: nil,
		},
		{
			name:      "non-latin keyword matches",
			text:      "подтверждена утечка данных",
			wantScore: 1,
			wantMatch: []string{"утечка"},
		},
		{
			name:      "mixed script counts each keyword once",
			text:      "новая утечка: breach and утечка again",
			wantScore: 2,
			wantMatch: []string{"breach", "утечка"},
		},
		{
			name:      "empty body after stripping",
			text:      "#onlyahashtag",
			wantScore: 0,
			wantMatch: nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := sc.Score(tc.text, tc.negatives)
			if got.Score != tc.wantScore {
				t.Fatalf("Score = %d, want %d", got.Score, tc.wantScore)
			}
			if !reflect.DeepEqual(got.Matched, tc.wantMatch) {
				t.Fatalf("Matched = %#v, want %#v", got.Matched, tc.wantMatch)
			}
		})
	}
}

func TestScorerEmptyKeywordSet(t *testing.T) {
	t.Parallel()

	sc := scoring.New(config.Keywords{})
	got := sc.Score("anything at all", nil)
	if got.Score != 0 || got.Matched != nil {
		t.Fatalf("Score() on empty keyword set = %#v, want zero value", got)
	}
}

func TestScorerDeduplicatesKeywords(t *testing.T) {
	t.Parallel()

	sc := scoring.New(config.Keywords{EN: []string{"breach", "BREACH", " breach "}})
	got := sc.Score("a breach occurred", nil)
	if got.Score != 1 {
		t.Fatalf("Score = %d, want 1 (duplicates should collapse)", got.Score)
	}
}
