package crawl

import (
	"context"
	"testing"

	"teleosint/internal/config"
	"teleosint/internal/model"
)

func TestPassesQualityGates(t *testing.T) {
	t.Parallel()

	cfg := config.CrawlConfig{
		QMinSamples:      5,
		QMinHitRate:      0.1,
		QMaxNegativeRate: 0.3,
		QMinAvgLen:       10,
	}
	c := &Crawl{cfg: cfg}

	cases := []struct {
		name  string
		stats probeStats
		want  bool
	}{
		{
			name:  "passes every gate",
			stats: probeStats{total: 10, scoreHits: 2, negHits: 1, totalLen: 200},
			want:  true,
		},
		{
			name:  "too few samples",
			stats: probeStats{total: 2, scoreHits: 2, totalLen: 40},
			want:  false,
		},
		{
			name:  "hit rate too low",
			stats: probeStats{total: 10, scoreHits: 0, totalLen: 200},
			want:  false,
		},
		{
			name:  "negative rate too high",
			stats: probeStats{total: 10, scoreHits: 2, negHits: 5, totalLen: 200},
			want:  false,
		},
		{
			name:  "average length too short",
			stats: probeStats{total: 10, scoreHits: 2, totalLen: 20},
			want:  false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := c.passesQualityGates(tc.stats); got != tc.want {
				t.Fatalf("passesQualityGates(%+v) = %v, want %v", tc.stats, got, tc.want)
			}
		})
	}
}

func TestPassesChannelFiltersNameMustInclude(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Discovery: config.Discovery{
			Filters: config.DiscoveryFilters{
				NameMustInclude: []string{"news"},
			},
		},
	}
	c := &Crawl{block: cfg}

	ctx := context.Background()
	if c.passesChannelFilters(ctx, model.Entity{Title: "Breaking News Network", Username: "bnn"}) != true {
		t.Fatalf("expected a matching title to pass name_must_include")
	}
	if c.passesChannelFilters(ctx, model.Entity{Title: "Cooking Tips", Username: "cookingtips"}) != false {
		t.Fatalf("expected a non-matching title to fail name_must_include")
	}
}

func TestPassesChannelFiltersRejectsEmptyUsername(t *testing.T) {
	t.Parallel()

	c := &Crawl{block: &config.Config{}}
	ctx := context.Background()

	if c.passesChannelFilters(ctx, model.Entity{Title: "No Username Here"}) {
		t.Fatalf("expected an entity with no username to fail passesChannelFilters")
	}
}

func TestAllowsTypeCanonicalizesLegacyChat(t *testing.T) {
	t.Parallel()

	allow := buildAllowTypes([]string{"channel", "supergroup"})

	if !allowsType(allow, model.EntityChat) {
		t.Fatalf("expected a legacy basic-group chat to bucket-match the configured \"supergroup\" allow_types entry")
	}
	if !allowsType(allow, model.EntityChannel) {
		t.Fatalf("expected EntityChannel to match the configured \"channel\" allow_types entry")
	}
	if allowsType(allow, model.EntityUser) {
		t.Fatalf("expected EntityUser to be rejected when allow_types is [channel, supergroup]")
	}
}

func TestPassesChannelFiltersUsernameBlockPattern(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Discovery: config.Discovery{
			Filters: config.DiscoveryFilters{
				UsernameBlockPatterns: []string{"^spam"},
			},
		},
	}
	c := &Crawl{block: cfg}
	ctx := context.Background()

	e := model.Entity{Title: "Whatever", Username: "spamchannel"}
	if c.passesChannelFilters(ctx, e) {
		t.Fatalf("expected a blocklisted username pattern to fail the filter")
	}
}
