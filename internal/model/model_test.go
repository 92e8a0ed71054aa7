package model_test

import (
	"testing"

	"teleosint/internal/model"
)

func TestNormalizeUsername(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bare", "Example", "example"},
		{"at-prefixed", "@Example", "example"},
		{"padded", "  @Example  ", "example"},
		{"already-normalized", "example", "example"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := model.NormalizeUsername(tc.input); got != tc.want {
				t.Fatalf("NormalizeUsername(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestEntityNormalizedUsername(t *testing.T) {
	t.Parallel()

	e := model.Entity{Username: "@Foo"}
	if got := e.NormalizedUsername(); got != "foo" {
		t.Fatalf("NormalizedUsername() = %q, want %q", got, "foo")
	}
}

func TestCanonicalizeEntityType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want model.EntityType
	}{
		{"Channel", model.EntityChannel},
		{"ChannelForbidden", model.EntityChannel},
		{"Megagroup", model.EntitySupergroup},
		{"Chat", model.EntitySupergroup},
		{"ChatForbidden", model.EntitySupergroup},
		{"User", model.EntityUser},
		{"Folder", model.EntityType("folder")},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()
			if got := model.CanonicalizeEntityType(tc.raw); got != tc.want {
				t.Fatalf("CanonicalizeEntityType(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"first-non-empty", []string{"", "hello", "world"}, "hello"},
		{"all-empty", []string{"", ""}, ""},
		{"no-candidates", nil, ""},
		{"first-wins", []string{"first", "second"}, "first"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := model.ExtractText(tc.candidates...); got != tc.want {
				t.Fatalf("ExtractText(%v) = %q, want %q", tc.candidates, got, tc.want)
			}
		})
	}
}

func TestBuildMessageURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		username  string
		messageID int
		want      string
	}{
		{"normal", "SomeChannel", 42, "https://t.me/somechannel/42"},
		{"at-prefixed", "@SomeChannel", 1, "https://t.me/somechannel/1"},
		{"no-username", "", 5, ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := model.BuildMessageURL(tc.username, tc.messageID); got != tc.want {
				t.Fatalf("BuildMessageURL(%q, %d) = %q, want %q", tc.username, tc.messageID, got, tc.want)
			}
		})
	}
}
