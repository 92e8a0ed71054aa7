package resolver

import (
	"testing"
	"time"

	"teleosint/internal/model"
)

func TestUsernameKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ref  string
		want string
	}{
		{"mention", "@Example", "example"},
		{"tme-link", "https://t.me/Example", "example"},
		{"tme-link-trailing", "https://t.me/Example/", "example"},
		{"invite-link-not-keyable", "https://t.me/+AbCdEf", ""},
		{"bare-string-not-keyable", "not a ref at all", ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := usernameKey(tc.ref); got != tc.want {
				t.Fatalf("usernameKey(%q) = %q, want %q", tc.ref, got, tc.want)
			}
		})
	}
}

func TestDialogCacheGetSet(t *testing.T) {
	t.Parallel()

	c := NewDialogCache()
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("Get() on empty cache returned ok=true")
	}

	e := model.Entity{ChatID: 100, Username: "Example", Title: "Example Chat"}
	c.Set(e)

	got, ok := c.Get("Example")
	if !ok {
		t.Fatalf("Get() after Set() = ok false, want true")
	}
	if got.ChatID != e.ChatID {
		t.Fatalf("Get() returned %+v, want %+v", got, e)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestDialogCacheIgnoresUsernamelessEntity(t *testing.T) {
	t.Parallel()

	c := NewDialogCache()
	c.Set(model.Entity{ChatID: 1, Title: "No Username"})
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 (entity with no username must not be cached)", c.Len())
	}
}

func TestCooldownMapMarkAndExpire(t *testing.T) {
	t.Parallel()

	c := NewCooldownMap()
	if c.IsBlocked(1) {
		t.Fatalf("IsBlocked() on an unmarked chat = true, want false")
	}

	c.MarkLowQuality(1, 0) // кулдаун, истёкший сразу
	if c.IsBlocked(1) {
		t.Fatalf("IsBlocked() on an immediately-expired cooldown = true, want false (lazy eviction)")
	}
}

func TestCooldownMapBlocksWithinWindow(t *testing.T) {
	t.Parallel()

	c := NewCooldownMap()
	c.MarkLowQuality(2, 5*time.Minute)
	if !c.IsBlocked(2) {
		t.Fatalf("IsBlocked() within the cooldown window = false, want true")
	}
}
