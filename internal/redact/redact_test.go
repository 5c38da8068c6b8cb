package redact_test

import (
	"strings"
	"testing"

	"github.com/stridehq/stride/internal/redact"
)

func TestRedact_Empty(t *testing.T) {
	if got := redact.Redact(""); got != "" {
		t.Errorf("Redact(%q) = %q, want %q", "", got, "")
	}
}

func TestRedact_NoPIIUnchanged(t *testing.T) {
	in := "show me all open tasks in the billing project"
	if got := redact.Redact(in); got != in {
		t.Errorf("Redact(%q) = %q, want unchanged", in, got)
	}
}

func TestRedact_AllClassesReplaced(t *testing.T) {
	in := "email jane.doe@example.com or call 555-867-5309, ask for Dr. Jane Doe"
	got := redact.Redact(in)

	for _, leaked := range []string{"jane.doe@example.com", "555-867-5309", "Dr. Jane Doe"} {
		if strings.Contains(got, leaked) {
			t.Errorf("Redact() output still contains %q: %q", leaked, got)
		}
	}
	for _, marker := range []string{"[EMAIL]", "[PHONE]", "[NAME]"} {
		if !strings.Contains(got, marker) {
			t.Errorf("Redact() output missing placeholder %q: %q", marker, got)
		}
	}
}

func TestRedact_GovernmentIDAndCard(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"my ssn is 123-45-6789 thanks", "my ssn is [GOV-ID] thanks"},
		{"card 4111-1111-1111-1111 on file", "card [CARD] on file"},
		{"card 4111 1111 1111 1111 on file", "card [CARD] on file"},
	}
	for _, tc := range cases {
		if got := redact.Redact(tc.in); got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedact_PhoneVariants(t *testing.T) {
	for _, in := range []string{
		"call 5558675309",
		"call 555.867.5309",
		"call (555) 867-5309",
		"call +1 555 867 5309",
	} {
		got := redact.Redact(in)
		if !strings.Contains(got, "[PHONE]") {
			t.Errorf("Redact(%q) = %q, want a [PHONE] placeholder", in, got)
		}
		if strings.ContainsAny(got, "0123456789") {
			t.Errorf("Redact(%q) = %q, digits leaked", in, got)
		}
	}
}

func TestRedact_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"no pii here",
		"jane@example.com and 555-867-5309 and 123-45-6789",
		"Mrs. Ada Lovelace paid with 4111 1111 1111 1111",
	}
	for _, in := range inputs {
		once := redact.Redact(in)
		twice := redact.Redact(once)
		if once != twice {
			t.Errorf("Redact not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestRedact_MultipleInstancesOfOneClass(t *testing.T) {
	got := redact.Redact("cc a@b.io and c@d.io")
	if got != "cc [EMAIL] and [EMAIL]" {
		t.Errorf("Redact() = %q, want both emails replaced", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := redact.Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() below threshold = %q, want no-op", got)
	}
	long := strings.Repeat("x", 50)
	got := redact.Truncate(long, 10)
	if len([]rune(got)) != 10 {
		t.Errorf("Truncate() length = %d, want 10", len([]rune(got)))
	}
	if !strings.HasSuffix(got, redact.Ellipsis) {
		t.Errorf("Truncate() = %q, want ellipsis suffix", got)
	}
	// Exactly at the threshold is untouched.
	exact := strings.Repeat("y", 10)
	if got := redact.Truncate(exact, 10); got != exact {
		t.Errorf("Truncate() at threshold = %q, want unchanged", got)
	}
}
