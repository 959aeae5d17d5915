package campaign

import (
	"reflect"
	"testing"
)

func TestNormalizeTarget(t *testing.T) {
	cases := []struct {
		in      string
		prefix  string
		want    string
		wantErr bool
	}{
		{"+91 98765-43210", "91", "919876543210", false},
		{"9876543210", "91", "919876543210", false},
		{"9876543210", "", "9876543210", false},
		{"(0044) 7700 900123", "91", "00447700900123", false},
		{"12345", "91", "", true},
		{"1234567890123456", "91", "", true},
		{"no digits here", "91", "", true},
	}
	for _, c := range cases {
		got, err := NormalizeTarget(c.in, c.prefix)
		if c.wantErr {
			if err == nil {
				t.Fatalf("NormalizeTarget(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeTarget(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("NormalizeTarget(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeTargetsDedupPreservesOrder(t *testing.T) {
	valid, rejected := NormalizeTargets([]string{
		"+91 9876543210",
		"9876543210",
		"919111111111",
		"bad",
		"919876543210",
	}, "91")

	wantValid := []string{"919876543210", "919111111111"}
	if !reflect.DeepEqual(valid, wantValid) {
		t.Fatalf("valid = %v, want %v", valid, wantValid)
	}
	if len(rejected) != 1 || rejected[0] != "bad" {
		t.Fatalf("rejected = %v, want [bad]", rejected)
	}
}

func TestRender(t *testing.T) {
	got := Render("Hi {name}, offer for {phone}. Bye {name}.", "919876543210", "Asha")
	want := "Hi Asha, offer for 919876543210. Bye Asha."
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}

	// Unknown placeholders pass through untouched.
	if got := Render("{code}", "1", "n"); got != "{code}" {
		t.Fatalf("Render left %q, want {code}", got)
	}
}
