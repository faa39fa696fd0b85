package model

import "testing"

func TestFragmentTitleMarkers(t *testing.T) {
	tests := []struct {
		title   string
		working bool
		autofix bool
		bare    string
	}{
		{WorkingTitlePrefix + "landing page", true, false, "landing page"},
		{AutofixTitlePrefix + "fix crash", false, true, AutofixTitlePrefix + "fix crash"},
		{"landing page", false, false, "landing page"},
		{WorkingTitlePrefix + "untitled", true, false, "untitled"},
	}
	for _, tt := range tests {
		f := Fragment{Title: tt.title}
		if f.Working() != tt.working {
			t.Errorf("%q: Working() = %v", tt.title, f.Working())
		}
		if f.Autofix() != tt.autofix {
			t.Errorf("%q: Autofix() = %v", tt.title, f.Autofix())
		}
		if f.BareTitle() != tt.bare {
			t.Errorf("%q: BareTitle() = %q, want %q", tt.title, f.BareTitle(), tt.bare)
		}
	}
}
