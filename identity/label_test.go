package identity

import "testing"

func TestParseLabelValid(t *testing.T) {
	for _, s := range []string{"button", "my-atom", "my_atom", "日本語", "a1"} {
		if _, err := ParseLabel(s); err != nil {
			t.Errorf("ParseLabel(%q) = %v, want nil", s, err)
		}
	}
}

func TestParseLabelInvalid(t *testing.T) {
	cases := []string{
		"",
		".leading",
		"trailing.",
		"has..dots",
		"has space",
		"has/slash",
		"has:colon",
		"has?question",
		"has*star",
		"has[bracket",
		`has\backslash`,
		"has^caret",
		"has~tilde",
		"has@at",
	}
	for _, s := range cases {
		if _, err := ParseLabel(s); err == nil {
			t.Errorf("ParseLabel(%q) = nil, want error", s)
		}
	}
}

func TestParseLabelTooLong(t *testing.T) {
	long := make([]byte, MaxLabelBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := ParseLabel(string(long)); err == nil {
		t.Errorf("expected error for label exceeding %d bytes", MaxLabelBytes)
	}
}
