package idgen

import "testing"

func TestNewSessionIDIsValid(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		if err := ValidateSessionID(id); err != nil {
			t.Fatalf("generated session id %q failed validation: %v", id, err)
		}
		if len(id) != 8 {
			t.Fatalf("expected 8-char session id, got %q", id)
		}
	}
}

func TestValidateSessionID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"abc123", true},
		{"abc-123-def", true},
		{"", false},
		{"ABC123", false},
		{"-abc", false},
		{"abc-", false},
		{"abc--def", false},
		{"has space", false},
	}
	for _, c := range cases {
		err := ValidateSessionID(c.id)
		if c.valid && err != nil {
			t.Errorf("expected %q to be valid, got error: %v", c.id, err)
		}
		if !c.valid && err == nil {
			t.Errorf("expected %q to be invalid", c.id)
		}
	}
}

func TestNewRunIDFormat(t *testing.T) {
	id := NewRunID()
	if len(id) != len("run-")+8 {
		t.Fatalf("unexpected run id length: %q", id)
	}
	if id[:4] != "run-" {
		t.Fatalf("expected run- prefix, got %q", id)
	}
}
