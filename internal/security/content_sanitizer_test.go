package security

import (
	"strings"
	"testing"
)

func TestSanitizeTitle(t *testing.T) {
	s := NewRoomSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "Weekly Standup", "Weekly Standup"},
		{"formatting removed", "<b>Team</b> Room", "Team Room"},
		{"script removed with content", "<script>alert(1)</script>Room", "Room"},
		{"ampersand kept readable", "Q&A Room", "Q&A Room"},
		{"escaped tags cannot come back", "&lt;b&gt;Room", "bRoom"},
		{"whitespace collapsed", "  My   Room \n", "My Room"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeTitle(tt.input); got != tt.want {
				t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeWelcome(t *testing.T) {
	s := NewRoomSanitizer()

	tests := []struct {
		name        string
		input       string
		wantContain []string
		wantAbsent  []string
	}{
		{
			name:        "formatting tags kept",
			input:       "<p>Hi <strong>all</strong>, <em>welcome</em><br>!</p>",
			wantContain: []string{"<p>", "<strong>all</strong>", "<em>welcome</em>", "<br"},
		},
		{
			name:       "script removed",
			input:      "<p>Hello</p><script>alert('x')</script>",
			wantAbsent: []string{"<script", "alert"},
		},
		{
			name:       "event handlers removed",
			input:      `<p onclick="steal()">Hello</p><img src="x" onerror="alert(1)">`,
			wantAbsent: []string{"onclick", "onerror", "<img"},
		},
		{
			name:        "https link gets target and rel",
			input:       `<a href="https://example.com/agenda">agenda</a>`,
			wantContain: []string{`href="https://example.com/agenda"`, `target="_blank"`, "noreferrer"},
		},
		{
			name:       "non https link dropped",
			input:      `<a href="javascript:alert(1)">x</a><a href="http://example.com">y</a>`,
			wantAbsent: []string{"javascript:", "http://example.com"},
		},
		{
			name:       "iframe removed",
			input:      `<iframe src="https://evil.example"></iframe>Welcome`,
			wantAbsent: []string{"<iframe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeWelcome(tt.input)
			for _, want := range tt.wantContain {
				if !strings.Contains(got, want) {
					t.Errorf("SanitizeWelcome(%q) = %q, want to contain %q", tt.input, got, want)
				}
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("SanitizeWelcome(%q) = %q, must not contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

func TestSanitizeWelcome_Idempotent(t *testing.T) {
	s := NewRoomSanitizer()
	input := `<p>Hi <a href="https://example.com">there</a><script>x</script></p>`

	first := s.SanitizeWelcome(input)
	if second := s.SanitizeWelcome(first); second != first {
		t.Errorf("not idempotent:\nfirst:  %q\nsecond: %q", first, second)
	}
}
