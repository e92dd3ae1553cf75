package history

import "testing"

func TestRedactScript(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple var", "echo $SECRET", "echo $REDACTED"},
		{"braced var", "echo ${SECRET}", "echo ${REDACTED}"},
		{"kept var", "cd $HOME", "cd $HOME"},
		{"special param", "echo $?", "echo $?"},
		{"assignment", "TOKEN=abc cmd", "TOKEN=*** cmd"},
		{"kept assignment", "PATH=/usr/bin cmd", "PATH=/usr/bin cmd"},
		{"export", "export API_KEY=abc123", "export API_KEY=***"},
		{"no vars", "ls -la", "ls -la"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactScript(tt.input); got != tt.want {
				t.Errorf("RedactScript(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactScriptParseFailure(t *testing.T) {
	got := RedactScript("echo $SECRET ${HOME} KEY=val ((")
	want := "echo $REDACTED ${HOME} KEY=*** (("
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRedactCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"x := $1", "x := $1"},
		{"%sh echo $SECRET", "%sh echo $REDACTED"},
		{"%%sh\necho $SECRET\nls", "%%sh\necho $REDACTED\nls"},
		{"%who", "%who"},
	}
	for _, tt := range tests {
		if got := RedactCell(tt.input); got != tt.want {
			t.Errorf("RedactCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
