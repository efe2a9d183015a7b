package browser

import (
	"strings"
	"testing"
)

func TestCommand(t *testing.T) {
	const url = "http://127.0.0.1:8742/"
	tests := map[string]string{
		"windows": "cmd /c start  " + url,
		"darwin":  "open " + url,
		"linux":   "xdg-open " + url,
		"freebsd": "xdg-open " + url,
	}
	for goos, want := range tests {
		if got := strings.Join(Command(goos, url), " "); got != want {
			t.Errorf("Command(%q) = %q, want %q", goos, got, want)
		}
	}
}
