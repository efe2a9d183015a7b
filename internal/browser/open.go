// Package browser opens the dataset browser in the desktop's default browser.
package browser

import (
	"os/exec"
	"runtime"
)

// Command returns the launcher argv for url on goos.
func Command(goos, url string) []string {
	switch goos {
	case "windows":
		// the empty argument is the window title consumed by start
		return []string{"cmd", "/c", "start", "", url}
	case "darwin":
		return []string{"open", url}
	default:
		return []string{"xdg-open", url}
	}
}

// Open launches the default browser on url without waiting for it.
func Open(url string) error {
	argv := Command(runtime.GOOS, url)
	return exec.Command(argv[0], argv[1:]...).Start()
}
