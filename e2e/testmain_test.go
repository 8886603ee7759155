//go:build e2e

package e2e

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"testing"

	"github.com/thesyncim/meetsuite/pkg/config"
)

func TestMain(m *testing.M) {
	// A broken MEETSUITE_* environment fails every test the same way.
	if _, err := config.FromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		os.Exit(2)
	}

	code := m.Run()

	// Sessions are closed by each test's cleanup. This catches browsers
	// left behind by a panic or a killed test binary.
	killOrphanedBrowsers()

	os.Exit(code)
}

// killOrphanedBrowsers is best effort: the commands fail when nothing matched.
func killOrphanedBrowsers() {
	var cmds [][]string
	switch runtime.GOOS {
	case "darwin", "linux":
		// Rod downloads chromium; chromedp uses the system chrome.
		cmds = [][]string{{"pkill", "-f", "chromium|chrome"}}
	case "windows":
		cmds = [][]string{
			{"taskkill", "/F", "/IM", "chrome.exe"},
			{"taskkill", "/F", "/IM", "chromium.exe"},
		}
	}
	for _, c := range cmds {
		_ = exec.Command(c[0], c[1:]...).Run()
	}
}
