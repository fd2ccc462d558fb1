package upgradeagent

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestRenderCopyApplet(t *testing.T) {
	lines, err := renderCopyApplet("http://files.example.net/images/", "cat9k_iosxe.17.09.04a.SPA.bin")
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "no event manager applet CopyImage") {
		t.Error("missing applet replacement line")
	}
	if !strings.Contains(joined, `copy http://files.example.net/images/cat9k_iosxe.17.09.04a.SPA.bin flash:cat9k_iosxe.17.09.04a.SPA.bin`) {
		t.Errorf("trailing slash not normalized:\n%s", joined)
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			t.Error("blank line in rendered config")
		}
	}
}

func TestRenderInstallAppletImmediate(t *testing.T) {
	lines, err := renderInstallApplet("cat9k_iosxe.17.09.04a.SPA.bin", "")
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "event none") {
		t.Error("immediate applet should use event none")
	}
	if strings.Contains(joined, "event timer cron") {
		t.Error("immediate applet must not carry a cron trigger")
	}
	if !strings.Contains(joined, "install add file flash:cat9k_iosxe.17.09.04a.SPA.bin activate commit") {
		t.Errorf("missing install action:\n%s", joined)
	}
}

func TestRenderInstallAppletScheduled(t *testing.T) {
	lines, err := renderInstallApplet("cat9k_iosxe.17.09.04a.SPA.bin", "0 2 1 9 1")
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, `event timer cron cron-entry "0 2 1 9 1"`) {
		t.Errorf("missing cron trigger:\n%s", joined)
	}
	if strings.Contains(joined, "event none") {
		t.Error("scheduled applet must not also fire on event none")
	}
}

func TestConvertScheduleToCron(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		// 2026-09-01 is a Tuesday; Monday = 0 in applet cron.
		{"2026-09-01 02:00:00", "0 2 1 9 1"},
		{"2026-09-01T02:00:00Z", "0 2 1 9 1"},
		// 2026-08-31 is a Monday.
		{"2026-08-31 23:30:00", "30 23 31 8 0"},
		// 2026-09-06 is a Sunday.
		{"2026-09-06 06:15:00", "15 6 6 9 6"},
	}
	for _, tc := range cases {
		got, err := convertScheduleToCron(tc.raw)
		if err != nil {
			t.Errorf("convertScheduleToCron(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("convertScheduleToCron(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestConvertScheduleToCronRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "next tuesday", "2026-13-45 99:99:99"} {
		if _, err := convertScheduleToCron(raw); !errors.Is(err, ErrValidation) {
			t.Errorf("convertScheduleToCron(%q) = %v, want ErrValidation", raw, err)
		}
	}
}
