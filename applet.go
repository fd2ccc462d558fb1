package upgradeagent

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

// Device-side EEM applet names installed by the engine. CancelSchedule
// removes installApplet; both are replaced wholesale on re-install.
const (
	copyApplet    = "CopyImage"
	installApplet = "InstallImage"
)

var copyAppletTmpl = template.Must(template.New("copy").Parse(strings.TrimLeft(`
no event manager applet {{.Applet}}
event manager applet {{.Applet}}
 event none
 action 1.0 cli command "enable"
 action 2.0 cli command "copy {{.SourceURL}}/{{.Filename}} flash:{{.Filename}}"
 action 3.0 cli command ""
`, "\n")))

var installAppletTmpl = template.Must(template.New("install").Parse(strings.TrimLeft(`
no event manager applet {{.Applet}}
event manager applet {{.Applet}}
{{- if .Cron}}
 event timer cron cron-entry "{{.Cron}}"
{{- else}}
 event none
{{- end}}
 action 1.0 cli command "enable"
 action 2.0 cli command "install add file flash:{{.Filename}} activate commit prompt-level none"
 action 3.0 syslog msg "{{.Filename}} activation started, device will reload"
`, "\n")))

type appletParams struct {
	Applet    string
	SourceURL string
	Filename  string
	Cron      string
}

// renderCopyApplet produces the config lines that install the image
// transfer applet pointing at the region file server.
func renderCopyApplet(sourceURL, filename string) ([]string, error) {
	return renderApplet(copyAppletTmpl, appletParams{
		Applet:    copyApplet,
		SourceURL: strings.TrimRight(sourceURL, "/"),
		Filename:  filename,
	})
}

// renderInstallApplet produces the config lines for the activation applet.
// With an empty cron the applet only fires on an explicit
// `event manager run`, which is the operator's rollback window.
func renderInstallApplet(filename, cron string) ([]string, error) {
	return renderApplet(installAppletTmpl, appletParams{
		Applet:   installApplet,
		Filename: filename,
		Cron:     cron,
	})
}

func renderApplet(tmpl *template.Template, params appletParams) ([]string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, params); err != nil {
		return nil, errors.Wrap(err, "render applet template")
	}
	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// scheduleLayouts are the accepted operator-facing date-time formats for a
// deferred reload, tried in order.
var scheduleLayouts = []string{
	"15:04:05.000 UTC Mon Jan 2 2006",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	time.RFC3339,
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"20060102 15:04:05",
	"02-01-2006 15:04:05",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04:05 PM",
}

// convertScheduleToCron turns a date-time string into the EEM cron entry
// format "minute hour day month weekday" (Monday = 0).
func convertScheduleToCron(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.Wrap(ErrValidation, "empty schedule time")
	}
	var parsed time.Time
	var ok bool
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			parsed, ok = t, true
			break
		}
	}
	if !ok {
		return "", errors.Wrapf(ErrValidation, "unparseable schedule time %q", raw)
	}
	weekday := (int(parsed.Weekday()) + 6) % 7
	return fmt.Sprintf("%d %d %d %d %d",
		parsed.Minute(), parsed.Hour(), parsed.Day(), int(parsed.Month()), weekday), nil
}
