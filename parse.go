package upgradeagent

import (
	"regexp"
	"strconv"
	"strings"
)

// deviceInfo holds the identity fields read off a device with show version.
type deviceInfo struct {
	Version     string
	OSFamily    string
	Model       string
	Serial      string
	SystemImage string
}

var (
	reVersion     = regexp.MustCompile(`Version\s+([^,\s]+)`)
	reOSFamily    = regexp.MustCompile(`Cisco (IOS[ -]?XE|IOS) Software`)
	reModelNumber = regexp.MustCompile(`(?m)^Model [Nn]umber\s*:\s*(\S+)`)
	reChassis     = regexp.MustCompile(`(?m)^cisco\s+(\S+)\s+\(`)
	reSerial      = regexp.MustCompile(`(?m)^System [Ss]erial [Nn]umber\s*:\s*(\S+)`)
	reSystemImage = regexp.MustCompile(`System image file is "([^"]+)"`)
)

// parseShowVersion extracts identity fields from raw `show version` output.
// Absent fields stay empty; callers decide which ones are mandatory.
func parseShowVersion(out string) deviceInfo {
	var info deviceInfo
	if m := reVersion.FindStringSubmatch(out); m != nil {
		info.Version = m[1]
	}
	if m := reOSFamily.FindStringSubmatch(out); m != nil {
		info.OSFamily = m[1]
	}
	if m := reModelNumber.FindStringSubmatch(out); m != nil {
		info.Model = m[1]
	} else if m := reChassis.FindStringSubmatch(out); m != nil {
		info.Model = m[1]
	}
	if m := reSerial.FindStringSubmatch(out); m != nil {
		info.Serial = m[1]
	}
	if m := reSystemImage.FindStringSubmatch(out); m != nil {
		info.SystemImage = m[1]
	}
	return info
}

// bootMode classifies the running image path the way operators read it.
func (i deviceInfo) bootMode() string {
	if strings.Contains(i.SystemImage, ".conf") {
		return "install"
	}
	return "bundle"
}

// isSupportedModel gates upgrades to the Catalyst 9300/9500 families.
func isSupportedModel(model string) bool {
	return strings.Contains(model, "C9300") || strings.Contains(model, "C9500")
}

var reFileSystemRow = regexp.MustCompile(`(?m)^\*?\s*(\d+)\s+(\d+)\s+(\S+)\s+(\S+)\s+(.+)$`)

// parseFlashFreeBytes reads the free byte count of the flash filesystem from
// raw `show file systems` output. The second numeric column is Free(b).
func parseFlashFreeBytes(out string) (int64, bool) {
	for _, row := range reFileSystemRow.FindAllStringSubmatch(out, -1) {
		if !strings.Contains(row[5], "flash") {
			continue
		}
		free, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			continue
		}
		return free, true
	}
	return 0, false
}

// parseDirFileSize finds the byte size of filename in raw `dir flash:` output.
// A dir row reads: index, permissions, size, date..., name.
func parseDirFileSize(out, filename string) (int64, bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[len(fields)-1] != filename {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		return size, true
	}
	return 0, false
}

var sourceInterfacePrefixes = []string{"Vlan", "Gig", "Ten", "Twe", "Port", "Loopback"}

// parseSourceInterface pulls the interface name out of an
// `ip tacacs source-interface <intf>` running-config line.
func parseSourceInterface(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "source-interface") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		candidate := fields[len(fields)-1]
		for _, prefix := range sourceInterfacePrefixes {
			if strings.HasPrefix(candidate, prefix) {
				return candidate
			}
		}
	}
	return ""
}
