package upgradeagent

import "testing"

const showVersionC9300 = `Cisco IOS XE Software, Version 17.06.04
Cisco IOS Software [Bengaluru], Catalyst L3 Switch Software (CAT9K_IOSXE), RELEASE SOFTWARE (fc1)
Technical Support: http://www.cisco.com/techsupport
Copyright (c) 1986-2022 by Cisco Systems, Inc.

switch-dc1-acc-01 uptime is 41 weeks, 3 days, 2 hours, 10 minutes
System returned to ROM by Reload Command
System image file is "flash:packages.conf"

cisco C9300-48P (X86) processor with 1392780K/6147K bytes of memory.
Processor board ID FOC2303X0GZ

Model Number                       : C9300-48P
System Serial Number               : FOC2303X0GZ
`

func TestParseShowVersion(t *testing.T) {
	info := parseShowVersion(showVersionC9300)
	if info.Version != "17.06.04" {
		t.Errorf("Version = %q, want 17.06.04", info.Version)
	}
	if info.OSFamily != "IOS XE" {
		t.Errorf("OSFamily = %q, want IOS XE", info.OSFamily)
	}
	if info.Model != "C9300-48P" {
		t.Errorf("Model = %q, want C9300-48P", info.Model)
	}
	if info.Serial != "FOC2303X0GZ" {
		t.Errorf("Serial = %q, want FOC2303X0GZ", info.Serial)
	}
	if info.SystemImage != "flash:packages.conf" {
		t.Errorf("SystemImage = %q, want flash:packages.conf", info.SystemImage)
	}
	if mode := info.bootMode(); mode != "install" {
		t.Errorf("bootMode = %q, want install", mode)
	}
}

func TestParseShowVersionChassisFallback(t *testing.T) {
	out := `Cisco IOS XE Software, Version 17.03.05
System image file is "flash:cat9k_iosxe.17.03.05.SPA.bin"
cisco C9500-24Y4C (X86) processor with 2900K bytes of memory.
`
	info := parseShowVersion(out)
	if info.Model != "C9500-24Y4C" {
		t.Errorf("Model = %q, want C9500-24Y4C", info.Model)
	}
	if mode := info.bootMode(); mode != "bundle" {
		t.Errorf("bootMode = %q, want bundle", mode)
	}
}

func TestParseShowVersionGarbage(t *testing.T) {
	info := parseShowVersion("% Invalid input detected")
	if info.Version != "" || info.Model != "" {
		t.Errorf("expected empty fields, got %+v", info)
	}
}

func TestIsSupportedModel(t *testing.T) {
	cases := map[string]bool{
		"C9300-48P":   true,
		"C9500-24Y4C": true,
		"C9200L-24T":  false,
		"WS-C3850":    false,
		"":            false,
	}
	for model, want := range cases {
		if got := isSupportedModel(model); got != want {
			t.Errorf("isSupportedModel(%q) = %t, want %t", model, got, want)
		}
	}
}

func TestParseFlashFreeBytes(t *testing.T) {
	out := `File Systems:

       Size(b)       Free(b)      Type  Flags  Prefixes
*  11353194496    9693061120      disk     rw   flash: flash-1:
    1651314688    1232220160      disk     rw   crashinfo:
       7774208       7770112      opaque   rw   system:
`
	free, ok := parseFlashFreeBytes(out)
	if !ok {
		t.Fatal("flash filesystem not found")
	}
	if free != 9693061120 {
		t.Errorf("free = %d, want 9693061120", free)
	}
}

func TestParseFlashFreeBytesAbsent(t *testing.T) {
	if _, ok := parseFlashFreeBytes("no filesystems here"); ok {
		t.Error("expected no match on garbage output")
	}
}

func TestParseDirFileSize(t *testing.T) {
	out := `Directory of flash:/

434073  -rw-   1019233930  Aug 10 2026 10:00:00 +00:00  cat9k_iosxe.17.09.04a.SPA.bin
434074  -rw-        1234   Aug 10 2026 10:00:00 +00:00  other.bin

11353194496 bytes total (9693061120 bytes free)
`
	size, ok := parseDirFileSize(out, "cat9k_iosxe.17.09.04a.SPA.bin")
	if !ok {
		t.Fatal("file not found in dir output")
	}
	if size != 1019233930 {
		t.Errorf("size = %d, want 1019233930", size)
	}
	if _, ok := parseDirFileSize(out, "missing.bin"); ok {
		t.Error("expected no match for missing file")
	}
}

func TestParseDirFileSizeErrorOutput(t *testing.T) {
	out := `%Error opening flash:/cat9k_iosxe.17.09.04a.SPA.bin (File not found)`
	if _, ok := parseDirFileSize(out, "cat9k_iosxe.17.09.04a.SPA.bin"); ok {
		t.Error("expected no match on error output")
	}
}

func TestParseSourceInterface(t *testing.T) {
	cases := []struct {
		out  string
		want string
	}{
		{"ip tacacs source-interface Vlan100", "Vlan100"},
		{"ip tacacs source-interface Loopback0", "Loopback0"},
		{"ip tacacs source-interface GigabitEthernet0/0", "GigabitEthernet0/0"},
		{"", ""},
		{"ip tacacs source-interface", ""},
	}
	for _, tc := range cases {
		if got := parseSourceInterface(tc.out); got != tc.want {
			t.Errorf("parseSourceInterface(%q) = %q, want %q", tc.out, got, tc.want)
		}
	}
}
