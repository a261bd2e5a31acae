// Package device wraps the phone control surfaces: adb for Android, a
// WebDriverAgent session plus libimobiledevice tooling for iOS. All calls
// are blocking; transport problems surface as recoverable errors that the
// phase engine catches at the iteration boundary.
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTap parses one line of a tap script. Lines have the form
// "tap <x> <y>"; blank lines and lines starting with '#' are skipped.
// Anything else is malformed and returns an error; the caller decides
// whether to skip or abort (the UI driver skips with a warning).
func ParseTap(line string) (x, y int, skip bool, err error) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") {
		return 0, 0, true, nil
	}

	parts := strings.Fields(s)
	if len(parts) != 3 || parts[0] != "tap" {
		return 0, 0, false, fmt.Errorf("unsupported tap line %q (expected \"tap X Y\")", line)
	}
	x, err = strconv.Atoi(parts[1])
	if err == nil {
		y, err = strconv.Atoi(parts[2])
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("tap coordinates must be integers: %q", line)
	}
	return x, y, false, nil
}
