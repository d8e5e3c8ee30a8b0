package recorder

import (
	"path/filepath"
	"strings"
	"time"
)

// FormatFilename returns name with an .ogg extension, or
// tau_<dd-mm-YYYY_HH_MM_SS>.ogg when name is empty.
func FormatFilename(name string, now time.Time) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "tau_" + now.Format("02-01-2006_15_04_05") + ".ogg"
	}
	if strings.EqualFold(filepath.Ext(name), ".ogg") {
		return name
	}
	return name + ".ogg"
}
