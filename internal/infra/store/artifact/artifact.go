// Package artifact stores user-supplied files and hands back a URL the job
// runner can fetch them from.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// objectName prefixes the base filename with the upload time. Two uploads of
// the same filename within the same nanosecond still collide.
func objectName(now time.Time, filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == "/" {
		base = "upload"
	}
	return fmt.Sprintf("%d_%s", now.UnixNano(), base)
}
