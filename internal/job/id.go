package job

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxRequesterLength = 48

var requesterUnsafe = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// NewID builds a job ID from the requester and creation time. The random
// suffix keeps two submissions in the same second apart.
func NewID(requester string, created time.Time) string {
	r := strings.Trim(requesterUnsafe.ReplaceAllString(requester, "-"), "-")
	if len(r) > maxRequesterLength {
		r = r[:maxRequesterLength]
	}
	if r == "" {
		r = "anonymous"
	}
	return fmt.Sprintf("%s_%d_%s", r, created.Unix(), uuid.NewString()[:8])
}
