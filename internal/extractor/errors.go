package extractor

import (
	"fmt"
	"strings"
)

// ErrorKind buckets download failures so callers can report why a video
// could not be fetched.
type ErrorKind string

const (
	KindForbidden    ErrorKind = "forbidden_403"
	KindAuthRequired ErrorKind = "auth_required"
	KindRateLimit    ErrorKind = "rate_limit"
	KindHLSParse     ErrorKind = "hls_parse"
	KindUnknown      ErrorKind = "unknown"
)

// Error is returned when every path in the download ladder has failed.
type Error struct {
	Kind   ErrorKind
	Stage  string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("frame extraction failed (%s, stage %s): %s", e.Kind, e.Stage, e.Detail)
}

// ClassifyError maps tool stderr to an ErrorKind. Checks run in
// precedence order so a 403 on an HLS manifest reports forbidden_403.
func ClassifyError(output string) ErrorKind {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return KindForbidden
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized"):
		return KindAuthRequired
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return KindRateLimit
	case strings.Contains(lower, "m3u8") || strings.Contains(lower, "hls") || strings.Contains(lower, "dash"):
		return KindHLSParse
	default:
		return KindUnknown
	}
}
