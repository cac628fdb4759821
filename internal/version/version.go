// Package version holds the embedded build stamp, the version.json
// manifest format, and the ordering used to decide whether a manifest
// describes a newer build than the one currently running.
package version

import (
	"strconv"
	"strings"
	"time"
)

// Build-time stamps, overridden via -ldflags at release time:
//
//	-X github.com/meshchat/liferaft/internal/version.Version=1.2.0
//	-X github.com/meshchat/liferaft/internal/version.BuildTime=2026-08-31T00:00:00Z
var (
	Version   = "0.0.0"
	BuildTime = ""
)

// Info is a snapshot of one version.json fetch. It is never merged with a
// prior snapshot, only replaced wholesale.
type Info struct {
	Version      string   `json:"version"`
	BuildTime    string   `json:"buildTime"`
	CID          string   `json:"cid,omitempty"`
	ReleaseNotes []string `json:"releaseNotes,omitempty"`
	Features     []string `json:"features,omitempty"`
	Critical     bool     `json:"critical,omitempty"`
}

// Embedded returns the Info compiled into this binary.
func Embedded() Info {
	bt := BuildTime
	if bt == "" {
		bt = time.Now().UTC().Format(time.RFC3339)
	}
	return Info{Version: Version, BuildTime: bt}
}

// Compare orders two dot-separated numeric version strings. Segments are
// compared as integers left to right; a missing segment counts as zero, so
// "1.0" equals "1.0.0" and "1.0.0.1" is greater than both. A segment that
// fails to parse counts as zero. The result is negative when a < b, zero
// when equal, positive when a > b.
func Compare(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := segment(as, i)
		bv := segment(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func segment(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil || v < 0 {
		return 0
	}
	return v
}
