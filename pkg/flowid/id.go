// Package flowid generates workflow and event identifiers in the format
// documented by the FlowForge persistence store contract.
package flowid

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// base36Random returns an 8-character base36 string derived from a
// freshly generated UUID, used as the random suffix of a generated ID.
func base36Random() string {
	u := uuid.New()
	hi := uint64(u[0])<<56 | uint64(u[1])<<48 | uint64(u[2])<<40 | uint64(u[3])<<32 |
		uint64(u[4])<<24 | uint64(u[5])<<16 | uint64(u[6])<<8 | uint64(u[7])
	s := strconv.FormatUint(hi, 36)
	if len(s) < 8 {
		s = strings.Repeat("0", 8-len(s)) + s
	}
	return s[:8]
}

// Workflow generates a workflow identifier of the form
// wf_<base36-timestamp>_<base36-random8>.
func Workflow(nowUnixNano int64) string {
	return "wf_" + strconv.FormatInt(nowUnixNano, 36) + "_" + base36Random()
}

// Event generates an event identifier of the form
// ev_<base36-timestamp>_<base36-random8>.
func Event(nowUnixNano int64) string {
	return "ev_" + strconv.FormatInt(nowUnixNano, 36) + "_" + base36Random()
}
