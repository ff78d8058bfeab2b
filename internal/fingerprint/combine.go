package fingerprint

import (
	"fmt"
	"strconv"
	"strings"
)

const combineRounds = 4

// combine merges sorted per-directory hashes into one 64-character token.
//
// Each round r XORs (first 16 hex chars as uint64) + r across all hashes,
// with wraparound, and renders the result as 16 hex chars. This is a
// deterministic width reduction, not a collision-resistant hash.
func combine(hashes []string) Fingerprint {
	var b strings.Builder
	b.Grow(combineRounds * 16)
	for round := range combineRounds {
		var acc uint64
		for _, h := range hashes {
			acc ^= prefix64(h) + uint64(round)
		}
		fmt.Fprintf(&b, "%016x", acc)
	}
	return Fingerprint(b.String())
}

// prefix64 parses up to the first 16 hex characters of h. Unparseable input
// contributes zero.
func prefix64(h string) uint64 {
	if len(h) > 16 {
		h = h[:16]
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0
	}
	return v
}
