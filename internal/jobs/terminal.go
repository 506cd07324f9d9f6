package jobs

import "strings"

// Terminal error fragments per job type. A failure matching one of these is
// dead-lettered immediately: retrying cannot fix a missing precondition or a
// validation rejection. Matching is on the error message because failures
// cross process boundaries (worker endpoints) as strings.
var terminalFragments = map[Type][]string{
	TypeRunTSA: {
		"witness_hash does not match",
		"document entity not found",
	},
	TypeSubmitAnchorPolygon: {
		"tsa confirmation required",
		"witness_hash does not match",
		"invalid network",
		"document entity not found",
	},
	TypeSubmitAnchorBitcoin: {
		"tsa confirmation required",
		"witness_hash does not match",
		"invalid network",
		"document entity not found",
	},
	TypeBuildArtifact: {
		"document entity not found",
	},
}

// IsTerminal classifies a failure as non-retryable for the given job type.
func IsTerminal(jobType Type, errMsg string) bool {
	lowered := strings.ToLower(errMsg)
	for _, fragment := range terminalFragments[jobType] {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}
