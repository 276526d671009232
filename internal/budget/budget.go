// Package budget provides token budget estimation and trimming of retrieved
// context fragments. Embedding and answer-generation backends use different
// tokenizers, so this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose). The estimate deliberately errs
// towards fewer tokens per character so the downstream prompt keeps headroom.
package budget

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// fragmentOverhead approximates the separator and citation framing the
	// prompt builder wraps around each fragment.
	fragmentOverhead = 4

	// DefaultMaxContextTokens is the default context budget for retrieved
	// fragments. Sized to leave room for the question and the answer inside an
	// 8k-context model.
	DefaultMaxContextTokens = 3000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateFragments returns the estimated total token count for fragments,
// including per-fragment framing overhead.
func EstimateFragments(fragments []string) int {
	total := 0
	for _, f := range fragments {
		total += fragmentOverhead + Estimate(f)
	}
	return total
}

// TrimFragments keeps the longest rank-ordered prefix of fragments whose
// estimated size fits within maxTokens. The top-ranked fragment is always
// kept, even when it alone exceeds the budget, so a non-empty retrieval
// never collapses to no context. maxTokens <= 0 disables trimming.
func TrimFragments(fragments []string, maxTokens int) []string {
	if maxTokens <= 0 || len(fragments) <= 1 {
		return fragments
	}

	used := fragmentOverhead + Estimate(fragments[0])
	for i := 1; i < len(fragments); i++ {
		cost := fragmentOverhead + Estimate(fragments[i])
		if used+cost > maxTokens {
			return fragments[:i]
		}
		used += cost
	}
	return fragments
}
