package quota

import "math"

// Estimation constants. Roughly 1.3 tokens per word and 200 words per
// minute of spoken or read content.
const (
	TokensPerWord  = 1.3
	WordsPerMinute = 200.0
	MinimumMinutes = 0.1
)

// Estimator converts upstream token counts into consumed minutes.
type Estimator func(promptTokens, completionTokens int) float64

// EstimateConsumption is the default Estimator.
// Every call costs at least MinimumMinutes, including calls whose token
// counts are missing or zero.
func EstimateConsumption(promptTokens, completionTokens int) float64 {
	tokens := max(promptTokens, 0) + max(completionTokens, 0)
	words := float64(tokens) / TokensPerWord
	return math.Max(MinimumMinutes, words/WordsPerMinute)
}
