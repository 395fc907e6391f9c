// Package evaluation implements the privacy-preserving Evaluation
// Recorder (spec.md §4.6): a local learner that records only derived
// statistics about how useful provided context turned out to be, never
// the raw task text, file contents, or code. Grounded on
// original_source/src/evaluation/mod.rs's FeedbackCollector/
// FeatureExtractor/RelevanceScorer split.
package evaluation

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// HashTask returns the first n hex characters of the SHA256 hash of a
// task description, defaulting to types.TaskHashLength. The raw
// description itself is never stored or logged past this call.
func HashTask(description string, n int) string {
	if n <= 0 {
		n = types.TaskHashLength
	}
	sum := sha256.Sum256([]byte(description))
	hexSum := hex.EncodeToString(sum[:])
	if n > len(hexSum) {
		n = len(hexSum)
	}
	return hexSum[:n]
}
