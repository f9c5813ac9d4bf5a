package detector

import (
	"fmt"

	"github.com/chongzixuan-ai/logminer-qa/patterns"
)

// DefaultRecognizers returns the built-in PII recognizers parsed from the
// embedded pii_banking.yaml file. This is the first layer in the merge chain.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.PIIBankingYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded PII patterns: %w", err)
	}
	return rf.Recognizers, nil
}
