// Package patterns provides embedded default recognizer definitions.
// YAML files in this directory use the Presidio-compatible recognizer format
// with LogMiner extensions (sensitivity, validate_luhn, validate_iban).
package patterns

import _ "embed"

//go:embed pii_banking.yaml
var piiBankingYAML []byte

// PIIBankingYAML returns the embedded default PII recognizer definitions.
func PIIBankingYAML() []byte { return piiBankingYAML }
