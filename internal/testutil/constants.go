package testutil

// Test keys and secrets for use in tests only.
const (
	// TestSigningKey is 33 bytes, valid for HMAC-SHA256 audit signing.
	TestSigningKey = "test-signing-key-1234567890123456"

	// TestHashSecret is the keyed-hash secret used across sanitization tests.
	TestHashSecret = "s3cret"
)
