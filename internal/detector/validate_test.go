package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLuhnValid(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"4111111111111111", true},  // Visa test number
		{"5500005555555559", true},  // Mastercard test number
		{"4111111111111112", false}, // off-by-one check digit
		{"1234567890123456", false},
		{"0", false},          // too short
		{"79927398713", true}, // canonical Luhn example
		{"4111a11111111111", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, luhnValid(tt.number), "luhnValid(%q)", tt.number)
	}
}

func TestValidateIBANChecksum(t *testing.T) {
	tests := []struct {
		iban string
		want bool
	}{
		{"DE89370400440532013000", true},
		{"GB82WEST12345698765432", true},
		{"FR1420041010050500013M02606", true},
		{"DE00370400440532013000", false},
		{"DE89", false},
		{"DE89-3704", false}, // illegal character
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validateIBANChecksum(tt.iban), "validateIBANChecksum(%q)", tt.iban)
	}
}

func TestValidateIBANLength(t *testing.T) {
	assert.True(t, validateIBANLength("DE89370400440532013000"))  // DE = 22
	assert.False(t, validateIBANLength("DE8937040044053201300"))  // 21 chars
	assert.False(t, validateIBANLength("XX89370400440532013000")) // unknown country
	assert.False(t, validateIBANLength("D"))
}

func TestStripNonDigits(t *testing.T) {
	assert.Equal(t, "4111111111111111", stripNonDigits("4111 1111 1111 1111"))
	assert.Equal(t, "123456", stripNonDigits("12-34-56"))
	assert.Equal(t, "", stripNonDigits("no digits"))
}
