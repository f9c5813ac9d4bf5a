package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecognizerFile(t *testing.T) {
	yaml := `recognizers:
  - name: TestRecognizer
    supported_entity: EMAIL
    sensitivity: 2
    patterns:
      - name: test
        regex: 'x+'
        score: 0.5
`
	rf, err := ParseRecognizerFile([]byte(yaml))
	require.NoError(t, err)
	require.Len(t, rf.Recognizers, 1)
	assert.Equal(t, "TestRecognizer", rf.Recognizers[0].Name)
	assert.Equal(t, "EMAIL", rf.Recognizers[0].SupportedEntity)
	assert.Equal(t, 2, rf.Recognizers[0].Sensitivity)
}

func TestParseRecognizerFile_BadYAML(t *testing.T) {
	_, err := ParseRecognizerFile([]byte("recognizers: [unterminated"))
	require.Error(t, err)
}

func TestMergeRecognizers_LaterLayersOverride(t *testing.T) {
	base := []RecognizerConfig{
		{Name: "A", SupportedEntity: "EMAIL", Sensitivity: 1},
		{Name: "B", SupportedEntity: "PHONE", Sensitivity: 1},
	}
	override := []RecognizerConfig{
		{Name: "A", SupportedEntity: "EMAIL", Sensitivity: 3},
		{Name: "C", SupportedEntity: "SSN", Sensitivity: 3},
	}

	merged := MergeRecognizers(toPtrSlice(base), toPtrSlice(override))
	require.Len(t, merged, 3)

	byName := make(map[string]RecognizerConfig)
	for _, r := range merged {
		byName[r.Name] = r
	}
	assert.Equal(t, 3, byName["A"].Sensitivity, "override layer should win")
	assert.Equal(t, 1, byName["B"].Sensitivity)
	assert.Equal(t, "SSN", byName["C"].SupportedEntity)
}

func TestCompilePatterns_SkipsDisabled(t *testing.T) {
	disabled := false
	recs := []RecognizerConfig{
		{
			Name:            "Off",
			SupportedEntity: "EMAIL",
			Enabled:         &disabled,
			Patterns:        []PatternConfig{{Name: "p", Regex: "a+", Score: 0.5}},
		},
		{
			Name:            "On",
			SupportedEntity: "PHONE",
			Patterns:        []PatternConfig{{Name: "p", Regex: "b+", Score: 0.5}},
		},
	}

	compiled, err := CompilePatterns(recs)
	require.NoError(t, err)
	require.Len(t, compiled, 1)
	assert.Equal(t, "PHONE", compiled[0].Category)
}

func TestDefaultRecognizers_CoverBankingCategories(t *testing.T) {
	recs, err := DefaultRecognizers()
	require.NoError(t, err)

	entities := make(map[string]bool)
	for _, r := range recs {
		entities[r.SupportedEntity] = true
	}
	for _, want := range []string{"ACCOUNT", "CREDIT_CARD", "EMAIL", "IBAN", "PHONE", "SSN"} {
		assert.True(t, entities[want], "missing default recognizer for %s", want)
	}
}
