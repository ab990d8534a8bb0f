package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmpty(t *testing.T) {
	issues := ValidateExtractedText("  \n ", "application/pdf", DefaultOptions())
	require.Len(t, issues, 1)
	assert.Equal(t, CodeEmpty, issues[0].Code)
	assert.Nil(t, issues[0].Details)
}

func TestValidateGoodText(t *testing.T) {
	text := strings.Repeat("The Summa Theologiae is a compendium. ", 10)
	assert.Empty(t, ValidateExtractedText(text, "application/pdf", DefaultOptions()))
}

func TestValidateTooShort(t *testing.T) {
	issues := ValidateExtractedText("short text", "", DefaultOptions())
	assert.Equal(t, []string{CodeTooShort}, Codes(issues))
	assert.Equal(t, 10, issues[0].Details["chars"])
	assert.Equal(t, 200, issues[0].Details["min_chars"])
}

func TestValidateLowAlphaRatio(t *testing.T) {
	text := strings.Repeat("1234567890", 30) + "abc"
	issues := ValidateExtractedText(text, "application/pdf", DefaultOptions())

	require.Equal(t, []string{CodeLowAlphaRatio}, Codes(issues))
	assert.Equal(t, 0.0099, issues[0].Details["alpha_ratio"])
	assert.Equal(t, 0.15, issues[0].Details["min_alpha_ratio"])
	assert.Equal(t, "application/pdf", issues[0].Details["content_type"])
}

func TestValidateBothIssuesWithoutContentType(t *testing.T) {
	issues := ValidateExtractedText("12345", "", DefaultOptions())

	assert.Equal(t, []string{CodeTooShort, CodeLowAlphaRatio}, Codes(issues))
	assert.Nil(t, issues[1].Details["content_type"])
}
