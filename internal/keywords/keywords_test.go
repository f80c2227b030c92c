package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_LatinAndNumeric(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "alpha beta 42", Extract("alpha, beta! 42."))
	// Single-character Latin and numeric tokens survive.
	assert.Equal(t, "a 1", Extract("a 1"))
}

func TestExtract_HangulStoplist(t *testing.T) {
	t.Parallel()
	// Stoplist members disappear; regular nouns stay.
	assert.Equal(t, "문서 분석", Extract("문서 것 분석 수"))
}

func TestExtract_SuffixConcatenation(t *testing.T) {
	t.Parallel()
	// A suffix token glues onto the previously emitted keyword.
	assert.Equal(t, "문서들", Extract("문서 들"))
	// A leading suffix with nothing before it is dropped by the same rule.
	assert.Equal(t, "", Extract("들"))
}

func TestExtract_MixedScripts(t *testing.T) {
	t.Parallel()
	got := Extract("API 버전 2 문서")
	assert.Equal(t, "API 버전 2 문서", got)
}

func TestExtract_Idempotent(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"alpha beta gamma",
		"시스템 설계 문서 2024",
		"invoice #42 total $300",
		"汉字 테스트 mixed",
	}
	for _, in := range inputs {
		once := Extract(in)
		assert.Equal(t, once, Extract(once), "input %q", in)
	}
}

func TestExtract_Empty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", Extract(""))
	assert.Equal(t, "", Extract("!!! ,,, ..."))
}

func TestExtractDetailed_KeepsIdentifiers(t *testing.T) {
	t.Parallel()
	got := ExtractDetailed("see https://example.com/docs now")
	assert.Contains(t, got, "https")
	assert.Contains(t, got, "example")
}
