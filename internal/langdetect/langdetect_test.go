package langdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_ShortQueryIsUndetermined(t *testing.T) {
	// len(trim(x)) < 15 => {"und","und",false}, per §8.
	got := Detect("fix the bug")
	assert.Equal(t, Result{BCP47: "und", ISO6393: "und", Confident: false}, got)
}

func TestDetect_English(t *testing.T) {
	got := Detect("this is a test of the detector and it should work")
	assert.Equal(t, "en", got.BCP47)
	assert.Equal(t, "eng", got.ISO6393)
	assert.True(t, got.Confident)
}

func TestDetect_Spanish(t *testing.T) {
	got := Detect("el perro come la comida de la casa con mucha energia")
	assert.Equal(t, "es", got.BCP47)
	assert.True(t, got.Confident)
}

func TestDetect_Japanese_Script(t *testing.T) {
	got := Detect("これはテストの文章です、検出器が正しく動くはずです")
	assert.Equal(t, "ja", got.BCP47)
	assert.True(t, got.Confident)
}

func TestDetect_Chinese_Script(t *testing.T) {
	got := Detect("这是一个用来测试语言检测器能否正常工作的句子")
	assert.Equal(t, "zh", got.BCP47)
	assert.True(t, got.Confident)
}

func TestDetect_Russian_Script(t *testing.T) {
	got := Detect("это длинное предложение для проверки детектора языка")
	assert.Equal(t, "ru", got.BCP47)
	assert.True(t, got.Confident)
}

func TestDetect_AmbiguousShortOverlapDegradesToUnd(t *testing.T) {
	// Long enough to pass the length gate, but with no clear stopword
	// majority, must not guess.
	got := Detect("xk7 zz9 qw2 vv4 jj8 mm1 bb3 nn5 cc6")
	assert.Equal(t, undetermined, got)
}

func TestDetect_NeverUsedAsRetrievalFilter(t *testing.T) {
	// Contract smoke test: Result carries no filtering semantics; it is a
	// plain value the orchestrator chooses whether to use for prompts.
	r := Detect("this is a test of the detector and it should work")
	assert.NotPanics(t, func() { _ = r.BCP47 + r.ISO6393 })
}
