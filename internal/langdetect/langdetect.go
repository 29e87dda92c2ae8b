// Package langdetect maps free text to a BCP-47 language tag for prompt
// selection (§4.2, C2). It never participates in retrieval filtering; the
// orchestrator (C9) only ever uses its output to pick a prompt language and
// to populate meta.query_language.
//
// The example corpus this module was grounded on carries no dedicated
// language-identification library (golang.org/x/text only formats already-
// known locales, it never classifies free text), so detection here is a
// small rule-driven classifier in the style of the teacher's pattern-based
// query classifier (internal/search/patterns.go in the teacher repo):
// compiled tables, no statistical model, no third-party dependency.
package langdetect

import (
	"strings"
	"unicode"
)

// Result is the detector's output (§4.2).
type Result struct {
	BCP47     string
	ISO6393   string
	Confident bool
}

// undetermined is returned whenever detection cannot clear the confidence
// bar (§4.2: len(trim(x)) < 15 or an unsupported detection).
var undetermined = Result{BCP47: "und", ISO6393: "und", Confident: false}

// minConfidentLength is the trimmed-length floor below which detection
// always degrades to undetermined (§4.2, §8).
const minConfidentLength = 15

// iso6393ByBCP47 is the closed, supported language set (§4.2: "a fixed
// list; unsupported detections degrade to und").
var iso6393ByBCP47 = map[string]string{
	"en": "eng",
	"es": "spa",
	"fr": "fra",
	"de": "deu",
	"pt": "por",
	"it": "ita",
	"nl": "nld",
	"ru": "rus",
	"zh": "zho",
	"ja": "jpn",
	"ko": "kor",
	"ar": "ara",
}

// stopwords are short, high-frequency function words that are strong
// per-language signals even in a single short sentence. Overlap counting
// against these tables is the detection mechanism for Latin-script
// languages; non-Latin scripts are detected by Unicode range instead (see
// detectByScript).
var stopwords = map[string][]string{
	"en": {"the", "and", "is", "are", "of", "to", "in", "that", "for", "with", "this", "was", "on", "as", "it"},
	"es": {"el", "la", "los", "las", "que", "de", "en", "por", "con", "para", "una", "es", "del", "como", "se"},
	"fr": {"le", "la", "les", "des", "que", "de", "en", "pour", "avec", "une", "est", "dans", "ce", "qui", "au"},
	"de": {"der", "die", "das", "und", "ist", "von", "mit", "für", "ein", "eine", "nicht", "den", "dem", "auf", "zu"},
	"pt": {"o", "a", "os", "as", "que", "de", "em", "por", "com", "para", "uma", "é", "do", "como", "se"},
	"it": {"il", "la", "gli", "che", "di", "in", "per", "con", "una", "è", "del", "come", "non", "si", "sono"},
	"nl": {"de", "het", "een", "van", "en", "dat", "is", "voor", "met", "niet", "zijn", "op", "aan", "te", "als"},
	"ru": {"и", "в", "не", "на", "что", "как", "это", "он", "с", "по"},
}

// Detect classifies query and returns its prompt language (§4.2).
func Detect(query string) Result {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < minConfidentLength {
		return undetermined
	}

	if tag, ok := detectByScript(trimmed); ok {
		return confident(tag)
	}

	tag, ok := detectByStopwords(trimmed)
	if !ok {
		return undetermined
	}
	return confident(tag)
}

func confident(bcp47 string) Result {
	iso, ok := iso6393ByBCP47[bcp47]
	if !ok {
		return undetermined
	}
	return Result{BCP47: bcp47, ISO6393: iso, Confident: true}
}

// detectByScript handles languages whose script alone is a near-certain
// signal: CJK ideographs, Hiragana/Katakana, Hangul, Cyrillic, Arabic.
func detectByScript(text string) (string, bool) {
	var hiragana, katakana, hangul, han, cyrillic, arabic, total int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Hiragana, r):
			hiragana++
		case unicode.Is(unicode.Katakana, r):
			katakana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		}
	}
	if total == 0 {
		return "", false
	}

	switch {
	case hiragana+katakana > 0:
		return "ja", true
	case hangul > 0:
		return "ko", true
	case float64(han)/float64(total) > 0.3:
		return "zh", true
	case float64(cyrillic)/float64(total) > 0.5:
		return "ru", true
	case float64(arabic)/float64(total) > 0.5:
		return "ar", true
	default:
		return "", false
	}
}

// detectByStopwords scores Latin-script languages by stopword overlap.
// Requires at least two distinct matches and a clear winner (strictly more
// matches than the runner-up) to call it confident. A weak or tied
// plurality degrades to undetermined rather than guessing.
func detectByStopwords(text string) (string, bool) {
	words := tokenize(text)
	if len(words) == 0 {
		return "", false
	}

	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	counts := make(map[string]int, len(stopwords))
	for lang, list := range stopwords {
		for _, sw := range list {
			if present[sw] {
				counts[lang]++
			}
		}
	}

	bestLang, best, second := "", 0, 0
	for lang, c := range counts {
		if c > best {
			bestLang, second, best = lang, best, c
		} else if c > second {
			second = c
		}
	}

	if best < 2 || best == second {
		return "", false
	}
	return bestLang, true
}

func tokenize(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
