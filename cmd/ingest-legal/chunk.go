package main

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Source types accepted by the legal_chunks table
const (
	sourceRegulation = "regulation"
	sourceCaseLaw    = "case_law"
	sourceDoctrine   = "doctrine"
)

// fold lowercases s and strips diacritics so "Hotărâre" matches "hotarare"
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// detectSourceType guesses the kind of legal text from its file name, then
// from its opening lines
func detectSourceType(filename, content string) string {
	name := fold(filename)
	switch {
	case containsAny(name, "lege", "legea", "ordonanta", "og_", "oug", "hg_", "cod", "regulament"):
		return sourceRegulation
	case containsAny(name, "decizie", "decizia", "sentinta", "hotarare", "iccj", "ccr", "curtea"):
		return sourceCaseLaw
	case containsAny(name, "doctrina", "comentariu", "articol", "studiu"):
		return sourceDoctrine
	}

	head := content
	if len(head) > 2000 {
		head = head[:2000]
	}
	head = fold(head)
	switch {
	case containsAny(head, "in numele legii", "instanta", "dispune", "decide:", "pentru aceste motive"):
		return sourceCaseLaw
	case containsAny(head, "art. 1", "articolul 1", "monitorul oficial", "capitolul i"):
		return sourceRegulation
	}
	return sourceDoctrine
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// citationOf returns the first non-empty line, used as the citation of every
// chunk of the document
func citationOf(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if r := []rune(line); len(r) > 200 {
				line = string(r[:200])
			}
			return line
		}
	}
	return ""
}

// chunkText splits content on blank lines and packs paragraphs into chunks of
// about maxWords words. Consecutive chunks share the last overlap words. A
// single paragraph longer than maxWords is split on word boundaries.
func chunkText(content string, maxWords, overlap int) []string {
	if maxWords <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= maxWords {
		overlap = 0
	}

	var words []string
	var chunks []string
	flush := func() {
		if len(words) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(words, " "))
		if overlap > 0 && len(words) > overlap {
			words = append([]string(nil), words[len(words)-overlap:]...)
		} else {
			words = nil
		}
	}

	for _, para := range splitParagraphs(content) {
		fields := strings.Fields(para)
		if len(words)+len(fields) > maxWords && len(words) > overlap {
			flush()
		}
		for len(fields) > 0 {
			room := maxWords - len(words)
			if room <= 0 {
				flush()
				room = maxWords - len(words)
			}
			if room > len(fields) {
				room = len(fields)
			}
			words = append(words, fields[:room]...)
			fields = fields[room:]
		}
	}
	if len(chunks) == 0 || len(words) > overlap {
		flush()
	}
	return chunks
}

func splitParagraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
