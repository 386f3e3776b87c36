package preprocess

import "unicode"

// splitChunks splits text into ordered chunks of at most max
// characters. Boundaries back up to the nearest whitespace when the
// cut would land mid-word; a single run longer than max is cut hard.
func splitChunks(text string, max int) []string {
	if max <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= max {
			chunks = append(chunks, string(runes))
			break
		}

		cut := max
		if !unicode.IsSpace(runes[cut]) && !unicode.IsSpace(runes[cut-1]) {
			for i := cut - 1; i > 0; i-- {
				if unicode.IsSpace(runes[i]) {
					cut = i + 1
					break
				}
			}
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

// truncateRunes bounds text to max characters.
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
