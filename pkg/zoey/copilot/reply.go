package copilot

import (
	"regexp"
	"strings"
)

// maxChunk is the largest text a single outgoing message may carry.
const maxChunk = 4096

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// formatReply prepares completion text for chat transports. Text after the
// first "##" heading is dropped, the remainder is split into chunks and every
// markdown link target is returned once for separate sending.
func formatReply(text string) (chunks, links []string) {
	if idx := strings.Index(text, "\n##"); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)

	seen := make(map[string]bool)
	for _, m := range markdownLink.FindAllStringSubmatch(text, -1) {
		url := strings.TrimSpace(m[2])
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		links = append(links, url)
	}

	return splitChunks(text, maxChunk), links
}

// splitChunks splits text into pieces of at most max runes, preferring line
// breaks.
func splitChunks(text string, max int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
