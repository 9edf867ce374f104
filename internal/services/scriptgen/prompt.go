package scriptgen

import (
	"fmt"
	"strings"
)

const systemPrompt = `You write short narration scripts for a presenter video that summarizes a document.
The script is read aloud verbatim by a text-to-speech voice, so write plain spoken sentences without markup, lists, or stage directions.
Open with a hook in the first sentence. Keep the narration between 20 and 60 seconds when spoken.

Respond with a single JSON object and nothing else:
{"title": "<video title, at most 90 characters>",
 "soundbite": "<the exact narration text>",
 "durationSeconds": <estimated spoken length in seconds>,
 "tone": "<speaking style>",
 "hashtags": ["<tag>", "..."]}`

func userPrompt(documentTitle, channel, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document title: %s\n", documentTitle)
	if channel = strings.TrimSpace(channel); channel != "" {
		fmt.Fprintf(&b, "Channel: %s\n", channel)
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(text)
	return b.String()
}

// truncateRunes cuts s to at most limit runes on a whitespace boundary when one
// is near.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := runes[:limit]
	for i := len(cut) - 1; i > limit-200 && i > 0; i-- {
		if cut[i] == ' ' || cut[i] == '\n' {
			cut = cut[:i]
			break
		}
	}
	return string(cut)
}
