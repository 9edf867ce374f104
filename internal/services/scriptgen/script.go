package scriptgen

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentType is the media type of stored script artifacts.
const ContentType = "application/json"

// Script is the narration produced for one document.
type Script struct {
	Title           string   `json:"title"`
	Soundbite       string   `json:"soundbite"`
	DurationSeconds int      `json:"durationSeconds"`
	Tone            string   `json:"tone"`
	Hashtags        []string `json:"hashtags"`
}

// Decode parses a stored script artifact.
func Decode(data []byte) (Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	s.normalize()
	if s.Soundbite == "" {
		return Script{}, fmt.Errorf("decode script: soundbite is empty")
	}
	return s, nil
}

// parseCompletion extracts the script JSON from model output, tolerating a
// surrounding markdown code fence.
func parseCompletion(content string) (Script, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Script{}, fmt.Errorf("no JSON object in completion")
	}
	return Decode([]byte(content[start : end+1]))
}

func (s *Script) normalize() {
	s.Title = strings.TrimSpace(s.Title)
	s.Soundbite = strings.TrimSpace(s.Soundbite)
	s.Tone = strings.TrimSpace(s.Tone)
	if s.DurationSeconds < 0 {
		s.DurationSeconds = 0
	}
	tags := s.Hashtags[:0]
	for _, tag := range s.Hashtags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	s.Hashtags = tags
}
