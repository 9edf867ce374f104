// Package speech implements the audio stage against an OpenAI-compatible
// text-to-speech endpoint. The narration text comes from the script artifact
// and the synthesized audio is stored as a new artifact.
package speech
