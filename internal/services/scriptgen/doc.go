// Package scriptgen implements the script stage: it extracts the text of an
// uploaded PDF with pdftotext and asks an OpenAI-compatible chat model,
// through langchaingo, for a short narration script.
//
// The script is stored as a JSON artifact (see Script) so later stages can
// read the narration text, the suggested tone, and hashtags without
// re-parsing model output.
package scriptgen
