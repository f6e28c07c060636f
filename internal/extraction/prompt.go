package extraction

import "strings"

// systemPrompt is sent as the system message of every extraction request.
const systemPrompt = "You extract educational concepts from lecture transcripts. Return only valid JSON arrays."

// conceptPrompt asks for a flat, parent-linked concept list. The transcript
// is appended after the final line.
const conceptPrompt = `You are an educational assistant analyzing a lecture transcript.
Extract the key concepts mentioned and return them as a JSON array.

Each concept should have:
- "id": A short identifier unique within this answer (e.g. "c1")
- "label": Short name (1-4 words)
- "type": One of "main" (core topic), "concept" (supporting idea), or "detail" (specific fact)
- "explanation": Brief explanation (1-2 sentences)
- "parent": The id of the concept this one belongs under, or null for a main topic

Return ONLY valid JSON array, no other text. Example:
[{"id": "c1", "label": "Photosynthesis", "type": "main", "explanation": "Process by which plants convert light to energy", "parent": null},
 {"id": "c2", "label": "Chlorophyll", "type": "concept", "explanation": "Pigment that absorbs light", "parent": "c1"}]

Transcript:
`

// UserPrompt returns the user message for transcript.
func UserPrompt(transcript string) string {
	var b strings.Builder
	b.Grow(len(conceptPrompt) + len(transcript))
	b.WriteString(conceptPrompt)
	b.WriteString(transcript)
	return b.String()
}
