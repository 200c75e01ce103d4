package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// codeReadPrompt is the shared prompt used by all LLM engines
const codeReadPrompt = `You are looking at a single frame from a camera pointed at a barcode or QR code. Find the code in the image and read its content exactly.

Return ONLY valid JSON in this exact format:
{
  "text": "decoded content",
  "format": "QR_CODE"
}

Important:
- "text" must be the exact encoded content, character for character
- "format" is one of QR_CODE, CODE_128, CODE_39, EAN_13, EAN_8, UPC_A, UPC_E or OTHER
- If there is no code in the image, or it cannot be read with certainty, use null for "text"
- Never guess or complete partially visible codes
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// codeReply is the JSON reply of an LLM engine
type codeReply struct {
	Text   *string `json:"text"`
	Format string  `json:"format"`
}

// parseCodeReply extracts the decoded text from an LLM reply. A reply
// without text yields "" and no error.
func parseCodeReply(text string) (string, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var reply codeReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return "", fmt.Errorf("unmarshaling json: %w", err)
	}
	if reply.Text == nil {
		return "", nil
	}

	decoded := strings.TrimSpace(*reply.Text)
	// Models sometimes spell out the missing value instead of using null
	switch strings.ToLower(decoded) {
	case "null", "none", "n/a":
		return "", nil
	}
	return decoded, nil
}
