package executor

import (
	"encoding/base64"
	"fmt"

	"github.com/frameloom/frameloom/internal/utils"
)

// simulatedText is the deterministic stand-in for a remote LLM response.
func simulatedText(userMessage string) string {
	return "Simulated response: " + utils.TruncateString(userMessage, 200)
}

// placeholderSVG renders a labeled placeholder image as an inline data URL,
// used by image-producing kinds in local fallback mode.
func placeholderSVG(label string) string {
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="512" height="512"><rect width="100%%" height="100%%" fill="#2d2d44"/><text x="50%%" y="50%%" fill="#ffffff" font-family="sans-serif" font-size="16" text-anchor="middle">%s</text></svg>`,
		utils.TruncateString(label, 80),
	)
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}
