package prompt

import "regexp"

var (
	charTurnRe = regexp.MustCompile(`(?i){{char}}:`)
	userRe     = regexp.MustCompile(`(?i){{user}}|<user>`)
	charRe     = regexp.MustCompile(`(?i){{bot}}|{{char}}|<bot>`)
	startRe    = regexp.MustCompile(`(?i)<START>`)
)

// FormatReply substitutes persona placeholders in generated text for display.
// Persisted text stays raw; this is cosmetic only.
func FormatReply(text, userName, characterName string) string {
	if userName == "" {
		userName = "Anon"
	}
	text = charTurnRe.ReplaceAllString(text, "")
	text = userRe.ReplaceAllString(text, userName)
	text = charRe.ReplaceAllString(text, characterName)
	return startRe.ReplaceAllString(text, "")
}
