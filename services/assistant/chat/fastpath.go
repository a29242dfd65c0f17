package chat

import (
	"regexp"
	"strings"
)

// Fast-path matching answers trivial social messages from a canned table
// without touching the provider, retrieval or history. Patterns cover the
// Spanish and English greetings the deployed channels actually see.
type cannedReply struct {
	pattern *regexp.Regexp
	reply   string
}

var cannedReplies = []cannedReply{
	{regexp.MustCompile(`^\s*(hola|buenas|buenos dias|buenas tardes|buenas noches)\b`),
		"¡Hola! Soy tu asistente virtual. ¿En qué puedo ayudarte?"},
	{regexp.MustCompile(`^\s*(hello|hi|hey)\b`),
		"Hello! I'm your virtual assistant. How can I help you?"},
	{regexp.MustCompile(`\b(quien eres|que eres|tu nombre)\b`),
		"Soy un asistente virtual impulsado por IA. Estoy aquí para responder tus preguntas."},
	{regexp.MustCompile(`\b(who are you|what are you|your name)\b`),
		"I'm an AI-powered virtual assistant, here to answer your questions."},
	{regexp.MustCompile(`\b(como estas|que tal)\b`),
		"¡Muy bien, gracias! ¿En qué puedo ayudarte hoy?"},
	{regexp.MustCompile(`\bhow are you\b`),
		"I'm doing great, thanks for asking! What can I do for you?"},
	{regexp.MustCompile(`\b(gracias|muchas gracias)\b`),
		"¡De nada! Si necesitas algo más, aquí estoy."},
	{regexp.MustCompile(`\b(thanks|thank you)\b`),
		"You're welcome! Let me know if you need anything else."},
	{regexp.MustCompile(`\b(adios|hasta luego|nos vemos)\b`),
		"¡Hasta luego! Escríbeme cuando quieras."},
	{regexp.MustCompile(`\b(bye|goodbye|see you)\b`),
		"Goodbye! Feel free to message me anytime."},
}

// normalizeFastPath lowercases and strips the accents and punctuation that
// otherwise defeat the pattern table ("¿Quién eres?" must match "quien eres").
func normalizeFastPath(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	replacer := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
		"¿", "", "?", "", "¡", "", "!", "", ".", "", ",", "",
	)
	return replacer.Replace(text)
}

// fastPathReply returns the canned reply for trivial messages, or false when
// the message needs the full pipeline. Long messages never take the fast
// path: a greeting buried in a real question deserves a real answer.
func fastPathReply(text string) (string, bool) {
	normalized := normalizeFastPath(text)
	if normalized == "" || len(normalized) > 60 {
		return "", false
	}
	for _, c := range cannedReplies {
		if c.pattern.MatchString(normalized) {
			return c.reply, true
		}
	}
	return "", false
}
