package processor

import (
	"fmt"
	"strings"

	"github.com/adverant/nexus/recipe-extractor/internal/clients"
)

const systemPrompt = `You convert OCR text of a recipe into structured data.
Respond with a single JSON object and nothing else: no commentary, no Markdown.

The object has exactly these fields:
{
  "title": string,
  "ingredients": array of strings, one ingredient per entry, in the order they appear,
  "instructions": array of strings, one step per entry, in execution order,
  "prepTime": integer minutes or null,
  "cookTime": integer minutes or null,
  "servings": integer or null,
  "tags": array of lowercase strings (cuisine, meal type, dietary), may be empty
}

Rules:
- Copy ingredient and instruction text from the OCR text; fix obvious OCR mistakes only.
- Do not invent ingredients or steps that are not in the text.
- Use null for values that are not stated.
- Keep the recipe's original language.`

const correctivePrompt = `Your last response was invalid. Return only structured data: a single JSON object with the fields title, ingredients, instructions, prepTime, cookTime, servings, tags. No prose, no Markdown fences.`

func languageName(lang string) string {
	switch lang {
	case LanguageHebrew:
		return "Hebrew"
	case LanguageEnglish:
		return "English"
	default:
		return "English or Hebrew"
	}
}

// buildMessages renders the chat conversation for one interpreter call.
func buildMessages(text *ExtractedText, opts InterpretOptions) []clients.ChatMessage {
	lang := NormalizeLanguage(opts.Language)
	if lang == LanguageAuto && text.Language != "" {
		lang = text.Language
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Language: %s\n", languageName(lang))
	user.WriteString("OCR text:\n<<<\n")
	user.WriteString(text.Text())
	user.WriteString("\n>>>")

	messages := []clients.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user.String()},
	}
	if opts.Corrective {
		messages = append(messages, clients.ChatMessage{Role: "user", Content: correctivePrompt})
	}
	return messages
}
