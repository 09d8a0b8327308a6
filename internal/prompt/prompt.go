// Package prompt fills the static prompt templates with user personalization.
package prompt

import (
	"sort"
	"strings"

	"github.com/ashureev/lumi/internal/domain"
)

// Placeholders substituted from the user context on every template.
const (
	UserName           = "user_name"
	UserDescription    = "user_description"
	UserThemes         = "user_themes"
	MentionedNamesList = "mentioned_names_list"
)

// Template-specific placeholders supplied by callers.
const (
	RawTextContent      = "raw_text_content"
	SceneTitle          = "scene_title"
	ConversationHistory = "conversation_history"
	OutlinePoint        = "outline_point"
	QAndABlock          = "q_and_a_block"
)

// Token wraps a placeholder name in braces.
func Token(name string) string {
	return "{" + name + "}"
}

// Fill substitutes the user context placeholders and then every key of extra.
// Unknown placeholders are left as-is. Extra keys are applied in sorted order
// so a value containing another token is resolved the same way every time.
func Fill(template string, uc domain.UserContext, extra map[string]string) string {
	out := strings.NewReplacer(
		Token(UserName), uc.UserName,
		Token(UserDescription), uc.UserDescription,
		Token(UserThemes), uc.UserThemes,
		Token(MentionedNamesList), uc.MentionedNamesList(),
	).Replace(template)

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = strings.ReplaceAll(out, Token(k), extra[k])
	}
	return out
}

// Missing returns the placeholders of t that extra does not provide.
func Missing(t Template, extra map[string]string) []string {
	var missing []string
	for _, p := range t.Params {
		if _, ok := extra[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}
