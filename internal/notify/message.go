package notify

import (
	"fmt"
	"strings"

	"rombuilder/internal/job"
)

// markdown escapes the characters Telegram's legacy Markdown treats as
// entity delimiters, so values like "timed_out" render as plain text.
var markdown = strings.NewReplacer(`_`, `\_`, `*`, `\*`, "`", "\\`", `[`, `\[`)

// Message renders the chat text for an outcome.
func Message(o job.Outcome) string {
	if o.State == job.StateCompleted {
		return fmt.Sprintf("✅ **ROM Conversion Complete!**\n\n"+
			"ROM Type: `%s`\n\n"+
			"📥 **Download Link:**\n%s\n\n"+
			"Hash will be in the Drive folder!", o.Variant, markdown.Replace(o.Result))
	}

	switch o.Cause {
	case job.CauseExternal:
		return fmt.Sprintf("❌ **ROM Conversion Failed!**\n\nConclusion: %s", markdown.Replace(o.Conclusion))
	case job.CausePollError:
		return fmt.Sprintf("❌ **Error monitoring workflow:**\n%s", markdown.Replace(o.Error))
	case job.CauseTimeout:
		return "❌ **Workflow timeout!**\n\nConversion took longer than 2 hours."
	case job.CauseCancelled:
		return "🛑 **ROM Conversion Cancelled!**\n\nThe workflow run was stopped."
	default:
		return fmt.Sprintf("❌ **ROM Conversion Failed!**\n\n%s", markdown.Replace(o.Error))
	}
}
