package agent

import (
	"fmt"
	"strings"
)

// buildSystemPrompt constructs the decision oracle's instruction set from the
// action catalog.
func buildSystemPrompt(tools []ToolDefinition) string {
	basePrompt := `You are an autonomous browser agent. You complete the user's task by choosing one action at a time.

Each turn you receive a bounded summary of the current page, the task, requirement counters and your recent actions. Respond with a single JSON object and nothing else:
{"action": "<name>", "parameters": {...}, "thought": "<one sentence>", "progress": {"<requirement>": <count>}}

"progress" is optional. Include it only when the action just completed units of a counted requirement.`

	recoveryPrompt := `

    **Recovery**:
    - A failed action comes with a hint. Follow it rather than repeating the same action with the same parameters.
    - ` + "`scroll`" + ` / ` + "`scroll_to_element`" + `: the target is off-screen. Scroll, then retry.
    - ` + "`close_overlays`" + `: something covers the target. Close the dialog or banner first.
    - ` + "`wait`" + `: the page is still loading. Use ` + "`wait_for_element`" + ` before retrying.
    - ` + "`alternative`" + ` / ` + "`alternative_description`" + `: pick a different element or a different selector.
    - ` + "`use_search`" + `: use ` + "`search_on_page`" + ` or ` + "`query_dom`" + ` to locate the target.
    - Repeating an action without any page change ends the task as a failure.`

	closingPrompt := `

    **Completion**:
    - Call ` + "`task_complete`" + ` only when every part of the task is done. It is refused while a requirement counter is below its target.
    - Ask ` + "`query_dom`" + ` a question once; a repeated question is answered from memory.`

	return basePrompt + actionListPrompt(tools) + recoveryPrompt + closingPrompt
}

func actionListPrompt(tools []ToolDefinition) string {
	var b strings.Builder
	b.WriteString("\n\n    **Available Actions**:")
	for _, t := range tools {
		fmt.Fprintf(&b, "\n    - %s: %s", t.Name, t.Description)
		if len(t.Parameters) == 0 {
			continue
		}
		params := make([]string, 0, len(t.Parameters))
		for _, p := range t.Parameters {
			if p.Required {
				params = append(params, fmt.Sprintf("%s (%s, required)", p.Name, p.Type))
			} else {
				params = append(params, fmt.Sprintf("%s (%s)", p.Name, p.Type))
			}
		}
		fmt.Fprintf(&b, " Parameters: %s.", strings.Join(params, ", "))
	}
	return b.String()
}

func decisionUserPrompt(contextText string) string {
	return contextText + "\nChoose the next action. Reply with the JSON object only."
}

func domQuestionPrompt(query, contextText string) string {
	return fmt.Sprintf(`Answer a question about the current page using only the summary below.
If the answer is a control, give its CSS selector in backticks, e.g. `+"`#search`"+`.

Page summary:
%s

Question: %s`, contextText, query)
}
