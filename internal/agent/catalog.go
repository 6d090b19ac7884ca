package agent

import (
	"fmt"
	"sort"
)

// ActionName is one entry of the closed action catalog.
type ActionName string

const (
	ActionNavigate       ActionName = "navigate"
	ActionClickElement   ActionName = "click_element"
	ActionTypeText       ActionName = "type_text"
	ActionScroll         ActionName = "scroll"
	ActionWaitForElement ActionName = "wait_for_element"
	ActionExtractText    ActionName = "extract_text"
	ActionQueryDOM       ActionName = "query_dom"
	ActionSearchOnPage   ActionName = "search_on_page"
	ActionReloadPage     ActionName = "reload_page"
	ActionTakeScreenshot ActionName = "take_screenshot"
	ActionTaskComplete   ActionName = "task_complete"
)

// actionTaskCompleteRejected labels the record of a refused completion. It
// is never offered to the oracle.
const actionTaskCompleteRejected ActionName = "task_complete_rejected"

// ToolParam describes one parameter of a catalog action.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolDefinition is the oracle-facing description of a catalog action.
type ToolDefinition struct {
	Name        ActionName  `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters"`
}

var catalog = []ToolDefinition{
	{
		Name:        ActionNavigate,
		Description: "Open a URL in the current tab.",
		Parameters: []ToolParam{
			{Name: "url", Type: "string", Description: "Absolute URL to open", Required: true},
		},
	},
	{
		Name:        ActionClickElement,
		Description: "Click an element identified by a CSS selector.",
		Parameters: []ToolParam{
			{Name: "selector", Type: "string", Description: "CSS selector of the element", Required: true},
			{Name: "description", Type: "string", Description: "What the element is, in a few words"},
		},
	},
	{
		Name:        ActionTypeText,
		Description: "Type text into an input or textarea.",
		Parameters: []ToolParam{
			{Name: "selector", Type: "string", Description: "CSS selector of the field", Required: true},
			{Name: "text", Type: "string", Description: "Text to type", Required: true},
			{Name: "description", Type: "string", Description: "What the field is, in a few words"},
			{Name: "submit", Type: "boolean", Description: "Press Enter after typing"},
		},
	},
	{
		Name:        ActionScroll,
		Description: "Scroll the page or bring an element into view.",
		Parameters: []ToolParam{
			{Name: "direction", Type: "string", Description: "up or down"},
			{Name: "selector", Type: "string", Description: "Element to scroll into view"},
		},
	},
	{
		Name:        ActionWaitForElement,
		Description: "Wait until an element becomes visible.",
		Parameters: []ToolParam{
			{Name: "selector", Type: "string", Description: "CSS selector to wait for", Required: true},
			{Name: "timeout_ms", Type: "integer", Description: "Maximum wait in milliseconds"},
		},
	},
	{
		Name:        ActionExtractText,
		Description: "Read the text of an element or of the whole page.",
		Parameters: []ToolParam{
			{Name: "selector", Type: "string", Description: "CSS selector; empty reads the page body"},
			{Name: "description", Type: "string", Description: "Name under which the text is remembered", Required: true},
		},
	},
	{
		Name:        ActionQueryDOM,
		Description: "Ask a question about the current page, e.g. which selector matches a control.",
		Parameters: []ToolParam{
			{Name: "query", Type: "string", Description: "The question", Required: true},
		},
	},
	{
		Name:        ActionSearchOnPage,
		Description: "Find visible text on the page and return matching elements.",
		Parameters: []ToolParam{
			{Name: "text", Type: "string", Description: "Text to look for", Required: true},
		},
	},
	{
		Name:        ActionReloadPage,
		Description: "Reload the current page.",
	},
	{
		Name:        ActionTakeScreenshot,
		Description: "Capture a screenshot of the viewport.",
	},
	{
		Name:        ActionTaskComplete,
		Description: "Declare the task finished.",
		Parameters: []ToolParam{
			{Name: "summary", Type: "string", Description: "What was accomplished", Required: true},
		},
	},
}

var catalogIndex = func() map[ActionName]ToolDefinition {
	m := make(map[ActionName]ToolDefinition, len(catalog))
	for _, def := range catalog {
		m[def.Name] = def
	}
	return m
}()

// Catalog returns the tool definitions offered to the oracle.
func Catalog() []ToolDefinition {
	out := make([]ToolDefinition, len(catalog))
	copy(out, catalog)
	return out
}

// IsKnownAction reports whether name is part of the catalog.
func IsKnownAction(name ActionName) bool {
	_, ok := catalogIndex[name]
	return ok
}

// checkParams verifies that every required parameter is present and non-empty.
func checkParams(name ActionName, params map[string]interface{}) error {
	def, ok := catalogIndex[name]
	if !ok {
		return fmt.Errorf("unknown action %q", name)
	}
	var missing []string
	for _, p := range def.Parameters {
		if !p.Required {
			continue
		}
		v, ok := params[p.Name]
		if !ok || v == nil {
			missing = append(missing, p.Name)
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("action %s is missing required parameters: %v", name, missing)
	}
	return nil
}
