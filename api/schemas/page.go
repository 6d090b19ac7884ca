package schemas

import (
	"fmt"
)

// -- Page Model Schemas --

// ElementKind classifies an element by how the agent can interact with it.
type ElementKind string

const (
	KindButton   ElementKind = "button"
	KindLink     ElementKind = "link"
	KindInput    ElementKind = "input"
	KindTextarea ElementKind = "textarea"
	KindSelect   ElementKind = "select"
	KindCheckbox ElementKind = "checkbox"
	KindText     ElementKind = "text" // Passive, text-bearing element.
	KindOther    ElementKind = "other"
)

// IsActionable reports whether the kind represents a control the agent can operate.
func (k ElementKind) IsActionable() bool {
	switch k {
	case KindButton, KindLink, KindInput, KindTextarea, KindSelect, KindCheckbox:
		return true
	}
	return false
}

// IsFormControl reports whether the kind is typically found inside forms.
func (k ElementKind) IsFormControl() bool {
	switch k {
	case KindButton, KindInput, KindTextarea, KindSelect, KindCheckbox:
		return true
	}
	return false
}

// Element is a single entry of the page model.
type Element struct {
	Kind       ElementKind       `json:"kind"`
	Selector   string            `json:"selector"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
	InModal    bool              `json:"in_modal"`
	InForm     bool              `json:"in_form"`
	Visible    bool              `json:"visible"`
	// Relevance is an optional extractor-assigned base score.
	Relevance int `json:"relevance,omitempty"`
}

// StableID returns the element's id attribute, if any.
func (e Element) StableID() string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes["id"]
}

// Href returns the element's href attribute, if any.
func (e Element) Href() string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes["href"]
}

// PageModel is the structured snapshot produced by a PageModelProvider.
type PageModel struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Elements    []Element         `json:"elements"`
	TextPreview string            `json:"text_preview"`
	State       PageStateSnapshot `json:"state"`
}

// PageStateSnapshot is a coarse structural fingerprint of the surface. Two
// snapshots are compared with ==.
type PageStateSnapshot struct {
	URL              string `json:"url"`
	Title            string `json:"title"`
	DOMHash          string `json:"dom_hash"`
	InteractiveCount int    `json:"interactive_count"`
	ModalCount       int    `json:"modal_count"`
	FormCount        int    `json:"form_count"`
}

// Fingerprint builds the low-cardinality structural digest from the counts.
func Fingerprint(interactive, modals, forms int) string {
	return fmt.Sprintf("i%d-m%d-f%d", interactive, modals, forms)
}

// SnapshotOf derives a PageStateSnapshot from a page model.
func SnapshotOf(p *PageModel) PageStateSnapshot {
	if p == nil {
		return PageStateSnapshot{}
	}
	var interactive int
	modalSelectors := map[string]struct{}{}
	formSelectors := map[string]struct{}{}
	for _, el := range p.Elements {
		if el.Kind.IsActionable() {
			interactive++
		}
		if el.InModal {
			modalSelectors[el.Attributes["modal"]] = struct{}{}
		}
		if el.InForm {
			formSelectors[el.Attributes["form"]] = struct{}{}
		}
	}
	s := PageStateSnapshot{
		URL:              p.URL,
		Title:            p.Title,
		InteractiveCount: interactive,
		ModalCount:       len(modalSelectors),
		FormCount:        len(formSelectors),
	}
	s.DOMHash = Fingerprint(s.InteractiveCount, s.ModalCount, s.FormCount)
	return s
}

// -- Action Result Schema --

// ActionResult is what an ActionBackend reports for a single action.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	// Data carries action-specific fields (extracted text, final url, answer).
	Data map[string]interface{} `json:"data,omitempty"`
}

// String returns a named field from Data, or "".
func (r ActionResult) String(key string) string {
	if r.Data == nil {
		return ""
	}
	if s, ok := r.Data[key].(string); ok {
		return s
	}
	return ""
}
