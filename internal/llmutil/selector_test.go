package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSelector(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{"backticks", "Yes, there is a search box: `input[data-qa='search']`.", "input[data-qa='search']"},
		{"labelled id", "The delete button. Selector: #delete.", "#delete"},
		{"russian label", "Кнопка найдена, селектор: .btn-primary", ".btn-primary"},
		{"bem", "selector div.MessageListItem__content--y26Sh", "div.MessageListItem__content--y26Sh"},
		{"attribute", "selector: button[type=submit] is visible", "button[type=submit]"},
		{"plain prose backtick skipped", "Use `click` then selector: #go", "#go"},
		{"nothing", "There is no such element on this page.", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSelector(tt.answer))
		})
	}
}

func TestNormalizeSelector(t *testing.T) {
	tests := map[string]string{
		"ul > li:nth-child(3) a":             "ul > li a",
		"div.item:first-child":               "div.item",
		"tr:nth-of-type(2n+1) td:last-child": "tr td",
		"button:disabled":                    "button:disabled",
		"":                                   "",
	}
	for in, want := range tests {
		got := NormalizeSelector(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, NormalizeSelector(got))
	}
}
