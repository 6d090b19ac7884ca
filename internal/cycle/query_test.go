package cycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Is there a search box? selector?", "is there a search box selector"},
		{"  Find   the LOGIN btn!! ", "search the login button"},
		{"Where's the e-mail field", "where s the e mail input"},
		{"ПОИСК: кнопка", "поиск кнопка"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeQuery(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeQuery(got), "normalization must be idempotent")
		})
	}
}

func TestSimilarQueries(t *testing.T) {
	assert.True(t, SimilarQueries("submit button for the login form", "login form submit btn"))
	assert.False(t, SimilarQueries("login button", "login btn"), "too few significant words")
	assert.False(t, SimilarQueries("price of the first product", "author of the second article"))
}

func TestNormalizeURL(t *testing.T) {
	for in, want := range map[string]string{
		"https://a.test/path/?q=1#frag": "https://a.test/path",
		"https://a.test/":               "https://a.test",
		"https://a.test#x":              "https://a.test",
		"":                              "",
	} {
		got := NormalizeURL(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, NormalizeURL(got))
	}
}
