package contextbudget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	tests := []struct {
		name string
		task string
		want []Requirement
	}{
		{
			name: "applications",
			task: "Find backend vacancies and send 3 applications to matching jobs",
			want: []Requirement{{Key: "applications", Required: 3}},
		},
		{
			name: "respond phrasing",
			task: "Please send 2 responses to relevant vacancies.",
			want: []Requirement{{Key: "applications", Required: 2}},
		},
		{
			name: "largest count wins",
			task: "Send 2 applications today; then 5 more applications, and read 10 messages",
			want: []Requirement{
				{Key: "applications", Required: 5},
				{Key: "messages", Required: 10},
			},
		},
		{
			name: "clause break limits the window",
			task: "Open 4 tabs. Then apply somewhere",
			want: []Requirement{},
		},
		{
			name: "no numbers",
			task: "Read the latest news",
			want: []Requirement{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRequirements(tt.task))
		})
	}
}

func TestRequirementSet_Gating(t *testing.T) {
	set := NewRequirementSet([]Requirement{{Key: "applications", Required: 3}})

	require.False(t, set.CanComplete())
	assert.Equal(t, "need 3 applications, done 0", set.Pending())

	assert.True(t, set.Credit("applications", 2))
	assert.False(t, set.CanComplete(), "2 of 3 must not allow completion")
	assert.Equal(t, "applications: 2/3", set.Status())

	assert.False(t, set.Credit("applications", 0), "non-positive credit is ignored")
	assert.False(t, set.Credit("unknown", 1))

	assert.True(t, set.Credit("applications", 1))
	assert.True(t, set.CanComplete())
	assert.Empty(t, set.Pending())
}

func TestRequirementSet_NilAndEmpty(t *testing.T) {
	var set *RequirementSet
	assert.True(t, set.CanComplete())
	assert.Zero(t, set.Len())
	assert.Empty(t, set.Status())

	empty := NewRequirementSet(nil)
	assert.True(t, empty.CanComplete())
}

func TestRequirementSet_ItemsIsACopy(t *testing.T) {
	set := NewRequirementSet([]Requirement{{Key: "items", Required: 1}})
	items := set.Items()
	items[0].Achieved = 99
	assert.False(t, set.CanComplete())
}

func TestRequirementSet_MatchKeys(t *testing.T) {
	set := NewRequirementSet([]Requirement{{Key: "applications", Required: 3}, {Key: "messages", Required: 1}})

	assert.Equal(t, []string{"applications"}, set.MatchKeys("click Apply button on vacancy"))
	assert.Equal(t, []string{"messages"}, set.MatchKeys("Send message"))
	assert.Empty(t, set.MatchKeys("scroll down"))
}
