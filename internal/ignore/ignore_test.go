package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{
		"node_modules",
		"*.log",
		"dist/",
		"# a comment",
		"",
		"!negated.go",
		"build/*.tmp",
	})

	tests := []struct {
		path string
		want bool
	}{
		{"node_modules/react/index.js", true},
		{"src/node_modules/x.js", true},
		{"debug.log", true},
		{"logs/debug.log", true},
		{"dist/bundle.js", true},
		{"build/cache.tmp", true},
		{"build/nested/cache.tmp", false},
		{"negated.go", false},
		{"src/main.go", false},
		{"./src/main.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(tt.path))
		})
	}
}

func TestMatcherEmptyPatterns(t *testing.T) {
	m := NewMatcher(nil)
	assert.False(t, m.Matches("anything.go"))
}
