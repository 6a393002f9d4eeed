package strength

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssess(t *testing.T) {
	tests := []struct {
		secret string
		want   int
	}{
		{"", 0},
		{"aaaaaaaa", 20},
		{"K7#mPlummox92!", 90},
		{"Tr0ub4dor&3xyz", 75},
		{"password", 5},
		{"abc", 0},
		{"Zk9!", 65},
		{"qwertyQWERTY1!", 75},
	}
	for _, tt := range tests {
		t.Run(tt.secret, func(t *testing.T) {
			assert.Equal(t, tt.want, Assess(tt.secret))
		})
	}
}

func TestAssessOrdering(t *testing.T) {
	assert.Less(t, Assess("aaaaaaaa"), Assess("K7#mPlummox92!"))
	assert.GreaterOrEqual(t, Assess("Tr0ub4dor&3xyz"), MinAcceptableScore)
	assert.True(t, Acceptable("Tr0ub4dor&3xyz"))
	assert.False(t, Acceptable("letmein123"))
}

func TestAssessBounds(t *testing.T) {
	for _, s := range []string{"", "a", "aaaa", "Aa1!Aa1!Aa1!Aa1!Aa1!", "passwordpasswordpassword"} {
		score := Assess(s)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
	}
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, TierWeak, TierOf(0))
	assert.Equal(t, TierWeak, TierOf(39))
	assert.Equal(t, TierFair, TierOf(40))
	assert.Equal(t, TierGood, TierOf(60))
	assert.Equal(t, TierStrong, TierOf(80))
	assert.Equal(t, TierStrong, TierOf(100))
}
