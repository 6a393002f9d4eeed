package strength

import (
	"strings"
	"unicode"
)

type Tier string

const (
	TierWeak   Tier = "weak"
	TierFair   Tier = "fair"
	TierGood   Tier = "good"
	TierStrong Tier = "strong"

	// MinAcceptableScore is the lowest score accepted for a master secret
	MinAcceptableScore = 60
)

var (
	keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}
	dictionary   = []string{"password", "letmein", "admin", "welcome", "monkey", "dragon", "master", "secret", "login"}
)

// Assess scores secret from 0 to 100
func Assess(secret string) int {
	score := 0
	n := len([]rune(secret))
	switch {
	case n >= 12:
		score += 25
	case n >= 8:
		score += 15
	case n >= 6:
		score += 5
	}

	var lower, upper, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			symbol = true
		}
	}
	if lower {
		score += 15
	}
	if upper {
		score += 15
	}
	if digit {
		score += 15
	}
	if symbol {
		score += 20
	}

	lowered := strings.ToLower(secret)
	if hasRepeatedRun(lowered, 3) {
		score -= 10
	}
	if hasSequence(lowered) {
		score -= 15
	}
	if hasDictionaryWord(lowered) {
		score -= 25
	}

	return clamp(score, 0, 100)
}

// TierOf maps a score to its tier
func TierOf(score int) Tier {
	switch {
	case score >= 80:
		return TierStrong
	case score >= MinAcceptableScore:
		return TierGood
	case score >= 40:
		return TierFair
	}
	return TierWeak
}

// Acceptable returns true if secret may be used as a master secret
func Acceptable(secret string) bool {
	return Assess(secret) >= MinAcceptableScore
}

func hasRepeatedRun(s string, n int) bool {
	runes := []rune(s)
	count := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			count++
			if count >= n {
				return true
			}
		} else {
			count = 1
		}
	}
	return false
}

// hasSequence detects 3-character ascending runs (abc, 123) and keyboard row fragments
func hasSequence(s string) bool {
	runes := []rune(s)
	for i := 0; i+2 < len(runes); i++ {
		a, b, c := runes[i], runes[i+1], runes[i+2]
		sameClass := (unicode.IsDigit(a) && unicode.IsDigit(c)) || (unicode.IsLetter(a) && unicode.IsLetter(c))
		if sameClass && b == a+1 && c == b+1 {
			return true
		}
	}
	for _, row := range keyboardRows {
		for i := 0; i+3 <= len(row); i++ {
			if strings.Contains(s, row[i:i+3]) {
				return true
			}
		}
	}
	return false
}

func hasDictionaryWord(s string) bool {
	for _, w := range dictionary {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
