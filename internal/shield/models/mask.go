package models

import "strings"

// DefaultMaskShow is how many leading and trailing characters stay visible.
const DefaultMaskShow = 2

// Mask hides the middle of value, keeping the first and last show
// characters. Values too short to keep anything are fully starred.
//
//	Mask("John Smith", 2) == "Jo******th"
//	Mask("28", 2)         == "**"
func Mask(value string, show int) string {
	r := []rune(value)
	if show < 0 {
		show = 0
	}
	if len(r) <= show*2 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:show]) + strings.Repeat("*", len(r)-show*2) + string(r[len(r)-show:])
}
