package tui

import (
	"fmt"
	"strconv"
	"strings"
)

// HexToRGB parses "#RRGGBB". Malformed input yields black.
func HexToRGB(hex string) (r, g, b uint8) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v)
}

// InterpolateColor blends two hex colors; t runs from 0 (from) to 1 (to).
func InterpolateColor(from, to string, t float64) string {
	r1, g1, b1 := HexToRGB(from)
	r2, g2, b2 := HexToRGB(to)
	lerp := func(a, b uint8) uint8 {
		return uint8(float64(a) + t*(float64(b)-float64(a)))
	}
	return fmt.Sprintf("#%02X%02X%02X", lerp(r1, r2), lerp(g1, g2), lerp(b1, b2))
}

// GenerateGradient returns n colors from one endpoint to the other.
func GenerateGradient(from, to string, n int) []string {
	if n <= 0 {
		return []string{}
	}
	if n == 1 {
		return []string{from}
	}
	colors := make([]string, n)
	for i := range n {
		colors[i] = InterpolateColor(from, to, float64(i)/float64(n-1))
	}
	return colors
}
