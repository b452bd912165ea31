package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

const bannerDefaultWidth = 60

// PrintBanner renders a box-drawing banner around a title on stdout.
func PrintBanner(title string) {
	FprintBanner(os.Stdout, title, bannerDefaultWidth)
}

// FprintBanner renders the banner to w. The box grows when the title does not fit.
func FprintBanner(w io.Writer, title string, width int) {
	if width < 10 {
		width = bannerDefaultWidth
	}

	inner := width - 2
	if n := utf8.RuneCountInString(title) + 2; n > inner {
		inner = n
	}

	edge := strings.Repeat("═", inner)
	fmt.Fprintf(w, "╔%s╗\n", edge)
	fmt.Fprintf(w, "║%s║\n", padCenter(title, inner))
	fmt.Fprintf(w, "╚%s╝\n", edge)
}

func padCenter(text string, width int) string {
	n := utf8.RuneCountInString(text)
	if n >= width {
		return string([]rune(text)[:width])
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", width-n-left)
}

// healthBar renders a 20-cell bar for a 0..100 score.
func healthBar(score float64) string {
	filled := int(score/5 + 0.5)
	filled = max(0, min(20, filled))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", 20-filled) + "]"
}
