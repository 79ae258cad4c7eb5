package ui

import "strings"

const (
	reset      = "\033[0m"
	bold       = "\033[1m"
	deepIndigo = "\033[38;5;61m"
	cobalt     = "\033[38;5;33m"
	seafoam    = "\033[38;5;49m"
	mint       = "\033[38;5;121m"
	beeYellow  = "\033[38;5;226m"
	honey      = "\033[38;5;214m"
	flame      = "\033[38;5;208m"
	fuchsia    = "\033[38;5;177m"
)

// Tagline follows the wordmark.
const Tagline = "peak memory for whole process trees"

var letters = [][]string{
	{"███╗   ███╗", "████╗ ████║", "██╔████╔██║", "██║╚██╔╝██║", "██║ ╚═╝ ██║", "╚═╝     ╚═╝"},
	{"███████╗", "██╔════╝", "█████╗  ", "██╔══╝  ", "███████╗", "╚══════╝"},
	{"███╗   ███╗", "████╗ ████║", "██╔████╔██║", "██║╚██╔╝██║", "██║ ╚═╝ ██║", "╚═╝     ╚═╝"},
	{"██╗    ██╗", "██║    ██║", "██║ █╗ ██║", "██║███╗██║", "╚███╔███╔╝", " ╚══╝╚══╝ "},
	{" █████╗ ", "██╔══██╗", "███████║", "██╔══██║", "██║  ██║", "╚═╝  ╚═╝"},
	{"████████╗", "╚══██╔══╝", "   ██║   ", "   ██║   ", "   ██║   ", "   ╚═╝   "},
	{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
	{"██╗  ██╗", "██║  ██║", "███████║", "██╔══██║", "██║  ██║", "╚═╝  ╚═╝"},
}

var gradient = []string{deepIndigo, cobalt, seafoam, mint, beeYellow, honey, flame, fuchsia}

// Banner renders a colored memwatch wordmark.
func Banner() string {
	var b strings.Builder

	rows := make([]string, len(letters[0]))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := range letter {
			rows[row] += color + letter[row] + " "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + flame + "memwatch" + reset + "  •  " + Tagline + "\n")

	return b.String()
}
