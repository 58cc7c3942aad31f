package render

import "github.com/charmbracelet/lipgloss"

var (
	ColorRed    = lipgloss.Color("#E06C75")
	ColorYellow = lipgloss.Color("#E5C07B")
	ColorCyan   = lipgloss.Color("#56B6C2")
	ColorMuted  = lipgloss.Color("#636B78")
)

var (
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// 带标记的状态行，终端不支持颜色时退化为纯文本
func ErrorLine(msg string) string { return ErrorStyle.Render("✗ " + msg) }

func WarnLine(msg string) string { return WarnStyle.Render("! " + msg) }

func InfoLine(msg string) string { return InfoStyle.Render(msg) }

func MutedLine(msg string) string { return MutedStyle.Render(msg) }
