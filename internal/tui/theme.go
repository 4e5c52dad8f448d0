package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 主题色彩和样式
// Theme defines TUI colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Danger  lipgloss.Color
	Success lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
	TextDim lipgloss.Color
	Border  lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle         lipgloss.Style
	StatusBarStyle     lipgloss.Style
	SidebarStyle       lipgloss.Style
	InputStyle         lipgloss.Style
	ErrorStyle         lipgloss.Style
	MutedStyle         lipgloss.Style
	UserStyle          lipgloss.Style
	ActiveSessionStyle lipgloss.Style
	SessionStyle       lipgloss.Style
}

func buildStyles(t Theme) Theme {
	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.StatusBarStyle = lipgloss.NewStyle().
		Foreground(t.TextDim)

	t.SidebarStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderRight(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.InputStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.UserStyle = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	t.ActiveSessionStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		Background(t.Primary).
		Bold(true)

	t.SessionStyle = lipgloss.NewStyle().
		Foreground(t.TextDim)

	return t
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	return buildStyles(Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Accent:  lipgloss.Color("#06B6D4"),
		Danger:  lipgloss.Color("#EF4444"),
		Success: lipgloss.Color("#10B981"),
		Muted:   lipgloss.Color("#6B7280"),
		Text:    lipgloss.Color("#E5E7EB"),
		TextDim: lipgloss.Color("#9CA3AF"),
		Border:  lipgloss.Color("#374151"),
	})
}

// LightTheme 亮色主题
// LightTheme is the light theme for pale terminals
func LightTheme() Theme {
	return buildStyles(Theme{
		Primary: lipgloss.Color("#6D28D9"),
		Accent:  lipgloss.Color("#0E7490"),
		Danger:  lipgloss.Color("#B91C1C"),
		Success: lipgloss.Color("#047857"),
		Muted:   lipgloss.Color("#9CA3AF"),
		Text:    lipgloss.Color("#111827"),
		TextDim: lipgloss.Color("#4B5563"),
		Border:  lipgloss.Color("#D1D5DB"),
	})
}

// ThemeByName 按配置名称返回主题，未知名称回退暗色
// ThemeByName maps a config theme name to a Theme, defaulting to dark
func ThemeByName(name string) Theme {
	if name == "light" {
		return LightTheme()
	}
	return DarkTheme()
}
