// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/messaging"
	"github.com/bureau-foundation/matrix-commander/verification"
)

// emojiCellWidth fits the longest emoji description ("Headphones",
// "Butterfly") with a space either side.
const emojiCellWidth = 12

var (
	emojiCellStyle = lipgloss.NewStyle().
			Width(emojiCellWidth).
			Align(lipgloss.Center).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63"))

	emojiLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	currentDeviceStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("42"))
)

// RenderEmoji lays the short authentication string out as a row of
// boxed cells, symbol above description.
func RenderEmoji(emoji []verification.Emoji) string {
	cells := make([]string, len(emoji))
	for i, symbol := range emoji {
		cells[i] = emojiCellStyle.Render(symbol.Symbol + "\n" + emojiLabelStyle.Render(symbol.Description))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

// RenderDevices renders the device list as an aligned table for a
// terminal, highlighting current. Scripts get commander.FormatDevices
// instead.
func RenderDevices(devices []messaging.Device, current ref.DeviceID) string {
	idWidth := len("DEVICE")
	for _, device := range devices {
		idWidth = max(idWidth, lipgloss.Width(device.DeviceID.String()))
	}
	idColumn := lipgloss.NewStyle().Width(idWidth + 2)

	var builder strings.Builder
	builder.WriteString(headerStyle.Render(idColumn.Render("DEVICE")+"NAME") + "\n")
	for _, device := range devices {
		row := idColumn.Render(device.DeviceID.String()) + device.DisplayName
		if device.DeviceID == current {
			row = currentDeviceStyle.Render(row + " (this device)")
		}
		builder.WriteString(row + "\n")
	}
	return builder.String()
}
