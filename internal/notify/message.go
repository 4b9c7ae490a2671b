package notify

import (
	"fmt"
	"strings"
)

// FormatMilestoneMessage creates a milestone notification body.
func FormatMilestoneMessage(count, total int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Subscribers: %d / %d\n", count, total))
	sb.WriteString(fmt.Sprintf("Remaining: %d\n", remaining(count, total)))
	sb.WriteString(fmt.Sprintf("Filled: %.1f%%", percent(count, total)))

	return sb.String()
}

// FormatSoldOutMessage creates the body sent once every spot is taken.
func FormatSoldOutMessage(count, total int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("All %d launch spots are taken.\n", total))
	sb.WriteString(fmt.Sprintf("Subscribers: %d", count))
	if count > total {
		sb.WriteString(fmt.Sprintf(" (%d over capacity)", count-total))
	}

	return sb.String()
}

func remaining(count, total int) int {
	if count >= total {
		return 0
	}
	return total - count
}

func percent(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) * 100 / float64(total)
}
