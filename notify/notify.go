// Package notify raises OS notifications for proactive messages.
package notify

import (
	"fmt"

	"github.com/gen2brain/beeep"
)

// Notifier shows a notification with a title and body.
type Notifier interface {
	Show(title, body string) error
}

// Desktop sends notifications through the platform notification service.
type Desktop struct {
	AppIcon string
}

// Show implements Notifier.
func (d Desktop) Show(title, body string) error {
	if err := beeep.Notify(title, body, d.AppIcon); err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}
	return nil
}

// Nop discards notifications.
type Nop struct{}

// Show implements Notifier.
func (Nop) Show(title, body string) error { return nil }
