package controller

import (
	"context"

	"github.com/hazyhaar/devmirror/bus"
	"github.com/hazyhaar/devmirror/interaction"
)

// Subscribe registers the controller on every control topic. Commands
// addressed to another device are ignored. Subscriptions are released by
// Close.
func (c *Controller) Subscribe(ctx context.Context, b bus.Bus) error {
	for _, topic := range interaction.ControlTopics {
		topic := topic
		sub, err := b.Subscribe(ctx, topic, func(ctx context.Context, msg *bus.Message) {
			c.handle(ctx, topic, msg.Data)
		})
		if err != nil {
			c.Close()
			return err
		}
		c.mu.Lock()
		c.subs = append(c.subs, sub)
		c.mu.Unlock()
	}
	return nil
}

// Close releases bus subscriptions.
func (c *Controller) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (c *Controller) handle(ctx context.Context, topic string, data []byte) {
	cmd, err := interaction.UnmarshalCommand(data)
	if err != nil {
		c.logger.Debug("controller: drop command", "topic", topic, "error", err)
		return
	}
	if !cmd.Targets(c.device.ID) {
		return
	}

	switch topic {
	case interaction.TopicScrollDown:
		err = c.ScrollStep(ctx, Down)
	case interaction.TopicScrollUp:
		err = c.ScrollStep(ctx, Up)
	case interaction.TopicNavigateBack:
		err = c.NavigateBack(ctx)
	case interaction.TopicNavigateForward:
		err = c.NavigateForward(ctx)
	case interaction.TopicNavigateReload:
		err = c.Reload(ctx)
	case interaction.TopicDevTools:
		_, err = c.ToggleDevTools(ctx)
	case interaction.TopicScreenshot:
		// Failures are already alerted.
		_, _ = c.Save(ctx, cmd.Mode)
		return
	}
	if err != nil {
		c.logger.Warn("controller: command failed", "topic", topic, "device", c.device.ID, "error", err)
	}
}
