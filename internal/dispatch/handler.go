package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/notify"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/queue"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/send"
)

// HandleWorkItem executes one claimed work item. It is the handler the
// worker pool is constructed with. Unprocessable items (malformed payload,
// conversation deleted) are reported as permanent so they don't burn the
// retry budget.
func (c *Coordinator) HandleWorkItem(ctx context.Context, item *models.WorkItem) error {
	var payload WorkPayload
	if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
		return queue.Permanent(fmt.Errorf("dispatch: malformed payload on %s: %w", item.ID, err))
	}

	conv, err := c.conversations.FindConversationByKey(item.ConversationKey)
	if err != nil {
		return err
	}
	if conv == nil {
		return queue.Permanent(fmt.Errorf("dispatch: conversation %s no longer exists", item.ConversationKey))
	}

	switch payload.Kind {
	case WorkSend:
		return c.executeSend(ctx, conv, payload)
	case WorkRecordNotify:
		return c.executeRecordNotify(ctx, conv, payload)
	default:
		return queue.Permanent(fmt.Errorf("dispatch: unknown work kind %q on %s", payload.Kind, item.ID))
	}
}

// executeSend delivers an outbound message and archives it. Provider errors
// are transient: the retry counter decides their fate.
func (c *Coordinator) executeSend(ctx context.Context, conv *models.Conversation, payload WorkPayload) error {
	ref, err := c.sender.Send(ctx, conv.Key, send.Message{Text: payload.Text})
	if err != nil {
		return fmt.Errorf("dispatch: send to %s: %w", conv.Key, err)
	}
	if err := c.conversations.RecordMessage(conv.ID, "out", payload.Text, ref.ProviderID); err != nil {
		// The message is already delivered; archiving is best-effort.
		log.Printf("dispatch: record outbound [key=%s]: %v", conv.Key, err)
	}
	return nil
}

// executeRecordNotify archives an inbound message and notifies the
// operator room. New conversations additionally announce themselves.
func (c *Coordinator) executeRecordNotify(ctx context.Context, conv *models.Conversation, payload WorkPayload) error {
	if err := c.conversations.RecordMessage(conv.ID, "in", payload.Text, payload.ProviderRef); err != nil {
		return fmt.Errorf("dispatch: record inbound on %s: %w", conv.Key, err)
	}

	kind := "message"
	title := "New message"
	if payload.NewConversation {
		kind = "new_conversation"
		title = "New conversation"
	}
	c.broadcaster.Broadcast(ctx, notify.Event{
		Kind:     kind,
		TenantID: conv.TenantID,
		Title:    title,
		Body:     fmt.Sprintf("[%s] %s", conv.Key, payload.Text),
	})
	return nil
}

// SendPrompt enqueues an outbound prompt for a bot dialog. Implements
// bot.Actions.
func (c *Coordinator) SendPrompt(tenantID, conversationKey, text string) error {
	return c.enqueue(conversationKey, tenantID, WorkPayload{
		Kind:     WorkSend,
		TenantID: tenantID,
		Text:     text,
	}, 0)
}

// CloseConversation closes the conversation. Implements bot.Actions.
// Pending outbound items (the dialog's parting message) still drain.
func (c *Coordinator) CloseConversation(conversationKey, reason string) error {
	return c.conversations.CloseConversation(conversationKey, reason)
}

// Escalate hands a stalled bot conversation to the supervision pool and
// alerts the room. A conversation that no longer exists is dropped
// silently. Implements bot.Actions.
func (c *Coordinator) Escalate(tenantID, conversationKey, reason string) error {
	conv, err := c.conversations.FindConversationByKey(conversationKey)
	if err != nil {
		return err
	}
	if conv == nil || !conv.Open {
		log.Printf("dispatch: escalation for missing conversation [key=%s], dropping", conversationKey)
		return nil
	}

	if err := c.conversations.AssignConversation(conversationKey, "", models.OwnerSupervision, 0); err != nil {
		return fmt.Errorf("dispatch: escalate %s: %w", conversationKey, err)
	}
	if err := c.enqueue(conversationKey, tenantID, WorkPayload{
		Kind:     WorkSend,
		TenantID: tenantID,
		Text:     "One moment, we are transferring you to an attendant.",
	}, escalationPriority); err != nil {
		return err
	}
	c.broadcaster.Broadcast(context.Background(), notify.Event{
		Kind:     "escalation",
		TenantID: tenantID,
		Title:    "Bot session escalated",
		Body:     fmt.Sprintf("[%s] %s", conversationKey, reason),
	})
	return nil
}
