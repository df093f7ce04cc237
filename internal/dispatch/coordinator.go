// Package dispatch orchestrates inbound messages: it resolves the owning
// conversation, runs the routing pipeline or the bot engine as needed, and
// pushes every side effect onto the work queue. Nothing here talks to a
// messaging provider directly; all provider I/O happens inside worker pool
// executions.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/bot"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/config"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/notify"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/queue"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/routing"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/send"
	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/store"
)

// Work payload kinds.
const (
	WorkSend         = "send"          // deliver an outbound message
	WorkRecordNotify = "record_notify" // archive an inbound message + notify the room
)

// Escalation items jump the per-key queue ahead of normal traffic.
const escalationPriority = 10

// WorkPayload is the JSON payload carried by every work item this
// coordinator enqueues.
type WorkPayload struct {
	Kind            string `json:"kind"`
	TenantID        string `json:"tenant_id"`
	Text            string `json:"text,omitempty"`
	ProviderRef     string `json:"provider_ref,omitempty"`
	NewConversation bool   `json:"new_conversation,omitempty"`
}

// InboundMessage is one message arriving from a channel.
type InboundMessage struct {
	ContactPhone string
	ContactName  string
	Text         string
	ProviderRef  string
}

// Coordinator is the top-level message router.
type Coordinator struct {
	cfg           *config.Config
	queue         *queue.Queue
	conversations store.ConversationStore
	presence      store.PresenceStore
	pipelines     *routing.Builder
	sender        send.Sender
	broadcaster   notify.Broadcaster

	bots *bot.Engine // attached after construction; see AttachBotEngine
}

// CoordinatorOpts holds parameters for creating a Coordinator.
type CoordinatorOpts struct {
	Config        *config.Config
	Queue         *queue.Queue
	Conversations store.ConversationStore
	Presence      store.PresenceStore
	Pipelines     *routing.Builder
	Sender        send.Sender
	Broadcaster   notify.Broadcaster
}

// NewCoordinator creates a Coordinator. The bot engine is attached
// separately because it needs the coordinator as its Actions surface.
func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("dispatch: config is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("dispatch: queue is required")
	}
	if opts.Conversations == nil {
		return nil, fmt.Errorf("dispatch: conversation store is required")
	}
	if opts.Presence == nil {
		return nil, fmt.Errorf("dispatch: presence store is required")
	}
	if opts.Pipelines == nil {
		return nil, fmt.Errorf("dispatch: pipeline builder is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("dispatch: sender is required")
	}
	broadcaster := opts.Broadcaster
	if broadcaster == nil {
		broadcaster = notify.NewMulti()
	}
	return &Coordinator{
		cfg:           opts.Config,
		queue:         opts.Queue,
		conversations: opts.Conversations,
		presence:      opts.Presence,
		pipelines:     opts.Pipelines,
		sender:        opts.Sender,
		broadcaster:   broadcaster,
	}, nil
}

// AttachBotEngine wires the bot engine after both sides exist.
func (c *Coordinator) AttachBotEngine(engine *bot.Engine) {
	c.bots = engine
}

// OnInboundMessage routes one inbound message. It never blocks past
// enqueueing; provider I/O happens later, inside worker executions.
func (c *Coordinator) OnInboundMessage(tenantID, channelID string, msg InboundMessage) error {
	contact, err := c.conversations.ResolveContact(tenantID, msg.ContactPhone, msg.ContactName)
	if err != nil {
		return fmt.Errorf("dispatch: resolve contact: %w", err)
	}

	conv, err := c.conversations.FindOpenConversation(tenantID, contact.ID)
	if err != nil {
		return fmt.Errorf("dispatch: find open conversation: %w", err)
	}

	if conv != nil {
		return c.onExistingConversation(conv, msg)
	}
	return c.onNewConversation(tenantID, channelID, contact, msg)
}

// onExistingConversation records the message and, for bot-owned
// conversations, forwards it to the dialog engine.
func (c *Coordinator) onExistingConversation(conv *models.Conversation, msg InboundMessage) error {
	if err := c.enqueueRecordNotify(conv, msg, false); err != nil {
		return err
	}

	if conv.OwnerKind == models.OwnerBot && c.bots != nil {
		outcome, err := c.bots.Advance(conv.Key, msg.Text)
		if err != nil && err != bot.ErrNoSession {
			log.Printf("dispatch: bot advance [key=%s]: %v", conv.Key, err)
			return nil
		}
		if outcome.Handoff {
			c.handoff(conv, outcome.Sector)
		}
	}
	return nil
}

// onNewConversation assigns an owner for a first-contact message: either an
// interactive destination menu when the tenant is multi-sector, or the
// sector's assignment chain.
func (c *Coordinator) onNewConversation(tenantID, channelID string, contact *models.Contact, msg InboundMessage) error {
	sectors, err := c.presence.ListSectors(tenantID)
	if err != nil {
		return fmt.Errorf("dispatch: list sectors: %w", err)
	}

	if c.bots != nil && c.cfg.TenantMultiSectorPrompt(tenantID) {
		startCtx := bot.StartContext{TenantID: tenantID, ContactID: contact.ID, Sectors: sectors}
		if dialog := c.bots.PickDialog(startCtx); dialog != nil {
			conv, err := c.conversations.CreateConversation(tenantID, "", contact.ID, models.OwnerBot, 0)
			if err != nil {
				return fmt.Errorf("dispatch: create bot conversation: %w", err)
			}
			if err := c.bots.Start(conv.Key, dialog.Kind(), startCtx); err != nil {
				return fmt.Errorf("dispatch: start dialog: %w", err)
			}
			return c.enqueueRecordNotify(conv, msg, true)
		}
	}

	sector := c.pickSector(tenantID, sectors)
	if sector == "" {
		// Unrecoverable for this message: no sector to route into. Surface
		// loudly and leave the conversation unassigned under supervision.
		log.Printf("dispatch: no sector for tenant %s, leaving conversation unassigned", tenantID)
		conv, err := c.conversations.CreateConversation(tenantID, "", contact.ID, models.OwnerSupervision, 0)
		if err != nil {
			return fmt.Errorf("dispatch: create unassigned conversation: %w", err)
		}
		return c.enqueueRecordNotify(conv, msg, true)
	}

	assignment, err := c.assign(tenantID, sector, contact)
	if err != nil {
		return err
	}

	conv, err := c.conversations.CreateConversation(tenantID, sector, contact.ID,
		assignment.Owner.Kind, assignment.Owner.OperatorID)
	if err != nil {
		return fmt.Errorf("dispatch: create conversation: %w", err)
	}
	return c.enqueueRecordNotify(conv, msg, true)
}

// pickSector chooses the sector for a tenant that is not prompted: the
// configured default, else the only sector, else empty.
func (c *Coordinator) pickSector(tenantID string, sectors []string) string {
	if t, ok := c.cfg.Tenants[tenantID]; ok && t.DefaultSector != "" {
		return t.DefaultSector
	}
	if len(sectors) > 0 {
		return sectors[0]
	}
	return ""
}

// assign runs the (tenant, sector) pipeline for a contact.
func (c *Coordinator) assign(tenantID, sector string, contact *models.Contact) (*routing.ChatAssignment, error) {
	pipeline, err := c.pipelines.Build(tenantID, sector)
	if err != nil {
		return nil, fmt.Errorf("dispatch: build pipeline: %w", err)
	}
	assignment, err := c.pipelines.Run(pipeline, contact)
	if err != nil {
		return nil, fmt.Errorf("dispatch: run pipeline: %w", err)
	}
	return assignment, nil
}

// handoff moves a bot-owned conversation to the sector a dialog chose (or
// the conversation's own sector) by running the assignment chain.
func (c *Coordinator) handoff(conv *models.Conversation, sector string) {
	if sector == "" {
		sector = conv.SectorID
	}
	if sector == "" {
		sector = c.pickSector(conv.TenantID, nil)
	}

	var contact models.Contact
	contact.ID = conv.ContactID
	contact.TenantID = conv.TenantID

	assignment, err := c.assign(conv.TenantID, sector, &contact)
	if err != nil {
		log.Printf("dispatch: handoff [key=%s]: %v", conv.Key, err)
		assignment = &routing.ChatAssignment{TenantID: conv.TenantID, SectorID: sector, Owner: routing.Supervision}
	}
	if err := c.conversations.AssignConversation(conv.Key, sector, assignment.Owner.Kind, assignment.Owner.OperatorID); err != nil {
		log.Printf("dispatch: handoff assign [key=%s]: %v", conv.Key, err)
		return
	}
	c.broadcaster.Broadcast(context.Background(), notify.Event{
		Kind:     "assignment",
		TenantID: conv.TenantID,
		Title:    "Conversation assigned",
		Body:     fmt.Sprintf("Conversation %s handed to %s in sector %s", conv.Key, assignment.Owner.Kind, sector),
	})
}

// enqueueRecordNotify queues the archive+notify work for an inbound message.
func (c *Coordinator) enqueueRecordNotify(conv *models.Conversation, msg InboundMessage, isNew bool) error {
	payload := WorkPayload{
		Kind:            WorkRecordNotify,
		TenantID:        conv.TenantID,
		Text:            msg.Text,
		ProviderRef:     msg.ProviderRef,
		NewConversation: isNew,
	}
	if err := c.enqueue(conv.Key, conv.TenantID, payload, 0); err != nil {
		return err
	}
	return nil
}

// enqueue marshals and enqueues one payload.
func (c *Coordinator) enqueue(conversationKey, tenantID string, payload WorkPayload, priority int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatch: marshal payload: %w", err)
	}
	_, err = c.queue.Enqueue(conversationKey, string(raw), queue.EnqueueOpts{
		TenantID:   tenantID,
		Priority:   priority,
		MaxRetries: c.cfg.TenantMaxRetries(tenantID),
	})
	if err != nil {
		return fmt.Errorf("dispatch: enqueue %s for %s: %w", payload.Kind, conversationKey, err)
	}
	return nil
}
