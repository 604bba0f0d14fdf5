package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/CoopDesk/CoopDesk/internal/bus"
	"github.com/CoopDesk/CoopDesk/internal/config"
)

// WhatsAppChannel is the native WhatsApp client for the cooperative's
// support line. Inbound customer messages are published on the bus;
// outbound replies arrive via bus subscription or direct Deliver calls.
type WhatsAppChannel struct {
	BaseChannel
	config    config.WhatsAppConfig
	mediaDir  string
	client    *whatsmeow.Client
	container *sqlstore.Container
}

// NewWhatsAppChannel creates a new WhatsApp channel. Downloaded media is
// stored under mediaDir.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, mediaDir string, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		mediaDir:    mediaDir,
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	if err := os.MkdirAll(filepath.Dir(c.config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create whatsapp db dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite",
		"file:"+c.config.DBPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("failed to init whatsapp db: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		// No session yet, pair via QR.
		qrChan, _ := c.client.GetQRChannel(context.Background())
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		fmt.Println("WhatsApp: scan this QR code to link the support line:")
		for evt := range qrChan {
			if evt.Event == "code" {
				qrPath := filepath.Join(filepath.Dir(c.config.DBPath), "whatsapp-qr.png")
				if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, qrPath); err == nil {
					fmt.Printf("WhatsApp: login QR code saved to %s\n", qrPath)
				}
			} else {
				fmt.Println("WhatsApp: login event:", evt.Event)
			}
		}
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		slog.Info("WhatsApp connected")
	}

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		go c.handleOutbound(msg)
	})

	return nil
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		c.container.Close()
	}
	return nil
}

// Send sends an outbound bus message to its customer address.
func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	return c.Deliver(ctx, msg.Address, msg.Body)
}

// Deliver sends body to the customer address as a plain text message.
func (c *WhatsAppChannel) Deliver(ctx context.Context, address, body string) error {
	if c.client == nil {
		return fmt.Errorf("client not initialized")
	}

	jid := types.NewJID(strings.TrimPrefix(address, "+"), types.DefaultUserServer)
	waMsg := &waE2E.Message{
		Conversation: proto.String(body),
	}

	_, err := c.client.SendMessage(ctx, jid, waMsg)
	return err
}

func (c *WhatsAppChannel) handleOutbound(msg *bus.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Send(ctx, msg); err != nil {
		slog.Error("WhatsApp send failed", "address", msg.Address, "trace_id", msg.TraceID, "error", err)
	}
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		// The support line only handles direct customer chats.
		if v.Info.IsFromMe || v.Info.IsGroup {
			return
		}

		text := ""
		var media []bus.MediaItem

		switch {
		case v.Message.GetConversation() != "":
			text = v.Message.GetConversation()
		case v.Message.GetExtendedTextMessage().GetText() != "":
			text = v.Message.GetExtendedTextMessage().GetText()
		case v.Message.GetImageMessage() != nil:
			img := v.Message.GetImageMessage()
			text = img.GetCaption()
			media = append(media, c.downloadMedia(v.Info.ID, "images", img.GetMimetype(), img))
		case v.Message.GetAudioMessage() != nil:
			audio := v.Message.GetAudioMessage()
			media = append(media, c.downloadMedia(v.Info.ID, "audio", audio.GetMimetype(), audio))
		case v.Message.GetDocumentMessage() != nil:
			doc := v.Message.GetDocumentMessage()
			text = doc.GetCaption()
			media = append(media, c.downloadMedia(v.Info.ID, "documents", doc.GetMimetype(), doc))
		default:
			// Reactions, receipts, protocol noise.
			return
		}

		if text == "" && len(media) == 0 {
			return
		}

		c.Bus.PublishInbound(&bus.InboundMessage{
			Channel:   c.Name(),
			Address:   "+" + v.Info.Sender.User,
			TraceID:   "wa-" + v.Info.ID,
			Text:      text,
			Media:     media,
			Timestamp: v.Info.Timestamp,
		})
	}
}

// downloadMedia fetches an attachment and stores it under the media
// directory. On failure the item keeps an empty URL; the message still
// flows through as media so the customer gets acknowledged.
func (c *WhatsAppChannel) downloadMedia(msgID, kind, mimetype string, item whatsmeow.DownloadableMessage) bus.MediaItem {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	data, err := c.client.Download(ctx, item)
	if err != nil {
		slog.Warn("WhatsApp media download failed", "message_id", msgID, "error", err)
		return bus.MediaItem{ContentType: mimetype}
	}

	dir := filepath.Join(c.mediaDir, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("WhatsApp media dir creation failed", "dir", dir, "error", err)
		return bus.MediaItem{ContentType: mimetype}
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s", msgID, extFromMime(mimetype)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Warn("WhatsApp media write failed", "path", path, "error", err)
		return bus.MediaItem{ContentType: mimetype}
	}

	return bus.MediaItem{URL: path, ContentType: mimetype}
}

func extFromMime(mimetype string) string {
	mt := strings.ToLower(mimetype)
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.Contains(mt, "png"):
		return "png"
	case strings.Contains(mt, "jpeg"), strings.Contains(mt, "jpg"):
		return "jpg"
	case strings.Contains(mt, "webp"):
		return "webp"
	case strings.Contains(mt, "ogg"):
		return "ogg"
	case strings.Contains(mt, "mp4"):
		return "m4a"
	case strings.Contains(mt, "pdf"):
		return "pdf"
	default:
		return "bin"
	}
}
