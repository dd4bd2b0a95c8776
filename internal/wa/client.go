// Package wa delivers one-time sign-in codes over WhatsApp.
package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
)

// ErrNotReady is returned while the device is not paired or connected.
var ErrNotReady = errors.New("whatsapp client not ready")

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	BrandName string
	CodeTTL   time.Duration
	Metrics   *metrics.Metrics
}

// Client wraps the WhatsMeow client.
type Client struct {
	client  *whatsmeow.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	brand   string
	codeTTL time.Duration
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
		brand:   cfg.BrandName,
		codeTTL: cfg.CodeTTL,
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// Start connects the client and handles login/QR pairing flow.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		// Outbound only; inbound chats are not answered.
		c.logger.Debug("ignoring inbound message", "from", v.Info.Sender.String())
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	case *events.LoggedOut:
		c.logger.Error("device logged out, re-pairing required", "reason", v.Reason, "on_connect", v.OnConnect)
	}
}

// SendOTP delivers code to phone (E.164).
func (c *Client) SendOTP(ctx context.Context, phone, code string) error {
	if c.client == nil || !c.client.IsConnected() || !c.client.IsLoggedIn() {
		return ErrNotReady
	}
	to, err := PhoneJID(phone)
	if err != nil {
		return err
	}
	if _, err := c.client.SendMessage(ctx, to, OTPMessage(c.brand, code, c.codeTTL)); err != nil {
		c.metrics.IncError("wa_send")
		return fmt.Errorf("send otp: %w", err)
	}
	if c.metrics != nil {
		c.metrics.WAOutgoingMessages.WithLabelValues("otp").Inc()
	}
	return nil
}

// PhoneJID converts an E.164 number to a WhatsApp user JID.
func PhoneJID(phone string) (types.JID, error) {
	digits := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if len(digits) < 8 || len(digits) > 15 {
		return types.JID{}, fmt.Errorf("invalid phone number %q", phone)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return types.JID{}, fmt.Errorf("invalid phone number %q", phone)
		}
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// OTPMessage renders the sign-in code message.
func OTPMessage(brand, code string, ttl time.Duration) *waProto.Message {
	if brand == "" {
		brand = "Avishkar"
	}
	text := fmt.Sprintf("*%s* sign-in code: %s", brand, code)
	if ttl > 0 {
		text += fmt.Sprintf("\nIt expires in %d minutes. Do not share it with anyone.", int(ttl.Round(time.Minute).Minutes()))
	}
	return &waProto.Message{
		Conversation: proto.String(text),
	}
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
