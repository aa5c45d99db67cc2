// Package mqttingest принимает сигналы устройств по MQTT.
//
// Топик: devices/<device_id>/signals, тело, тот же JSON, что и у
// POST /fuel-alert, плюс поле api_key. Ответ устройству не отправляется.
package mqttingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"fuelalert/internal/apperr"
	"fuelalert/internal/ingest"
	"fuelalert/internal/models"
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

type DeviceAuthenticator interface {
	AuthenticateDevice(ctx context.Context, apiKey string) (*models.Device, error)
}

type Ingester interface {
	Ingest(ctx context.Context, device *models.Device, sig ingest.Signal) (*ingest.Result, error)
}

type message struct {
	topic   string
	payload []byte
}

type Ingestor struct {
	cfg     Config
	devices DeviceAuthenticator
	ingest  Ingester
	log     logrus.FieldLogger

	client mqtt.Client
	msgCh  chan message
	done   chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
}

func New(cfg Config, devices DeviceAuthenticator, ing Ingester, log logrus.FieldLogger) *Ingestor {
	return &Ingestor{
		cfg:     cfg,
		devices: devices,
		ingest:  ing,
		log:     log,
		msgCh:   make(chan message, 1024),
		done:    make(chan struct{}),
	}
}

func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.Broker).
		SetClientID(i.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(false)
	if i.cfg.Username != "" {
		opts.SetUsername(i.cfg.Username)
		opts.SetPassword(i.cfg.Password)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		i.log.WithError(err).Error("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		i.log.WithField("topic", i.cfg.Topic).Info("MQTT connected, subscribing")
		if tk := c.Subscribe(i.cfg.Topic, 1, i.onMessage); tk.Wait() && tk.Error() != nil {
			i.log.WithError(tk.Error()).WithField("topic", i.cfg.Topic).Error("MQTT subscribe failed")
		}
	}

	i.client = mqtt.NewClient(opts)
	// с ConnectRetry токен ждёт брокер бесконечно, поэтому слушаем ctx
	tk := i.client.Connect()
	select {
	case <-tk.Done():
		if err := tk.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		i.client.Disconnect(0)
		return ctx.Err()
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.worker(ctx)
	}()
	return nil
}

func (i *Ingestor) Stop() {
	i.stop.Do(func() {
		close(i.done)
		if i.client != nil && i.client.IsConnected() {
			i.client.Disconnect(500)
		}
	})
	i.wg.Wait()
}

func (i *Ingestor) IsConnected() bool {
	return i.client != nil && i.client.IsConnected()
}

// onMessage не блокирует клиент paho: при переполнении очереди сообщение теряется.
func (i *Ingestor) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := message{topic: m.Topic(), payload: append([]byte(nil), m.Payload()...)}
	select {
	case i.msgCh <- msg:
	case <-i.done:
	default:
		i.log.WithField("topic", m.Topic()).Warn("MQTT queue full, message dropped")
	}
}

func (i *Ingestor) worker(ctx context.Context) {
	for {
		select {
		case <-i.done:
			return
		case <-ctx.Done():
			return
		case m := <-i.msgCh:
			if err := i.HandleMessage(ctx, m.topic, m.payload); err != nil {
				entry := i.log.WithFields(logrus.Fields{"topic": m.topic, "kind": apperr.KindOf(err).String()})
				if apperr.KindOf(err) == apperr.KindInternal {
					entry.WithError(err).Error("MQTT signal failed")
				} else {
					entry.WithError(err).Warn("MQTT signal rejected")
				}
			}
		}
	}
}

// DeviceCodeFromTopic: devices/<code>/signals → <code>.
func DeviceCodeFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "devices" || parts[2] != "signals" || parts[1] == "" {
		return "", fmt.Errorf("unexpected topic %q, want devices/<device_id>/signals", topic)
	}
	return parts[1], nil
}

// HandleMessage: аутентификация по api_key из тела и приём сигнала.
// Код устройства в топике должен совпадать с устройством ключа.
func (i *Ingestor) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	code, err := DeviceCodeFromTopic(topic)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "bad topic", err)
	}

	var body struct {
		APIKey string `json:"api_key"`
		ingest.Signal
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed JSON payload", err)
	}

	device, err := i.devices.AuthenticateDevice(ctx, body.APIKey)
	if err != nil {
		return err
	}
	if device.Code != code {
		return apperr.Unauthorized("API key does not match topic device")
	}

	sig := body.Signal
	sig.Raw, err = stripKey(payload)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "malformed JSON payload", err)
	}
	res, err := i.ingest.Ingest(ctx, device, sig)
	if err != nil {
		return err
	}
	i.log.WithFields(logrus.Fields{"device": device.Code, "stations": len(res.Targets)}).Debug("MQTT signal ingested")
	return nil
}

// stripKey убирает api_key из сырого тела перед сохранением.
func stripKey(payload []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("payload is not an object")
	}
	delete(m, "api_key")
	return json.Marshal(m)
}
