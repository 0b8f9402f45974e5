package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/goccy/go-json"

	"github.com/nugget/ufvbridge/internal/accessory"
	"github.com/nugget/ufvbridge/internal/config"
	"github.com/nugget/ufvbridge/internal/discovery"
)

// Motion state payloads.
const (
	payloadOn    = "ON"
	payloadOff   = "OFF"
	payloadPress = "PRESS"
)

// registerPublishTimeout bounds discovery publishes triggered by a
// registration after the connection is up.
const registerPublishTimeout = 10 * time.Second

var errNotConnected = errors.New("mqtt publisher not connected")

// Publisher is the Home Assistant accessory registry. It manages the
// MQTT connection, publishes discovery config for every registered
// camera and motion sensor on (re-)connect, and pushes motion state
// from the sensor refreshers.
type Publisher struct {
	*accessory.Catalog

	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	logger     *slog.Logger
	limiter    *messageRateLimiter
	cm         atomic.Pointer[autopaho.ConnectionManager]
}

// New creates a Publisher but does not connect. Cameras and sensors
// may be registered before or after [Publisher.Start].
func New(cfg config.MQTTConfig, instanceID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		logger:     logger,
		limiter:    newMessageRateLimiter(commandRateLimit, commandRateInterval, logger),
	}
	p.Catalog = accessory.NewCatalog(p.publishMotion, logger)
	return p
}

// RegisterCamera records a camera and, when connected, announces it.
func (p *Publisher) RegisterCamera(cam discovery.CameraDescriptor) error {
	if err := p.Catalog.RegisterCamera(cam); err != nil {
		return err
	}
	if cm := p.cm.Load(); cm != nil {
		ctx, cancel := context.WithTimeout(context.Background(), registerPublishTimeout)
		defer cancel()
		p.publishMessages(ctx, cm, p.cameraMessages(cam))
	}
	return nil
}

// RegisterMotionSensor records a motion sensor and, when connected,
// announces it. Its state is published by its refresher.
func (p *Publisher) RegisterMotionSensor(sensor accessory.MotionSensor) error {
	if err := p.Catalog.RegisterMotionSensor(sensor); err != nil {
		return err
	}
	if cm := p.cm.Load(); cm != nil {
		ctx, cancel := context.WithTimeout(context.Background(), registerPublishTimeout)
		defer cancel()
		p.publishMessages(ctx, cm, p.sensorMessages(sensor))
	}
	return nil
}

// Start connects to the MQTT broker and starts the motion sensor
// refreshers. It blocks until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishMessages(ctx, cm, p.discoveryMessages())
			p.publishAvailability(ctx, cm, "online")
			p.republishStates(ctx, cm)
			p.subscribeCommands(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "ufvbridge-" + p.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				commandHandler(p.baseTopic(), p.limiter, p.Catalog.Identify, p.logger),
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.Catalog.Start(ctx)
	p.limiter.start(ctx)
	p.Catalog.Wait()
	return nil
}

// Stop publishes an "offline" availability message and closes the
// connection. ctx bounds both.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires. Used by connwatch health probes.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return errNotConnected
	}
	return cm.AwaitConnection(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "ufvbridge/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) cameraTopic(cam discovery.CameraDescriptor, leaf string) string {
	return p.baseTopic() + "/camera/" + cam.ID + "/" + leaf
}

func (p *Publisher) motionStateTopic(sensorID string) string {
	return p.baseTopic() + "/motion/" + sensorID + "/state"
}

func (p *Publisher) identifyTopic(sensorID string) string {
	return p.baseTopic() + "/motion/" + sensorID + "/identify"
}

func (p *Publisher) discoveryTopic(component, objectID string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + objectID + "/config"
}

// --- Discovery ---

// message is one retained publish. Payload is marshalled to JSON
// unless it is already a string.
type message struct {
	topic   string
	payload any
}

func (p *Publisher) bridgeMessages() []message {
	return []message{
		{
			topic: p.discoveryTopic("sensor", "version"),
			payload: SensorConfig{
				Name:              p.device.Name + " Version",
				UniqueID:          p.instanceID + "_version",
				StateTopic:        p.baseTopic() + "/version/state",
				AvailabilityTopic: p.availabilityTopic(),
				Device:            p.device,
				Icon:              "mdi:tag",
				EntityCategory:    "diagnostic",
			},
		},
		{topic: p.baseTopic() + "/version/state", payload: p.device.SWVersion},
	}
}

func (p *Publisher) cameraMessages(cam discovery.CameraDescriptor) []message {
	dev := NewCameraDevice(cam, p.instanceID)
	return []message{
		{
			topic: p.discoveryTopic("sensor", "camera_"+cam.ID),
			payload: SensorConfig{
				Name:                "Stream",
				HasEntityName:       true,
				UniqueID:            cameraIdentifier(cam) + "_stream",
				StateTopic:          p.cameraTopic(cam, "state"),
				AvailabilityTopic:   p.availabilityTopic(),
				JsonAttributesTopic: p.cameraTopic(cam, "attributes"),
				Device:              dev,
				Icon:                "mdi:cctv",
			},
		},
		{topic: p.cameraTopic(cam, "attributes"), payload: newCameraAttributes(cam)},
		{topic: p.cameraTopic(cam, "state"), payload: streamProfile(cam)},
	}
}

func (p *Publisher) sensorMessages(s accessory.MotionSensor) []message {
	dev := NewCameraDevice(s.Camera, p.instanceID)
	return []message{
		{
			topic: p.discoveryTopic("binary_sensor", "motion_"+s.ID),
			payload: SensorConfig{
				Name:              "Motion",
				HasEntityName:     true,
				UniqueID:          "ufv_motion_" + s.ID,
				StateTopic:        p.motionStateTopic(s.ID),
				AvailabilityTopic: p.availabilityTopic(),
				Device:            dev,
				DeviceClass:       "motion",
				PayloadOn:         payloadOn,
				PayloadOff:        payloadOff,
			},
		},
		{
			topic: p.discoveryTopic("button", "identify_"+s.ID),
			payload: ButtonConfig{
				Name:              "Identify",
				HasEntityName:     true,
				UniqueID:          "ufv_identify_" + s.ID,
				CommandTopic:      p.identifyTopic(s.ID),
				PayloadPress:      payloadPress,
				AvailabilityTopic: p.availabilityTopic(),
				Device:            dev,
				DeviceClass:       "identify",
				EntityCategory:    "config",
			},
		},
	}
}

// discoveryMessages lists the retained discovery and attribute
// payloads for everything registered so far.
func (p *Publisher) discoveryMessages() []message {
	msgs := p.bridgeMessages()
	for _, cam := range p.Catalog.Cameras() {
		msgs = append(msgs, p.cameraMessages(cam)...)
	}
	for _, s := range p.Catalog.MotionSensors() {
		msgs = append(msgs, p.sensorMessages(s)...)
	}
	return msgs
}

func (p *Publisher) publishMessages(ctx context.Context, cm *autopaho.ConnectionManager, msgs []message) {
	for _, m := range msgs {
		payload, err := encodePayload(m.payload)
		if err != nil {
			p.logger.Error("mqtt marshal payload", "topic", m.topic, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   m.topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "topic", m.topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published", "topic", m.topic)
		}
	}
}

func encodePayload(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

// streamProfile is the camera sensor's state, e.g. "1920x1080@30".
func streamProfile(cam discovery.CameraDescriptor) string {
	return strconv.Itoa(cam.MaxWidth) + "x" + strconv.Itoa(cam.MaxHeight) + "@" + strconv.Itoa(cam.MaxFPS)
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) subscribeCommands(ctx context.Context, cm *autopaho.ConnectionManager) {
	filter := p.identifyTopic("+")
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt subscribe failed", "topic", filter, "error", err)
		return
	}
	p.logger.Debug("mqtt subscribed", "topic", filter)
}

// --- Motion state ---

func motionPayload(detected bool) []byte {
	if detected {
		return []byte(payloadOn)
	}
	return []byte(payloadOff)
}

// publishMotion is the catalog's publish function. It fails while
// disconnected so the refresher retries on its next tick.
func (p *Publisher) publishMotion(ctx context.Context, s accessory.MotionSensor, detected bool) error {
	cm := p.cm.Load()
	if cm == nil {
		return errNotConnected
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.motionStateTopic(s.ID),
		Payload: motionPayload(detected),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		return fmt.Errorf("publish motion state for %s: %w", s.Name, err)
	}
	return nil
}

// republishStates pushes every published sensor's current state after
// a reconnect, in case the broker lost its retained messages.
func (p *Publisher) republishStates(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, st := range p.Catalog.Sensors() {
		if !st.Published {
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.motionStateTopic(st.ID),
			Payload: motionPayload(st.Detected),
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state republish failed", "sensor", st.Name, "error", err)
		}
	}
}
