package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/otarescue-io/otarescue/internal/flash"
	"github.com/otarescue-io/otarescue/pkg/log"
	"github.com/otarescue-io/otarescue/pkg/mqtt"
	"github.com/otarescue-io/otarescue/pkg/options"
)

// Announcer keeps a retained presence record on the broker and accepts the
// dataless remote commands (relocate, bootswitch, reboot). Image uploads stay
// HTTP-only; a broker round-trip is the wrong place for megabytes of firmware.
type Announcer struct {
	client   mqtt.Client
	engine   *flash.Engine
	state    *OpState
	deviceID string

	statusTopic string
	cmdTopic    string
	ackTopic    string

	requestRestart func(delay time.Duration)
}

type presencePayload struct {
	DeviceID string `json:"deviceId"`
	Online   bool   `json:"online"`
	Running  string `json:"running,omitempty"`
	State    string `json:"state,omitempty"`
}

type commandPayload struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
}

type ackPayload struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error,omitempty"`
}

const switchCommandDelay = 300 * time.Millisecond

// NewAnnouncer builds the MQTT presence client. The broker publishes the
// retained offline record for us when the connection drops (the will), so
// operators can tell a mid-flash reboot from a crash.
func NewAnnouncer(opts *options.MqttOptions, deviceID string, engine *flash.Engine,
	state *OpState, requestRestart func(delay time.Duration)) (*Announcer, error) {

	a := &Announcer{
		engine:         engine,
		state:          state,
		deviceID:       deviceID,
		statusTopic:    fmt.Sprintf("%s/status/%s", opts.TopicRoot, deviceID),
		cmdTopic:       fmt.Sprintf("%s/cmd/%s", opts.TopicRoot, deviceID),
		ackTopic:       fmt.Sprintf("%s/ack/%s", opts.TopicRoot, deviceID),
		requestRestart: requestRestart,
	}

	cfg := opts.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("otarescue-agent-%s", deviceID)
	}

	offline, _ := json.Marshal(presencePayload{DeviceID: deviceID, Online: false})
	cfg.WillTopic = a.statusTopic
	cfg.WillPayload = offline
	cfg.WillQoS = 1
	cfg.WillRetain = true

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	a.client = client
	return a, nil
}

// Start connects, announces presence and serves commands until ctx is
// cancelled.
func (a *Announcer) Start(ctx context.Context) error {
	if err := a.client.Start(ctx); err != nil {
		return err
	}
	if err := a.client.AwaitConnection(ctx); err != nil {
		return err
	}

	if err := a.publishPresence(ctx, true); err != nil {
		return err
	}
	if err := a.client.Subscribe(ctx, a.cmdTopic, 1, a.handleCommand); err != nil {
		return err
	}

	log.Info("MQTT announcer running", "status", a.statusTopic, "cmd", a.cmdTopic)
	<-ctx.Done()

	// Best effort: replace the retained record before the clean disconnect,
	// since a clean disconnect suppresses the will.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.publishPresence(shutdownCtx, false)
	a.client.Disconnect(shutdownCtx)
	return nil
}

func (a *Announcer) publishPresence(ctx context.Context, online bool) error {
	p := presencePayload{DeviceID: a.deviceID, Online: online}
	if online {
		if part, ok := a.engine.Running(); ok {
			p.Running = part.Label
		}
		p.State = a.state.Current()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return a.client.Publish(ctx, a.statusTopic, 1, true, payload)
}

func (a *Announcer) handleCommand(ctx context.Context, topic string, payload []byte) {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Error(err, "Ignoring malformed command", "topic", topic)
		return
	}

	log.Info("Remote command received", "action", cmd.Action, "id", cmd.ID)
	ack := ackPayload{ID: cmd.ID, Action: cmd.Action}

	switch cmd.Action {
	case "relocate":
		ack = a.runRelocate(ctx, ack)
	case "bootswitch":
		ack = a.runBootswitch(ctx, ack)
	case "reboot":
		a.state.Rebooting(ctx)
		ack.OK = true
		defer a.requestRestart(switchCommandDelay)
	default:
		ack.Error = fmt.Sprintf("unknown action %q", cmd.Action)
	}

	a.publishAck(ctx, ack)
}

func (a *Announcer) runRelocate(ctx context.Context, ack ackPayload) ackPayload {
	if err := a.state.BeginRelocate(ctx); err != nil {
		ack.Error = err.Error()
		return ack
	}

	dst, _, err := a.engine.CloneRunningToOther()
	if err != nil {
		a.state.Done(ctx)
		ack.Error = err.Error()
		return ack
	}

	ack.OK = true
	ack.Target = dst.Label
	a.requestRestart(switchCommandDelay)
	return ack
}

func (a *Announcer) runBootswitch(ctx context.Context, ack ackPayload) ackPayload {
	if err := a.state.BeginBootswitch(ctx); err != nil {
		ack.Error = err.Error()
		return ack
	}

	dst, err := a.engine.SwitchBootToOther()
	if err != nil {
		a.state.Done(ctx)
		ack.Error = err.Error()
		return ack
	}

	ack.OK = true
	ack.Target = dst.Label
	a.requestRestart(switchCommandDelay)
	return ack
}

func (a *Announcer) publishAck(ctx context.Context, ack ackPayload) {
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := a.client.Publish(ctx, a.ackTopic, 1, false, payload); err != nil {
		log.Error(err, "Failed to publish command ack", "action", ack.Action)
	}
}
