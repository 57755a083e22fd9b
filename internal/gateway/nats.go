package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	subjectRoot = "rolesync"
	eventHeader = "Rolesync-Event"
)

// NATSConfig configures the broker connection.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATSDispatcher publishes events to NATS core subjects:
//
//	rolesync.servers.{serverId}.{event}
//	rolesync.users.{uid}.{event}
type NATSDispatcher struct {
	nc *nats.Conn
}

// ConnectNATS dials the broker and keeps reconnecting forever.
func ConnectNATS(cfg NATSConfig) (*NATSDispatcher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "rolesync"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to nats")
	}
	return &NATSDispatcher{nc: nc}, nil
}

func (d *NATSDispatcher) DispatchToServer(serverID, event string, data any) {
	d.publish(ServerSubject(serverID, event), event, data)
}

func (d *NATSDispatcher) DispatchToUser(uid, event string, data any) {
	d.publish(UserSubject(uid, event), event, data)
}

// Ping round-trips to the server.
func (d *NATSDispatcher) Ping(ctx context.Context) error {
	if !d.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return errors.Wrap(d.nc.FlushTimeout(timeout), "flushing nats")
}

// Close flushes pending publishes and closes the connection.
func (d *NATSDispatcher) Close() error {
	return errors.Wrap(d.nc.Drain(), "draining nats")
}

func (d *NATSDispatcher) publish(subject, event string, data any) {
	msg, err := newMsg(subject, event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encoding event")
		return
	}
	if err := d.nc.PublishMsg(msg); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publishing event")
	}
}

func newMsg(subject, event string, data any) (*nats.Msg, error) {
	body, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = body
	msg.Header.Set(eventHeader, event)
	return msg, nil
}

// ServerSubject is the subject server-scoped events are published on.
func ServerSubject(serverID, event string) string {
	return strings.Join([]string{subjectRoot, "servers", token(serverID), event}, ".")
}

// UserSubject is the subject user-scoped events are published on.
func UserSubject(uid, event string) string {
	return strings.Join([]string{subjectRoot, "users", token(uid), event}, ".")
}

// token makes an id safe to use as a single subject token.
func token(id string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}
