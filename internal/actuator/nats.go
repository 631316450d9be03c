package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root of actuator commands.
const DefaultSubjectPrefix = "tcs.actuator"

// NATSPublisher publishes commands as JSON on <prefix>.<actuator>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher returns a publisher on nc. An empty prefix means
// DefaultSubjectPrefix.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject a command for actuator is published on.
func (p *NATSPublisher) Subject(actuator string) string {
	return p.prefix + "." + subjectToken(actuator)
}

// Send implements Actuator.
func (p *NATSPublisher) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := p.nc.Publish(p.Subject(cmd.Actuator), data); err != nil {
		return fmt.Errorf("publish command %s: %w", cmd.ID, err)
	}
	return nil
}

// subjectToken makes an equipment id safe as a single subject token.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, id)
}
