// Package actuator issues equipment commands to the plant.
//
// Commands are fire and forget: a successful Send means the command left
// this process, not that the equipment moved.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mode is the operating mode a command puts the equipment in.
type Mode string

const (
	// Manual drives the equipment output directly, in percent.
	Manual Mode = "manual"
	// Auto lets the local controller follow a setpoint.
	Auto Mode = "auto"
	// Open and Closed apply to on/off valves.
	Open   Mode = "open"
	Closed Mode = "closed"
	// Off stops a pump.
	Off Mode = "off"
)

// Command is one instruction to one piece of equipment.
type Command struct {
	ID       string   `json:"id"`
	Actuator string   `json:"actuator"`
	Mode     Mode     `json:"mode"`
	Setpoint *float64 `json:"setpoint,omitempty"`
	Output   *float64 `json:"output,omitempty"`
	// Delta marks Setpoint as relative to the controlled input.
	Delta  bool      `json:"delta,omitempty"`
	Issued time.Time `json:"issued"`
}

func newCommand(actuator string, mode Mode) Command {
	return Command{
		ID:       uuid.NewString(),
		Actuator: actuator,
		Mode:     mode,
		Issued:   time.Now().UTC(),
	}
}

// OpenValve opens an on/off valve.
func OpenValve(id string) Command { return newCommand(id, Open) }

// CloseValve closes an on/off valve.
func CloseValve(id string) Command { return newCommand(id, Closed) }

// TurnOff stops a pump.
func TurnOff(id string) Command { return newCommand(id, Off) }

// ManualOutput puts id in manual mode with a fixed output percentage.
func ManualOutput(id string, percent float64) Command {
	c := newCommand(id, Manual)
	c.Output = &percent
	return c
}

// AutoSetpoint puts id in automatic mode following setpoint.
func AutoSetpoint(id string, setpoint float64) Command {
	c := newCommand(id, Auto)
	c.Setpoint = &setpoint
	return c
}

// AutoDelta puts id in automatic mode holding its output delta above the
// controlled input, e.g. a mixing valve holding delta degC.
func AutoDelta(id string, delta float64) Command {
	c := AutoSetpoint(id, delta)
	c.Delta = true
	return c
}

// String describes the command for logs.
func (c Command) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", c.Actuator, c.Mode)
	if c.Output != nil {
		fmt.Fprintf(&b, " output=%g%%", *c.Output)
	}
	if c.Setpoint != nil {
		if c.Delta {
			fmt.Fprintf(&b, " delta=%g", *c.Setpoint)
		} else {
			fmt.Fprintf(&b, " setpoint=%g", *c.Setpoint)
		}
	}
	return b.String()
}

// Actuator delivers commands.
type Actuator interface {
	Send(ctx context.Context, cmd Command) error
}

// Fanout sends every command to all of its actuators and joins their errors.
type Fanout []Actuator

// Send implements Actuator.
func (f Fanout) Send(ctx context.Context, cmd Command) error {
	var errs []error
	for _, a := range f {
		if err := a.Send(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
