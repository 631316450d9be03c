package actuator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/tcsd/internal/gateway"
)

// Attribute suffixes written by GatewayActuator, e.g. "MV-101.SP".
const (
	SuffixSetpoint = "SP"
	SuffixOutput   = "CV"
	SuffixMode     = "MODE"
	SuffixCommand  = "CMD"
)

// Mode and command values written to the gateway.
const (
	modeManual = 0
	modeAuto   = 1
	cmdOff     = 0
	cmdOn      = 1
)

// GatewayActuator writes commands to settable gateway attributes.
// Attributes absent from the schema are skipped; a command that maps to no
// attribute at all fails with gateway.ErrUnknownTag.
type GatewayActuator struct {
	table *gateway.TagTable
}

// NewGatewayActuator writes through table.
func NewGatewayActuator(table *gateway.TagTable) *GatewayActuator {
	return &GatewayActuator{table: table}
}

// Send implements Actuator.
func (g *GatewayActuator) Send(ctx context.Context, cmd Command) error {
	type write struct {
		suffix string
		value  float64
	}
	var writes []write
	switch cmd.Mode {
	case Open:
		writes = append(writes, write{SuffixCommand, cmdOn})
	case Closed, Off:
		writes = append(writes, write{SuffixCommand, cmdOff})
	case Manual:
		writes = append(writes, write{SuffixMode, modeManual})
	case Auto:
		writes = append(writes, write{SuffixMode, modeAuto})
	default:
		return fmt.Errorf("unsupported mode %q", cmd.Mode)
	}
	if cmd.Output != nil {
		writes = append(writes, write{SuffixOutput, *cmd.Output})
	}
	if cmd.Setpoint != nil {
		writes = append(writes, write{SuffixSetpoint, *cmd.Setpoint})
	}

	written := 0
	for _, w := range writes {
		full := cmd.Actuator + "." + w.suffix
		attr, err := g.table.Settable(full)
		if errors.Is(err, gateway.ErrUnknownTag) {
			continue
		}
		if err != nil {
			return err
		}
		if err := attr.Set(ctx, w.value); err != nil {
			return fmt.Errorf("command %s: %w", cmd.ID, err)
		}
		written++
	}
	if written == 0 {
		return fmt.Errorf("%w: no attribute of %s accepts %s", gateway.ErrUnknownTag, cmd.Actuator, cmd.Mode)
	}
	return nil
}
