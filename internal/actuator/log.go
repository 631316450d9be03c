package actuator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tcsd/internal/logging"
)

// LogActuator only logs commands. It is the dry-run actuator.
type LogActuator struct {
	logger *logging.Logger
}

// NewLogActuator returns a LogActuator writing to logger.
func NewLogActuator(logger *logging.Logger) *LogActuator {
	return &LogActuator{logger: logger.Named("actuator")}
}

// Send implements Actuator.
func (a *LogActuator) Send(ctx context.Context, cmd Command) error {
	fields := []zap.Field{
		zap.String("command.id", cmd.ID),
		zap.String("actuator", cmd.Actuator),
		zap.String("mode", string(cmd.Mode)),
	}
	if cmd.Output != nil {
		fields = append(fields, zap.Float64("output", *cmd.Output))
	}
	if cmd.Setpoint != nil {
		fields = append(fields, zap.Float64("setpoint", *cmd.Setpoint), zap.Bool("delta", cmd.Delta))
	}
	a.logger.Info(ctx, cmd.String(), fields...)
	return nil
}

// Recorder keeps every command it receives. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	err      error
}

// Send implements Actuator.
func (r *Recorder) Send(_ context.Context, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return r.err
}

// FailWith makes subsequent sends return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// For returns the commands sent to actuator, in order.
func (r *Recorder) For(actuator string) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Command
	for _, c := range r.commands {
		if c.Actuator == actuator {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets all recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
