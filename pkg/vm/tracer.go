package vm

import (
	"github.com/sirupsen/logrus"

	"github.com/kristofer/mjcore/pkg/bytecode"
)

// Tracer observes every instruction the VM is about to execute. An
// interactive breakpoint prompt doesn't fit a template-rendering
// engine, so this hook drives debug-mode instruction logging instead.
type Tracer interface {
	Trace(ins *bytecode.Instructions, ip int, instr bytecode.Instruction)
}

// LogTracer logs each executed instruction at debug level via logrus,
// the ambient logging library used throughout the engine.
type LogTracer struct {
	Log *logrus.Logger
}

func NewLogTracer(log *logrus.Logger) *LogTracer {
	if log == nil {
		log = logrus.New()
	}
	return &LogTracer{Log: log}
}

func (t *LogTracer) Trace(ins *bytecode.Instructions, ip int, instr bytecode.Instruction) {
	line, _ := ins.GetLine(ip)
	t.Log.WithFields(logrus.Fields{
		"template": ins.Name,
		"ip":       ip,
		"op":       instr.Op.String(),
		"line":     line,
	}).Debug("exec")
}
