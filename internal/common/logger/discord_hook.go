package logger

import (
	"github.com/rs/zerolog"
)

// AlertSender delivers a log alert to an external channel.
// *discord.Client satisfies it.
type AlertSender interface {
	SendLogMessage(level, message string, fields map[string]interface{}) error
}

// AlertHook forwards records at or above MinLevel to an AlertSender.
// Sends are asynchronous so a slow webhook never stalls the caller.
type AlertHook struct {
	Sender   AlertSender
	MinLevel zerolog.Level
	// Send is the dispatch function; defaults to a goroutine per alert.
	Send func(fn func())
}

// NewAlertHook returns a hook for error-level records and above.
func NewAlertHook(sender AlertSender) *AlertHook {
	return &AlertHook{Sender: sender, MinLevel: zerolog.ErrorLevel}
}

// Run implements zerolog.Hook. Error and fatal records written through a
// Logger carry its With context and call fields along to the sender.
func (h *AlertHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if h.Sender == nil || level < h.MinLevel || level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}
	send := h.Send
	if send == nil {
		send = func(fn func()) { go fn() }
	}
	lvl := levelName(level)
	fields := alertFields(e)
	send(func() {
		_ = h.Sender.SendLogMessage(lvl, msg, fields)
	})
}

func levelName(level zerolog.Level) string {
	switch level {
	case zerolog.FatalLevel:
		return "FATAL"
	case zerolog.PanicLevel:
		return "PANIC"
	case zerolog.ErrorLevel:
		return "ERROR"
	case zerolog.WarnLevel:
		return "WARN"
	default:
		return "INFO"
	}
}
