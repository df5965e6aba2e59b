package notify

import "log/slog"

type Kind string

const (
	KindInfo  Kind = "info"
	KindError Kind = "error"
)

// Notifier receives transient, user-facing notices (toasts). Recoverable
// conditions such as stock exhaustion go through here instead of erroring
// the whole operation surface.
type Notifier interface {
	Notify(kind Kind, message string)
}

// LogNotifier writes notices to the structured log. It is the default sink
// when no UI is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(kind Kind, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case KindError:
		logger.Warn("notice", "kind", kind, "msg", message)
	default:
		logger.Info("notice", "kind", kind, "msg", message)
	}
}

// Recorder captures notices for assertions in tests.
type Recorder struct {
	Notices []string
}

func (r *Recorder) Notify(kind Kind, message string) {
	r.Notices = append(r.Notices, string(kind)+": "+message)
}
