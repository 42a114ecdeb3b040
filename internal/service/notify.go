package service

// Notifier pushes real-time events to connected clients.
// Implemented by the WebSocket hub.
type Notifier interface {
	NotifySettlement(settlementID string, eventType string, data any)
	NotifyPlayer(playerID string, eventType string, data any)
}

// NoopNotifier is a no-op implementation for testing or when WS is disabled.
type NoopNotifier struct{}

func (NoopNotifier) NotifySettlement(string, string, any) {}
func (NoopNotifier) NotifyPlayer(string, string, any)    {}
