package dispatch

import "context"

// PushDispatcher prefers a live websocket session and falls back to the
// webhook when the driver is not connected or the send fails.
type PushDispatcher struct {
	WS       *WSRegistry
	Fallback Notifier
}

func NewPushDispatcher(ws *WSRegistry, fallback Notifier) *PushDispatcher {
	return &PushDispatcher{WS: ws, Fallback: fallback}
}

func (p *PushDispatcher) Notify(ctx context.Context, username string, n Notification) error {
	if p.WS != nil {
		err := p.WS.Notify(ctx, username, n)
		if err == nil {
			return nil
		}
		if p.Fallback == nil {
			return err
		}
	} else if p.Fallback == nil {
		return ErrNoSession
	}
	return p.Fallback.Notify(ctx, username, n)
}
