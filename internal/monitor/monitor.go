package monitor

import (
	"context"
	"log"
	"time"

	"bookbridge/internal/events"
)

// Monitor watches bus events and keeps the metrics counters current. It also
// surfaces push failures through AlertFn so operators see them without
// tailing the trade table.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	AlertFn func(string)
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		log.Println("[monitor] not fully configured; skipping")
		return
	}
	m.watch(ctx, events.EventQuoteTick, func(any) {
		m.Metrics.IncrementQuoteUpdates()
	})
	m.watch(ctx, events.EventTradePushed, func(any) {
		m.Metrics.IncrementTradesPushed()
	})
	m.watch(ctx, events.EventTradePushFailed, func(msg any) {
		m.Metrics.IncrementPushFailures()
		m.alert(formatPushAlert("push failed", msg))
	})
	m.watch(ctx, events.EventTradeCloseFailed, func(msg any) {
		m.Metrics.IncrementPushFailures()
		m.alert(formatPushAlert("close failed", msg))
	})
}

func (m *Monitor) watch(ctx context.Context, event events.Event, handle func(any)) {
	stream, unsub := m.Bus.Subscribe(event, 256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				handle(msg)
			}
		}
	}()
}

func (m *Monitor) alert(text string) {
	if m.AlertFn != nil {
		m.AlertFn(text)
		return
	}
	log.Printf("[monitor] %s", text)
}

func formatPushAlert(kind string, msg any) string {
	prefix := "[" + time.Now().Format(time.RFC3339) + "] " + kind
	if result, ok := msg.(events.PushResult); ok {
		return prefix + ": trade " + result.TradeID + ": " + result.Error
	}
	return prefix
}
