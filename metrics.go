package main

import (
	"context"
	"log"
	"time"

	"mixconsole/server/internal/aes67"
	"mixconsole/server/internal/ws"
)

// RunMetrics logs connection and discovery stats every interval until ctx is
// canceled.
func RunMetrics(ctx context.Context, hub *ws.Hub, backend *aes67.AES67Backend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clients := hub.Count()
			streams := 0
			connected := false
			if backend != nil {
				connected = backend.IsConnected()
				if d := backend.Discovery(); d != nil {
					streams = len(d.Streams())
				}
			}
			if clients > 0 || streams > 0 {
				log.Printf("[metrics] clients=%d aes67_streams=%d aes67_connected=%v",
					clients, streams, connected)
			}
		}
	}
}
