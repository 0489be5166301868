package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"fieldservice-server/models"
)

// ChangeListener turns pg_notify payloads written by PostgresStore back into
// Changes and hands them to a sink in the order Postgres delivers them.
type ChangeListener struct {
	dsn     string
	channel string
	sink    ChangeSink

	// OnReconnect runs after the connection was re-established. Changes
	// committed while disconnected are not replayed by Postgres.
	OnReconnect func()
}

// NewChangeListener creates a ChangeListener for channel on dsn.
func NewChangeListener(dsn, channel string, sink ChangeSink) *ChangeListener {
	return &ChangeListener{dsn: dsn, channel: channel, sink: sink}
}

// Run listens until ctx is cancelled.
func (l *ChangeListener) Run(ctx context.Context) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("⚠️ Change listener event %d: %v", ev, err)
		}
	}
	listener := pq.NewListener(l.dsn, 10*time.Second, time.Minute, reportProblem)
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return err
	}
	log.Printf("📡 Listening for lifecycle changes on %q", l.channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case n := <-listener.Notify:
			if n == nil {
				log.Println("🔌 Change listener reconnected")
				if l.OnReconnect != nil {
					l.OnReconnect()
				}
				continue
			}
			var ch models.Change
			if err := json.Unmarshal([]byte(n.Extra), &ch); err != nil {
				log.Printf("❌ Malformed change notification: %v", err)
				continue
			}
			l.sink.Publish(ch)

		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("⚠️ Change listener ping failed: %v", err)
				}
			}()
		}
	}
}
