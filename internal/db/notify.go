package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"patient-summary-agent/pkg"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  It announces
// freshly generated pages of notes so dashboards on any replica can refresh.
type Notifier struct {
	DB      *sql.DB
	DSN     string
	Channel string
	Logger  zerolog.Logger
}

// NewNotifier constructs a new Notifier.  dsn is used to open the dedicated
// listener connections.
func NewNotifier(db *sql.DB, dsn, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{DB: db, DSN: dsn, Channel: channel, Logger: logger}
}

// Notify publishes ev on the channel as JSON.
func (n *Notifier) Notify(ctx context.Context, ev pkg.PageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, string(payload))
	return err
}

// Listen subscribes to the channel and delivers decoded events until ctx is
// cancelled, at which point the returned channel is closed.
func (n *Notifier) Listen(ctx context.Context) (<-chan pkg.PageEvent, error) {
	listener := pq.NewListener(n.DSN, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.Logger.Warn().Err(err).Int("event", int(ev)).Msg("notify listener event")
		}
	})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return nil, err
	}

	out := make(chan pkg.PageEvent)
	go func() {
		defer func() {
			_ = listener.Close()
			close(out)
		}()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// keeps the connection alive and detects silent drops
				go func() { _ = listener.Ping() }()
			case msg, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil after a reconnect; events sent meanwhile are lost
				if msg == nil {
					continue
				}
				var ev pkg.PageEvent
				if err := json.Unmarshal([]byte(msg.Extra), &ev); err != nil {
					n.Logger.Warn().Err(err).Str("payload", msg.Extra).Msg("dropping malformed page event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
