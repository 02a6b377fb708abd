package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ListenAndSignal holds a dedicated connection on LISTEN channel and pulses
// signalCh (non-blocking) for every notification. It reconnects on any
// failure and only returns when ctx is done. Callers still poll on a timer;
// the signal is a latency optimization, not a delivery guarantee.
func ListenAndSignal(ctx context.Context, dsn, channel string, signalCh chan<- struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect for LISTEN", "channel", channel, "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		c, err := conn.Acquire(ctx)
		if err != nil {
			slog.Error("failed to acquire connection for LISTEN", "channel", channel, "error", err)
			conn.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		_, err = c.Exec(ctx, "LISTEN "+channel)
		if err != nil {
			slog.Error("failed to LISTEN", "channel", channel, "error", err)
			c.Release()
			conn.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		slog.Info("Listening for notifications", "channel", channel)

		for {
			if ctx.Err() != nil {
				c.Release()
				conn.Close()
				return
			}

			_, err := c.Conn().WaitForNotification(ctx)
			if err != nil {
				slog.Error("wait for notification failed", "channel", channel, "error", err)
				c.Release()
				conn.Close()
				break
			}

			select {
			case signalCh <- struct{}{}:
			default:
			}
		}
	}
}
