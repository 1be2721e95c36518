package workers

import (
	"context"
	"log/slog"
	"reflect"
	"time"
)

const saturationRatio = 0.8

type NamedChannel struct {
	Name    string
	Channel any
}

type CapacityObserver func(name string, length, capacity int)

// ChannelCapacityWorker periodically samples the length and capacity of the
// session buffers. Reading len and cap never blocks the owners of the channels.
type ChannelCapacityWorker struct {
	log      *slog.Logger
	channels []NamedChannel
	observe  CapacityObserver
	interval time.Duration
}

func NewChannelCapacityWorker(log *slog.Logger, channels []NamedChannel, observe CapacityObserver, interval time.Duration) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{log: log, channels: channels, observe: observe, interval: interval}
}

func (w *ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample reports every channel once and warns about the ones close to full.
func (w *ChannelCapacityWorker) Sample() {
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		capacity, length := v.Cap(), v.Len()
		if w.observe != nil {
			w.observe(nc.Name, length, capacity)
		}
		if capacity > 0 && float64(length) >= saturationRatio*float64(capacity) {
			w.log.Warn("Session buffer almost full", "channel", nc.Name, "length", length, "capacity", capacity)
		}
	}
}
