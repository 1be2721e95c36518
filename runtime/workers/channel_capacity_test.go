package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type sample struct {
	name             string
	length, capacity int
}

func TestChannelCapacityWorker_Sample(t *testing.T) {
	req := require.New(t)
	events := make(chan int, 4)
	events <- 1
	events <- 2
	var samples []sample
	worker := NewChannelCapacityWorker(logs.GetLoggerFromLevel(slog.LevelDebug),
		[]NamedChannel{{Name: "events", Channel: events}, {Name: "broken", Channel: 42}},
		func(name string, length, capacity int) { samples = append(samples, sample{name, length, capacity}) },
		time.Minute)

	// When
	worker.Sample()

	// Then only real channels are reported
	req.Equal([]sample{{"events", 2, 4}}, samples)
}

func TestChannelCapacityWorker_Run_Stops_With_Context(t *testing.T) {
	req := require.New(t)
	samples := make(chan sample, 16)
	inbox := make(chan func(), 2)
	worker := NewChannelCapacityWorker(logs.GetLoggerFromLevel(slog.LevelDebug),
		[]NamedChannel{{Name: "inbox", Channel: inbox}},
		func(name string, length, capacity int) {
			select {
			case samples <- sample{name, length, capacity}:
			default:
			}
		},
		5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- worker.Run(ctx) }()
	got := <-samples
	cancel()

	req.Equal(sample{"inbox", 0, 2}, got)
	req.NoError(<-done)
}
