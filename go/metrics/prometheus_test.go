package metrics

import (
	"net"
	"testing"
	"time"
)

func TestDisabledRegistryObserveIsNoop(t *testing.T) {
	r := New(Config{Enabled: false})
	r.ObservePoolResolution("primary", false)
	r.ObserveLockAcquire(true, time.Millisecond)
	r.ObserveSchemaUpgrade("2.1.0", false)
	r.ObserveCommand("create_cluster", true)
	if r.Prometheus() != nil {
		t.Fatal("disabled registry must not expose a Prometheus registry")
	}
}

func TestEnabledRegistryCountsCommandOutcomes(t *testing.T) {
	r := New(Config{Enabled: true, Namespace: "adminapi", Subsystem: "test"})
	if r.Prometheus() == nil {
		t.Fatal("enabled registry must expose a Prometheus registry")
	}

	r.ObserveCommand("add_instance", true)
	r.ObserveCommand("add_instance", false)

	families, err := r.Prometheus().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := 0.0
	for _, mf := range families {
		if mf.GetName() == "adminapi_test_command_failures_total" {
			for _, m := range mf.GetMetric() {
				got += m.GetCounter().GetValue()
			}
		}
	}
	if got != 1 {
		t.Fatalf("expected 1 command failure recorded, got %v", got)
	}
}

func TestStartGraphiteReturnsWithoutBlocking(t *testing.T) {
	r := New(Config{Enabled: true})
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}

	done := make(chan struct{})
	go func() {
		r.StartGraphite(addr, "adminapi.test", time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartGraphite did not return immediately")
	}
}

func TestTickerObservesMirroredCounters(t *testing.T) {
	r := New(Config{Enabled: true})
	r.ObserveCommand("rescan", true)

	seen := make(chan int64, 1)
	r.StartTicker(5*time.Millisecond, func(name string, count int64) {
		if name == "command.rescan.attempt" {
			select {
			case seen <- count:
			default:
			}
		}
	})
	defer r.Stop()

	select {
	case count := <-seen:
		if count != 1 {
			t.Fatalf("expected mirrored counter at 1, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("ticker never observed the mirrored counter")
	}
}
