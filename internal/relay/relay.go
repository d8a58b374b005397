// Package relay drives the bidirectional byte pump between a client-facing
// stream (internal/wsstream.Adaptor) and a dialed TCP target, under the
// iteration/CPU/wall-clock budgets spec.md §4.3 and §5 require so a single
// session cannot monopolize the process. Grounded on
// original_source/src/proxy/conn.rs's handle_tcp_outbound (the
// read-race/forward/drain-on-EOF loop) and on the teacher's pump goroutine
// pattern in internal/proxy/pumps.go (one goroutine per direction, errors
// funneled through a channel).
package relay

import (
	"context"
	"runtime"
	"time"

	"github.com/hoshiyomiX/Beacon/internal/config"
	"github.com/hoshiyomiX/Beacon/internal/metrics"
)

// Side is one end of the relay. ReadChunk must return (0, nil) on a clean
// peer-initiated close (EOF), matching spec.md §4.3's "0 bytes read -> EOF".
type Side interface {
	ReadChunk(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, p []byte) error
	CloseWrite(ctx context.Context) error
}

// Stats summarizes one relay run, surfaced for logging/tests.
type Stats struct {
	ClientToTarget int64
	TargetToClient int64
	Iterations     int
	BudgetHit      string // "", "iterations", "wall_clock", "cpu"
}

// result carries one side's read result back to the pump loop.
type result struct {
	side string // "client" or "target"
	n    int
	err  error
}

// Run pumps bytes in both directions until both sides have reached EOF,
// an unrecoverable error occurs, or a budget is exhausted. Exhausting the
// iteration or wall-clock budget is not an error: the relay stops and
// reports the hit budget in Stats, per spec.md §4.3's "terminate
// gracefully, not as an error."
func Run(ctx context.Context, client, target Side, lim config.Limits) (Stats, error) {
	stats := Stats{}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, lim.RelayTimeout)
	defer cancel()

	clientBuf := make([]byte, lim.CopyBuf)
	targetBuf := make([]byte, lim.CopyBuf)

	clientDone := false
	targetDone := false
	idleIters := 0

	// cpuDeadline tracks the wall-clock slice since the last yield to the
	// runtime, per spec.md §4.3's CPU-time tracker. cpuHardCeiling is the
	// "separate hard ceiling" that forces termination if yielding never
	// lets the loop catch up (e.g. the scheduler itself is starved).
	cpuDeadline := time.Now().Add(lim.CPUBudget)
	cpuHardCeiling := lim.CPUBudget * 4

	for !clientDone || !targetDone {
		stats.Iterations++
		metrics.RelayIterationsTotal.Inc()

		if stats.Iterations > lim.MaxIters && idleIters >= lim.IdleBreak {
			stats.BudgetHit = "iterations"
			metrics.RelayBudgetExceededTotal.WithLabelValues("iterations").Inc()
			break
		}
		if time.Since(start) > lim.RelayTimeout {
			stats.BudgetHit = "wall_clock"
			metrics.RelayBudgetExceededTotal.WithLabelValues("wall_clock").Inc()
			break
		}
		if ctx.Err() != nil {
			stats.BudgetHit = "wall_clock"
			break
		}

		now := time.Now()
		if lim.CPUBudget > 0 && now.After(cpuDeadline) {
			if now.Sub(cpuDeadline) > cpuHardCeiling {
				stats.BudgetHit = "cpu"
				metrics.RelayBudgetExceededTotal.WithLabelValues("cpu").Inc()
				break
			}
			runtime.Gosched()
			metrics.RelayYieldsTotal.Inc()
			cpuDeadline = time.Now().Add(lim.CPUBudget)
		}

		results := make(chan result, 2)
		pending := 0

		if !clientDone {
			pending++
			go func() {
				n, err := client.ReadChunk(ctx, clientBuf)
				results <- result{side: "client", n: n, err: err}
			}()
		}
		if !targetDone {
			pending++
			go func() {
				n, err := target.ReadChunk(ctx, targetBuf)
				results <- result{side: "target", n: n, err: err}
			}()
		}

		sawData := false
		for i := 0; i < pending; i++ {
			r := <-results
			if r.err != nil {
				return stats, r.err
			}
			switch r.side {
			case "client":
				if r.n == 0 {
					clientDone = true
					_ = target.CloseWrite(ctx)
					continue
				}
				sawData = true
				if err := target.Write(ctx, clientBuf[:r.n]); err != nil {
					return stats, err
				}
				stats.ClientToTarget += int64(r.n)
				metrics.BytesTotal.WithLabelValues("ws_to_target").Add(float64(r.n))
			case "target":
				if r.n == 0 {
					targetDone = true
					_ = client.CloseWrite(ctx)
					continue
				}
				sawData = true
				if err := client.Write(ctx, targetBuf[:r.n]); err != nil {
					return stats, err
				}
				stats.TargetToClient += int64(r.n)
			}
		}

		if sawData {
			idleIters = 0
		} else {
			idleIters++
			if idleIters >= lim.IdleBreak {
				break
			}
		}

		if lim.YieldEvery > 0 && stats.Iterations%lim.YieldEvery == 0 {
			runtime.Gosched()
			metrics.RelayYieldsTotal.Inc()
			cpuDeadline = time.Now().Add(lim.CPUBudget)
		}
	}

	return stats, nil
}
