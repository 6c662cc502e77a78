//go:build linux

package ebpf

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/hooks"
	"github.com/sirupsen/logrus"
)

// Source is the cpu_idle tracepoint hook.
type Source struct {
	cfg    Config
	logger *logrus.Logger

	mu      sync.Mutex
	events  *ebpf.Map
	prog    *ebpf.Program
	tp      link.Link
	reader  *perf.Reader
	wg      sync.WaitGroup
	cleanup []func()
}

// New creates an unattached cpu_idle hook.
func New(cfg Config, logger *logrus.Logger) *Source {
	if cfg.PerCPUPages <= 0 {
		cfg.PerCPUPages = DefaultConfig().PerCPUPages
	}
	return &Source{cfg: cfg, logger: defaultLogger(logger)}
}

// Name returns the source name.
func (s *Source) Name() string {
	return "ebpf"
}

// program emits {state, cpu_id, ktime_ns, jiffies} for every cpu_idle
// event into the perf array m. The tracepoint context holds state at
// offset 8 and cpu_id at offset 12.
func program(m *ebpf.Map) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMem(asm.R7, asm.R6, 8, asm.Word),
		asm.LoadMem(asm.R8, asm.R6, 12, asm.Word),

		asm.FnKtimeGetNs.Call(),
		asm.StoreMem(asm.RFP, -16, asm.R0, asm.DWord),
		asm.FnJiffies64.Call(),
		asm.StoreMem(asm.RFP, -8, asm.R0, asm.DWord),
		asm.StoreMem(asm.RFP, -24, asm.R7, asm.Word),
		asm.StoreMem(asm.RFP, -20, asm.R8, asm.Word),

		asm.Mov.Reg(asm.R1, asm.R6),
		asm.LoadMapPtr(asm.R2, m.FD()),
		asm.LoadImm(asm.R3, 0xffffffff, asm.DWord), // BPF_F_CURRENT_CPU
		asm.Mov.Reg(asm.R4, asm.RFP),
		asm.Add.Imm(asm.R4, -eventSize),
		asm.Mov.Imm(asm.R5, eventSize),
		asm.FnPerfEventOutput.Call(),

		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}
}

// Attach loads the program, attaches it to power:cpu_idle and starts the
// reader goroutine. On any failure everything set up so far is undone in
// reverse order.
func (s *Source) Attach(n hooks.Notifier) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return errors.New("ebpf: already attached")
	}

	defer func() {
		if err != nil {
			s.runCleanup()
		}
	}()

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("failed to remove memlock rlimit: %w", err)
	}

	s.events, err = ebpf.NewMap(&ebpf.MapSpec{
		Name:      "idle_events",
		Type:      ebpf.PerfEventArray,
		KeySize:   4,
		ValueSize: 4,
	})
	if err != nil {
		return fmt.Errorf("failed to create perf event array: %w", err)
	}
	s.cleanup = append(s.cleanup, func() { s.events.Close() })

	s.prog, err = ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "idle_probe",
		Type:         ebpf.TracePoint,
		License:      "GPL",
		Instructions: program(s.events),
	})
	if err != nil {
		return fmt.Errorf("failed to load cpu_idle program: %w", err)
	}
	s.cleanup = append(s.cleanup, func() { s.prog.Close() })

	s.reader, err = perf.NewReader(s.events, os.Getpagesize()*s.cfg.PerCPUPages)
	if err != nil {
		return fmt.Errorf("failed to create perf reader: %w", err)
	}
	s.cleanup = append(s.cleanup, func() { s.reader.Close() })

	s.tp, err = link.Tracepoint("power", "cpu_idle", s.prog, nil)
	if err != nil {
		return fmt.Errorf("failed to attach power:cpu_idle tracepoint: %w", err)
	}
	s.cleanup = append(s.cleanup, func() { s.tp.Close() })

	s.wg.Add(1)
	go s.readLoop(s.reader, n)

	s.logger.WithFields(logrus.Fields{
		"tracepoint": "power:cpu_idle",
		"pages":      s.cfg.PerCPUPages,
		"tick_hz":    s.cfg.TickHz,
	}).Info("eBPF idle hook attached")
	return nil
}

// Detach closes the tracepoint link, the reader, the program and the map,
// then waits for the reader goroutine.
func (s *Source) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return nil
	}
	// Cleanup runs in reverse: the tracepoint goes first so no new events
	// arrive, then the reader, which interrupts the pending Read.
	s.runCleanup()
	s.wg.Wait()

	s.logger.Info("eBPF idle hook detached")
	return nil
}

func (s *Source) runCleanup() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.cleanup = nil
	s.events, s.prog, s.tp, s.reader = nil, nil, nil, nil
}

func (s *Source) readLoop(reader *perf.Reader, n hooks.Notifier) {
	defer s.wg.Done()

	tick := s.cfg.tickPeriod()
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return
			}
			s.logger.WithError(err).Warn("Failed to read cpu_idle record")
			continue
		}

		if record.LostSamples != 0 {
			s.logger.WithFields(logrus.Fields{
				"cpu":  record.CPU,
				"lost": record.LostSamples,
			}).Warn("cpu_idle samples lost")
		}
		err = deliver(n, record.CPU, record.LostSamples, record.RawSample, clock.MonotonicOffset(), tick)
		if err != nil {
			s.logger.WithError(err).Debug("Skipping malformed record")
		}
	}
}
