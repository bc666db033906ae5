package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gainstage/rplugin/pkg/codec"
	"github.com/gainstage/rplugin/pkg/pluginapi"
	"github.com/gainstage/rplugin/pkg/protocol"
	"github.com/gainstage/rplugin/pkg/semaphore"
)

// DispatchProcess waits up to timeout on the runServer semaphore; on
// success it drains every message queued on the ring in order, applying
// parameter/program/MIDI updates to the plugin before the Process
// opcode that follows them, then posts runClient (§4.5). Drain order
// within one epoch is exactly the order the client wrote it.
func (s *Server) DispatchProcess(timeout time.Duration) pluginapi.Result {
	if s.IsExiting() {
		return pluginapi.Processed()
	}
	atomic.StoreInt32(&s.liveness, 1)

	if err := s.transport.RunServer.Wait(timeout); err != nil {
		if errors.Is(err, semaphore.ErrTimeout) {
			// No block arrived this tick; not an error, just idle.
			return pluginapi.Processed()
		}
		s.markExiting()
		if s.metrics != nil {
			s.metrics.ConnectionLost.Inc()
		}
		return pluginapi.Rejected(fmt.Errorf("server: runServer wait: %w", err))
	}

	r := s.transport.Ring
	var result pluginapi.Result
	for r.Readable() > 0 {
		raw, err := r.ReadOpcode()
		if err != nil {
			result = pluginapi.Rejected(fmt.Errorf("server: ring read lost: %w", err))
			s.markExiting()
			if s.metrics != nil {
				s.metrics.ConnectionLost.Inc()
			}
			break
		}
		op := protocol.Opcode(raw)
		if !protocol.LegalOnRing(op) {
			s.log.Warnf("server: opcode %s is not legal on the ring, connection is no longer trustworthy", op)
			result = pluginapi.Rejected(fmt.Errorf("%w: opcode %s on ring", ErrProtocolViolation, op))
			s.markExiting()
			break
		}
		if op == protocol.OpProcess {
			result = s.runProcessEpoch()
			continue
		}
		if err := s.applyRingOpcode(op); err != nil {
			s.log.Warnf("server: applying %s: %v", op, err)
		}
	}

	if err := s.transport.RunClient.Post(); err != nil {
		s.markExiting()
		return pluginapi.Rejected(fmt.Errorf("server: posting runClient: %w", err))
	}
	if s.metrics != nil {
		s.metrics.Epochs.Inc()
		s.metrics.RingReadableBytes.Set(float64(r.Readable()))
	}
	return result
}

// applyRingOpcode handles every Realtime opcode except Process, which
// runProcessEpoch owns (it needs the audio region, not just the ring).
func (s *Server) applyRingOpcode(op protocol.Opcode) error {
	r := s.transport.Ring
	switch op {
	case protocol.OpSetParameter:
		index, value, err := protocol.ReadSetParameter(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		if err := s.params.Set(index, value); err != nil {
			return nil // unknown index: the update is dropped without being logged
		}
		if err := withPluginLockedErr(s, func() error { return s.plugin.SetParameter(index, value) }); err != nil {
			s.logRejection("SetParameter", err)
		}
		return nil

	case protocol.OpSetCurrentProgram:
		index, err := protocol.ReadSetCurrentProgram(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		if err := withPluginLockedErr(s, func() error { return s.plugin.SetCurrentProgram(index) }); err != nil {
			s.logRejection("SetCurrentProgram", err)
			return nil
		}
		s.currentProgram = index
		return nil

	case protocol.OpSendMIDIData:
		events, err := protocol.ReadSendMIDIData(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		if err := withPluginLockedErr(s, func() error { return s.plugin.SendMIDI(events) }); err != nil {
			s.logRejection("SendMIDI", err)
		}
		return nil

	case protocol.OpSetBufferSize:
		value, err := protocol.ReadIntValue(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		s.setBlockSize(value)
		return nil

	case protocol.OpSetSampleRate:
		value, err := protocol.ReadIntValue(r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
		s.setSampleRate(value)
		return nil

	case protocol.OpReset:
		if err := withPluginLockedErr(s, s.plugin.Reset); err != nil {
			s.logRejection("Reset", err)
		}
		s.params.ResetToDefaults()
		return nil

	case protocol.OpTerminate:
		s.markExiting()
		return nil

	default:
		return fmt.Errorf("%w: opcode %s has no ring handler", ErrProtocolViolation, op)
	}
}

func (s *Server) setBlockSize(b int32) {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	if s.blockSize != b {
		s.blockSize = b
		s.audioMapped = false
	}
}

func (s *Server) setSampleRate(sr int32) {
	s.sizeMu.Lock()
	defer s.sizeMu.Unlock()
	s.sampleRate = sr
}

// runProcessEpoch maps the audio region if needed, invokes the plugin,
// and reports the outcome (§4.5 "Lazy sizing").
func (s *Server) runProcessEpoch() pluginapi.Result {
	s.sizeMu.Lock()
	blockSize, inputCount, outputCount, sampleRate := s.blockSize, s.inputCount, s.outputCount, s.sampleRate
	mapped := s.audioMapped
	s.sizeMu.Unlock()

	if blockSize < 0 || inputCount < 0 || outputCount < 0 {
		s.log.Warn("server: Process received before buffer size/channel counts known, skipping")
		return pluginapi.SkippedUnsized()
	}

	if !mapped {
		required := int(inputCount+outputCount) * int(blockSize) * 4
		if s.transport.Audio.Size() < required {
			if err := s.transport.Audio.Grow(required); err != nil {
				return pluginapi.Rejected(fmt.Errorf("server: remapping audio region: %w", err))
			}
		}
		if err := s.ensureActivated(sampleRate, blockSize); err != nil {
			return pluginapi.Rejected(err)
		}
		s.sizeMu.Lock()
		s.audioMapped = true
		s.sizeMu.Unlock()
	}

	region := s.transport.Audio.Bytes()
	blockBytes := int(blockSize) * 4

	in := make([][]float32, inputCount)
	for i := range in {
		buf := make([]float32, blockSize)
		src := region[i*blockBytes : (i+1)*blockBytes]
		for smp := range buf {
			buf[smp] = codec.Float32(src[smp*4:])
		}
		in[i] = buf
	}
	out := make([][]float32, outputCount)
	for i := range out {
		out[i] = make([]float32, blockSize)
	}

	if !s.pluginMu.TryLock() {
		// Audio never waits on control (§5): zero the output and move on.
		for _, ch := range out {
			for i := range ch {
				ch[i] = 0
			}
		}
		s.writeOutputs(region, out, int(inputCount), blockBytes)
		return pluginapi.Processed()
	}
	err := s.plugin.Process(s.processCtx, in, out)
	s.pluginMu.Unlock()
	if err != nil {
		s.logRejection("Process", err)
		return pluginapi.Rejected(err)
	}

	s.writeOutputs(region, out, int(inputCount), blockBytes)
	return pluginapi.Processed()
}

func (s *Server) writeOutputs(region []byte, out [][]float32, inputCount, blockBytes int) {
	base := inputCount * blockBytes
	for i, ch := range out {
		dst := region[base+i*blockBytes : base+(i+1)*blockBytes]
		for smp, v := range ch {
			codec.PutFloat32(dst[smp*4:], v)
		}
	}
}

func (s *Server) ensureActivated(sampleRate, blockSize int32) error {
	sr := float64(44100)
	if sampleRate > 0 {
		sr = float64(sampleRate)
	}
	return s.plugin.Activate(sr, int(blockSize))
}

// Watchdog runs until ctx is cancelled, waking every tunables.WatchdogPeriod
// to check DispatchProcess's liveness flag. WatchdogThreshold consecutive
// missed ticks raises the exit flag and cancels processCtx, so a plugin
// that honors context cancellation in Process unwinds promptly (§4.5).
// Go has no thread-targeted termination primitive, so a Process call that
// ignores its context still wedges the goroutine running DispatchProcess;
// exitFunc (os.Exit in production, overridden to a no-op in tests) is the
// only remaining way to make good on §8's "watchdog terminates the audio
// thread" property, mirroring the original dssi-vst-server.cpp's
// TerminateThread() hard-kill with the nearest equivalent Go allows.
func (s *Server) Watchdog(ctx context.Context) {
	missed := 0
	ticker := time.NewTicker(s.tunables.WatchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.SwapInt32(&s.liveness, 0) != 0 {
				missed = 0
				continue
			}
			missed++
			if missed >= s.tunables.WatchdogThreshold {
				s.log.Errorf("server: watchdog tripped after %d missed ticks, forcing shutdown", missed)
				if s.metrics != nil {
					s.metrics.WatchdogTrips.Inc()
				}
				s.markExiting()
				s.processCancel()
				if s.exitFunc != nil {
					s.exitFunc(1)
				}
				return
			}
		}
	}
}
