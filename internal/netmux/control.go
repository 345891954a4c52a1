package netmux

import (
	"context"
	"time"
)

// ServiceControl is the cheap-to-copy, concurrency-safe handle user code
// and protocol handlers use to drive a Service (§3, §4.5). It never
// exposes a *Session or *Substream directly.
type ServiceControl struct {
	svc *Service
}

// Listen begins accepting on addr under the owning Service.
func (c ServiceControl) Listen(ctx context.Context, addr Multiaddr) error {
	return c.svc.startListener(ctx, addr)
}

// Dial resolves (if needed), connects, handshakes, and attaches a
// Session to addr, then opens every protocol matched by target.
func (c ServiceControl) Dial(ctx context.Context, addr Multiaddr, target TargetProtocol) error {
	return c.svc.dial(ctx, addr, target)
}

// Disconnect initiates teardown of the session identified by sid.
func (c ServiceControl) Disconnect(sid SessionID) error {
	entry, err := c.lookup(sid)
	if err != nil {
		return err
	}
	return sendNonBlocking(entry.cmdCh, DisconnectCommand{})
}

// SendMessageTo enqueues a Normal-priority data frame for pid on sid.
func (c ServiceControl) SendMessageTo(sid SessionID, pid ProtocolID, data []byte) error {
	return c.sendMessage(sid, pid, data, Normal)
}

// QuickSendMessageTo enqueues a High-priority data frame for pid on sid.
func (c ServiceControl) QuickSendMessageTo(sid SessionID, pid ProtocolID, data []byte) error {
	return c.sendMessage(sid, pid, data, High)
}

func (c ServiceControl) sendMessage(sid SessionID, pid ProtocolID, data []byte, pr Priority) error {
	entry, err := c.lookup(sid)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	cmd := MessageCommand{Proto: pid, Data: data, Priority: pr, result: result}
	select {
	case entry.cmdCh <- cmd:
	default:
		return ErrWouldBlock
	}

	select {
	case err := <-result:
		return err
	case <-time.After(sendMessageTimeout):
		return ErrWouldBlock
	}
}

// FilterBroadcast fans SendMessageTo out to every session id in sids,
// returning the first error encountered (§4.5 "filter_broadcast").
func (c ServiceControl) FilterBroadcast(sids []SessionID, pid ProtocolID, data []byte) error {
	var first error
	for _, sid := range sids {
		if err := c.SendMessageTo(sid, pid, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenProtocol opens every protocol matched by target on sid.
func (c ServiceControl) OpenProtocol(sid SessionID, target TargetProtocol) error {
	entry, err := c.lookup(sid)
	if err != nil {
		return err
	}
	return sendNonBlocking(entry.cmdCh, OpenCommand{Target: target})
}

// CloseProtocol closes pid on sid.
func (c ServiceControl) CloseProtocol(sid SessionID, pid ProtocolID) error {
	entry, err := c.lookup(sid)
	if err != nil {
		return err
	}
	return sendNonBlocking(entry.cmdCh, CloseCommand{Proto: pid})
}

// SetSessionNotify registers a periodic notify callback scoped to one
// session's protocol handler.
func (c ServiceControl) SetSessionNotify(sid SessionID, pid ProtocolID, interval time.Duration, token uint64) error {
	entry, err := c.lookup(sid)
	if err != nil {
		return err
	}
	return sendNonBlocking(entry.cmdCh, SetNotifyCommand{Proto: pid, Interval: interval, Token: token})
}

// RemoveSessionNotify cancels a previously registered session-scoped
// notify callback.
func (c ServiceControl) RemoveSessionNotify(sid SessionID, pid ProtocolID, token uint64) error {
	entry, err := c.lookup(sid)
	if err != nil {
		return err
	}
	return sendNonBlocking(entry.cmdCh, RemoveNotifyCommand{Proto: pid, Token: token})
}

// SetServiceNotify registers a periodic notify callback independent of
// any particular session, delivered to pid's ServiceProtocol handler.
func (c ServiceControl) SetServiceNotify(pid ProtocolID, interval time.Duration, token uint64) error {
	key := notifyKey{proto: pid, token: token}
	c.svc.notifyMu.Lock()
	if _, exists := c.svc.notifyStop[key]; exists {
		c.svc.notifyMu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	c.svc.notifyStop[key] = stop
	c.svc.notifyMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		pctx := &ProtocolContext{Proto: pid, control: c}
		for {
			select {
			case <-stop:
				return
			case <-c.svc.gctx.Done():
				return
			case <-ticker.C:
				info, ok := c.svc.cfg.Protocols[pid]
				if ok && info.ServiceHandler != nil {
					info.ServiceHandler.Notify(pctx, token)
				}
			}
		}
	}()
	return nil
}

// RemoveServiceNotify cancels a previously registered service-scoped
// notify callback.
func (c ServiceControl) RemoveServiceNotify(pid ProtocolID, token uint64) error {
	key := notifyKey{proto: pid, token: token}
	c.svc.notifyMu.Lock()
	stop, ok := c.svc.notifyStop[key]
	if ok {
		delete(c.svc.notifyStop, key)
	}
	c.svc.notifyMu.Unlock()
	if ok {
		close(stop)
	}
	return nil
}

// FutureTask spawns fn under the Service's own supervised goroutine
// group, so a panic or error in fn participates in the same shutdown
// semantics as the Service's own actors.
func (c ServiceControl) FutureTask(fn func(ctx context.Context) error) {
	c.svc.g.Go(func() error {
		return fn(c.svc.gctx)
	})
}

// Close performs the orderly multi-step shutdown described in §4.5.
func (c ServiceControl) Close() error {
	c.svc.Close()
	return nil
}

// Shutdown performs the abrupt shutdown described in §4.5; in-flight
// messages may be lost.
func (c ServiceControl) Shutdown() error {
	c.svc.Shutdown()
	return nil
}

func (c ServiceControl) lookup(sid SessionID) (*sessionEntry, error) {
	c.svc.mu.RLock()
	defer c.svc.mu.RUnlock()
	entry, ok := c.svc.sessions[sid]
	if !ok {
		return nil, ErrBrokenPipe
	}
	return entry, nil
}

func sendNonBlocking(ch chan SessionCommand, cmd SessionCommand) error {
	select {
	case ch <- cmd:
		return nil
	default:
		return ErrWouldBlock
	}
}
