package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/sketchbridge/bridge/internal/correlation"
	"github.com/hazyhaar/sketchbridge/bridge/internal/resource"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// Start registers the inbound handler on the transport and moves
// Uninitialized → AwaitingAPI.
func (d *Dispatcher) Start() error {
	return d.call(func() error {
		if d.state != Uninitialized {
			return fmt.Errorf("dispatcher: start in state %s", d.state)
		}
		if err := d.ch.OnReceive(d.receive); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}
		d.bridge.BridgeReady = true
		d.state = AwaitingAPI
		d.logger.Debug("dispatcher: started")
		return nil
	})
}

// AttachAPI records that the host obtained the runtime API handle:
// AwaitingAPI → AwaitingData.
func (d *Dispatcher) AttachAPI() error {
	return d.call(func() error {
		switch d.state {
		case AwaitingAPI:
			d.bridge.APIReady = true
			d.state = AwaitingData
			d.logger.Debug("dispatcher: runtime API attached")
			return nil
		case Disposed:
			return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
		case Uninitialized:
			return fmt.Errorf("dispatcher: attach before start")
		}
		return nil
	})
}

// LoadScene sends the initial update carrying sc, seeds the version tracker
// and moves AwaitingData → Ready. In Ready it replaces the scene outright.
func (d *Dispatcher) LoadScene(sc message.Scene) error {
	return d.call(func() error { return d.loadScene(sc) })
}

func (d *Dispatcher) loadScene(sc message.Scene) error {
	if err := d.requireAPI(); err != nil {
		return err
	}
	if sc.Elements == nil {
		sc.Elements = []message.Element{}
	}
	if err := d.send(message.Update{Elements: sc.Elements, AppState: sc.AppState, Files: sc.Files}); err != nil {
		return err
	}
	d.sched.Cancel(keyUpdate)
	v := d.tracker.Seed(sc.Elements)
	d.latest = sc
	d.hasData = true
	if d.state != Ready {
		d.bridge.DataReady = true
		d.state = Ready
		d.logger.Info("dispatcher: scene loaded", "elements", len(sc.Elements), "version", v)
	}
	return nil
}

// Hydrate fetches resourceID through the resource collaborator on a worker,
// parses it as a scene file and loads it. The returned channel yields one
// value: nil once the scene was sent, or the failure. Failures wrap
// ErrExternalResource and are also reported to the notifier.
func (d *Dispatcher) Hydrate(ctx context.Context, resourceID string) <-chan error {
	res := make(chan error, 1)
	err := d.call(func() error {
		if err := d.requireAPI(); err != nil {
			return err
		}
		if d.cfg.Fetcher == nil {
			return d.resourceFailure(resourceID, errors.New("no resource fetcher configured"))
		}
		f := d.cfg.Fetcher
		ok := d.workers.submit(func(wctx context.Context) {
			data, err := f.Fetch(mergeCancel(ctx, wctx), resourceID)
			var sc message.Scene
			if err == nil {
				sc, err = resource.ParseScene(data)
			}
			ran := make(chan struct{})
			posted := d.post(func() {
				out := fmt.Errorf("%w: hydrate aborted", ErrTransportUnavailable)
				defer func() {
					res <- out
					close(ran)
				}()
				if err != nil {
					out = d.resourceFailure(resourceID, err)
					return
				}
				out = d.loadScene(sc)
			})
			if !posted {
				res <- fmt.Errorf("%w: disposed", ErrTransportUnavailable)
				return
			}
			// A Dispose queued ahead of the result stops the loop before
			// the result runs.
			select {
			case <-ran:
			case <-d.stopped:
				select {
				case <-ran:
				default:
					res <- fmt.Errorf("%w: disposed", ErrTransportUnavailable)
				}
			}
		})
		if !ok {
			return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
		}
		return nil
	})
	if err != nil {
		res <- err
	}
	return res
}

// resourceFailure reports a hydrate failure to the notifier and returns it
// wrapped. Owner loop only.
func (d *Dispatcher) resourceFailure(id string, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrExternalResource, id, cause)
	d.logger.Warn("dispatcher: resource load failed", "resource", id, "error", cause)
	d.notify(fmt.Sprintf("Failed to load %s: %v", id, cause))
	return err
}

// Update schedules a debounced update with elements. Snapshots whose
// version matches the last seen one are dropped.
func (d *Dispatcher) Update(elements []message.Element) error {
	return d.call(func() error {
		if err := d.requireReady(); err != nil {
			return err
		}
		v, changed := d.tracker.Observe(elements)
		if !changed {
			d.logger.Debug("dispatcher: update unchanged, dropped", "version", v)
			return nil
		}
		d.latest.Elements = elements
		d.sched.Schedule(keyUpdate, elements, d.cfg.UpdateDelay)
		return nil
	})
}

// SetReadOnly toggles view mode and echoes it to the runtime.
func (d *Dispatcher) SetReadOnly(readOnly bool) error {
	return d.call(func() error {
		if err := d.requireReady(); err != nil {
			return err
		}
		d.pres.ReadOnly = readOnly
		return d.send(message.ToggleReadOnly{ReadOnly: readOnly})
	})
}

// SetTheme switches the runtime theme.
func (d *Dispatcher) SetTheme(theme string) error {
	if theme != message.ThemeLight && theme != message.ThemeDark {
		return fmt.Errorf("%w: theme %q", ErrInvalidArgument, theme)
	}
	return d.call(func() error {
		if err := d.requireReady(); err != nil {
			return err
		}
		d.pres.Theme = theme
		return d.send(message.ThemeChange{Theme: theme})
	})
}

// SetSceneModes sets grid and/or zen mode. A nil pointer leaves that mode
// untouched.
func (d *Dispatcher) SetSceneModes(grid, zen *bool) error {
	if grid == nil && zen == nil {
		return fmt.Errorf("%w: no scene mode given", ErrInvalidArgument)
	}
	return d.call(func() error {
		if err := d.requireReady(); err != nil {
			return err
		}
		if grid != nil {
			d.pres.GridMode = *grid
		}
		if zen != nil {
			d.pres.ZenMode = *zen
		}
		return d.send(message.ToggleSceneModes{GridMode: grid, ZenMode: zen})
	})
}

// SaveAsJSON asks the runtime for the scene JSON.
func (d *Dispatcher) SaveAsJSON() (*correlation.Future, error) {
	return d.roundTrip(func(id string) message.Outbound {
		return message.SaveAsJSON{CorrelationID: id}
	})
}

// SaveAsSVG asks the runtime for an SVG export.
func (d *Dispatcher) SaveAsSVG(cfg message.ExportConfig) (*correlation.Future, error) {
	return d.roundTrip(func(id string) message.Outbound {
		return message.SaveAsSVG{ExportConfig: cfg, CorrelationID: id}
	})
}

// SaveAsBinaryImage asks the runtime for a raster export. The future
// resolves with the decoded image bytes.
func (d *Dispatcher) SaveAsBinaryImage(cfg message.ExportConfig, mimeType string) (*correlation.Future, error) {
	switch mimeType {
	case message.MimePNG, message.MimeJPEG, message.MimeWebP:
	default:
		return nil, fmt.Errorf("%w: image mime type %q", ErrInvalidArgument, mimeType)
	}
	return d.roundTrip(func(id string) message.Outbound {
		return message.SaveAsBinaryImage{ExportConfig: cfg, MimeType: mimeType, CorrelationID: id}
	})
}

func (d *Dispatcher) roundTrip(build func(id string) message.Outbound) (*correlation.Future, error) {
	var fut *correlation.Future
	err := d.call(func() error {
		if err := d.requireReady(); err != nil {
			return err
		}
		f, err := d.reg.Register()
		if err != nil {
			return err
		}
		if err := d.send(build(f.ID())); err != nil {
			d.reg.Complete(f.ID(), nil, err)
			return err
		}
		fut = f
		return nil
	})
	return fut, err
}

// RequestSave asks the runtime for the scene JSON without a correlation
// id; the reply goes to the persister as an export.
func (d *Dispatcher) RequestSave() error {
	return d.call(func() error {
		if err := d.requireReady(); err != nil {
			return err
		}
		return d.send(message.SaveAsJSON{})
	})
}

// Flush delivers pending debounced work now: a waiting update is sent and
// a waiting snapshot is handed to the persister.
func (d *Dispatcher) Flush() error {
	return d.call(func() error {
		if d.state == Disposed {
			return fmt.Errorf("%w: disposed", ErrTransportUnavailable)
		}
		if n := d.sched.Flush(); n > 0 {
			d.logger.Debug("dispatcher: flushed debounced work", "count", n)
		}
		return nil
	})
}

// Dispose tears the dispatcher down with ErrDisposed as the reason.
func (d *Dispatcher) Dispose() error {
	return d.DisposeWithReason(ErrDisposed)
}

// DisposeWithReason cancels every debounce timer, cancels every pending
// request with an error wrapping correlation.ErrCancelled and reason, closes
// the transport and moves to Disposed. It is idempotent.
func (d *Dispatcher) DisposeWithReason(reason error) error {
	err := d.call(func() error {
		d.sched.Close()
		n := d.reg.CancelAll(reason)
		if err := d.ch.Close(); err != nil {
			d.logger.Debug("dispatcher: close transport", "error", err)
		}
		d.workers.close()
		d.persist.close()
		d.bridge = BridgeState{}
		d.state = Disposed
		d.logger.Info("dispatcher: disposed", "cancelled", n, "reason", reason)
		return nil
	})
	<-d.stopped
	if errors.Is(err, ErrTransportUnavailable) {
		return nil
	}
	return err
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	var s State = Disposed
	d.call(func() error {
		s = d.state
		return nil
	})
	return s
}

// Status returns a snapshot of the dispatcher's state.
func (d *Dispatcher) Status() Status {
	st := Status{State: Disposed}
	d.call(func() error {
		st = Status{
			State:        d.state,
			Bridge:       d.bridge,
			Presentation: d.pres,
			Pending:      d.reg.Len(),
			Debouncing:   d.sched.Len(),
		}
		if v, ok := d.tracker.Current(); ok {
			st.Version = string(v)
		}
		return nil
	})
	st.Dropped = d.dropped.Load()
	st.Mismatched = d.mismatched.Load()
	return st
}

// Snapshot returns the latest scene known to the dispatcher: the loaded
// scene, updated by host updates and changed continuous-updates.
func (d *Dispatcher) Snapshot() (message.Scene, bool) {
	var sc message.Scene
	var ok bool
	d.call(func() error {
		sc, ok = d.latest, d.hasData
		return nil
	})
	return sc, ok
}

// mergeCancel returns a context that ends when either parent ends.
func mergeCancel(a, b context.Context) context.Context {
	ctx, cancel := context.WithCancel(b)
	stop := context.AfterFunc(a, cancel)
	context.AfterFunc(ctx, func() { stop() })
	return ctx
}
