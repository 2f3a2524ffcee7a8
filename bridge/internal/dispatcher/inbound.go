package dispatcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/sketchbridge/bridge/internal/sink"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// receive is the transport handler. It runs on the transport's goroutine:
// it only decodes and classifies, then hands the message to the owner loop.
func (d *Dispatcher) receive(raw string) bool {
	env, err := message.Decode(raw)
	if err != nil {
		d.dropped.Add(1)
		d.logger.Warn("dispatcher: dropped malformed envelope", "error", err)
		return false
	}
	msg, err := message.ParseInbound(env)
	if err != nil {
		d.dropped.Add(1)
		d.logger.Warn("dispatcher: dropped inbound message", "type", env.Type, "error", err)
		return false
	}
	return d.post(func() { d.handle(msg) })
}

// handle classifies one inbound message. Owner loop only.
func (d *Dispatcher) handle(msg message.Inbound) {
	if d.state == Disposed {
		return
	}
	switch m := msg.(type) {
	case message.Ready:
		d.logger.Info("dispatcher: runtime reported ready", "state", d.state)
	case message.ContinuousUpdate:
		d.onContinuousUpdate(m.Scene)
	case message.JSONContent:
		d.onContent(m, message.MimeJSON)
	case message.SVGContent:
		d.onContent(m, message.MimeSVG)
	case message.BinaryImageContent:
		d.onBinaryContent(m)
	case message.RuntimeError:
		d.logger.Warn("dispatcher: runtime error", "message", m.ErrorMessage)
		d.notify(m.ErrorMessage)
	default:
		d.logger.Warn("dispatcher: unhandled inbound type", "type", msg.Type())
	}
}

func (d *Dispatcher) onContinuousUpdate(sc message.Scene) {
	if d.state != Ready {
		d.logger.Debug("dispatcher: continuous-update before scene load, dropped", "state", d.state)
		return
	}
	v, changed := d.tracker.Observe(sc.Elements)
	if !changed {
		d.logger.Debug("dispatcher: unchanged snapshot dropped", "version", v)
		return
	}
	d.latest = sc
	d.hasData = true
	d.sched.Schedule(keyPersist, sc, d.cfg.PersistDelay)
}

// onContent resolves a textual response, or forwards it as an export when
// it carries no correlation id.
func (d *Dispatcher) onContent(m message.Correlated, mime string) {
	id := m.Correlation()
	if id == "" {
		d.saveExport(mime, []byte(m.Content()), "")
		return
	}
	if err := d.reg.Complete(id, []byte(m.Content()), nil); err != nil {
		d.mismatched.Add(1)
	}
}

// onBinaryContent decodes the base64 payload on a worker and resolves the
// request once the bytes are back on the owner loop.
func (d *Dispatcher) onBinaryContent(m message.BinaryImageContent) {
	id := m.CorrelationID
	if id != "" && !d.reg.Pending(id) {
		d.reg.Complete(id, nil, nil)
		d.mismatched.Add(1)
		return
	}
	payload := m.Base64Payload
	d.workers.submit(func(context.Context) {
		data, err := message.DecodeBase64Payload(payload)
		d.post(func() {
			if id == "" {
				if err != nil {
					d.logger.Warn("dispatcher: uncorrelated image dropped", "error", err)
					return
				}
				d.saveExport(imageMime(payload, data), data, "")
				return
			}
			if cerr := d.reg.Complete(id, data, err); cerr != nil {
				d.mismatched.Add(1)
			}
		})
	})
}

// saveExport hands an export to the persister on the persistence worker.
func (d *Dispatcher) saveExport(mime string, data []byte, correlationID string) {
	exp := sink.Export{
		Format:        message.FormatOf(mime),
		MimeType:      mime,
		CorrelationID: correlationID,
		Data:          data,
		CreatedAt:     time.Now(),
	}
	p := d.cfg.Persister
	d.persist.submit(func(ctx context.Context) {
		if err := p.PersistExport(ctx, exp); err != nil {
			d.logger.Warn("dispatcher: persist export failed", "format", exp.Format, "error", err)
		}
	})
}

// imageMime prefers the data URL header, then sniffs the bytes.
func imageMime(payload string, data []byte) string {
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		if mime, _, found := strings.Cut(rest, ";"); found && mime != "" {
			return mime
		}
	}
	return http.DetectContentType(data)
}
