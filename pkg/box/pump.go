package box

import (
	"context"
	"io"

	"github.com/strand-protocol/boxlite/pkg/protocol"
)

// runPump drains stdout, decoding and dispatching one frame at a time,
// until the stream ends or ctx is cancelled (by Stop or Wait). ctx is
// checked between frames, so a pump blocked reading stdout returns only
// once the stream ends. It is the only goroutine that ever reads this
// box's stdout.
//
// Nothing here proactively cancels requests in flight when the guest
// dies mid-call except this function's own deferred cleanup: on return
// (for any reason) every still-pending Deliver call is failed with
// KindPeerDown rather than left to time out on its own, so a caller never
// waits out the full deliver timeout for a guest that has visibly already
// exited.
func (b *Box) runPump(ctx context.Context, stdout io.Reader) {
	defer close(b.pumpDone)
	defer b.failAllPending(protocol.NewError(protocol.KindPeerDown, b.name+": guest stream closed"))

	dec := protocol.NewDecoder(stdout)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, ok, err := dec.Next()
		if err != nil {
			return // io.EOF or a fatal read error: guest is gone either way
		}
		if !ok {
			continue // malformed line: dropped silently per the wire protocol
		}

		switch f.Type {
		case protocol.TypeSend:
			b.handleSendFrame(ctx, f)
		case protocol.TypePublish:
			b.router.Broadcast(f.Event, f.Data, b.name)
		case protocol.TypeResponse:
			b.handleResponseFrame(f)
		default:
			// Any other shape (including a bare reply, which never
			// legitimately arrives on a guest's stdout) is ignored.
		}
	}
}

// handleSendFrame resolves one outbound "send" from this box's guest. A
// missing target or a target equal to this box's own name is rejected
// locally as KindUnknownBox without ever reaching the router, matching
// the "self-send is rejected like an unknown peer" invariant.
func (b *Box) handleSendFrame(ctx context.Context, f protocol.Frame) {
	if f.Target == "" || f.Target == b.name {
		b.replyError(f.RequestID, protocol.NewError(protocol.KindUnknownBox, f.Target).Error())
		return
	}
	result, err := b.router.Deliver(ctx, f.Target, b.name, f.Data)
	if err != nil {
		b.replyError(f.RequestID, err.Error())
		return
	}
	b.replyResult(f.RequestID, result)
}

// handleResponseFrame resolves a "response" frame the guest sent back in
// answer to one of this box's own Deliver calls. A response whose
// request_id no longer has a pending slot (already timed out, or simply
// unrecognized) is dropped silently — late responses are tolerated, not
// errors.
func (b *Box) handleResponseFrame(f protocol.Frame) {
	b.mu.Lock()
	ch, ok := b.pending[f.RequestID]
	if ok {
		delete(b.pending, f.RequestID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	var res pendingResult
	if f.Error != "" {
		res.err = protocol.NewError(protocol.KindHandlerFailed, f.Error)
	} else {
		res.result = f.Result
	}
	select {
	case ch <- res:
	default:
	}
}

func (b *Box) replyResult(requestID string, result []byte) {
	b.mu.Lock()
	enc := b.enc
	b.mu.Unlock()
	if enc == nil {
		return
	}
	_ = enc.Encode(protocol.ReplyFrame(requestID, result, ""))
}

func (b *Box) replyError(requestID, msg string) {
	b.mu.Lock()
	enc := b.enc
	b.mu.Unlock()
	if enc == nil {
		return
	}
	_ = enc.Encode(protocol.ReplyFrame(requestID, nil, msg))
}
