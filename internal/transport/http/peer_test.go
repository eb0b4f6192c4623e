package http

import (
	"testing"

	"group-quiz-hub/internal/protocol"
)

func newQueuedPeer(buffer int) *wsPeer {
	return &wsPeer{
		id:       "conn-1",
		send:     make(chan []byte, buffer),
		closeReq: make(chan closeFrame, 1),
		done:     make(chan struct{}),
	}
}

func TestPeerSealDropsLaterMessages(t *testing.T) {
	p := newQueuedPeer(4)
	if !p.Send(protocol.Submitted{Message: "Quiz submitted"}) {
		t.Fatal("send before seal should be queued")
	}
	p.Seal()
	if !p.Send(protocol.Pong{}) {
		t.Fatal("a sealed peer must not report a full buffer")
	}
	if got := len(p.send); got != 1 {
		t.Fatalf("expected only the terminal event queued, got %d", got)
	}

	p.Close(1000, "session submitted")
	select {
	case frame := <-p.closeReq:
		if frame.code != 1000 {
			t.Fatalf("unexpected close code %d", frame.code)
		}
	default:
		t.Fatal("close frame should still be requested after seal")
	}
}

func TestPeerReportsFullBuffer(t *testing.T) {
	p := newQueuedPeer(1)
	if !p.Send(protocol.Pong{}) {
		t.Fatal("first send should fit")
	}
	if p.Send(protocol.Pong{}) {
		t.Fatal("expected a full buffer to be reported")
	}
}
