package threads

import "testing"

func TestMailboxOrder(t *testing.T) {
	m := newMailbox()
	if m.Pending() {
		t.Fatalf("new mailbox pending")
	}
	for _, k := range []MessageKind{MsgProxy, MsgCancel, MsgCheckMailbox} {
		m.Post(Message{Kind: k})
	}
	select {
	case <-m.Wait():
	default:
		t.Fatalf("post did not notify")
	}
	if !m.Pending() || m.Len() != 3 {
		t.Fatalf("pending %v, len %d", m.Pending(), m.Len())
	}
	q := m.Take()
	if len(q) != 3 || q[0].Kind != MsgProxy || q[1].Kind != MsgCancel || q[2].Kind != MsgCheckMailbox {
		t.Fatalf("take = %v", q)
	}
	if m.Pending() || len(m.Take()) != 0 {
		t.Fatalf("mailbox not drained")
	}
}

func TestMessageKindString(t *testing.T) {
	tests := []struct {
		k    MessageKind
		want string
	}{
		{MsgLoad, "load"},
		{MsgCleanupThread, "cleanupThread"},
		{MsgProxy, "proxy"},
		{MessageKind(200), "message(200)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Fatalf("%d.String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
