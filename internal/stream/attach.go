package stream

import "sync"

// AttachHandle is the fulfilling side of a single-fire promise whose value
// is the Sender of a fresh delivery channel. The producer holds the
// matching receive side and switches to live forwarding once it resolves.
type AttachHandle struct {
	once     sync.Once
	attacher chan<- *Sender
}

// NewAttachHandle returns a handle and the promise it fulfills. The
// promise yields exactly one Sender, ever.
func NewAttachHandle() (*AttachHandle, <-chan *Sender) {
	ch := make(chan *Sender, 1)
	return &AttachHandle{attacher: ch}, ch
}

// Attach resolves the promise with a new channel and returns its Receiver.
// Only the first call attaches; later calls return nil.
func (h *AttachHandle) Attach() *Receiver {
	var rx *Receiver
	h.once.Do(func() {
		tx, r := NewChannel()
		h.attacher <- tx
		close(h.attacher)
		rx = r
	})
	return rx
}
