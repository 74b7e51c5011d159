package session

// Observer receives session events for metrics and tracing. Calls happen on
// the session goroutine.
type Observer interface {
	MessageSent(op string, bytes int)
	MessageReceived(op string, bytes int)
	FlowMarker(fseq, rseq int64)
	// HandlerStart is called before a handler runs; the returned func is
	// called with the handler's error when it returns.
	HandlerStart(op string) func(err error)
}

type nopObserver struct{}

func (nopObserver) MessageSent(string, int)          {}
func (nopObserver) MessageReceived(string, int)      {}
func (nopObserver) FlowMarker(int64, int64)          {}
func (nopObserver) HandlerStart(string) func(error) { return func(error) {} }
