package broadcast

type request interface {
	request()
}

type stateRequest struct {
	playlistID string
	data       any
}

type positionRequest struct {
	item positionItem
}

type flushRequest struct{}

type collectionRequest struct {
	playlistID string
	data       any
}

type joinRequest struct {
	clientID string
	room     string
	reply    chan uint64
}

type leaveRequest struct {
	clientID string
	room     string
	done     chan struct{}
}

type disconnectRequest struct {
	clientID string
	done     chan struct{}
}

type ackRequest struct {
	clientID string
	ack      Ack
	keepSeq  bool
	reply    chan Ack
}

type retryRequest struct{}

func (stateRequest) request()      {}
func (positionRequest) request()   {}
func (flushRequest) request()      {}
func (collectionRequest) request() {}
func (joinRequest) request()       {}
func (leaveRequest) request()      {}
func (disconnectRequest) request() {}
func (ackRequest) request()        {}
func (retryRequest) request()      {}

// Superseded position ticks are the only requests that may be evicted.
func isLowValue(r request) bool {
	_, ok := r.(positionRequest)
	return ok
}
