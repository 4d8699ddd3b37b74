package broadcast

// Metrics receives broadcast engine measurements.
type Metrics interface {
	EnvelopeBroadcast(eventType string)
	DeliveryAttempted(success bool)
	DeliveryRetried()
	DeliveryDropped(eventType string)
	DeliveriesAbandoned(n int)
	DedupHit()
	PositionCoalesced()
	Subscriptions(n int)
}

type nopMetrics struct{}

func (nopMetrics) EnvelopeBroadcast(string) {}
func (nopMetrics) DeliveryAttempted(bool)   {}
func (nopMetrics) DeliveryRetried()         {}
func (nopMetrics) DeliveryDropped(string)   {}
func (nopMetrics) DeliveriesAbandoned(int)  {}
func (nopMetrics) DedupHit()                {}
func (nopMetrics) PositionCoalesced()       {}
func (nopMetrics) Subscriptions(int)        {}
