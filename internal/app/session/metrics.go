package session

import "github.com/osa030/tagbox/internal/app/broadcast"

// Metrics receives device measurements.
type Metrics interface {
	broadcast.Metrics
	OperationExecuted(code string)
	TagEvent(kind string)
	ReaderReset(success bool)
	PlaybackError()
	ManualAction(action string)
	SetConnectedClients(n int)
	SetPendingDeliveries(n int)
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
func (nopMetrics) OperationExecuted(string) {}
func (nopMetrics) TagEvent(string)          {}
func (nopMetrics) ReaderReset(bool)         {}
func (nopMetrics) PlaybackError()           {}
func (nopMetrics) ManualAction(string)      {}
func (nopMetrics) SetConnectedClients(int)  {}
func (nopMetrics) SetPendingDeliveries(int) {}
