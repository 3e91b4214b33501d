package forecast

// Observer receives engine measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveLoad(seconds float64)
	ObserveTrain(backend string, seconds float64, trigger string)
	ObservePredict(backend string, seconds float64)
	ObserveHorizon(days int)
	RecordError(component, reason string)
}

// Training triggers reported to Observer.ObserveTrain.
const (
	TriggerOnDemand = "on_demand"
	TriggerExplicit = "explicit"
)

type nopObserver struct{}

func (nopObserver) ObserveLoad(float64)                  {}
func (nopObserver) ObserveTrain(string, float64, string) {}
func (nopObserver) ObservePredict(string, float64)       {}
func (nopObserver) ObserveHorizon(int)                   {}
func (nopObserver) RecordError(string, string)           {}
