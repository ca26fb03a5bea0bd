package checkout

import "fmt"

// ErrorSignal is the kind of error a checkout page reported.
type ErrorSignal int

const (
	SignalNone ErrorSignal = iota
	SignalOverload
	SignalCartConflict
	SignalUnclassified
)

func (s ErrorSignal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalOverload:
		return "overload"
	case SignalCartConflict:
		return "cart_conflict"
	case SignalUnclassified:
		return "unclassified"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

type Classifier interface {
	// Classify maps the text of the element that resolved a wait to a
	// signal. errorMarkerPresent reports whether the page showed any error
	// marker at all.
	Classify(markerText string, errorMarkerPresent bool) ErrorSignal
}

// TableClassifier matches marker text exactly against a fixed table.
type TableClassifier map[string]ErrorSignal

// DefaultClassifier holds the error titles the storefront is known to show.
var DefaultClassifier = TableClassifier{
	"Access Restriction Notice": SignalOverload,
	"There was problem.":        SignalCartConflict,
}

func (t TableClassifier) Classify(markerText string, errorMarkerPresent bool) ErrorSignal {
	if !errorMarkerPresent {
		return SignalNone
	}
	if signal, ok := t[markerText]; ok {
		return signal
	}
	return SignalUnclassified
}
