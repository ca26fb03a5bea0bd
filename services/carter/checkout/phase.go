package checkout

import "fmt"

type Phase int

const (
	AwaitingLoginPrompt Phase = iota
	LoggingIn
	RearrangementStep
	PaymentAndShippingStep
	ConfirmationStep
	Placed
	Aborted
)

func (p Phase) String() string {
	switch p {
	case AwaitingLoginPrompt:
		return "awaiting_login_prompt"
	case LoggingIn:
		return "logging_in"
	case RearrangementStep:
		return "rearrangement"
	case PaymentAndShippingStep:
		return "payment_and_shipping"
	case ConfirmationStep:
		return "confirmation"
	case Placed:
		return "placed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether the machine stops in this phase.
func (p Phase) Terminal() bool {
	return p == Placed || p == Aborted
}

type UnclassifiedPolicy string

const (
	// proceed as though the page reported nothing
	UnclassifiedContinue UnclassifiedPolicy = "continue"
	// reload the checkout entry page and start over
	UnclassifiedRestart UnclassifiedPolicy = "restart"
)

func ParseUnclassifiedPolicy(value string) (UnclassifiedPolicy, error) {
	switch UnclassifiedPolicy(value) {
	case "", UnclassifiedContinue:
		return UnclassifiedContinue, nil
	case UnclassifiedRestart:
		return UnclassifiedRestart, nil
	}
	return "", fmt.Errorf("unknown unclassified error policy %q", value)
}
