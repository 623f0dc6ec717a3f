package domain

var validNext = map[string]map[string]bool{
	OrderStatusPending:  {OrderStatusPaid: true, OrderStatusCanceled: true},
	OrderStatusPaid:     {},
	OrderStatusCanceled: {},
}

func CanTransition(from, to string) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no further mutation of the order is permitted.
func IsTerminal(status string) bool {
	return status == OrderStatusPaid || status == OrderStatusCanceled
}

// paymentMethods maps each supported method to whether settlement happens at
// the counter (immediate) or out of band via a gateway confirmation.
var paymentMethods = map[string]struct{ Immediate bool }{
	"cash":     {Immediate: true},
	"card":     {Immediate: false},
	"qris":     {Immediate: false},
	"transfer": {Immediate: false},
}

func IsSupportedPaymentMethod(method string) bool {
	_, ok := paymentMethods[method]
	return ok
}

// IsImmediatePaymentMethod reports whether an order paid with this method is
// settled at creation time (initial status paid) rather than staying pending.
func IsImmediatePaymentMethod(method string) bool {
	return paymentMethods[method].Immediate
}
