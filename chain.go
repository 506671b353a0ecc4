package aggregator

// Interceptor is one stage of a dependency client's pipeline.
type Interceptor interface {
	// Name identifies the stage, e.g. "logging", "retry", "circuit-breaker".
	Name() string
	// Wrap returns a Call that applies the stage around next.
	Wrap(next Call) Call
}

// Chain composes interceptors around a terminal call. The first interceptor
// is the outermost: Chain(t, a, b) returns a(b(t)).
func Chain(terminal Call, interceptors ...Interceptor) Call {
	call := terminal
	for i := len(interceptors) - 1; i >= 0; i-- {
		call = interceptors[i].Wrap(call)
	}
	return call
}

// interceptorNames returns the stage names in chain order.
func interceptorNames(interceptors []Interceptor) []string {
	names := make([]string, 0, len(interceptors))
	for _, i := range interceptors {
		names = append(names, i.Name())
	}
	return names
}
