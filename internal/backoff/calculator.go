package backoff

// Shared stateless calculator instances. Strategies hold no per-call state,
// so a single value can back every engine.
var (
	exponentialJitter  = ExponentialJitter{}
	decorrelatedJitter = DecorrelatedJitter{}
)

// GetExponentialJitter returns the shared exponential-with-jitter strategy.
func GetExponentialJitter() Strategy { return exponentialJitter }

// GetDecorrelatedJitter returns the shared decorrelated jitter strategy.
func GetDecorrelatedJitter() Strategy { return decorrelatedJitter }
