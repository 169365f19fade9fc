package engine

// SafetyController is a thin façade over the engine's safety interlocks so
// operator tooling can trigger them without holding the full engine API.
// Both calls are queued through the command channel and therefore respect
// the single-active-tick mutual exclusion.
type SafetyController struct {
	engine *Engine
}

// NewSafetyController wraps an engine.
func NewSafetyController(e *Engine) *SafetyController {
	return &SafetyController{engine: e}
}

// PanicSell liquidates the open position at market immediately. A no-op
// while IDLE.
func (s *SafetyController) PanicSell() error {
	return s.engine.PanicSell()
}

// StopLossCheck forces an immediate stop-loss evaluation outside the tick
// cadence.
func (s *SafetyController) StopLossCheck() error {
	return s.engine.StopLossCheck()
}
