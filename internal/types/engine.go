package types

// EngineMode selects the execution backend variant. It is fixed for the
// lifetime of an engine run; switching requires a stop and a fresh engine.
type EngineMode string

const (
	EngineModeLive      EngineMode = "LIVE"
	EngineModeSimulated EngineMode = "SIMULATED"
)

// EngineState is the trading state machine state.
// IDLE and HOLDING are the only steady states; STOPPED is terminal.
type EngineState string

const (
	EngineStateIdle    EngineState = "IDLE"
	EngineStateHolding EngineState = "HOLDING"
	EngineStateStopped EngineState = "STOPPED"
)
