package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidThreshold     ErrorCode = 102
	ErrCodeInvalidPeriod        ErrorCode = 103
	ErrCodeInsufficientData     ErrorCode = 106

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound ErrorCode = 200

	// Indicator errors (300-399)
	ErrCodeIndicatorCalculation ErrorCode = 302

	// Trading errors (500-599)
	ErrCodeOrderRejected       ErrorCode = 500
	ErrCodeInsufficientBalance ErrorCode = 501
	ErrCodePositionNotFound    ErrorCode = 502
	ErrCodeInvalidState        ErrorCode = 503

	// Engine errors (600-699)
	ErrCodeEngineInitFailed ErrorCode = 600
	ErrCodeEngineStopped    ErrorCode = 601

	// Market data errors (700-799)
	ErrCodeTransientFetch        ErrorCode = 700
	ErrCodeMarketDataParseFailed ErrorCode = 701
)
