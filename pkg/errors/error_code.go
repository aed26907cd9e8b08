package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidInterval      ErrorCode = 102
	ErrCodeInvalidSymbol        ErrorCode = 103
	ErrCodeInsufficientData     ErrorCode = 104
	ErrCodeInvalidPeriod        ErrorCode = 105
	ErrCodeMissingParameter     ErrorCode = 106

	// Dataset/storage errors (200-299)
	ErrCodeDataNotFound   ErrorCode = 200
	ErrCodeCorruptDataset ErrorCode = 201
	ErrCodePersistFailed  ErrorCode = 202
	ErrCodeQueryFailed    ErrorCode = 203

	// Exchange errors (300-399)
	ErrCodeTransport    ErrorCode = 300
	ErrCodeMalformedRow ErrorCode = 301
	ErrCodeFetchTimeout ErrorCode = 302

	// Sync errors (400-499)
	ErrCodeSyncFailed     ErrorCode = 400
	ErrCodeSyncInProgress ErrorCode = 401

	// Analysis errors (500-599)
	ErrCodeIndicatorCalculation ErrorCode = 500
	ErrCodeRiskCalculation      ErrorCode = 501
	ErrCodeRegimeClassification ErrorCode = 502
	ErrCodeAdvisorAnalysis      ErrorCode = 503

	// Server errors (600-699)
	ErrCodeBadRequest    ErrorCode = 600
	ErrCodeTickerFetch   ErrorCode = 601
	ErrCodeServerStartup ErrorCode = 602
)
