package protocol

// DefaultResponseDelaySeconds is applied when an account has no stored config.
const DefaultResponseDelaySeconds = 3

// AccountConfig is the per-account auto-response configuration. The
// authoritative copy lives in the store; the accounts service keeps a
// write-through cache over it.
type AccountConfig struct {
	AccountID            int64  `json:"account_id"`
	ResponderID          string `json:"responder_id,omitempty"`
	Enabled              bool   `json:"enabled"`
	ResponseDelaySeconds int    `json:"response_delay_seconds"`
	FallbackMessage      string `json:"fallback_message,omitempty"`
}

// DefaultAccountConfig returns the config used for accounts that have
// never been configured: auto-response off.
func DefaultAccountConfig(accountID int64) AccountConfig {
	return AccountConfig{
		AccountID:            accountID,
		Enabled:              false,
		ResponseDelaySeconds: DefaultResponseDelaySeconds,
	}
}
