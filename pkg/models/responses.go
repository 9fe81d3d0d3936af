package models

// SettleResponse is the outcome of the synchronous exact path.
type SettleResponse struct {
	Scheme string `json:"scheme"`
	Status string `json:"status"` // settled | failed
	TxRef  string `json:"txRef,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ValidateResponse is the outcome of deferred-intent validation. A pending
// status means the intent was enqueued and content may be released.
type ValidateResponse struct {
	Status      string `json:"status"` // pending | failed
	IntentNonce string `json:"intentNonce,omitempty"`
	Error       string `json:"error,omitempty"`
}

// GroupReport summarizes one (vault, chain) group of a settler run.
type GroupReport struct {
	Vault     string `json:"vault"`
	ChainID   int    `json:"chainId"`
	Submitted int    `json:"submitted"`
	Settled   int    `json:"settled"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	TxRef     string `json:"txRef,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunReport is the result of one batch-settler run.
type RunReport struct {
	RunID   string        `json:"runId"`
	Skipped bool          `json:"skipped"` // another run held the settle lock
	Groups  []GroupReport `json:"groups"`
}

// QueueStats is the summary exposed by the queue endpoint.
type QueueStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}
