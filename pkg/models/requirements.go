package models

// PaymentRequirements describes what a resource server expects a payment to
// look like. It is returned inside a payment challenge and echoed back by
// the payer alongside the signed payload.
type PaymentRequirements struct {
	Scheme       string   `json:"scheme"`
	Network      string   `json:"network"`
	Token        string   `json:"token"`
	TokenAddress string   `json:"tokenAddress"`
	Amount       string   `json:"amount"`
	Decimals     int      `json:"decimals"`
	Seller       string   `json:"seller"`
	Resource     string   `json:"resource"`
	Facilitator  string   `json:"facilitator"`
	ChainID      int      `json:"chainId"`
	Schemes      []string `json:"schemes,omitempty"`
	Vault        string   `json:"vault,omitempty"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`
}

// PaymentChallenge is the body a resource server answers a request with
// when payment is required.
type PaymentChallenge struct {
	Error               string                `json:"error"`
	PaymentRequirements []PaymentRequirements `json:"PaymentRequirements"`
}
