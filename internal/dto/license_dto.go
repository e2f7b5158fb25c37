package dto

// GenerateCodeRequest is the automatic issuance payload posted by external
// purchase flows.
type GenerateCodeRequest struct {
	LicenseType string `json:"license_type"`
	UserEmail   string `json:"user_email"`
}

type GenerateCodeResponse struct {
	Code string `json:"code"`
}

// ManualCodeRequest is the operator-triggered issuance payload.
type ManualCodeRequest struct {
	LicenseType string `json:"license_type"`
}

type RedeemRequest struct {
	Code      string `json:"code"`
	MachineID string `json:"machine_id"`
}

type RedeemResponse struct {
	Status string `json:"status"`
}
