package api

// IntegrityCheckRequest is the optional payload of POST /api/v1/integrity/check. Zero
// fields take the configured defaults.
type IntegrityCheckRequest struct {
	Window             int     `json:"window" example:"30"`
	MaxRecords         int     `json:"maxRecords" example:"10000"`
	TimeoutMs          int64   `json:"timeout" example:"120000"`
	EnableSampling     bool    `json:"enableSampling"`
	SamplingPercentage float64 `json:"samplingPercentage" example:"10"`
}

// RepairRequest is the optional payload of POST /api/v1/integrity/repair.
type RepairRequest struct {
	Days int `json:"days" example:"30"`
}
