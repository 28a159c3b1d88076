package api

import "fmt"

const (
	maxWindowDays = 365
	maxTimeoutMs  = 600000
)

func (r IntegrityCheckRequest) Validate() error {
	if r.Window < 0 || r.Window > maxWindowDays {
		return fmt.Errorf("window must be between 1 and %d days", maxWindowDays)
	}
	if r.MaxRecords < 0 {
		return fmt.Errorf("maxRecords must not be negative")
	}
	if r.TimeoutMs < 0 || r.TimeoutMs > maxTimeoutMs {
		return fmt.Errorf("timeout must be at most %d ms", maxTimeoutMs)
	}
	if r.SamplingPercentage < 0 || r.SamplingPercentage > 100 {
		return fmt.Errorf("samplingPercentage must be between 0 and 100")
	}
	return nil
}

func (r RepairRequest) Validate() error {
	if r.Days < 0 || r.Days > maxWindowDays {
		return fmt.Errorf("days must be between 1 and %d", maxWindowDays)
	}
	return nil
}
