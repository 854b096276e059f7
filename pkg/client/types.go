package client

// Health is the deputy /health response.
type Health struct {
	Status        string  `json:"status"`
	Hostname      string  `json:"hostname"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// ErrorResponse is the body deputies return on failures.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
