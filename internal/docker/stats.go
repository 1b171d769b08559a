package docker

// Stats is one sample of the daemon's container stats stream, reduced to the
// fields the monitor reads.
type Stats struct {
	CPUStats    CPUStats    `json:"cpu_stats"`
	MemoryStats MemoryStats `json:"memory_stats"`
	BlkioStats  BlkioStats  `json:"blkio_stats"`
}

type CPUStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage,omitempty"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

type MemoryStats struct {
	Usage uint64            `json:"usage"`
	Limit uint64            `json:"limit"`
	Stats map[string]uint64 `json:"stats,omitempty"`
}

type BlkioStats struct {
	IoServiceBytesRecursive []BlkioEntry `json:"io_service_bytes_recursive"`
}

type BlkioEntry struct {
	Op    string `json:"op"`
	Value uint64 `json:"value"`
}

// CPUs returns online CPUs, falling back to the per-CPU usage count.
func (c CPUStats) CPUs() float64 {
	if c.OnlineCPUs > 0 {
		return float64(c.OnlineCPUs)
	}
	return float64(len(c.CPUUsage.PercpuUsage))
}

// IOBytes sums block-device read and write bytes.
func (b BlkioStats) IOBytes() (read, write uint64) {
	for _, e := range b.IoServiceBytesRecursive {
		switch e.Op {
		case "Read", "read":
			read += e.Value
		case "Write", "write":
			write += e.Value
		}
	}
	return read, write
}

// UsedBytes is usage minus page cache (saturating at zero).
func (m MemoryStats) UsedBytes() uint64 {
	cache := m.Stats["cache"]
	if cache > m.Usage {
		return 0
	}
	return m.Usage - cache
}
