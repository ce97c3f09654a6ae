package config

const (
	// DefaultBlockSize default per worker streaming block size
	DefaultBlockSize = 1 << 20
)

type Config struct {
	// WorkerCount number of transfer workers for device resident buffers,
	// zero issues a single bulk transfer per request
	WorkerCount int
	// BlockSize per worker streaming block size in bytes
	BlockSize int64
	// FamilyToSingle repacking tool compatibility option, only affects the
	// reported feature flags
	FamilyToSingle bool
	// StatsPath path of the stats journal, empty disables journaling
	StatsPath string
}
