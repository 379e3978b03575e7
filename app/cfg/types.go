package cfg

type Cfg struct {
	// Application configuration
	DataDir           string
	FeedsDir          string
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// WebSub configuration
	LeaseSeconds       int
	RenewalWindowHours int
	VerificationTTL    int // minutes
	SignatureAlgorithm string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
