package logger

// Option modifies a logger configuration
type Option func(*Config)

func WithLevel(level string) Option {
	return func(c *Config) { c.Level = level }
}

func WithFormat(format string) Option {
	return func(c *Config) { c.Format = format }
}

func WithOutput(output string) Option {
	return func(c *Config) { c.Output = output }
}

// WithFile switches output to file and sets the rotation target
func WithFile(filename string, maxSizeMB, maxAgeDays, maxBackups int) Option {
	return func(c *Config) {
		if c.Output == OutputConsole {
			c.Output = OutputFile
		}
		c.File.Filename = filename
		c.File.MaxSize = maxSizeMB
		c.File.MaxAge = maxAgeDays
		c.File.MaxBackups = maxBackups
	}
}

func WithCaller(enabled bool) Option {
	return func(c *Config) { c.EnableCaller = enabled }
}

func WithStacktrace(enabled bool) Option {
	return func(c *Config) { c.EnableStacktrace = enabled }
}

// NewWithOptions creates a logger from DefaultConfig with options applied
func NewWithOptions(opts ...Option) (*Logger, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

// Development returns a colored console logger at debug level
func Development() (*Logger, error) {
	return NewWithOptions(
		WithLevel("debug"),
		WithFormat(FormatConsole),
		WithOutput(OutputConsole),
	)
}
