// Package code provides CodeRunner implementations for LLM code execution.
package code

import "time"

// Option configures a SubprocessRunner or an HTTPRunner; options that
// apply to only one of the two say so.
type Option func(*runnerConfig)

type runnerConfig struct {
	timeout         time.Duration
	maxOutput       int
	workspace       string
	envVars         map[string]string
	envPassthrough  bool
	sandboxURL      string
	callbackAddr    string
	callbackExtAddr string
	maxFileSize     int64
	maxRetries      int
	retryDelay      time.Duration
	denyPatterns    []string
}

func defaultConfig() runnerConfig {
	return runnerConfig{
		timeout:      30 * time.Second,
		maxOutput:    64 * 1024, // 64KB
		callbackAddr: "127.0.0.1:0",
		maxRetries:   3,
		retryDelay:   500 * time.Millisecond,
	}
}

// WithDenyPattern adds a regular expression to SubprocessRunner's pre-execution
// blocklist, checked against the raw code before it reaches the interpreter.
// Patterns accumulate across calls and combine with the built-in os.system /
// subprocess.* checks. Has no effect on HTTPRunner, whose sandbox enforces
// its own policy out of process.
func WithDenyPattern(pattern string) Option {
	return func(c *runnerConfig) { c.denyPatterns = append(c.denyPatterns, pattern) }
}

// WithTimeout sets the maximum execution duration for code.
// Default: 30s. The subprocess is killed (SIGKILL) on timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *runnerConfig) { c.timeout = d }
}

// WithMaxOutput sets the maximum output size in bytes.
// Output beyond this limit is truncated. Default: 64KB.
func WithMaxOutput(bytes int) Option {
	return func(c *runnerConfig) { c.maxOutput = bytes }
}

// WithWorkspace sets the working directory for code execution.
// Filesystem operations in the code are restricted to this directory.
// Default: os.TempDir().
func WithWorkspace(path string) Option {
	return func(c *runnerConfig) { c.workspace = path }
}

// WithEnv sets a specific environment variable for the subprocess.
// Multiple calls accumulate. These are added to the subprocess environment
// alongside any passthrough variables.
func WithEnv(key, value string) Option {
	return func(c *runnerConfig) {
		if c.envVars == nil {
			c.envVars = make(map[string]string)
		}
		c.envVars[key] = value
	}
}

// WithEnvPassthrough passes all host environment variables to the subprocess.
// By default, the subprocess inherits a minimal environment.
func WithEnvPassthrough() Option {
	return func(c *runnerConfig) { c.envPassthrough = true }
}

// WithCallbackAddr sets the local address HTTPRunner's auto-started
// callback server listens on. Default: "127.0.0.1:0" (random free port).
// Has no effect when combined with WithCallbackExternal.
func WithCallbackAddr(addr string) Option {
	return func(c *runnerConfig) { c.callbackAddr = addr }
}

// WithCallbackExternal disables HTTPRunner's auto-started callback server;
// the sandbox's tool-call requests are instead sent to externalURL, which
// the caller must mount via HTTPRunner.Handler() on its own mux.
func WithCallbackExternal(externalURL string) Option {
	return func(c *runnerConfig) { c.callbackExtAddr = externalURL }
}

// WithMaxFileSize caps the size in bytes of output files HTTPRunner will
// decode from the sandbox response. Files over the limit are returned with
// metadata only, Data omitted. Default: 0 (unlimited). Has no effect on
// SubprocessRunner, which does not exchange files over a wire format.
func WithMaxFileSize(bytes int64) Option {
	return func(c *runnerConfig) { c.maxFileSize = bytes }
}

// WithMaxRetries sets the total number of attempts, the first included,
// HTTPRunner makes for a sandbox execution request; a further attempt is
// made only after a transient failure (5xx, connection reset, timeout).
// Default: 3. Has no effect on SubprocessRunner, which runs locally and
// has no network call to retry.
func WithMaxRetries(n int) Option {
	return func(c *runnerConfig) { c.maxRetries = n }
}

// WithRetryDelay sets the initial backoff between HTTPRunner retry attempts;
// the delay doubles after each attempt. Default: 500ms.
func WithRetryDelay(d time.Duration) Option {
	return func(c *runnerConfig) { c.retryDelay = d }
}
