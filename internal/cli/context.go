package cli

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"pybox/internal/config"
	"pybox/internal/pyexec"
	"pybox/internal/storage"
	"pybox/pkg/logger"
)

// CLIContext carries the loaded configuration and lazily opened resources
// shared by all commands.
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
	storagePath string
}

// NewCLIContext creates a CLI context.
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, storagePath string, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		Logger:      log,
		storagePath: storagePath,
		Verbose:     verbose,
		Quiet:       quiet,
	}
}

// GetStorage opens the history database on first use.
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		c.storage, c.storageErr = storage.Open(c.storagePath)
	})
	return c.storage, c.storageErr
}

// BuildExecutor assembles the execution pipeline from the exec section of
// the configuration.
func (c *CLIContext) BuildExecutor() (*pyexec.Executor, error) {
	ec := c.Config.Exec

	sandbox := pyexec.DefaultSandboxConfig()
	if ec.Timeout > 0 {
		sandbox.Timeout = ec.Timeout
	}
	if ec.MaxMemoryMB > 0 {
		sandbox.MaxMemoryMB = ec.MaxMemoryMB
	}
	if ec.MaxOutputBytes > 0 {
		sandbox.MaxOutputBytes = ec.MaxOutputBytes
	}
	if ec.MaxSteps > 0 {
		sandbox.MaxSteps = ec.MaxSteps
	}
	if len(ec.AllowedImports) > 0 {
		sandbox.AllowedImports = ec.AllowedImports
	}

	ast := pyexec.DefaultASTValidatorConfig()
	if len(ec.ForbiddenImports) > 0 {
		ast.ForbiddenImports = ec.ForbiddenImports
	}
	if ec.MaxOperations > 0 {
		ast.MaxOperations = ec.MaxOperations
	}
	ast.AllowGetattr = ec.AllowGetattr

	cfg := pyexec.Config{
		Sandbox:                sandbox,
		AST:                    ast,
		EnableSyntaxValidation: true,
		EnableASTValidation:    true,
		EnableOutputValidation: true,
		RedactSensitiveOutput:  ec.RedactOutput,
	}

	var backend pyexec.Backend
	switch ec.Backend {
	case "", "starlark":
		// NewExecutor builds the in-process backend itself.
	case "subprocess":
		var err error
		backend, err = pyexec.NewSubprocessBackend(pyexec.SubprocessBackendConfig{
			PythonPath:       ec.PythonPath,
			ForbiddenImports: ast.ForbiddenImports,
		}, *c.Log())
		if err != nil {
			return nil, fmt.Errorf("subprocess backend: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown exec backend: %s", ec.Backend)
	}

	return pyexec.NewExecutor(cfg, backend, *c.Log()), nil
}

// Close releases lazily opened resources.
func (c *CLIContext) Close() error {
	if c.storage != nil {
		return c.storage.Close()
	}
	return nil
}

// Log returns the logger, falling back to the global one.
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}
