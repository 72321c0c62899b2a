package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/sandbox"
)

// warmUp makes sure every configured library imports in env, installing the
// missing ones. Failures are logged and never abort session creation; an
// environment fault stops the remaining steps.
func (r *Registry) warmUp(logger *zap.Logger, env sandbox.Environment) {
	for _, lib := range r.config.WarmupLibraries {
		if err := r.warmUpLibrary(logger, env, lib); err != nil {
			logger.Error("warm-up stopped",
				zap.String("library", lib),
				zap.String("error_kind", sandbox.Classify(err)),
				zap.Error(err))
			return
		}
	}
}

func (r *Registry) warmUpLibrary(logger *zap.Logger, env sandbox.Environment, lib string) error {
	logger = logger.With(zap.String("library", lib))

	out, err := r.warmUpStep(env, sandbox.ImportCheckCode(lib))
	if err != nil {
		return err
	}
	if out.ExitCode == 0 {
		logger.Debug("library already present")
		return nil
	}

	out, err = r.warmUpStep(env, sandbox.InstallCode(lib))
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		logger.Warn("library install failed",
			zap.Int("exit_code", out.ExitCode),
			zap.String("stderr", strings.TrimSpace(out.Stderr)))
		return nil
	}
	logger.Info("library installed")
	return nil
}

func (r *Registry) warmUpStep(env sandbox.Environment, code string) (sandbox.RunOutput, error) {
	ctx, cancel := context.WithTimeout(r.lifetime, r.config.WarmupTimeout)
	defer cancel()
	return env.Run(ctx, code)
}
