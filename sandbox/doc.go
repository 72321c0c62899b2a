// Package sandbox provides isolated code execution environments.
//
// An Environment is one stateful Python interpreter owned by a single
// workspace. Provisioners create environments on a backend: docker or podman
// containers, or (for development only) a host process. Inside every
// environment a small driver speaks line-delimited JSON over stdin/stdout so
// that variables, imports, and matplotlib figures survive between runs.
//
// The FallbackExecutor covers workspaces that have no isolated environment. It
// runs each request in a fresh, unisolated interpreter process that is killed
// together with its process group when the timeout expires.
//
// Usage:
//
//	prov, err := sandbox.NewProvisioner(logger, cfg)
//	env, err := prov.Provision(ctx, "workspace-1")
//	out, err := env.Run(ctx, "x = 1\nprint(x)")
//	result := out.Result()
//	_ = env.Close(ctx)
package sandbox
