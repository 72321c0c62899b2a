package sandbox

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed driver.py
var driverScript string

// DriverArgs returns the interpreter arguments that start the persistent REPL driver.
func DriverArgs(pythonBin string) []string {
	return []string{pythonBin, "-u", "-c", driverScript}
}

// ModuleName maps a distribution name onto the module it is imported as.
func ModuleName(library string) string {
	return strings.ReplaceAll(library, "-", "_")
}

// ImportCheckCode returns code that fails when library cannot be imported.
func ImportCheckCode(library string) string {
	return fmt.Sprintf("import %s", ModuleName(library))
}

// InstallCode returns code that installs library with pip into the running
// interpreter and exits with pip's status. It leaves no names behind in the
// workspace namespace.
func InstallCode(library string) string {
	return fmt.Sprintf(`def __sandboxd_install(lib):
    import subprocess, sys
    proc = subprocess.run([sys.executable, "-m", "pip", "install", "-q", lib], capture_output=True, text=True)
    sys.stdout.write(proc.stdout)
    sys.stderr.write(proc.stderr)
    if proc.returncode:
        raise SystemExit(proc.returncode)
try:
    __sandboxd_install(%q)
finally:
    del __sandboxd_install
`, library)
}
