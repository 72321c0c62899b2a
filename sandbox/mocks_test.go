package sandbox

import (
	"context"
	"strings"
	"sync"
)

type mockResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu             sync.Mutex
	commandResults map[string]mockResult
	prefixResults  map[string]mockResult
	defaultResult  mockResult
	calls          [][]string
}

func (m *MockCommandRunner) RunCommand(_ context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]string(nil), args...))
	cmdKey := strings.Join(args, " ")

	if result, exists := m.commandResults[cmdKey]; exists {
		return result.stdout, result.stderr, result.exitCode, result.err
	}
	for prefix, result := range m.prefixResults {
		if strings.HasPrefix(cmdKey, prefix) {
			return result.stdout, result.stderr, result.exitCode, result.err
		}
	}

	return m.defaultResult.stdout, m.defaultResult.stderr, m.defaultResult.exitCode, m.defaultResult.err
}

func (m *MockCommandRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.calls...)
}

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mkdirTempDir    string
	mkdirTempErr    error
	removeAllErrors map[string]error
	removed         []string
	existing        map[string]bool
}

func (m *MockFileSystem) MkdirTemp(_, _ string) (string, error) {
	if m.mkdirTempErr != nil {
		return "", m.mkdirTempErr
	}
	if m.mkdirTempDir != "" {
		return m.mkdirTempDir, nil
	}
	return "/tmp/test", nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removed = append(m.removed, path)
	if err, exists := m.removeAllErrors[path]; exists {
		return err
	}
	return nil
}

func (m *MockFileSystem) FileExists(path string) (bool, error) {
	return m.existing[path], nil
}

// stubEnvironment is a trivial Environment used where only wiring is under test.
type stubEnvironment struct {
	closed int
}

func (*stubEnvironment) Run(context.Context, string) (RunOutput, error) {
	return RunOutput{}, nil
}

func (s *stubEnvironment) Close(context.Context) error {
	s.closed++
	return nil
}
