package e2e_test

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	binaryPath     string
	binaryBuildErr error
	binaryOnce     sync.Once
	sharedTempDir  string
)

func TestMain(m *testing.M) {
	var err error
	sharedTempDir, err = os.MkdirTemp("", "anystore-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = os.RemoveAll(sharedTempDir)
	if pgCleanup != nil {
		pgCleanup()
	}

	os.Exit(code)
}

// AuthKey represents an access key pair for authentication.
type AuthKey struct {
	AccessKey string
	SecretKey string
}

// ServerConfig describes one gateway process.
type ServerConfig struct {
	Port      int
	Mode      string // store, static, spa
	Scheme    string // fs, sqlite, postgres, memory
	Options   map[string]string
	AuthRead  string    // public, private
	AuthWrite string    // public, private
	AuthKeys  []AuthKey // Access keys for private auth
}

// buildBinary compiles the anystore binary once per test run.
func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	binaryOnce.Do(func() {
		binaryPath = filepath.Join(sharedTempDir, "anystore")

		cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/anystore")
		cmd.Dir = getProjectRoot(t)
		output, err := cmd.CombinedOutput()
		if err != nil {
			binaryBuildErr = fmt.Errorf("build binary: %w\nOutput: %s", err, output)
		}
	})

	if binaryBuildErr != nil {
		t.Fatalf("failed to build binary: %v", binaryBuildErr)
	}
	return binaryPath
}

// getProjectRoot returns the directory holding go.mod.
func getProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err, "get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// createConfigFile writes the YAML config for cfg and returns its path.
func createConfigFile(t *testing.T, cfg ServerConfig) string {
	t.Helper()

	var sb strings.Builder
	fmt.Fprintf(&sb, "storage:\n  scheme: %s\n", cfg.Scheme)
	if len(cfg.Options) > 0 {
		sb.WriteString("  options:\n")
		for k, v := range cfg.Options {
			fmt.Fprintf(&sb, "    %s: %q\n", k, v)
		}
	}

	fmt.Fprintf(&sb, `
server:
  port: %d
  mode: %s
  shutdown_timeout: 5s

auth:
  read: %s
  write: %s
  region: us-east-1
  service: s3
`, cfg.Port, cfg.Mode, cfg.AuthRead, cfg.AuthWrite)

	if len(cfg.AuthKeys) > 0 {
		sb.WriteString("  keys:\n    inline:\n")
		for _, key := range cfg.AuthKeys {
			fmt.Fprintf(&sb, "      - access_key: %s\n        secret_key: %s\n", key.AccessKey, key.SecretKey)
		}
	}

	sb.WriteString("\nlog:\n  level: error\n")

	configPath := filepath.Join(t.TempDir(), "anystore.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(sb.String()), 0o600), "write config file")
	return configPath
}

// startServer runs "anystore serve" and returns its base URL. The server
// is stopped when the test ends.
func startServer(t *testing.T, cfg ServerConfig) string {
	t.Helper()

	binary := buildBinary(t)
	if cfg.Port == 0 {
		cfg.Port = getOpenPort(t)
	}
	if cfg.Mode == "" {
		cfg.Mode = "store"
	}
	if cfg.AuthRead == "" {
		cfg.AuthRead = "public"
	}
	if cfg.AuthWrite == "" {
		cfg.AuthWrite = "public"
	}

	cmd := exec.Command(binary, "serve", "--config", createConfigFile(t, cfg))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start(), "start server")

	t.Cleanup(func() {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
			_ = cmd.Wait()
		}
	})

	baseURL := fmt.Sprintf("http://localhost:%d", cfg.Port)
	waitForServer(t, baseURL, 10*time.Second)
	return baseURL
}

// waitForServer polls the health endpoint until it answers or times out.
func waitForServer(t *testing.T, baseURL string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 1 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/-/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Fatalf("server failed to start within %v", timeout)
}

// getOpenPort finds an available TCP port.
func getOpenPort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "find open port")

	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close(), "close port")
	return port
}

// runCLI runs the binary with args and returns its stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := exec.Command(buildBinary(t), args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("anystore %s: %s", strings.Join(args, " "), stderr.String())
	}
	return stdout.String(), err
}
