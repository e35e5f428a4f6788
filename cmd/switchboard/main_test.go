package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/switchboard/internal/auth"
	"github.com/nerrad567/switchboard/internal/device"
	"github.com/nerrad567/switchboard/internal/infrastructure/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() //nolint:errcheck // Only the port number is needed
	return port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidDriver(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIG", writeConfig(t, `
database:
  driver: "postgres"
  path: "/tmp/x.db"
`))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "database.driver") {
		t.Fatalf("run() error = %v, want database.driver validation failure", err)
	}
}

func TestRun_BadPasswordHash(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SWITCHBOARD_CONFIG", writeConfig(t, fmt.Sprintf(`
database:
  path: %q
logging:
  level: error
security:
  password_hash: "not-a-phc-string"
`, filepath.Join(dir, "sb.db"))))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "password hash") {
		t.Fatalf("run() error = %v, want password hash failure", err)
	}
}

// TestRun_StorageUnavailable points the store below a regular file, so the
// directory cannot be created on either driver.
func TestRun_StorageUnavailable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatalf("writing blocker file: %v", err)
	}

	for _, driver := range []string{config.DriverSQLite, config.DriverBolt} {
		t.Run(driver, func(t *testing.T) {
			t.Setenv("SWITCHBOARD_CONFIG", writeConfig(t, fmt.Sprintf(`
database:
  driver: %q
  path: %q
logging:
  level: error
`, driver, filepath.Join(blocker, "switchboard.db"))))

			err := run(context.Background())
			if !errors.Is(err, device.ErrStorageUnavailable) {
				t.Fatalf("run() error = %v, want ErrStorageUnavailable", err)
			}
		})
	}
}

// TestRun_ServesAndStops starts the service on each driver, drives one
// toggle through HTTP and shuts it down via the context.
func TestRun_ServesAndStops(t *testing.T) {
	for _, driver := range []string{config.DriverSQLite, config.DriverBolt} {
		t.Run(driver, func(t *testing.T) {
			port := freePort(t)
			dir := t.TempDir()
			t.Setenv("SWITCHBOARD_CONFIG", writeConfig(t, fmt.Sprintf(`
database:
  driver: %q
  path: %q
  history_retention_days: 7
api:
  host: "127.0.0.1"
  port: %d
logging:
  level: error
  format: text
devices:
  registry: ["lamp_one", "lamp_two", "lamp_three", "fan", "ac"]
`, driver, filepath.Join(dir, "switchboard.db"), port)))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- run(ctx) }()

			base := fmt.Sprintf("http://127.0.0.1:%d", port)
			waitHealthy(t, base, done)

			req, err := http.NewRequest(http.MethodPut, base+"/lamp/two", nil)
			if err != nil {
				t.Fatalf("NewRequest() error = %v", err)
			}
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("PUT /lamp/two error = %v", err)
			}
			var body map[string]any
			//nolint:errcheck // checked through body contents
			json.NewDecoder(res.Body).Decode(&body)
			res.Body.Close() //nolint:errcheck // Body consumed
			if res.StatusCode != http.StatusOK || body["condition"] != true {
				t.Errorf("PUT /lamp/two = %d %v", res.StatusCode, body)
			}

			// Not in the configured registry.
			res, err = http.Get(base + "/door")
			if err != nil {
				t.Fatalf("GET /door error = %v", err)
			}
			res.Body.Close() //nolint:errcheck // Body unused
			if res.StatusCode != http.StatusNotFound {
				t.Errorf("GET /door status = %d, want 404", res.StatusCode)
			}

			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("run() error = %v", err)
				}
			case <-time.After(15 * time.Second):
				t.Fatal("run() did not return after cancel")
			}
		})
	}
}

func waitHealthy(t *testing.T, base string, done <-chan error) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		res, err := http.Get(base + "/api/v1/health")
		if err == nil {
			res.Body.Close() //nolint:errcheck // Body unused
			if res.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("service did not become healthy")
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SWITCHBOARD_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SWITCHBOARD_CONFIG", "/etc/switchboard.yaml")
	if got := getConfigPath(); got != "/etc/switchboard.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "argument", args: []string{"s3cret"}, want: "s3cret"},
		{name: "stdin", stdin: "from-stdin\n", want: "from-stdin"},
		{name: "empty stdin", stdin: "", wantErr: true},
		{name: "too many args", args: []string{"a", "b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := hashPassword(tt.args, strings.NewReader(tt.stdin), &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("hashPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			hash := strings.TrimSpace(out.String())
			ok, err := auth.VerifyPassword(tt.want, hash)
			if err != nil || !ok {
				t.Errorf("VerifyPassword(%q, %q) = %v, %v", tt.want, hash, ok, err)
			}
		})
	}
}
