package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

const serviceLabel = "dev.allaspects.modelmux"

// launchdPlist keeps modelmux alive as a macOS user agent.
const launchdPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ProgramPath}}</string>
{{- if .ConfigPath}}
        <string>--config</string>
        <string>{{.ConfigPath}}</string>
{{- end}}
        <string>start</string>
        <string>--foreground</string>
    </array>

    <key>WorkingDirectory</key>
    <string>{{.DataDir}}</string>

    <key>KeepAlive</key>
    <true/>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.DataDir}}/modelmux.out.log</string>

    <key>StandardErrorPath</key>
    <string>{{.DataDir}}/modelmux.err.log</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>5</integer>
</dict>
</plist>
`

// systemdUnit runs modelmux as a systemd user service.
const systemdUnit = `[Unit]
Description=modelmux query router
After=network-online.target

[Service]
Type=simple
ExecStart={{.ProgramPath}}{{if .ConfigPath}} --config {{.ConfigPath}}{{end}} start --foreground
WorkingDirectory={{.DataDir}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// ServiceSpec describes the installed service.
type ServiceSpec struct {
	Label       string
	ProgramPath string
	ConfigPath  string
	DataDir     string
}

// serviceManager abstracts the per-platform install location and the
// commands that load and unload a unit.
type serviceManager struct {
	template string
	path     func(home string) string
	load     func(path string) [][]string
	unload   func(path string) [][]string
}

var managers = map[string]serviceManager{
	"darwin": {
		template: launchdPlist,
		path: func(home string) string {
			return filepath.Join(home, "Library", "LaunchAgents", serviceLabel+".plist")
		},
		load:   func(p string) [][]string { return [][]string{{"launchctl", "load", p}} },
		unload: func(p string) [][]string { return [][]string{{"launchctl", "unload", p}} },
	},
	"linux": {
		template: systemdUnit,
		path: func(home string) string {
			return filepath.Join(home, ".config", "systemd", "user", "modelmux.service")
		},
		load: func(string) [][]string {
			return [][]string{
				{"systemctl", "--user", "daemon-reload"},
				{"systemctl", "--user", "enable", "--now", "modelmux.service"},
			}
		},
		unload: func(string) [][]string {
			return [][]string{{"systemctl", "--user", "disable", "--now", "modelmux.service"}}
		},
	},
}

// ErrUnsupportedPlatform is returned on systems without a known service
// manager.
var ErrUnsupportedPlatform = errors.New("service install is only supported on macOS (launchd) and Linux (systemd)")

// RenderService writes the unit file for goos to w.
func RenderService(w io.Writer, goos string, svc ServiceSpec) error {
	m, ok := managers[goos]
	if !ok {
		return ErrUnsupportedPlatform
	}
	if svc.Label == "" {
		svc.Label = serviceLabel
	}
	tmpl, err := template.New("service").Parse(m.template)
	if err != nil {
		return fmt.Errorf("parsing service template: %w", err)
	}
	if err := tmpl.Execute(w, svc); err != nil {
		return fmt.Errorf("rendering service: %w", err)
	}
	return nil
}

// InstallService writes a user-level service definition for the running
// binary and loads it with the platform's service manager.
func InstallService(configPath, dataDir string) error {
	m, ok := managers[runtime.GOOS]
	if !ok {
		return ErrUnsupportedPlatform
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("determining executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}

	dataDir = expandHome(dataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	unitPath := m.path(homeDir)
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(unitPath), err)
	}

	f, err := os.Create(unitPath)
	if err != nil {
		return fmt.Errorf("creating service file %s: %w", unitPath, err)
	}
	svc := ServiceSpec{ProgramPath: execPath, ConfigPath: configPath, DataDir: dataDir}
	if err := RenderService(f, runtime.GOOS, svc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing service file: %w", err)
	}

	fmt.Printf("Service file written to %s\n", unitPath)

	// Unload first so a reinstall picks up the new definition.
	for _, args := range m.unload(unitPath) {
		_ = exec.Command(args[0], args[1:]...).Run()
	}
	for _, args := range m.load(unitPath) {
		if err := runCommand(args); err != nil {
			return err
		}
	}

	fmt.Printf("Service %s loaded\n", serviceLabel)
	return nil
}

// UninstallService unloads and removes the service definition.
func UninstallService() error {
	m, ok := managers[runtime.GOOS]
	if !ok {
		return ErrUnsupportedPlatform
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	unitPath := m.path(homeDir)

	for _, args := range m.unload(unitPath) {
		_ = exec.Command(args[0], args[1:]...).Run()
	}

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing service file: %w", err)
	}

	fmt.Printf("Service %s uninstalled\n", serviceLabel)
	return nil
}

func runCommand(args []string) error {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	return nil
}
