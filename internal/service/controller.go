// Package service wraps systemctl for the OpenVPN unit. One attempt per
// call, no retries; failures surface to the reconciler as ErrControl.
package service

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrControl indicates a service manager call failed.
var ErrControl = errors.New("service control failed")

var unitNamePattern = regexp.MustCompile(`^[A-Za-z0-9@_.-]+(\.service)?$`)

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func (execRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Controller issues lifecycle operations against one systemd unit.
type Controller struct {
	unit   string
	runner CommandRunner
}

// NewController creates a controller for the named unit using the real
// systemctl binary. The default OpenVPN server unit is "openvpn@server".
func NewController(unit string) (*Controller, error) {
	return NewControllerWithRunner(unit, execRunner{})
}

// NewControllerWithRunner creates a controller with a custom runner.
func NewControllerWithRunner(unit string, runner CommandRunner) (*Controller, error) {
	resolved, err := normalizeUnitName(unit)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Controller{unit: resolved, runner: runner}, nil
}

// Unit returns the resolved unit name.
func (c *Controller) Unit() string {
	return c.unit
}

// Start runs `systemctl start <unit>`.
func (c *Controller) Start() error {
	return c.runSystemctl("start")
}

// Stop runs `systemctl stop <unit>`.
func (c *Controller) Stop() error {
	return c.runSystemctl("stop")
}

// Restart runs `systemctl restart <unit>`.
func (c *Controller) Restart() error {
	return c.runSystemctl("restart")
}

// IsActive runs `systemctl is-active <unit>`. A non-zero exit with state
// output (inactive, failed) is not an error; it means the unit is stopped.
func (c *Controller) IsActive() (bool, string, error) {
	out, runErr := c.runner.Output("systemctl", "is-active", c.unit)
	state := strings.TrimSpace(string(out))
	if state == "active" || state == "activating" {
		return true, state, nil
	}
	if state != "" {
		return false, state, nil
	}
	if runErr != nil {
		return false, "", fmt.Errorf("%w: systemctl is-active %s: %v", ErrControl, c.unit, runErr)
	}
	return false, "unknown", nil
}

// Status runs `systemctl status <unit>` and returns its output. Stopped
// units exit non-zero but still produce usable status text, so the output
// is returned whenever present.
func (c *Controller) Status() (string, error) {
	out, runErr := c.runner.Output("systemctl", "status", "--no-pager", c.unit)
	text := strings.TrimSpace(string(out))
	if text != "" {
		return text, nil
	}
	if runErr != nil {
		return "", fmt.Errorf("%w: systemctl status %s: %v", ErrControl, c.unit, runErr)
	}
	return text, nil
}

func (c *Controller) runSystemctl(action string) error {
	if err := c.runner.Run("systemctl", action, c.unit); err != nil {
		return fmt.Errorf("%w: systemctl %s %s: %v", ErrControl, action, c.unit, err)
	}
	return nil
}

func normalizeUnitName(unit string) (string, error) {
	trimmed := strings.TrimSpace(unit)
	if trimmed == "" {
		return "", fmt.Errorf("%w: unit name is required", ErrControl)
	}
	if filepath.Base(trimmed) != trimmed || strings.ContainsAny(trimmed, `/\\`) {
		return "", fmt.Errorf("%w: invalid unit name %q", ErrControl, unit)
	}
	if !unitNamePattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: invalid unit name %q", ErrControl, unit)
	}
	return trimmed, nil
}
