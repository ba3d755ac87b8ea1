// Package nat enables IP forwarding and the POSTROUTING masquerade rule for
// the VPN network. The rule is probed with `iptables -C` before appending so
// repeated configure runs stay idempotent.
package nat

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultRulesPath = "/etc/iptables/rules.v4"

// Executor abstracts sysctl/iptables execution.
type Executor interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

type osExec struct{}

func (osExec) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func (osExec) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Manager applies NAT state for the VPN network.
type Manager struct {
	exec      Executor
	wan       string
	rulesPath string
}

// NewManager creates a NAT manager masquerading out of wanInterface.
func NewManager(wanInterface string) *Manager {
	return NewManagerWithDeps(wanInterface, defaultRulesPath, osExec{})
}

// NewManagerWithDeps creates a manager with a custom rules path and executor.
func NewManagerWithDeps(wanInterface, rulesPath string, exec Executor) *Manager {
	if exec == nil {
		exec = osExec{}
	}
	if strings.TrimSpace(wanInterface) == "" {
		wanInterface = "eth0"
	}
	if strings.TrimSpace(rulesPath) == "" {
		rulesPath = defaultRulesPath
	}
	return &Manager{exec: exec, wan: wanInterface, rulesPath: rulesPath}
}

// EnsureMasquerade enables forwarding and appends the MASQUERADE rule for
// network if it is not already present. It reports whether a rule was added.
func (m *Manager) EnsureMasquerade(network string) (bool, error) {
	if err := m.exec.Run("sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
		return false, fmt.Errorf("enable ip forwarding: %w", err)
	}

	ruleArgs := []string{"-t", "nat", "POSTROUTING", "-s", network, "-o", m.wan, "-j", "MASQUERADE"}
	if err := m.exec.Run("iptables", insertFlag(ruleArgs, "-C")...); err == nil {
		// Rule already present.
		return false, nil
	}
	if err := m.exec.Run("iptables", insertFlag(ruleArgs, "-A")...); err != nil {
		return false, fmt.Errorf("append masquerade rule for %s: %w", network, err)
	}
	if err := m.persist(); err != nil {
		return true, err
	}
	return true, nil
}

// persist captures the running ruleset into the rules file read at boot.
func (m *Manager) persist() error {
	out, err := m.exec.Output("iptables-save")
	if err != nil {
		return fmt.Errorf("iptables-save: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.rulesPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.rulesPath, out, 0o644)
}

// insertFlag places the table operation flag after "-t nat".
func insertFlag(ruleArgs []string, flag string) []string {
	args := make([]string, 0, len(ruleArgs)+1)
	args = append(args, ruleArgs[:2]...)
	args = append(args, flag)
	args = append(args, ruleArgs[2:]...)
	return args
}
