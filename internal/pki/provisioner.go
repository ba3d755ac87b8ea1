// Package pki provisions Easy-RSA certificate material for the OpenVPN
// server. Every step is guarded by an existence check on its artifact, so
// re-running after a partial failure only performs the missing steps.
package pki

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrGeneration indicates an external PKI tooling step failed. The wrapped
// message names the step and carries the tool output.
var ErrGeneration = errors.New("pki generation failed")

// CommandRunner abstracts external tool execution. Commands run with an
// argv vector, a working directory, and extra environment entries; no shell
// is ever involved.
type CommandRunner interface {
	Run(dir string, env []string, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd.CombinedOutput()
}

// Material names the artifacts to provision and where they must end up.
type Material struct {
	PKIDir     string
	CACert     string
	ServerCert string
	ServerKey  string
	DHPem      string
	TLSAuthKey string
	KeySize    int
	CertDays   int
}

// Provisioner drives easyrsa and openvpn --genkey.
type Provisioner struct {
	runner   CommandRunner
	lookPath func(string) (string, error)
}

// NewProvisioner creates a provisioner using the real binaries.
func NewProvisioner() *Provisioner {
	return &Provisioner{runner: execRunner{}, lookPath: exec.LookPath}
}

// NewProvisionerWithDeps creates a provisioner with injected dependencies.
func NewProvisionerWithDeps(runner CommandRunner, lookPath func(string) (string, error)) *Provisioner {
	if runner == nil {
		runner = execRunner{}
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return &Provisioner{runner: runner, lookPath: lookPath}
}

// Ensure generates any missing PKI artifacts and installs them at their
// configured paths. It reports whether anything was generated, along with
// one note per completed step. Already-present artifacts are skipped
// without invoking any tool.
func (p *Provisioner) Ensure(m Material) (bool, []string, error) {
	if err := os.MkdirAll(m.PKIDir, 0o755); err != nil {
		return false, nil, stepErr("create pki directory", err, nil)
	}
	if _, err := p.lookPath("easyrsa"); err != nil {
		return false, nil, fmt.Errorf("%w: easyrsa not found in PATH", ErrGeneration)
	}

	env := []string{
		fmt.Sprintf("EASYRSA_KEY_SIZE=%d", m.KeySize),
		fmt.Sprintf("EASYRSA_CERT_EXPIRE=%d", m.CertDays),
	}
	pkiRoot := filepath.Join(m.PKIDir, "pki")
	var notes []string
	changed := false

	if !exists(pkiRoot) {
		if out, err := p.runner.Run(m.PKIDir, env, "easyrsa", "init-pki"); err != nil {
			return changed, notes, stepErr("init-pki", err, out)
		}
		notes = append(notes, "PKI initialized")
		changed = true
	}

	if !exists(filepath.Join(pkiRoot, "ca.crt")) {
		if out, err := p.runner.Run(m.PKIDir, env, "easyrsa", "build-ca", "nopass"); err != nil {
			return changed, notes, stepErr("build-ca", err, out)
		}
		notes = append(notes, "CA certificate generated")
		changed = true
	}

	if !exists(filepath.Join(pkiRoot, "issued", "server.crt")) {
		if out, err := p.runner.Run(m.PKIDir, env, "easyrsa", "gen-req", "server", "nopass"); err != nil {
			return changed, notes, stepErr("gen-req", err, out)
		}
		if out, err := p.runner.Run(m.PKIDir, env, "easyrsa", "sign-req", "server", "server"); err != nil {
			return changed, notes, stepErr("sign-req", err, out)
		}
		notes = append(notes, "Server certificate generated")
		changed = true
	}

	if !exists(filepath.Join(pkiRoot, "dh.pem")) {
		if out, err := p.runner.Run(m.PKIDir, env, "easyrsa", "gen-dh"); err != nil {
			return changed, notes, stepErr("gen-dh", err, out)
		}
		notes = append(notes, "Diffie-Hellman parameters generated")
		changed = true
	}

	if !exists(m.TLSAuthKey) {
		if out, err := p.runner.Run(m.PKIDir, nil, "openvpn", "--genkey", "--secret", m.TLSAuthKey); err != nil {
			return changed, notes, stepErr("genkey", err, out)
		}
		notes = append(notes, "TLS authentication key generated")
		changed = true
	}

	installed, err := p.install(m, pkiRoot)
	if err != nil {
		return changed, notes, err
	}
	changed = changed || installed

	if err := fixPermissions(m); err != nil {
		return changed, notes, err
	}
	return changed, notes, nil
}

// install copies generated artifacts to their configured destinations.
// Existing destination files are never overwritten.
func (p *Provisioner) install(m Material, pkiRoot string) (bool, error) {
	copies := []struct{ src, dst string }{
		{filepath.Join(pkiRoot, "ca.crt"), m.CACert},
		{filepath.Join(pkiRoot, "issued", "server.crt"), m.ServerCert},
		{filepath.Join(pkiRoot, "private", "server.key"), m.ServerKey},
		{filepath.Join(pkiRoot, "dh.pem"), m.DHPem},
	}
	changed := false
	for _, c := range copies {
		if !exists(c.src) || exists(c.dst) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(c.dst), 0o755); err != nil {
			return changed, stepErr("install "+filepath.Base(c.dst), err, nil)
		}
		data, err := os.ReadFile(c.src)
		if err != nil {
			return changed, stepErr("install "+filepath.Base(c.dst), err, nil)
		}
		if err := os.WriteFile(c.dst, data, 0o600); err != nil {
			return changed, stepErr("install "+filepath.Base(c.dst), err, nil)
		}
		changed = true
	}
	return changed, nil
}

// fixPermissions enforces owner-only private keys and world-readable
// public material.
func fixPermissions(m Material) error {
	perms := []struct {
		path string
		mode os.FileMode
	}{
		{m.ServerKey, 0o600},
		{m.TLSAuthKey, 0o600},
		{m.CACert, 0o644},
		{m.ServerCert, 0o644},
		{m.DHPem, 0o644},
	}
	for _, p := range perms {
		if !exists(p.path) {
			continue
		}
		if err := os.Chmod(p.path, p.mode); err != nil {
			return stepErr("set permissions", err, nil)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func stepErr(step string, err error, output []byte) error {
	out := strings.TrimSpace(string(output))
	if out != "" {
		return fmt.Errorf("%w: %s: %v: %s", ErrGeneration, step, err, out)
	}
	return fmt.Errorf("%w: %s: %v", ErrGeneration, step, err)
}
