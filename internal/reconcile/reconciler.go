// Package reconcile turns a validated configuration request into the
// minimal set of host changes. Reconciliation is stateless: every run
// re-reads disk and service state, diffs against the rendered target, and
// reports whether anything was written.
package reconcile

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"openvpn-configd/internal/nat"
	"openvpn-configd/internal/pki"
	"openvpn-configd/internal/render"
	"openvpn-configd/internal/request"
	"openvpn-configd/internal/service"
)

// ErrReconciliation indicates an apply step failed. PKI and service manager
// failures keep their own kinds (pki.ErrGeneration, service.ErrControl).
var ErrReconciliation = errors.New("reconciliation failed")

// ServiceController is the subset of service.Controller the reconciler
// drives.
type ServiceController interface {
	Start() error
	Stop() error
	Restart() error
	IsActive() (bool, string, error)
	Status() (string, error)
}

// NATConfigurator applies masquerade state for the VPN network.
type NATConfigurator interface {
	EnsureMasquerade(network string) (bool, error)
}

// PKIProvisioner generates missing certificate material.
type PKIProvisioner interface {
	Ensure(m pki.Material) (bool, []string, error)
}

// CommandRunner executes the package manager during install.
type CommandRunner interface {
	Output(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Result is the outcome of one reconciliation run. It is produced fresh on
// every invocation and never persisted by the reconciler itself.
type Result struct {
	Changed    bool   `json:"changed"`
	Message    string `json:"message"`
	Status     string `json:"status,omitempty"`
	Failed     string `json:"failed,omitempty"`
	ConfigPath string `json:"configPath"`
}

// Deps carries injectable collaborators; zero-value fields fall back to the
// real implementations.
type Deps struct {
	NewController func(unit string) (ServiceController, error)
	NewNAT        func(wanInterface string) NATConfigurator
	Provisioner   PKIProvisioner
	Runner        CommandRunner
	LookPath      func(file string) (string, error)
	DebianMarker  string
	RedHatMarker  string
}

// Reconciler applies configuration requests to the host.
type Reconciler struct {
	newController func(unit string) (ServiceController, error)
	newNAT        func(wanInterface string) NATConfigurator
	provisioner   PKIProvisioner
	runner        CommandRunner
	lookPath      func(file string) (string, error)
	debianMarker  string
	redhatMarker  string
}

// New creates a reconciler using the real system collaborators.
func New() *Reconciler {
	return NewWithDeps(Deps{})
}

// NewWithDeps creates a reconciler with custom collaborators for tests.
func NewWithDeps(deps Deps) *Reconciler {
	r := &Reconciler{
		newController: deps.NewController,
		newNAT:        deps.NewNAT,
		provisioner:   deps.Provisioner,
		runner:        deps.Runner,
		lookPath:      deps.LookPath,
		debianMarker:  deps.DebianMarker,
		redhatMarker:  deps.RedHatMarker,
	}
	if r.newController == nil {
		r.newController = func(unit string) (ServiceController, error) {
			return service.NewController(unit)
		}
	}
	if r.newNAT == nil {
		r.newNAT = func(wanInterface string) NATConfigurator {
			return nat.NewManager(wanInterface)
		}
	}
	if r.provisioner == nil {
		r.provisioner = pki.NewProvisioner()
	}
	if r.runner == nil {
		r.runner = execRunner{}
	}
	if r.lookPath == nil {
		r.lookPath = exec.LookPath
	}
	if r.debianMarker == "" {
		r.debianMarker = "/etc/debian_version"
	}
	if r.redhatMarker == "" {
		r.redhatMarker = "/etc/redhat-release"
	}
	return r
}

// Apply validates the request and performs its action. The returned Result
// always carries ConfigPath; on failure the Failed field mirrors the error.
func (r *Reconciler) Apply(req *request.Request) (Result, error) {
	result := Result{ConfigPath: req.ConfigFile}
	if err := req.Validate(); err != nil {
		result.Failed = err.Error()
		return result, err
	}

	var (
		notes   []string
		changed bool
		err     error
	)
	switch req.Action {
	case request.ActionInstall:
		changed, notes, err = r.install(req)
	case request.ActionConfigure:
		changed, notes, err = r.configure(req)
	case request.ActionStart, request.ActionStop, request.ActionRestart:
		changed, notes, err = r.serviceAction(req)
	case request.ActionStatus:
		result.Status, err = r.status(req)
	}
	if err != nil {
		result.Failed = err.Error()
		result.Changed = changed
		result.Message = joinNotes(notes)
		return result, err
	}

	result.Changed = changed
	result.Message = joinNotes(notes)
	return result, nil
}

// install ensures packages are present and optionally provisions PKI
// material. An already-installed OpenVPN is success, not a change.
func (r *Reconciler) install(req *request.Request) (bool, []string, error) {
	var notes []string
	changed := false

	if _, err := r.lookPath("openvpn"); err != nil {
		if err := r.installPackages(); err != nil {
			return changed, notes, err
		}
		notes = append(notes, "OpenVPN installed")
		changed = true
	}

	if req.GeneratePKI {
		pkiChanged, pkiNotes, err := r.provisioner.Ensure(pki.Material{
			PKIDir:     req.PKIDir,
			CACert:     req.CACert,
			ServerCert: req.ServerCert,
			ServerKey:  req.ServerKey,
			DHPem:      req.DHPem,
			TLSAuthKey: req.TLSAuthKey,
			KeySize:    req.KeySize,
			CertDays:   req.CertDays,
		})
		if err != nil {
			return changed, notes, err
		}
		notes = append(notes, pkiNotes...)
		changed = changed || pkiChanged
	}
	return changed, notes, nil
}

func (r *Reconciler) installPackages() error {
	var commands [][]string
	switch {
	case exists(r.debianMarker):
		commands = [][]string{
			{"apt-get", "update"},
			{"apt-get", "install", "-y", "openvpn", "easy-rsa"},
		}
	case exists(r.redhatMarker):
		commands = [][]string{
			{"yum", "install", "-y", "openvpn", "easy-rsa"},
		}
	default:
		return fmt.Errorf("%w: install: unsupported operating system", ErrReconciliation)
	}
	for _, cmd := range commands {
		if out, err := r.runner.Output(cmd[0], cmd[1:]...); err != nil {
			return fmt.Errorf("%w: install: %s: %v: %s",
				ErrReconciliation, strings.Join(cmd, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// configure renders the target config, writes it only when the bytes differ
// from what is on disk, reconciles CCD files, and applies NAT. The byte
// diff is the sole idempotence check.
func (r *Reconciler) configure(req *request.Request) (bool, []string, error) {
	var notes []string
	changed := false

	target := render.ServerConfig(req)
	current, err := os.ReadFile(req.ConfigFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return changed, notes, fmt.Errorf("%w: configure: read %s: %v", ErrReconciliation, req.ConfigFile, err)
	}
	if string(current) != target {
		if err := writeFileAtomic(req.ConfigFile, []byte(target), 0o644); err != nil {
			return changed, notes, fmt.Errorf("%w: configure: write %s: %v", ErrReconciliation, req.ConfigFile, err)
		}
		notes = append(notes, fmt.Sprintf("Configuration written to %s", req.ConfigFile))
		changed = true
	}

	ccdChanged, ccdNotes, err := r.reconcileCCD(req)
	if err != nil {
		return changed, notes, err
	}
	notes = append(notes, ccdNotes...)
	changed = changed || ccdChanged

	if req.EnableNAT {
		added, err := r.newNAT(req.NATInterface).EnsureMasquerade(req.VPNNetwork)
		if err != nil {
			return changed, notes, fmt.Errorf("%w: configure: %v", ErrReconciliation, err)
		}
		if added {
			notes = append(notes, "NAT masquerading configured")
			changed = true
		}
	}
	return changed, notes, nil
}

// reconcileCCD writes one file per configured client. Reconciliation is
// additive: files for clients no longer in the mapping are left alone.
func (r *Reconciler) reconcileCCD(req *request.Request) (bool, []string, error) {
	if len(req.CCDEntries) == 0 {
		return false, nil, nil
	}
	if err := os.MkdirAll(req.CCDDir, 0o755); err != nil {
		return false, nil, fmt.Errorf("%w: configure: create ccd directory %s: %v", ErrReconciliation, req.CCDDir, err)
	}

	names := make([]string, 0, len(req.CCDEntries))
	for name := range req.CCDEntries {
		names = append(names, name)
	}
	sort.Strings(names)

	var notes []string
	changed := false
	for _, name := range names {
		path := filepath.Join(req.CCDDir, name)
		content := render.CCDFile(req.CCDEntries[name])
		current, err := os.ReadFile(path)
		if err == nil && string(current) == content {
			continue
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return changed, notes, fmt.Errorf("%w: configure: read ccd file %s: %v", ErrReconciliation, path, err)
		}
		if err := writeFileAtomic(path, []byte(content), 0o600); err != nil {
			return changed, notes, fmt.Errorf("%w: configure: write ccd file %s: %v", ErrReconciliation, path, err)
		}
		notes = append(notes, fmt.Sprintf("Wrote CCD for %s", name))
		changed = true
	}
	return changed, notes, nil
}

// serviceAction drives start/stop/restart. Changed reflects whether the
// observed state before the call differed from the target state; a restart
// always bounces the process and therefore always counts as a change.
func (r *Reconciler) serviceAction(req *request.Request) (bool, []string, error) {
	ctl, err := r.newController(req.ServiceUnit)
	if err != nil {
		return false, nil, err
	}

	switch req.Action {
	case request.ActionStart:
		active, state, err := ctl.IsActive()
		if err != nil {
			return false, nil, err
		}
		if active {
			return false, []string{fmt.Sprintf("Service already %s", state)}, nil
		}
		if err := ctl.Start(); err != nil {
			return false, nil, err
		}
		return true, []string{"Service start successful"}, nil

	case request.ActionStop:
		active, state, err := ctl.IsActive()
		if err != nil {
			return false, nil, err
		}
		if !active {
			return false, []string{fmt.Sprintf("Service already %s", state)}, nil
		}
		if err := ctl.Stop(); err != nil {
			return false, nil, err
		}
		return true, []string{"Service stop successful"}, nil

	default:
		if err := ctl.Restart(); err != nil {
			return false, nil, err
		}
		return true, []string{"Service restart successful"}, nil
	}
}

// status is read-only: it never writes and never reports a change.
func (r *Reconciler) status(req *request.Request) (string, error) {
	ctl, err := r.newController(req.ServiceUnit)
	if err != nil {
		return "", err
	}
	return ctl.Status()
}

func joinNotes(notes []string) string {
	if len(notes) == 0 {
		return "No changes"
	}
	return strings.Join(notes, " | ")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, mode); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
