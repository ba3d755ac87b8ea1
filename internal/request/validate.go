package request

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"

	"go4.org/netipx"
)

// ErrInvalidParameter indicates the request failed validation before any
// state change. The wrapped message names the offending field.
var ErrInvalidParameter = errors.New("invalid parameter")

var clientNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

func invalidf(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidParameter, field, fmt.Sprintf(format, args...))
}

// Validate normalizes and checks the request in place. On success the
// request carries a canonical CCDEntries mapping and is safe to hand to the
// renderer and reconciler. Validation is pure: no filesystem or process
// access.
func (r *Request) Validate() error {
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	r.Protocol = strings.ToLower(strings.TrimSpace(r.Protocol))
	r.Topology = strings.ToLower(strings.TrimSpace(r.Topology))

	switch r.Mode {
	case ModeServer, ModeClient:
	case "":
		return invalidf("mode", "is required")
	default:
		return invalidf("mode", "must be one of server, client; got %q", r.Mode)
	}

	switch r.Action {
	case ActionInstall, ActionConfigure, ActionStart, ActionStop, ActionRestart, ActionStatus:
	case "":
		return invalidf("action", "is required")
	default:
		return invalidf("action", "must be one of install, configure, start, stop, restart, status; got %q", r.Action)
	}

	switch r.Protocol {
	case "udp", "tcp":
	default:
		return invalidf("protocol", "must be udp or tcp; got %q", r.Protocol)
	}

	switch r.Topology {
	case TopologySubnet, TopologyNet30, TopologyP2P:
	default:
		return invalidf("topology", "must be one of subnet, net30, p2p; got %q", r.Topology)
	}

	if r.Port < 1 || r.Port > 65535 {
		return invalidf("port", "must be between 1 and 65535; got %d", r.Port)
	}
	if r.Fragment < 0 {
		return invalidf("fragment", "must not be negative; got %d", r.Fragment)
	}
	if r.KeySize != 2048 && r.KeySize != 4096 {
		return invalidf("keySize", "must be 2048 or 4096; got %d", r.KeySize)
	}
	if r.CertDays < 1 {
		return invalidf("certDays", "must be a positive number of days; got %d", r.CertDays)
	}
	if strings.TrimSpace(r.Cipher) == "" {
		return invalidf("cipher", "is required")
	}
	if strings.TrimSpace(r.ConfigFile) == "" {
		return invalidf("configFile", "is required")
	}
	if strings.TrimSpace(r.ServiceUnit) == "" {
		return invalidf("serviceUnit", "is required")
	}

	network, err := parseIPv4Network(r.VPNNetwork)
	if err != nil {
		return invalidf("vpnNetwork", "%v", err)
	}
	if err := validateNetmask(r.VPNNetmask); err != nil {
		return invalidf("vpnNetmask", "%v", err)
	}

	for i, route := range r.Routes {
		if err := validateRoute(route); err != nil {
			return invalidf("routes", "entry %d (%q): %v", i, route, err)
		}
	}
	for i, dns := range r.DNSServers {
		addr, err := netip.ParseAddr(strings.TrimSpace(dns))
		if err != nil || !addr.Is4() {
			return invalidf("dnsServers", "entry %d (%q) is not an IPv4 address", i, dns)
		}
	}

	entries, err := normalizeCCD(r.CCD, network)
	if err != nil {
		return err
	}
	r.CCDEntries = entries
	return nil
}

// parseIPv4Network parses an IPv4 CIDR and requires the address to be the
// network address (host bits zero).
func parseIPv4Network(cidr string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("must be IPv4 CIDR notation (e.g. 10.8.0.0/24)")
	}
	if !prefix.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("must be an IPv4 network")
	}
	if prefix.Masked() != prefix {
		return netip.Prefix{}, fmt.Errorf("%s is not a network address", prefix.Addr())
	}
	return prefix, nil
}

// validateNetmask requires a dotted-quad mask with contiguous set bits.
func validateNetmask(raw string) error {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("must be a dotted-quad netmask")
	}
	mask := net.IPMask(ip.To4())
	if ones, bits := mask.Size(); ones == 0 && bits == 0 {
		return fmt.Errorf("%s is not a contiguous netmask", raw)
	}
	return nil
}

// validateRoute accepts "network netmask" or plain CIDR route strings; the
// value is pushed to clients verbatim.
func validateRoute(route string) error {
	fields := strings.Fields(route)
	switch len(fields) {
	case 1:
		if _, err := netip.ParsePrefix(fields[0]); err == nil {
			return nil
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil || !addr.Is4() {
			return fmt.Errorf("must be an IPv4 network")
		}
		return nil
	case 2:
		addr, err := netip.ParseAddr(fields[0])
		if err != nil || !addr.Is4() {
			return fmt.Errorf("network is not an IPv4 address")
		}
		return validateNetmask(fields[1])
	default:
		return fmt.Errorf("must be \"network netmask\" or CIDR")
	}
}

// normalizeCCD collapses list and string shaped entries into CCDEntry values
// and checks each static address sits inside the VPN network.
func normalizeCCD(raw map[string]CCDValue, network netip.Prefix) (map[string]CCDEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var builder netipx.IPSetBuilder
	builder.AddPrefix(network)
	set, err := builder.IPSet()
	if err != nil {
		return nil, invalidf("vpnNetwork", "%v", err)
	}

	entries := make(map[string]CCDEntry, len(raw))
	for client, value := range raw {
		if !clientNamePattern.MatchString(client) {
			return nil, invalidf("ccd", "client name %q is not filesystem safe", client)
		}
		tokens := value.Tokens()
		if len(tokens) != 2 {
			return nil, invalidf("ccd", "entry for %q must have exactly two tokens (ip netmask); got %d", client, len(tokens))
		}
		addr, err := netip.ParseAddr(tokens[0])
		if err != nil || !addr.Is4() {
			return nil, invalidf("ccd", "entry for %q: %q is not an IPv4 address", client, tokens[0])
		}
		if err := validateNetmask(tokens[1]); err != nil {
			return nil, invalidf("ccd", "entry for %q: %v", client, err)
		}
		if !set.Contains(addr) {
			return nil, invalidf("ccd", "entry for %q: %s is outside %s", client, addr, network)
		}
		entries[client] = CCDEntry{IP: tokens[0], Netmask: tokens[1]}
	}
	return entries, nil
}
