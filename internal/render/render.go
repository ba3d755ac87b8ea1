// Package render produces OpenVPN configuration text from a validated
// request. Rendering is pure and deterministic: the same request always
// yields byte-identical output, which is what makes the reconciler's file
// diff a reliable idempotence check.
package render

import (
	"fmt"
	"net/netip"
	"strings"

	"openvpn-configd/internal/request"
)

// ServerConfig renders the full server.conf content for a server-mode
// request. Directive order is fixed; callers must not depend on any
// particular grouping beyond byte equality.
func ServerConfig(req *request.Request) string {
	var b strings.Builder

	b.WriteString("# OpenVPN server configuration managed by openvpn-configd\n")
	fmt.Fprintf(&b, "port %d\n", req.Port)
	fmt.Fprintf(&b, "proto %s\n", req.Protocol)
	b.WriteString("dev tun\n")
	b.WriteString("\n")

	fmt.Fprintf(&b, "ca %s\n", req.CACert)
	fmt.Fprintf(&b, "cert %s\n", req.ServerCert)
	fmt.Fprintf(&b, "key %s\n", req.ServerKey)
	fmt.Fprintf(&b, "dh %s\n", req.DHPem)
	b.WriteString("\n")

	fmt.Fprintf(&b, "cipher %s\n", req.Cipher)
	fmt.Fprintf(&b, "tls-auth %s 0\n", req.TLSAuthKey)
	b.WriteString("\n")

	fmt.Fprintf(&b, "server %s %s\n", networkAddress(req.VPNNetwork), req.VPNNetmask)
	if req.Topology != request.TopologyP2P {
		fmt.Fprintf(&b, "topology %s\n", req.Topology)
	}
	if len(req.CCDEntries) > 0 {
		fmt.Fprintf(&b, "client-config-dir %s\n", req.CCDDir)
	}
	if req.ClientToClient {
		b.WriteString("client-to-client\n")
	}
	if req.DuplicateCN {
		b.WriteString("duplicate-cn\n")
	}
	b.WriteString("\n")

	for _, route := range req.Routes {
		fmt.Fprintf(&b, "push \"route %s\"\n", route)
	}
	for _, dns := range req.DNSServers {
		fmt.Fprintf(&b, "push \"dhcp-option DNS %s\"\n", dns)
	}
	if req.RedirectGateway {
		b.WriteString("push \"redirect-gateway def1 bypass-dhcp\"\n")
	}

	if req.MSSFix {
		b.WriteString("mssfix\n")
	}
	if req.Fragment > 0 {
		fmt.Fprintf(&b, "fragment %d\n", req.Fragment)
	}
	if req.EnableCompress {
		b.WriteString("compress lz4\n")
	}
	b.WriteString("\n")

	b.WriteString("status openvpn-status.log\n")
	b.WriteString("keepalive 10 120\n")
	b.WriteString("persist-key\n")
	b.WriteString("persist-tun\n")
	b.WriteString("user nobody\n")
	b.WriteString("group nogroup\n")
	b.WriteString("verb 3\n")
	b.WriteString("mute 20\n")

	if len(req.ExtraServerOptions) > 0 {
		b.WriteString("\n")
		for _, opt := range req.ExtraServerOptions {
			b.WriteString(opt)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// CCDFile renders the content of one client-config-dir file.
func CCDFile(entry request.CCDEntry) string {
	return fmt.Sprintf("ifconfig-push %s %s\n", entry.IP, entry.Netmask)
}

// networkAddress extracts the bare network address from a CIDR string. The
// request validator guarantees the value parses; the fallback keeps the
// renderer total for callers that skip validation.
func networkAddress(cidr string) string {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return strings.TrimSpace(cidr)
	}
	return prefix.Masked().Addr().String()
}
