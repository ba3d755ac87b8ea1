package render

import (
	"strings"
	"testing"

	"openvpn-configd/internal/request"
)

func serverRequest(t *testing.T) *request.Request {
	t.Helper()
	req := request.Defaults()
	req.Mode = request.ModeServer
	req.Action = request.ActionConfigure
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return &req
}

func TestServerConfigDeterministic(t *testing.T) {
	req := serverRequest(t)
	req.Routes = []string{"192.168.1.0 255.255.255.0", "192.168.2.0 255.255.255.0"}
	req.CCD = map[string]request.CCDValue{
		"alice": request.NewCCDValue("10.8.0.2", "255.255.255.0"),
		"bob":   request.NewCCDValue("10.8.0.3 255.255.255.0"),
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	first := ServerConfig(req)
	for i := 0; i < 20; i++ {
		if got := ServerConfig(req); got != first {
			t.Fatalf("render %d differs from first render", i)
		}
	}
}

func TestServerConfigCoreDirectives(t *testing.T) {
	req := serverRequest(t)
	req.Port = 443
	req.Protocol = "tcp"
	req.Cipher = "AES-256-GCM"
	text := ServerConfig(req)

	for _, want := range []string{
		"port 443\n",
		"proto tcp\n",
		"dev tun\n",
		"ca /etc/openvpn/ca.crt\n",
		"cert /etc/openvpn/server.crt\n",
		"key /etc/openvpn/server.key\n",
		"dh /etc/openvpn/dh.pem\n",
		"cipher AES-256-GCM\n",
		"tls-auth /etc/openvpn/ta.key 0\n",
		"server 10.8.0.0 255.255.255.0\n",
		"topology subnet\n",
		"push \"dhcp-option DNS 8.8.8.8\"\n",
		"push \"dhcp-option DNS 8.8.4.4\"\n",
		"push \"redirect-gateway def1 bypass-dhcp\"\n",
		"mssfix\n",
		"compress lz4\n",
		"status openvpn-status.log\n",
		"keepalive 10 120\n",
		"persist-key\n",
		"persist-tun\n",
		"user nobody\n",
		"group nogroup\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("rendered config missing %q:\n%s", want, text)
		}
	}
}

func TestServerConfigOptionalDirectives(t *testing.T) {
	req := serverRequest(t)
	req.ClientToClient = true
	req.DuplicateCN = true
	req.Fragment = 1400
	text := ServerConfig(req)

	if !strings.Contains(text, "client-to-client\n") {
		t.Fatalf("missing client-to-client:\n%s", text)
	}
	if !strings.Contains(text, "duplicate-cn\n") {
		t.Fatalf("missing duplicate-cn:\n%s", text)
	}
	if !strings.Contains(text, "fragment 1400\n") {
		t.Fatalf("missing fragment:\n%s", text)
	}
}

func TestServerConfigOmitsDisabledDirectives(t *testing.T) {
	req := serverRequest(t)
	req.EnableCompress = false
	req.MSSFix = false
	req.RedirectGateway = false
	req.Fragment = 0
	text := ServerConfig(req)

	for _, absent := range []string{"compress", "mssfix", "redirect-gateway", "fragment", "client-to-client", "duplicate-cn"} {
		if strings.Contains(text, absent) {
			t.Fatalf("rendered config should not contain %q:\n%s", absent, text)
		}
	}
}

func TestServerConfigP2PSkipsTopology(t *testing.T) {
	req := serverRequest(t)
	req.Topology = request.TopologyP2P
	if strings.Contains(ServerConfig(req), "topology") {
		t.Fatal("p2p topology must not emit a topology directive")
	}
}

func TestServerConfigExtraOptionsVerbatimAtEnd(t *testing.T) {
	req := serverRequest(t)
	req.ExtraServerOptions = []string{"management 127.0.0.1 7505", "max-clients 50"}
	text := ServerConfig(req)

	idx := strings.Index(text, "management 127.0.0.1 7505\nmax-clients 50\n")
	if idx < 0 {
		t.Fatalf("extra options missing or reordered:\n%s", text)
	}
	if !strings.HasSuffix(text, "max-clients 50\n") {
		t.Fatalf("extra options must come last:\n%s", text)
	}
}

func TestServerConfigCCDDirectiveOnlyWithEntries(t *testing.T) {
	plain := serverRequest(t)
	if strings.Contains(ServerConfig(plain), "client-config-dir") {
		t.Fatal("client-config-dir emitted without entries")
	}

	withCCD := serverRequest(t)
	withCCD.CCD = map[string]request.CCDValue{
		"alice": request.NewCCDValue("10.8.0.2", "255.255.255.0"),
	}
	if err := withCCD.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !strings.Contains(ServerConfig(withCCD), "client-config-dir /etc/openvpn/ccd\n") {
		t.Fatal("client-config-dir directive missing")
	}
}

func TestCCDFile(t *testing.T) {
	entry := request.CCDEntry{IP: "10.8.0.2", Netmask: "255.255.255.0"}
	if got := CCDFile(entry); got != "ifconfig-push 10.8.0.2 255.255.255.0\n" {
		t.Fatalf("unexpected ccd content: %q", got)
	}
}

func TestRouteLines(t *testing.T) {
	req := serverRequest(t)
	req.Routes = []string{"192.168.1.0 255.255.255.0"}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !strings.Contains(ServerConfig(req), "push \"route 192.168.1.0 255.255.255.0\"\n") {
		t.Fatal("route push line missing")
	}
}
