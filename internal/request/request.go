// Package request defines the declarative configuration request accepted by
// the reconciler and the validation that normalizes it before any state
// change happens.
package request

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Modes.
const (
	ModeServer = "server"
	ModeClient = "client"
)

// Actions.
const (
	ActionInstall   = "install"
	ActionConfigure = "configure"
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionRestart   = "restart"
	ActionStatus    = "status"
)

// Topologies.
const (
	TopologySubnet = "subnet"
	TopologyNet30  = "net30"
	TopologyP2P    = "p2p"
)

// CCDEntry is the canonical form of one client-config-dir entry: the static
// address and netmask pushed to a client via ifconfig-push.
type CCDEntry struct {
	IP      string `json:"ip"`
	Netmask string `json:"netmask"`
}

// CCDValue accepts the two wire shapes a CCD entry may arrive in: a
// two-element list of strings or a single space-delimited string. Validation
// collapses both into a CCDEntry; nothing downstream sees the raw shape.
type CCDValue struct {
	tokens []string
}

// Tokens returns the raw whitespace-split tokens of the value.
func (v CCDValue) Tokens() []string {
	return v.tokens
}

// NewCCDValue builds a CCDValue from tokens, mainly for tests and the
// one-shot CLI path.
func NewCCDValue(tokens ...string) CCDValue {
	return CCDValue{tokens: tokens}
}

// UnmarshalJSON accepts either `["ip","mask"]` or `"ip mask"`.
func (v *CCDValue) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		v.tokens = splitTokens(list)
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		v.tokens = strings.Fields(single)
		return nil
	}
	return fmt.Errorf("ccd value must be a string or a list of strings")
}

// MarshalJSON emits the canonical list shape.
func (v CCDValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.tokens)
}

func splitTokens(list []string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, strings.Fields(item)...)
	}
	return out
}

// Request is the declarative desired state for one reconciler invocation.
// Decode JSON into Defaults() so absent fields keep their documented
// default values.
type Request struct {
	Mode   string `json:"mode"`
	Action string `json:"action"`

	ConfigFile string `json:"configFile"`
	CACert     string `json:"caCert"`
	ServerCert string `json:"serverCert"`
	ServerKey  string `json:"serverKey"`
	DHPem      string `json:"dhPem"`
	TLSAuthKey string `json:"tlsAuthKey"`

	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Cipher   string `json:"cipher"`

	VPNNetwork string `json:"vpnNetwork"`
	VPNNetmask string `json:"vpnNetmask"`
	Topology   string `json:"topology"`

	EnableNAT      bool   `json:"enableNat"`
	NATInterface   string `json:"natInterface"`
	EnableCompress bool   `json:"enableCompress"`
	ClientToClient bool   `json:"clientToClient"`
	DuplicateCN    bool   `json:"duplicateCn"`
	MSSFix         bool   `json:"mssfix"`
	Fragment       int    `json:"fragment"`

	Routes          []string `json:"routes"`
	RedirectGateway bool     `json:"redirectGateway"`
	DNSServers      []string `json:"dnsServers"`

	CCD    map[string]CCDValue `json:"ccd"`
	CCDDir string              `json:"ccdDir"`

	ExtraServerOptions []string `json:"extraServerOptions"`

	GeneratePKI bool   `json:"generatePki"`
	PKIDir      string `json:"pkiDir"`
	KeySize     int    `json:"keySize"`
	CertDays    int    `json:"certDays"`

	ServiceUnit string `json:"serviceUnit"`

	// CCDEntries is the canonical CCD mapping produced by Validate.
	CCDEntries map[string]CCDEntry `json:"-"`
}

// Defaults returns a request populated with the documented defaults.
// Callers decode user JSON into the returned value so unset fields keep
// their defaults.
func Defaults() Request {
	return Request{
		ConfigFile:      "/etc/openvpn/server.conf",
		CACert:          "/etc/openvpn/ca.crt",
		ServerCert:      "/etc/openvpn/server.crt",
		ServerKey:       "/etc/openvpn/server.key",
		DHPem:           "/etc/openvpn/dh.pem",
		TLSAuthKey:      "/etc/openvpn/ta.key",
		Port:            1194,
		Protocol:        "udp",
		Cipher:          "AES-256-CBC",
		VPNNetwork:      "10.8.0.0/24",
		VPNNetmask:      "255.255.255.0",
		Topology:        TopologySubnet,
		EnableNAT:       true,
		NATInterface:    "eth0",
		EnableCompress:  true,
		MSSFix:          true,
		RedirectGateway: true,
		DNSServers:      []string{"8.8.8.8", "8.8.4.4"},
		CCDDir:          "/etc/openvpn/ccd",
		PKIDir:          "/etc/openvpn/easy-rsa",
		KeySize:         2048,
		CertDays:        3650,
		ServiceUnit:     "openvpn@server",
	}
}

// Decode parses a JSON request on top of the defaults.
func Decode(data []byte) (Request, error) {
	req := Defaults()
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}
