package core

// SpecVersion is the only record version this client understands.
const SpecVersion = "aid1"

// Protocol tokens.
const (
	ProtoA2A     = "a2a"
	ProtoLocal   = "local"
	ProtoMCP     = "mcp"
	ProtoOpenAPI = "openapi"
)

// Auth tokens.
const (
	AuthAPIKey       = "apikey"
	AuthBasic        = "basic"
	AuthCustom       = "custom"
	AuthMTLS         = "mtls"
	AuthNone         = "none"
	AuthOAuth2Code   = "oauth2_code"
	AuthOAuth2Device = "oauth2_device"
	AuthPAT          = "pat"
)

// DNSSubdomain is the reserved label AID records are published under.
const DNSSubdomain = "_agent"

// Informational TTL guidance for published records, in seconds.
const (
	DNSTTLMin = 300
	DNSTTLMax = 900
)

// supportedProtos is the active protocol token set. Adding a token here is
// all the parser needs to accept it; tokens that require a URI scheme other
// than https must also be added to protoURISchemes.
var supportedProtos = map[string]bool{
	ProtoA2A:     true,
	ProtoLocal:   true,
	ProtoMCP:     true,
	ProtoOpenAPI: true,
}

// protoURISchemes maps a protocol token to the URI scheme prefix its records
// must carry. Tokens absent from this map require "https://". ProtoLocal is
// exempt entirely: its scheme allow-list is enforced by consumers, not here.
var protoURISchemes = map[string]string{}

var supportedAuthTokens = map[string]bool{
	AuthAPIKey:       true,
	AuthBasic:        true,
	AuthCustom:       true,
	AuthMTLS:         true,
	AuthNone:         true,
	AuthOAuth2Code:   true,
	AuthOAuth2Device: true,
	AuthPAT:          true,
}

// LocalURISchemes lists the URI schemes a consumer should accept for
// records with proto=local. The parser does not enforce this list.
var LocalURISchemes = []string{"docker", "npx", "pip"}

// IsSupportedProto reports whether token is in the active protocol set.
func IsSupportedProto(token string) bool {
	return supportedProtos[token]
}

// IsSupportedAuth reports whether token is in the active auth token set.
func IsSupportedAuth(token string) bool {
	return supportedAuthTokens[token]
}
