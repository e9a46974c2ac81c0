package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tidemq/broker/internal/topic"
)

// AccessLevel is the permission an ACL rule grants for a topic filter.
type AccessLevel byte

const (
	AccessDeny AccessLevel = iota
	AccessRead
	AccessWrite
	AccessReadWrite
)

func (a AccessLevel) allowsRead() bool  { return a == AccessRead || a == AccessReadWrite }
func (a AccessLevel) allowsWrite() bool { return a == AccessWrite || a == AccessReadWrite }

func parseAccess(s string) AccessLevel {
	switch strings.ToLower(s) {
	case "read":
		return AccessRead
	case "write":
		return AccessWrite
	case "readwrite", "read_write":
		return AccessReadWrite
	default:
		return AccessDeny
	}
}

// topicRuleFile is the TOML shape of one {topic, access} entry.
type topicRuleFile struct {
	Topic  string `toml:"topic"`
	Access string `toml:"access"`
}

type clientRuleFile struct {
	ClientID   string          `toml:"client_id"`
	TopicRules []topicRuleFile `toml:"topic_rules"`
}

type credentialFile struct {
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"` // sha256 hex
}

// authFileDoc is the on-disk TOML document described in spec section 6.
type authFileDoc struct {
	TopicAllRules    []topicRuleFile  `toml:"topic_all_rules"`
	TopicClientRules []clientRuleFile `toml:"topic_client_rules"`
	Credentials      []credentialFile `toml:"credentials"`
	IPWhitelist      []string         `toml:"ip_whitelist"`
	IPBlacklist      []string         `toml:"ip_blacklist"`
}

type compiledRule struct {
	filter string
	access AccessLevel
}

type credential struct {
	username     string
	passwordHash string // hex, lowercase
}

// clientIDPattern is substituted with the connecting client's id inside a
// topic_client_rules entry's topic, mirroring the original authenticator's
// per-client templating.
const clientIDPattern = "{client_id}"

// authFile is the compiled, in-memory form of an auth_file TOML document.
type authFile struct {
	allRules    []compiledRule
	clientRules map[string][]compiledRule // client_id -> rules, {client_id} substituted
	credentials map[string]credential     // client_id -> credential
	whitelist   []*net.IPNet
	blacklist   []*net.IPNet
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// loadAuthFile reads and compiles the TOML auth file at path.
func loadAuthFile(path string) (*authFile, error) {
	var doc authFileDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("auth: reading %s: %w", path, err)
	}

	af := &authFile{
		clientRules: make(map[string][]compiledRule),
		credentials: make(map[string]credential),
	}

	for _, r := range doc.TopicAllRules {
		af.allRules = append(af.allRules, compiledRule{filter: r.Topic, access: parseAccess(r.Access)})
	}

	for _, cr := range doc.TopicClientRules {
		rules := make([]compiledRule, 0, len(cr.TopicRules))
		for _, r := range cr.TopicRules {
			filter := strings.ReplaceAll(r.Topic, clientIDPattern, cr.ClientID)
			rules = append(rules, compiledRule{filter: filter, access: parseAccess(r.Access)})
		}
		af.clientRules[cr.ClientID] = rules
	}

	for _, c := range doc.Credentials {
		af.credentials[c.ClientID] = credential{username: c.Username, passwordHash: strings.ToLower(c.Password)}
	}

	for _, cidr := range doc.IPWhitelist {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("auth: ip_whitelist entry %q: %w", cidr, err)
		}
		af.whitelist = append(af.whitelist, ipnet)
	}
	for _, cidr := range doc.IPBlacklist {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("auth: ip_blacklist entry %q: %w", cidr, err)
		}
		af.blacklist = append(af.blacklist, ipnet)
	}

	return af, nil
}

func ipInAny(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// LoginRequest/LoginResponse are the JSON bodies exchanged with the HTTP
// authenticator plugin.
type LoginRequest struct {
	BrokerID   string `json:"broker_id"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	RemoteAddr string `json:"remote_addr"`
}

type LoginResponse struct {
	ConnectionAllowed bool             `json:"connection_allowed"`
	TopicsACL         []topicRuleFile  `json:"topics_acl,omitempty"`
}

// AuthConfig configures an Authenticator.
type AuthConfig struct {
	BrokerID         string
	AnonymousAllowed bool
	AuthFilePath     string
	AuthEndpoint     string
	AuthEndpointTimeout time.Duration
	ACLCacheSize     int
}

// Authenticator evaluates CONNECT credentials and SUBSCRIBE/PUBLISH ACL
// checks (component F), backed by either a TOML auth file or an HTTP
// authenticator plugin, never both.
type Authenticator struct {
	brokerID         string
	anonymousAllowed bool
	file             *authFile
	httpClient       *http.Client
	authEndpoint     string
	endpointTimeout  time.Duration

	aclCache *lru.Cache[string, bool]
}

// NewAuthenticator builds an Authenticator from cfg, loading the auth file
// if one is configured.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		brokerID:         cfg.BrokerID,
		anonymousAllowed: cfg.AnonymousAllowed,
		authEndpoint:     cfg.AuthEndpoint,
		endpointTimeout:  cfg.AuthEndpointTimeout,
	}

	if cfg.AuthFilePath != "" {
		af, err := loadAuthFile(cfg.AuthFilePath)
		if err != nil {
			return nil, err
		}
		a.file = af
	}

	if cfg.AuthEndpoint != "" {
		a.httpClient = &http.Client{Timeout: cfg.AuthEndpointTimeout}
	}

	size := cfg.ACLCacheSize
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, bool](size)
	if err != nil {
		return nil, fmt.Errorf("auth: building acl cache: %w", err)
	}
	a.aclCache = cache

	return a, nil
}

// Authenticate runs the five CONNECT-time checks from spec section 4.F.
func (a *Authenticator) Authenticate(ctx context.Context, remoteAddr net.Addr, clientID, username, password string) bool {
	ip := hostIP(remoteAddr)

	if a.file != nil {
		if len(a.file.whitelist) > 0 && !ipInAny(ip, a.file.whitelist) {
			return false
		}
		if ipInAny(ip, a.file.blacklist) {
			return false
		}

		if username == "" && password == "" {
			return a.anonymousAllowed
		}

		cred, ok := a.file.credentials[clientID]
		if !ok {
			return false
		}
		if cred.username != "" && cred.username != username {
			return false
		}
		want := []byte(cred.passwordHash)
		got := []byte(strings.ToLower(hashPassword(password)))
		if len(want) != len(got) {
			return false
		}
		return subtle.ConstantTimeCompare(want, got) == 1
	}

	if a.authEndpoint != "" {
		return a.authenticateHTTP(ctx, remoteAddr, clientID, username, password)
	}

	if username == "" && password == "" {
		return a.anonymousAllowed
	}
	return false
}

func (a *Authenticator) authenticateHTTP(ctx context.Context, remoteAddr net.Addr, clientID, username, password string) bool {
	req := LoginRequest{
		BrokerID:   a.brokerID,
		ClientID:   clientID,
		Username:   username,
		Password:   password,
		RemoteAddr: remoteAddr.String(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, a.endpointTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authEndpoint, bytes.NewReader(body))
	if err != nil {
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// Network error or timeout: deny, matching authenticator_server_client's
		// fail-closed behavior.
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false
	}

	var lr LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return false
	}
	return lr.ConnectionAllowed
}

// CheckACL evaluates whether clientID may access topic with the requested
// access (Read for SUBSCRIBE, Write for PUBLISH). Client rules take
// precedence over topic_all_rules; if neither source has a matching rule
// the access is denied.
func (a *Authenticator) CheckACL(clientID, topicName string, want AccessLevel) bool {
	if a.file == nil {
		return true // no auth file configured: ACL is not enforced
	}

	key := fmt.Sprintf("%s\x00%s\x00%d", clientID, topicName, want)
	if cached, ok := a.aclCache.Get(key); ok {
		return cached
	}

	allowed := a.evaluateACL(clientID, topicName, want)
	a.aclCache.Add(key, allowed)
	return allowed
}

func (a *Authenticator) evaluateACL(clientID, topicName string, want AccessLevel) bool {
	if rules, ok := a.file.clientRules[clientID]; ok {
		if access, matched := matchRules(rules, topicName); matched {
			return grants(access, want)
		}
	}
	if access, matched := matchRules(a.file.allRules, topicName); matched {
		return grants(access, want)
	}
	return false
}

// invalidateACLCache drops all cached decisions, e.g. after an auth file
// reload.
func (a *Authenticator) invalidateACLCache() {
	a.aclCache.Purge()
}

func matchRules(rules []compiledRule, topicName string) (AccessLevel, bool) {
	best := AccessLevel(0)
	matched := false
	for _, r := range rules {
		if topic.Match(r.filter, topicName) {
			matched = true
			if r.access > best {
				best = r.access
			}
		}
	}
	return best, matched
}

func grants(have, want AccessLevel) bool {
	switch want {
	case AccessRead:
		return have.allowsRead()
	case AccessWrite:
		return have.allowsWrite()
	default:
		return false
	}
}

func hostIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return net.ParseIP(addr.String())
		}
		return net.ParseIP(host)
	}
}
