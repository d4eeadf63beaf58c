// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/net/idna"

	"github.com/hitoshi/domainman/internal/model"
)

const (
	// maxHostnameLength はホスト名の最大長。
	maxHostnameLength = 253
	// maxTXTLength はTXTレコード値の最大長（1文字列あたりの上限）。
	maxTXTLength = 255
)

// ErrInvalidTarget はレコードの値が受け付けられないことを表す。
var ErrInvalidTarget = errors.New("invalid record target")

// allowedSchemes は外部API呼び出しで許可されるURLスキーム。
var allowedSchemes = []string{"https", "http"}

// blockedNetworks はレコードの値として登録を許可しないネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// CGNAT (RFC 6598)
		"100.64.0.0/10",
		// マルチキャスト
		"224.0.0.0/4",
		// IPv6ループバック
		"::1/128",
		// IPv6未指定アドレス
		"::/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
		// IPv6マルチキャスト
		"ff00::/8",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// DNSプロバイダーとGitHub APIの呼び出しに使用する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// プライベートIPやメタデータIPへの接続はDNS再バインディング経由でもブロックされる。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// TargetValidator はレコード種別に応じて値を検証するインターフェース。
type TargetValidator interface {
	// ValidateTarget は値を検証し、正規化した値を返す。
	ValidateTarget(recordType model.RecordType, value string) (string, error)
}

// TargetGuard はTargetValidatorの実装。
// 内部ネットワークを指すレコードの登録を防ぐ。
type TargetGuard struct{}

// NewTargetGuard はTargetGuardを生成する。
func NewTargetGuard() *TargetGuard {
	return &TargetGuard{}
}

// ValidateTarget はレコード種別ごとの規則で値を検証する。
//   - A: 公開IPv4アドレス
//   - AAAA: 公開IPv6アドレス
//   - CNAME, NS, MX: ASCII（punycode）に変換可能なホスト名
//   - TXT: 255バイト以下の印字可能ASCII
func (g *TargetGuard) ValidateTarget(recordType model.RecordType, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidTarget)
	}

	switch recordType {
	case model.RecordTypeA:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() == nil {
			return "", fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidTarget, value)
		}
		if isBlockedIP(ip) {
			return "", fmt.Errorf("%w: blocked IP address %s", ErrInvalidTarget, ip)
		}
		return ip.String(), nil

	case model.RecordTypeAAAA:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() != nil {
			return "", fmt.Errorf("%w: %q is not an IPv6 address", ErrInvalidTarget, value)
		}
		if isBlockedIP(ip) {
			return "", fmt.Errorf("%w: blocked IP address %s", ErrInvalidTarget, ip)
		}
		return ip.String(), nil

	case model.RecordTypeCNAME, model.RecordTypeNS, model.RecordTypeMX:
		return validateHostname(value)

	case model.RecordTypeTXT:
		if len(value) > maxTXTLength {
			return "", fmt.Errorf("%w: TXT value exceeds %d bytes", ErrInvalidTarget, maxTXTLength)
		}
		for i := 0; i < len(value); i++ {
			if value[i] < 0x20 || value[i] > 0x7e {
				return "", fmt.Errorf("%w: TXT value contains non-printable characters", ErrInvalidTarget)
			}
		}
		return value, nil
	}

	return "", fmt.Errorf("%w: unsupported record type %q", ErrInvalidTarget, recordType)
}

// validateHostname はホスト名をASCII形式に変換して検証する。
func validateHostname(value string) (string, error) {
	host := strings.TrimSuffix(value, ".")
	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("%w: hostname expected, got IP address %s", ErrInvalidTarget, host)
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: invalid hostname %q: %v", ErrInvalidTarget, value, err)
	}
	if len(ascii) > maxHostnameLength {
		return "", fmt.Errorf("%w: hostname exceeds %d characters", ErrInvalidTarget, maxHostnameLength)
	}
	if !strings.Contains(ascii, ".") {
		return "", fmt.Errorf("%w: hostname %q is not fully qualified", ErrInvalidTarget, ascii)
	}
	if isBlockedHostname(ascii) {
		return "", fmt.Errorf("%w: blocked host %s", ErrInvalidTarget, ascii)
	}
	return ascii, nil
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// blockedHostSuffixes は内部向けのホスト名サフィックス。
var blockedHostSuffixes = []string{
	".localhost",
	".local",
	".internal",
}

// isBlockedHostname はホスト名がブロック対象かを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.ToLower(host)
	for _, suffix := range blockedHostSuffixes {
		if lower == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

var _ TargetValidator = (*TargetGuard)(nil)
