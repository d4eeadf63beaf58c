package model

import (
	"strings"
	"time"
)

// RecordType はDNSレコード種別を表す。
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeMX    RecordType = "MX"
	RecordTypeTXT   RecordType = "TXT"
	RecordTypeNS    RecordType = "NS"
)

const (
	// DefaultRecordType はレコード種別が省略された場合の値。
	DefaultRecordType = RecordTypeCNAME
	// DefaultTTL はTTLが省略された場合の値（秒）。
	DefaultTTL = 3600
	// MaxPriority はMXレコードの優先度の上限。
	MaxPriority = 65535
)

// RecordTypes は受け付けるレコード種別の一覧。
var RecordTypes = []RecordType{
	RecordTypeA,
	RecordTypeAAAA,
	RecordTypeCNAME,
	RecordTypeMX,
	RecordTypeTXT,
	RecordTypeNS,
}

// ParseRecordType は大文字小文字を区別せずにレコード種別を解析する。
func ParseRecordType(s string) (RecordType, bool) {
	rt := RecordType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range RecordTypes {
		if rt == t {
			return rt, true
		}
	}
	return "", false
}

// Subdomain はユーザーが所有するサブドメインとそのDNSレコード設定を表す。
type Subdomain struct {
	ID           int64
	Subdomain    string // ラベル（小文字）
	TargetDomain string
	RecordType   RecordType
	TTL          int
	Priority     *int // RecordTypeがMXの場合のみ設定される
	UserID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SubdomainInput はサブドメイン作成・更新時の入力値を表す。
// ハンドラー層で検証・正規化済みであることを前提とする。
type SubdomainInput struct {
	Subdomain    string
	TargetDomain string
	RecordType   RecordType
	TTL          int
	Priority     *int
}
