/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package security parses the IRM header's auth-method byte into a
// SecurityContext and validates it against the authority model (spec.md
// §4.10): prefix-wildcard authority matching, group-derived default
// authorities, and an administrative override.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	liberr "github.com/imsconnect/gateway/errors"
)

const (
	CodeUnsupportedAuth liberr.CodeError = liberr.MinPkgSecurity + iota
	CodeTokenExpired
	CodeUnauthorizedTransaction
	CodeUnauthorizedResource
	CodeValidationFailed
)

func init() {
	liberr.RegisterIdFctMessage(liberr.MinPkgSecurity, func(code liberr.CodeError) string {
		switch code {
		case CodeUnsupportedAuth:
			return "unsupported authentication method"
		case CodeTokenExpired:
			return "security token expired"
		case CodeUnauthorizedTransaction:
			return "principal not authorized to execute transaction"
		case CodeUnauthorizedResource:
			return "principal not authorized for resource"
		case CodeValidationFailed:
			return "security validation failed"
		default:
			return liberr.UnknownMessage
		}
	})
}

// AuthMethod mirrors the header auth-method byte.
type AuthMethod byte

const (
	AuthNone       AuthMethod = 0
	AuthPassword   AuthMethod = 1
	AuthPassticket AuthMethod = 2
)

const (
	PasswordExpiry   = 8 * time.Hour
	PassticketExpiry = 10 * time.Minute
)

// SystemAuthority is always required for any gateway-level operation
// (spec.md §4.10 validate_minimum).
const SystemAuthority = "IMS.CONNECT"

const AdminOverride = "IMS.ADMIN.*"

// SecurityContext is the resolved principal for one connection/transaction.
type SecurityContext struct {
	UserID      string
	GroupID     string
	Authorities []string
	Token       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether ctx's token has passed its expiry.
func (c *SecurityContext) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// groupAuthorities is the static group -> default-authority table
// (spec.md §4.10).
var groupAuthorities = map[string][]string{
	"BANKOPER":  {"IMS.TXN.BALINQ", "IMS.TXN.TRANSFER", "IMS.TXN.DEPOSIT", "IMS.TXN.WITHDRAW", "BANKING.TRANSFER"},
	"BANKADMIN": {"IMS.TXN.*", "IMS.ADMIN.*", "BANKING.TRANSFER"},
	"READONLY":  {"IMS.TXN.BALINQ", "IMS.TXN.INQUIRY"},
}

var defaultAuthorities = []string{"IMS.TXN.BALINQ"}

func groupDefaultAuthorities(group string) []string {
	if auths, ok := groupAuthorities[group]; ok {
		return append([]string(nil), auths...)
	}
	return append([]string(nil), defaultAuthorities...)
}

// userPrefixAuthorities layers extra authorities derived from the user id's
// prefix on top of the group table (spec.md §4.10: ADMIN*/OPER*/READ*).
func userPrefixAuthorities(userID string) []string {
	switch {
	case strings.HasPrefix(userID, "ADMIN"):
		return []string{"IMS.ADMIN.*"}
	case strings.HasPrefix(userID, "OPER"):
		return []string{"IMS.TXN.TRANSFER", "IMS.TXN.DEPOSIT", "IMS.TXN.WITHDRAW"}
	case strings.HasPrefix(userID, "READ"):
		return []string{"IMS.TXN.BALINQ", "IMS.TXN.INQUIRY"}
	default:
		return nil
	}
}

// deriveToken produces a deterministic, non-reversible token for (userID,
// secret) using HKDF over a random per-process salt, then hex-encodes it.
// The secret (password or passticket) never appears in the token itself.
func deriveToken(userID, secret string, salt []byte) (string, error) {
	kdf := hkdf.New(sha256.New, []byte(secret), salt, []byte(userID))
	out := make([]byte, 16)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return "", err
	}
	return hex.EncodeToString(out), nil
}

var processSalt = func() []byte {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return b
}()

// Parser turns header fields into a SecurityContext.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser { return &Parser{} }

// Authenticate resolves auth method, user, password/passticket, and group
// into a SecurityContext. Password auth requires a non-empty user and
// secret; unsupported methods fail with CodeUnsupportedAuth.
func (p *Parser) Authenticate(method AuthMethod, userID, groupID, secret string) (*SecurityContext, liberr.Error) {
	switch method {
	case AuthPassword:
		if userID == "" || secret == "" {
			return nil, CodeUnsupportedAuth.Error(nil)
		}
		return p.build(userID, groupID, secret, PasswordExpiry)
	case AuthPassticket:
		if userID == "" || secret == "" {
			return nil, CodeUnsupportedAuth.Error(nil)
		}
		return p.build(userID, groupID, secret, PassticketExpiry)
	default:
		return nil, CodeUnsupportedAuth.Error(nil)
	}
}

func (p *Parser) build(userID, groupID, secret string, expiry time.Duration) (*SecurityContext, liberr.Error) {
	token, err := deriveToken(userID, secret, processSalt)
	if err != nil {
		return nil, CodeValidationFailed.Error(err)
	}

	auths := groupDefaultAuthorities(groupID)
	auths = append(auths, userPrefixAuthorities(userID)...)
	auths = append(auths, SystemAuthority)

	now := time.Now()
	return &SecurityContext{
		UserID:      userID,
		GroupID:     groupID,
		Authorities: auths,
		Token:       token,
		IssuedAt:    now,
		ExpiresAt:   now.Add(expiry),
	}, nil
}

// TokensEqual compares two token strings in constant time, used to defend
// token re-presentation checks against timing side channels.
func TokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Validator evaluates authority predicates against a SecurityContext.
// External is an optional RACF-style fallback collaborator consulted last.
type Validator struct {
	External func(ctx *SecurityContext, resource string) bool
}

// NewValidator returns a Validator with no external collaborator.
func NewValidator() *Validator { return &Validator{} }

func matches(authorities []string, want string) bool {
	for _, a := range authorities {
		if a == want {
			return true
		}
		if strings.HasSuffix(a, "*") && strings.HasPrefix(want, strings.TrimSuffix(a, "*")) {
			return true
		}
	}
	return false
}

func parentWildcard(resource string) string {
	if idx := strings.LastIndex(resource, "."); idx >= 0 {
		return resource[:idx+1] + "*"
	}
	return resource + ".*"
}

// authorize runs the resolution order from spec.md §4.10 except the group
// business rule: exact match, parent wildcard, admin override, then the
// external collaborator. The group rule for transfers lives in
// CanPerformOperation.
func (v *Validator) authorize(ctx *SecurityContext, resource string) bool {
	if matches(ctx.Authorities, resource) {
		return true
	}
	if matches(ctx.Authorities, parentWildcard(resource)) {
		return true
	}
	if matches(ctx.Authorities, AdminOverride) {
		return true
	}
	if v.External != nil {
		return v.External(ctx, resource)
	}
	return false
}

// CanExecuteTransaction reports whether ctx may run transaction code txnCode.
func (v *Validator) CanExecuteTransaction(ctx *SecurityContext, txnCode string) bool {
	return v.authorize(ctx, "IMS.TXN."+txnCode)
}

// CanAccessAccount reports whether ctx may access account.
func (v *Validator) CanAccessAccount(ctx *SecurityContext, account string) bool {
	return v.authorize(ctx, "IMS.ACCOUNT."+account)
}

// CanPerformOperation reports whether ctx may perform op on resource, with
// an additional business rule: transfers require both the operator group
// and an explicit BANKING.TRANSFER authority, and are granted once both
// hold (spec.md §4.10 step 4). Other operations need IMS.RESOURCE.<resource>.
func (v *Validator) CanPerformOperation(ctx *SecurityContext, op, resource string) bool {
	if strings.EqualFold(op, "transfer") {
		if ctx.GroupID != "BANKOPER" && ctx.GroupID != "BANKADMIN" {
			return false
		}
		if !matches(ctx.Authorities, "BANKING.TRANSFER") && !v.authorize(ctx, "BANKING.TRANSFER") {
			return false
		}
		return true
	}
	return v.authorize(ctx, "IMS.RESOURCE."+resource)
}

// ValidateMinimum fails if ctx is nil, expired, or missing the baseline
// IMS.CONNECT authority (spec.md §4.10 validate_minimum).
func (v *Validator) ValidateMinimum(ctx *SecurityContext, now time.Time) liberr.Error {
	if ctx == nil {
		return CodeValidationFailed.Error(nil)
	}
	if ctx.Expired(now) {
		return CodeTokenExpired.Error(nil)
	}
	if !matches(ctx.Authorities, SystemAuthority) && !matches(ctx.Authorities, AdminOverride) {
		return CodeValidationFailed.Error(nil)
	}
	return nil
}
