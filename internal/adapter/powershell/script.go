package powershell

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/tenantdesk/exojobs/internal/ports"
)

// ErrNulCharacter is returned for values PowerShell cannot carry inside a literal
var ErrNulCharacter = errors.New("value contains a NUL character")

// quoteRunes are every character PowerShell accepts as a single quote
var quoteRunes = map[rune]bool{
	'\'':     true,
	'\u2018': true,
	'\u2019': true,
	'\u201A': true,
	'\u201B': true,
}

// QuoteLiteral renders s as a single-quoted PowerShell string literal.
// Nothing inside a single-quoted literal is expanded; the only escape is a
// doubled quote character.
func QuoteLiteral(s string) (string, error) {
	if strings.ContainsRune(s, 0) {
		return "", ErrNulCharacter
	}

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		if quoteRunes[r] {
			b.WriteRune(r)
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String(), nil
}

// BuildSessionScript wraps commandBlock in an Exchange Online session.
// Connect runs inside try so the finally block disconnects whenever a
// connect was attempted, even if it failed half way.
func BuildSessionScript(creds ports.Credentials, commandBlock string) (string, error) {
	appID, err := QuoteLiteral(creds.AppID)
	if err != nil {
		return "", fmt.Errorf("EXO_APP_ID: %w", err)
	}
	thumbprint, err := QuoteLiteral(creds.CertificateThumbprint)
	if err != nil {
		return "", fmt.Errorf("EXO_CERT_THUMBPRINT: %w", err)
	}
	org, err := QuoteLiteral(creds.TenantID)
	if err != nil {
		return "", fmt.Errorf("EXO_TENANT_ID: %w", err)
	}

	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString("$ProgressPreference = 'SilentlyContinue'\n")
	b.WriteString("try {\n")
	fmt.Fprintf(&b, "    Connect-ExchangeOnline -AppId %s -CertificateThumbprint %s -Organization %s -ShowBanner:$false\n", appID, thumbprint, org)
	for _, line := range strings.Split(strings.TrimRight(commandBlock, "\r\n"), "\n") {
		b.WriteString("    ")
		b.WriteString(strings.TrimRight(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteString("} finally {\n")
	b.WriteString("    Disconnect-ExchangeOnline -Confirm:$false -ErrorAction SilentlyContinue\n")
	b.WriteString("}\n")
	return b.String(), nil
}

// EncodeCommand produces the -EncodedCommand argument: base64 of UTF-16LE
func EncodeCommand(script string) string {
	units := utf16.Encode([]rune(script))
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	return base64.StdEncoding.EncodeToString(raw)
}
