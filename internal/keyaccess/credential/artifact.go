package credential

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// RenderQR returns the token as a PNG data URI suitable for an <img> tag.
func RenderQR(token string) (string, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("credential: render qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// NDEF well-known record type "T" (text), single short record.
const (
	ndefHeaderShortText = 0xD1 // MB | ME | SR | TNF=well-known
	ndefTypeText        = 'T'
	ndefLangCode        = "en"
)

// EncodeNFC wraps the token in a single NDEF text record and returns it hex
// encoded for a tag writer. Tokens longer than a short record fall back to a
// long record.
func EncodeNFC(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("credential: empty token")
	}
	payload := make([]byte, 0, 1+len(ndefLangCode)+len(token))
	payload = append(payload, byte(len(ndefLangCode)))
	payload = append(payload, ndefLangCode...)
	payload = append(payload, token...)

	var rec []byte
	if len(payload) <= 0xFF {
		rec = append(rec, ndefHeaderShortText, 1, byte(len(payload)))
	} else {
		n := len(payload)
		rec = append(rec, ndefHeaderShortText&^0x10, 1,
			byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	rec = append(rec, ndefTypeText)
	rec = append(rec, payload...)
	return hex.EncodeToString(rec), nil
}

// DecodeNFC is the inverse of EncodeNFC.
func DecodeNFC(record string) (string, error) {
	b, err := hex.DecodeString(record)
	if err != nil || len(b) < 4 {
		return "", fmt.Errorf("%w: nfc record", ErrDecode)
	}
	short := b[0]&0x10 != 0
	typeLen := int(b[1])
	var n, off int
	if short {
		n, off = int(b[2]), 3
	} else {
		if len(b) < 7 {
			return "", fmt.Errorf("%w: nfc record", ErrDecode)
		}
		n, off = int(b[2])<<24|int(b[3])<<16|int(b[4])<<8|int(b[5]), 6
	}
	off += typeLen
	if off+n != len(b) || n < 1 {
		return "", fmt.Errorf("%w: nfc record length", ErrDecode)
	}
	p := b[off:]
	langLen := int(p[0] & 0x3F)
	if 1+langLen > len(p) {
		return "", fmt.Errorf("%w: nfc language code", ErrDecode)
	}
	return string(p[1+langLen:]), nil
}
