package authcore

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Protocol constants matching standard authenticator apps.
const (
	totpDigits      = otp.DigitsSix
	totpPeriod      = 30
	totpSkew        = 1
	totpSecretBytes = 32
	totpAlgorithm   = otp.AlgorithmSHA1
)

var totpValidateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Digits:    totpDigits,
	Algorithm: totpAlgorithm,
}

type totpManager struct {
	issuer string
	qrSize int
}

func newTOTPManager(appName string, cfg TOTPConfig) *totpManager {
	return &totpManager{issuer: appName, qrSize: cfg.QRCodeSize}
}

// GenerateKey creates a fresh secret and its otpauth:// provisioning URI with
// label "<issuer>:<account>".
func (m *totpManager) GenerateKey(account string) (*otp.Key, error) {
	if m == nil {
		return nil, ErrEngineNotReady
	}
	return totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretBytes,
		Digits:      totpDigits,
		Algorithm:   totpAlgorithm,
	})
}

// QRCode renders the key's provisioning URI as a PNG data URL.
func (m *totpManager) QRCode(key *otp.Key) (string, error) {
	img, err := key.Image(m.qrSize, m.qrSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// VerifyCode checks code against the time steps at now-30s, now, and now+30s.
// It returns the matched time-step counter. All three steps are always
// computed so the matching offset is not observable through timing.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}
	if secret == "" {
		return false, 0, errors.New("empty totp secret")
	}
	if !validCodeFormat(code) {
		return false, 0, nil
	}

	matched := false
	var counter int64
	for step := -totpSkew; step <= totpSkew; step++ {
		at := now.Add(time.Duration(step) * totpPeriod * time.Second)
		expected, err := totp.GenerateCodeCustom(secret, at, totpValidateOpts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !matched {
			matched = true
			counter = at.Unix() / totpPeriod
		}
	}
	return matched, counter, nil
}

// validCodeFormat reports whether code is exactly six ASCII digits.
func validCodeFormat(code string) bool {
	if len(code) != int(totpDigits) {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// manualEntryKey splits a base32 secret into space-separated groups of four.
func manualEntryKey(secret string) string {
	var b strings.Builder
	for i := 0; i < len(secret); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(secret) {
			end = len(secret)
		}
		b.WriteString(secret[i:end])
	}
	return b.String()
}
