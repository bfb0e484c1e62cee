package adminclient

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// ShareFile is the on-disk form of one Shamir share, written by
// split-shares and read back by submit-share. When Encrypted is set the
// share bytes are an ECIES blob wrapped for the admin named by Recipient,
// and only that admin's private key can recover the share.
type ShareFile struct {
	ShareIndex int    `json:"share_index"`
	Share      string `json:"share"` // base64
	Encrypted  bool   `json:"encrypted,omitempty"`
	Recipient  string `json:"recipient,omitempty"` // admin key fingerprint
}

// SaveShareFile writes one plaintext share to path with owner-only
// permissions.
func SaveShareFile(path string, shareIndex int, share []byte) error {
	return writeShareFile(path, ShareFile{
		ShareIndex: shareIndex,
		Share:      base64.StdEncoding.EncodeToString(share),
	})
}

// SaveEncryptedShareFile writes one wrapped share to path, recording which
// admin key it was encrypted for.
func SaveEncryptedShareFile(path string, shareIndex int, wrapped []byte, recipient string) error {
	return writeShareFile(path, ShareFile{
		ShareIndex: shareIndex,
		Share:      base64.StdEncoding.EncodeToString(wrapped),
		Encrypted:  true,
		Recipient:  recipient,
	})
}

func writeShareFile(path string, sf ShareFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode share file: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadShareFile reads a share file back. The returned bytes are the raw
// share for plaintext files and the ECIES blob for encrypted ones; callers
// check sf.Encrypted to know whether to unwrap.
func LoadShareFile(path string) (sf ShareFile, share []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ShareFile{}, nil, fmt.Errorf("failed to read share file: %w", err)
	}

	if err := json.Unmarshal(data, &sf); err != nil {
		return ShareFile{}, nil, fmt.Errorf("failed to parse share file: %w", err)
	}
	share, err = base64.StdEncoding.DecodeString(sf.Share)
	if err != nil {
		return ShareFile{}, nil, fmt.Errorf("invalid share encoding in %s: %w", path, err)
	}
	return sf, share, nil
}
