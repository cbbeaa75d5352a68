package secretclient

import (
	"encoding/base64"
	"fmt"

	"github.com/Tuee22/amoebius-go/internal/amoebiuserr"
)

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func base64Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, amoebiuserr.New(amoebiuserr.KindValidation, "secretclient.base64Decode", fmt.Errorf("decode: %w", err))
	}
	return b, nil
}
