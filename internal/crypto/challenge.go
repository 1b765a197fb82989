package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
)

func NewChallenge() ([]byte, error) {
	c := make([]byte, 32)
	if _, err := rand.Read(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ChallengeResponse proves knowledge of authKey without sending it.
func ChallengeResponse(authKey, challenge []byte) []byte {
	mac := hmac.New(sha256.New, authKey)
	mac.Write([]byte("notes/login/v1"))
	mac.Write(challenge)
	return mac.Sum(nil)
}

func VerifyChallengeResponse(authKey, challenge, response []byte) bool {
	return hmac.Equal(ChallengeResponse(authKey, challenge), response)
}
