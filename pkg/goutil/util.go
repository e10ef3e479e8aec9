package goutil

import (
	"errors"
	"golang.org/x/crypto/bcrypt"
	"time"
)

var ErrHashMismatch = errors.New("hash mismatch")

func ContainsStr(arr []string, str string) bool {
	for _, v := range arr {
		if v == str {
			return true
		}
	}
	return false
}

func BCrypt(s string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CompareBCrypt(hash, s string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(s)); err != nil {
		return ErrHashMismatch
	}
	return nil
}

func UnixNow(now time.Time) *uint64 {
	return Uint64(uint64(now.Unix()))
}
