package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SaltLength 是密码记录前缀盐值的固定长度。
const SaltLength = 20

const saltAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ErrMalformedRecord 表示数据库中的密码记录格式损坏，属于配置错误。
var ErrMalformedRecord = errors.New("malformed password record")

// VerifyPassword 校验密码与 salt(20) + base64(sha256(password+salt)) 格式的记录是否匹配。
// 以 "$2" 开头的记录按 bcrypt 哈希处理。密码错误只返回 false，不返回错误。
func VerifyPassword(password, record string) (bool, error) {
	if strings.HasPrefix(record, "$2") {
		err := bcrypt.CompareHashAndPassword([]byte(record), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, ErrMalformedRecord
	}
	if len(record) <= SaltLength {
		return false, ErrMalformedRecord
	}
	salt, want := record[:SaltLength], record[SaltLength:]
	got := digest(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1, nil
}

// HashPassword 生成随机盐并返回可直接写入 users.password 的记录。
func HashPassword(password string) (string, error) {
	salt, err := randomSalt()
	if err != nil {
		return "", err
	}
	return salt + digest(password, salt), nil
}

// HashPasswordBcrypt 生成 bcrypt 格式的记录。
func HashPasswordBcrypt(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func digest(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func randomSalt() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(saltAlphabet)))
	for i := 0; i < SaltLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(saltAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
