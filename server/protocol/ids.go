package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	idSegments    = 4
	idSegmentSize = 4
)

// NewID 生成形如 "1a2b3c4d-...-..." 的随机 id；taken 不为空时重试直至不冲突
func NewID(taken func(string) bool) string {
	for {
		id := randomID()
		if taken == nil || !taken(id) {
			return id
		}
	}
}

func randomID() string {
	parts := make([]string, idSegments)
	buf := make([]byte, idSegmentSize)
	for i := range parts {
		if _, err := rand.Read(buf); err != nil {
			panic("protocol: crypto/rand unavailable: " + err.Error())
		}
		parts[i] = hex.EncodeToString(buf)
	}
	return strings.Join(parts, "-")
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomSuffix 返回 n 位 base36 随机串，用于名称冲突时追加
func RandomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("protocol: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = base36[int(b)%len(base36)]
	}
	return string(buf)
}
