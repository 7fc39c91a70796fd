package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"protorelay/server/protocol"
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	ErrCorruptFrame  = errors.New("corrupt frame")
)

// Encoding 入站帧的识别结果
type Encoding int

const (
	EncodingRaw Encoding = iota
	EncodingGzip
	EncodingZlib
)

func (e Encoding) String() string {
	switch e {
	case EncodingGzip:
		return "gzip"
	case EncodingZlib:
		return "zlib"
	default:
		return "raw"
	}
}

const (
	gzipMinLen = 18 // 10 字节头 + 空 deflate 块 + 8 字节尾
	zlibMinLen = 6
)

// looksLikeGzip 在解压前做廉价的头尾检查
func looksLikeGzip(frame []byte) bool {
	if len(frame) < gzipMinLen {
		return false
	}
	if frame[0] != 0x1f || frame[1] != 0x8b {
		return false
	}
	if frame[2] != 8 { // 仅 deflate
		return false
	}
	return frame[3]&0xe0 == 0 // 保留位必须为 0
}

func looksLikeZlib(frame []byte) bool {
	if len(frame) < zlibMinLen {
		return false
	}
	cmf, flg := frame[0], frame[1]
	if cmf&0x0f != 8 || cmf>>4 > 7 {
		return false
	}
	if (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return false
	}
	return flg&0x20 == 0 // 不支持预置字典
}

// DecodeFrame 将入站帧还原为文本：gzip/zlib 解压（限制输出大小），失败则按 UTF-8 原文处理
func DecodeFrame(frame []byte, maxOut int) (string, Encoding, error) {
	if len(frame) == 0 {
		return "", EncodingRaw, nil
	}
	var (
		enc Encoding
		out []byte
		err error
	)
	switch {
	case looksLikeGzip(frame):
		enc = EncodingGzip
		out, err = inflate(frame, maxOut, func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) })
	case looksLikeZlib(frame):
		enc = EncodingZlib
		out, err = inflate(frame, maxOut, zlib.NewReader)
	default:
		err = errNotCompressed
	}
	if err == nil {
		if !utf8.Valid(out) {
			return "", enc, fmt.Errorf("%w: %s payload is not utf-8", ErrCorruptFrame, enc)
		}
		return string(out), enc, nil
	}
	if errors.Is(err, ErrFrameTooLarge) {
		return "", enc, err
	}
	if maxOut > 0 && len(frame) > maxOut {
		return "", EncodingRaw, ErrFrameTooLarge
	}
	if !utf8.Valid(frame) {
		return "", EncodingRaw, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	return string(frame), EncodingRaw, nil
}

var errNotCompressed = errors.New("not compressed")

func inflate(frame []byte, maxOut int, open func(io.Reader) (io.ReadCloser, error)) ([]byte, error) {
	zr, err := open(bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var src io.Reader = zr
	if maxOut > 0 {
		src = io.LimitReader(zr, int64(maxOut)+1)
	}
	out, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if maxOut > 0 && len(out) > maxOut {
		return nil, fmt.Errorf("%w: decompressed over %d bytes", ErrFrameTooLarge, maxOut)
	}
	return out, nil
}

// SplitLines 按换行拆分，丢弃空行
func SplitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := raw[:0]
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// ParseLines 每行解析为一个动作；坏行记录后跳过，不影响同帧其他行
func ParseLines(text string, log *zap.SugaredLogger) (actions []protocol.Action, bad int) {
	for _, line := range SplitLines(text) {
		a, err := protocol.DecodeAction([]byte(line))
		if err != nil {
			bad++
			if log != nil {
				log.Warnw("skip unparsable line", "err", err, "len", len(line))
			}
			continue
		}
		actions = append(actions, a)
	}
	return actions, bad
}
