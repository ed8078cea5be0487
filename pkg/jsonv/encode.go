package jsonv

import (
	"strconv"
	"unicode/utf8"
)

// Style: 序列化分隔符风格。
type Style uint8

const (
	// StylePython: 元素间 ", "，键值间 ": "。
	StylePython Style = iota
	// StyleCompact: 无空白。
	StyleCompact
)

// ParseStyle 将配置字符串映射到 Style；空串为默认。
func ParseStyle(s string) (Style, bool) {
	switch s {
	case "", "python":
		return StylePython, true
	case "compact":
		return StyleCompact, true
	}
	return StylePython, false
}

// Marshal 序列化；非 ASCII 原样输出，不做 HTML 转义。
func Marshal(v Value, style Style) []byte {
	return AppendMarshal(nil, v, style)
}

// AppendMarshal 将 v 的序列化追加到 dst。
func AppendMarshal(dst []byte, v Value, style Style) []byte {
	itemSep, keySep := ", ", ": "
	if style == StyleCompact {
		itemSep, keySep = ",", ":"
	}
	return appendValue(dst, v, itemSep, keySep)
}

func appendValue(dst []byte, v Value, itemSep, keySep string) []byte {
	switch x := v.(type) {
	case nil, Null:
		return append(dst, "null"...)
	case Bool:
		if x {
			return append(dst, "true"...)
		}
		return append(dst, "false"...)
	case Number:
		if x == "" {
			return append(dst, '0')
		}
		return append(dst, x...)
	case String:
		return appendString(dst, string(x))
	case Array:
		dst = append(dst, '[')
		for i, e := range x {
			if i > 0 {
				dst = append(dst, itemSep...)
			}
			dst = appendValue(dst, e, itemSep, keySep)
		}
		return append(dst, ']')
	case *Object:
		if x == nil {
			return append(dst, "null"...)
		}
		dst = append(dst, '{')
		for i, m := range x.Members {
			if i > 0 {
				dst = append(dst, itemSep...)
			}
			dst = appendString(dst, m.Key)
			dst = append(dst, keySep...)
			dst = appendValue(dst, m.Value, itemSep, keySep)
		}
		return append(dst, '}')
	}
	return append(dst, "null"...)
}

const hexDigits = "0123456789abcdef"

// appendString: 仅转义引号、反斜杠与 C0 控制字符；无效 UTF-8 以 U+FFFD 替换。
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				dst = append(dst, s[start:i]...)
				dst = append(dst, "�"...)
				i += size
				start = i
				continue
			}
			i += size
			continue
		}
		if c >= 0x20 && c != '"' && c != '\\' {
			i++
			continue
		}
		dst = append(dst, s[start:i]...)
		switch c {
		case '"', '\\':
			dst = append(dst, '\\', c)
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
		}
		i++
		start = i
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}

// Quote 返回 s 的 JSON 字符串字面量。
func Quote(s string) string { return string(appendString(nil, s)) }

// Int 以十进制整数构造 Number。
func Int(n int64) Number { return Number(strconv.FormatInt(n, 10)) }
