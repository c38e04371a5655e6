// 包 prefix：MAC 地址前缀的文本与整数互转，以及按注册块长度展开候选前缀
package prefix

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// BlockLengths：注册块前缀的十六进制位数（MA-L 24 位、MA-M 28 位、MA-S/IAB 36 位）
var BlockLengths = []int{6, 7, 9}

var (
	ErrAddressEmpty    = errors.New("empty address")
	ErrAddressTooShort = errors.New("address too short")
	ErrAddressInvalid  = errors.New("invalid address")
	ErrAddressNegative = errors.New("address out of range")
)

// AddressError：携带原始输入的地址错误，可用 errors.Is 匹配哨兵错误
type AddressError struct {
	Err   error
	Input string
}

func (e *AddressError) Error() string {
	return e.Err.Error() + ": " + strconv.Quote(e.Input)
}

func (e *AddressError) Unwrap() error { return e.Err }

var separators = strings.NewReplacer(":", "", "-", "", ".", "")

// Strip：去除 ':'、'-'、'.' 分隔符
func Strip(addr string) string {
	return separators.Replace(strings.TrimSpace(addr))
}

// Parse：文本前缀转整数
// 约束：先去分隔符再按十六进制解析；值须落在有符号 64 位存储范围内
func Parse(text string) (uint64, error) {
	s := Strip(text)
	if s == "" {
		return 0, &AddressError{Err: ErrAddressInvalid, Input: text}
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return 0, &AddressError{Err: ErrAddressNegative, Input: text}
		}
		return 0, &AddressError{Err: ErrAddressInvalid, Input: text}
	}
	if v > math.MaxInt64 {
		return 0, &AddressError{Err: ErrAddressNegative, Input: text}
	}
	return v, nil
}

// Format：大写十六进制，至少 6 位，每 2 位插入 ':'
func Format(p uint64) string {
	hex := strings.ToUpper(strconv.FormatUint(p, 16))
	if len(hex) < 6 {
		hex = strings.Repeat("0", 6-len(hex)) + hex
	}
	var b strings.Builder
	b.Grow(len(hex) + len(hex)/2)
	for i := 0; i < len(hex); i++ {
		if i > 0 && i%2 == 0 {
			b.WriteByte(':')
		}
		b.WriteByte(hex[i])
	}
	return b.String()
}

// CandidateBlocks：对已去分隔符的地址，按 6/7/9 位左截取并解析
// 背景：同一地址可能属于任一长度的注册块，查询时需同时匹配
// 约束：长度不足 6 位时没有候选，返回 ErrAddressTooShort；截取段含非十六进制字符返回 ErrAddressInvalid
func CandidateBlocks(stripped string) ([]uint64, error) {
	if stripped == "" {
		return nil, &AddressError{Err: ErrAddressEmpty, Input: stripped}
	}
	out := make([]uint64, 0, len(BlockLengths))
	for _, n := range BlockLengths {
		if len(stripped) < n {
			break
		}
		v, err := Parse(stripped[:n])
		if err != nil {
			var ae *AddressError
			if errors.As(err, &ae) {
				ae.Input = stripped
			}
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, &AddressError{Err: ErrAddressTooShort, Input: stripped}
	}
	return out, nil
}
